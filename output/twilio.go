package output

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	twilio "github.com/twilio/twilio-go"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/mrsingh-rishi/watson/events"
)

// maxSMSBody keeps alerts within a couple of SMS segments.
const maxSMSBody = 320

type messageCreator interface {
	CreateMessage(params *openapi.CreateMessageParams) (*openapi.ApiV2010Message, error)
}

// TwilioNotifier sends alerts as SMS through the Twilio REST API.
type TwilioNotifier struct {
	api  messageCreator
	from string
	to   []string
	log  logrus.FieldLogger
}

// NewTwilioNotifier creates a notifier sending from one number to each of
// the comma-separated recipients.
func NewTwilioNotifier(accountSid, authToken, from, to string, log logrus.FieldLogger) (*TwilioNotifier, error) {
	if accountSid == "" || authToken == "" {
		return nil, errors.New("TWILIO_ACCOUNT_SID and TWILIO_AUTH_TOKEN must be set")
	}
	if from == "" {
		return nil, errors.New("TWILIO_FROM_NUMBER must be set")
	}
	recipients := splitRecipients(to)
	if len(recipients) == 0 {
		return nil, errors.New("TWILIO_ALERT_TO must list at least one number")
	}
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSid,
		Password: authToken,
	})
	return newTwilioNotifier(client.Api, from, recipients, log), nil
}

func newTwilioNotifier(api messageCreator, from string, to []string, log logrus.FieldLogger) *TwilioNotifier {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &TwilioNotifier{api: api, from: from, to: to, log: log.WithField("component", "twilio")}
}

func (n *TwilioNotifier) Notify(ctx context.Context, e events.Event) error {
	body := AlertText(e)
	if len(body) > maxSMSBody {
		body = body[:maxSMSBody-3] + "..."
	}

	var lastErr error
	for _, to := range n.to {
		if err := ctx.Err(); err != nil {
			return err
		}
		params := &openapi.CreateMessageParams{}
		params.SetTo(to)
		params.SetFrom(n.from)
		params.SetBody(body)

		resp, err := n.api.CreateMessage(params)
		if err != nil {
			lastErr = errors.Wrapf(err, "send sms to %s", to)
			n.log.WithError(err).Warn("twilio message failed")
			continue
		}
		if resp != nil && resp.Sid != nil {
			n.log.WithField("sid", *resp.Sid).Debug("alert sent")
		}
	}
	return lastErr
}

func splitRecipients(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
