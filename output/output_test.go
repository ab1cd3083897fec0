package output

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/mrsingh-rishi/watson/events"
	"github.com/mrsingh-rishi/watson/session"
	"github.com/mrsingh-rishi/watson/types"
)

type fakeCreator struct {
	mu     sync.Mutex
	sent   []*openapi.CreateMessageParams
	failTo string
}

func (f *fakeCreator) CreateMessage(params *openapi.CreateMessageParams) (*openapi.ApiV2010Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if params.To != nil && *params.To == f.failTo {
		return nil, errors.New("invalid number")
	}
	f.sent = append(f.sent, params)
	sid := "SM123"
	return &openapi.ApiV2010Message{Sid: &sid}, nil
}

func (f *fakeCreator) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type recordingNotifier struct {
	mu  sync.Mutex
	got []events.Event
	err error
}

func (r *recordingNotifier) Notify(ctx context.Context, e events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, e)
	return r.err
}

func (r *recordingNotifier) events() []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.Event(nil), r.got...)
}

func failedEvent() events.Event {
	return events.Event{
		Type:      events.SessionFailed,
		GuildID:   "g1",
		SessionID: "s1",
		State:     types.StateFailed,
		Message:   "transcription engine failed",
		At:        time.Now(),
	}
}

func TestNewTwilioNotifier_Validation(t *testing.T) {
	_, err := NewTwilioNotifier("", "tok", "+1", "+2", nil)
	assert.Error(t, err)
	_, err = NewTwilioNotifier("AC1", "tok", "", "+2", nil)
	assert.Error(t, err)
	_, err = NewTwilioNotifier("AC1", "tok", "+1", " , ", nil)
	assert.Error(t, err)

	n, err := NewTwilioNotifier("AC1", "tok", "+1", "+2, +3", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"+2", "+3"}, n.to)
}

func TestTwilioNotifier_SendsToEveryRecipient(t *testing.T) {
	api := &fakeCreator{}
	n := newTwilioNotifier(api, "+100", []string{"+201", "+202"}, nil)

	require.NoError(t, n.Notify(context.Background(), failedEvent()))
	require.Equal(t, 2, api.count())
	assert.Equal(t, "+201", *api.sent[0].To)
	assert.Equal(t, "+100", *api.sent[0].From)
	assert.Contains(t, *api.sent[0].Body, "guild g1 failed: transcription engine failed")
}

func TestTwilioNotifier_KeepsGoingAfterFailure(t *testing.T) {
	api := &fakeCreator{failTo: "+201"}
	logger, hook := test.NewNullLogger()
	n := newTwilioNotifier(api, "+100", []string{"+201", "+202"}, logger)

	err := n.Notify(context.Background(), failedEvent())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "+201")
	assert.Equal(t, 1, api.count())
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
}

func TestTwilioNotifier_TruncatesLongBodies(t *testing.T) {
	api := &fakeCreator{}
	n := newTwilioNotifier(api, "+100", []string{"+201"}, nil)
	e := failedEvent()
	e.Message = strings.Repeat("x", 1000)

	require.NoError(t, n.Notify(context.Background(), e))
	body := *api.sent[0].Body
	assert.Len(t, body, maxSMSBody)
	assert.True(t, strings.HasSuffix(body, "..."))
}

func TestMultiNotifier(t *testing.T) {
	a := &recordingNotifier{err: errors.New("down")}
	b := &recordingNotifier{}
	logger, hook := test.NewNullLogger()
	m := NewMultiNotifier(logger, a, b, NopNotifier{})

	err := m.Notify(context.Background(), failedEvent())
	assert.EqualError(t, err, "down")
	assert.Len(t, a.events(), 1)
	assert.Len(t, b.events(), 1)
	assert.Len(t, hook.AllEntries(), 1)
}

func TestLogNotifier(t *testing.T) {
	logger, hook := test.NewNullLogger()
	n := LogNotifier{Log: logger}

	require.NoError(t, n.Notify(context.Background(), failedEvent()))
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
	assert.Equal(t, types.GuildID("g1"), hook.LastEntry().Data["guild"])

	require.NoError(t, n.Notify(context.Background(), events.Event{Type: events.SessionDone, Message: "saved"}))
	assert.Equal(t, logrus.InfoLevel, hook.LastEntry().Level)
}

func TestAlerter_ForwardsOnlySelectedTypes(t *testing.T) {
	hub := events.NewHub()
	rec := &recordingNotifier{}
	a, err := NewAlerter(hub, rec, nil)
	require.NoError(t, err)
	a.Start()
	require.Eventually(t, func() bool { return hub.Subscribers() == 1 }, time.Second, time.Millisecond)

	hub.Publish(events.Event{Type: events.SessionStarted, GuildID: "g1"})
	hub.Publish(failedEvent())
	hub.Publish(events.Event{Type: events.SessionDone, GuildID: "g1"})

	require.Eventually(t, func() bool { return len(rec.events()) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, events.SessionFailed, rec.events()[0].Type)

	a.Stop()
	assert.Equal(t, 0, hub.Subscribers())
}

func TestNewAlerter_RequiresDeps(t *testing.T) {
	_, err := NewAlerter(nil, NopNotifier{}, nil)
	assert.Error(t, err)
	_, err = NewAlerter(events.NewHub(), nil, nil)
	assert.Error(t, err)
}

func TestFormatter(t *testing.T) {
	var buf bytes.Buffer
	f := NewFormatter(&buf)
	f.Success("ready")
	f.SetupCheck("prompt file", false, "missing")
	f.SessionLine(session.Snapshot{
		GuildID:          "g1",
		State:            types.StateRecording,
		VoiceChannelName: "General",
		ElapsedSeconds:   125,
		Speakers:         2,
	})

	out := buf.String()
	assert.Contains(t, out, "✅ ready")
	assert.Contains(t, out, "❌ prompt file: missing")
	assert.Contains(t, out, "2m05s (2 speakers)")
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "3s", FormatDuration(3*time.Second))
	assert.Equal(t, "2m03s", FormatDuration(2*time.Minute+3*time.Second))
	assert.Equal(t, "1h02m03s", FormatDuration(time.Hour+2*time.Minute+3*time.Second))
}
