package output

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/mrsingh-rishi/watson/events"
)

const notifyTimeout = 15 * time.Second

// Alerter forwards selected session events from the hub to a notifier.
type Alerter struct {
	ctx      context.Context
	cancel   context.CancelFunc
	hub      *events.Hub
	notifier Notifier
	types    map[events.Type]bool
	done     chan struct{}
	log      logrus.FieldLogger
}

// NewAlerter alerts on the given event types, failures by default.
func NewAlerter(hub *events.Hub, notifier Notifier, log logrus.FieldLogger, types ...events.Type) (*Alerter, error) {
	if hub == nil {
		return nil, errors.New("event hub is required")
	}
	if notifier == nil {
		return nil, errors.New("notifier is required")
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	if len(types) == 0 {
		types = []events.Type{events.SessionFailed}
	}
	set := make(map[events.Type]bool, len(types))
	for _, t := range types {
		set[t] = true
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Alerter{
		ctx:      ctx,
		cancel:   cancel,
		hub:      hub,
		notifier: notifier,
		types:    set,
		done:     make(chan struct{}),
		log:      log.WithField("component", "alerter"),
	}, nil
}

func (a *Alerter) Start() {
	id, ch := a.hub.Subscribe(32)
	go func() {
		defer close(a.done)
		defer a.hub.Unsubscribe(id)
		for {
			select {
			case <-a.ctx.Done():
				return
			case e, ok := <-ch:
				if !ok {
					return
				}
				if !a.types[e.Type] {
					continue
				}
				ctx, cancel := context.WithTimeout(a.ctx, notifyTimeout)
				if err := a.notifier.Notify(ctx, e); err != nil {
					a.log.WithError(err).WithField("guild", e.GuildID).Warn("alert not delivered")
				}
				cancel()
			}
		}
	}()
}

// Stop signals Start's goroutine to exit and waits for it.
func (a *Alerter) Stop() {
	a.cancel()
	<-a.done
}
