// Package output delivers operator-facing alerts and CLI status lines.
package output

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/mrsingh-rishi/watson/events"
)

// Notifier tells an operator about a session event.
type Notifier interface {
	Notify(ctx context.Context, e events.Event) error
}

// LogNotifier writes events to the log.
type LogNotifier struct {
	Log logrus.FieldLogger
}

func (n LogNotifier) Notify(ctx context.Context, e events.Event) error {
	log := n.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	entry := log.WithFields(logrus.Fields{
		"event":   e.Type,
		"guild":   e.GuildID,
		"session": e.SessionID,
		"state":   e.State,
	})
	if e.Type == events.SessionFailed {
		entry.Warn(e.Message)
	} else {
		entry.Info(e.Message)
	}
	return nil
}

// MultiNotifier fans out to several notifiers. One failing does not stop
// the others; the last error is returned.
type MultiNotifier struct {
	Notifiers []Notifier
	Log       logrus.FieldLogger
}

func NewMultiNotifier(log logrus.FieldLogger, notifiers ...Notifier) *MultiNotifier {
	return &MultiNotifier{Notifiers: notifiers, Log: log}
}

func (n *MultiNotifier) Notify(ctx context.Context, e events.Event) error {
	var lastErr error
	for _, notifier := range n.Notifiers {
		if err := notifier.Notify(ctx, e); err != nil {
			lastErr = err
			if n.Log != nil {
				n.Log.WithError(err).WithField("event", e.Type).Warn("notifier failed")
			}
		}
	}
	return lastErr
}

// NopNotifier discards everything.
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, events.Event) error { return nil }

// AlertText renders an event as a short plain-text alert.
func AlertText(e events.Event) string {
	switch e.Type {
	case events.SessionFailed:
		return fmt.Sprintf("[watson] recording in guild %s failed: %s", e.GuildID, e.Message)
	case events.SessionDone:
		return fmt.Sprintf("[watson] recording in guild %s saved: %s", e.GuildID, e.Message)
	default:
		return fmt.Sprintf("[watson] %s in guild %s: %s", e.Type, e.GuildID, e.Message)
	}
}
