// Package events fans session lifecycle events out to subscribers such as
// the operator websocket stream and the alerting worker.
package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/mrsingh-rishi/watson/types"
)

type Type string

const (
	SessionStarted Type = "session.started"
	StateChanged   Type = "session.state"
	SessionWarning Type = "session.warning"
	SessionDone    Type = "session.done"
	SessionFailed  Type = "session.failed"
)

type Event struct {
	Type      Type          `json:"type"`
	GuildID   types.GuildID `json:"guild_id"`
	SessionID string        `json:"session_id,omitempty"`
	State     types.State   `json:"state,omitempty"`
	Trigger   types.Trigger `json:"trigger,omitempty"`
	Message   string        `json:"message,omitempty"`
	At        time.Time     `json:"at"`
}

// Publisher accepts events. Publish must not block.
type Publisher interface {
	Publish(Event)
}

// Discard drops every event.
var Discard Publisher = discard{}

type discard struct{}

func (discard) Publish(Event) {}

const defaultBuffer = 64

// Hub delivers each event to every subscriber. A subscriber whose buffer
// is full misses the event instead of slowing down the publisher.
type Hub struct {
	mu      sync.RWMutex
	subs    map[string]chan Event
	dropped atomic.Uint64
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]chan Event)}
}

// Subscribe registers a subscriber and returns its id and channel.
func (h *Hub) Subscribe(buffer int) (string, <-chan Event) {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	id := uuid.NewString()
	ch := make(chan Event, buffer)
	h.mu.Lock()
	h.subs[id] = ch
	h.mu.Unlock()
	return id, ch
}

// Unsubscribe removes the subscriber and closes its channel.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(ch)
	}
}

func (h *Hub) Publish(e Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs {
		select {
		case ch <- e:
		default:
			h.dropped.Add(1)
		}
	}
}

// Subscribers returns the number of active subscribers.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Dropped returns how many deliveries were skipped for slow subscribers.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

// Close unsubscribes everyone.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}
