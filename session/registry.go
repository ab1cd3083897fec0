package session

import (
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mrsingh-rishi/watson/types"
)

// Start describes a recording to open.
type Start struct {
	GuildID          types.GuildID
	GuildName        string
	VoiceChannelID   string
	VoiceChannelName string
	TextChannelID    string
	RequestedBy      string
	MaxDuration      time.Duration
	WarnBefore       time.Duration
	MinSpeechFrames  int
}

type entry struct {
	mu           sync.Mutex
	session      *Session
	transcribing bool
}

// Registry maps guilds to their session. Each guild has its own lock, so
// operations on different guilds never wait on each other.
type Registry struct {
	entries sync.Map // types.GuildID -> *entry
	log     logrus.FieldLogger
}

func NewRegistry(log logrus.FieldLogger) *Registry {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Registry{log: log.WithField("component", "session")}
}

func (r *Registry) entry(g types.GuildID) *entry {
	if v, ok := r.entries.Load(g); ok {
		return v.(*entry)
	}
	v, _ := r.entries.LoadOrStore(g, &entry{})
	return v.(*entry)
}

// TryStartRecording atomically creates a session in Recording for the
// guild. It fails while the guild's previous transcription runs or while
// another session exists.
func (r *Registry) TryStartRecording(start Start) (*Session, error) {
	e := r.entry(start.GuildID)
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.transcribing {
		return nil, ErrTranscriptionInProgress
	}
	if e.session != nil {
		return nil, ErrAlreadyRecording
	}
	s := newSession(start, r.log)
	e.session = s
	return s, nil
}

// MarkTranscribing flags the guild as busy transcribing. Idempotent.
func (r *Registry) MarkTranscribing(g types.GuildID) {
	e := r.entry(g)
	e.mu.Lock()
	e.transcribing = true
	e.mu.Unlock()
}

// ClearTranscribing removes the flag. Idempotent.
func (r *Registry) ClearTranscribing(g types.GuildID) {
	e := r.entry(g)
	e.mu.Lock()
	e.transcribing = false
	e.mu.Unlock()
}

func (r *Registry) IsTranscribing(g types.GuildID) bool {
	e := r.entry(g)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.transcribing
}

// EndSession removes s if it is still the guild's session. A stale caller
// holding an older session cannot remove a newer one.
func (r *Registry) EndSession(s *Session) bool {
	if s == nil {
		return false
	}
	e := r.entry(s.GuildID)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session != s {
		return false
	}
	e.session = nil
	return true
}

// Get returns the guild's session or nil.
func (r *Registry) Get(g types.GuildID) *Session {
	v, ok := r.entries.Load(g)
	if !ok {
		return nil
	}
	e := v.(*entry)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session
}

// Sessions returns every live session.
func (r *Registry) Sessions() []*Session {
	var out []*Session
	r.entries.Range(func(_, v any) bool {
		e := v.(*entry)
		e.mu.Lock()
		if e.session != nil {
			out = append(out, e.session)
		}
		e.mu.Unlock()
		return true
	})
	return out
}

// Snapshots returns a view of every live session, ordered by guild.
func (r *Registry) Snapshots() []Snapshot {
	var out []Snapshot
	r.entries.Range(func(k, v any) bool {
		e := v.(*entry)
		e.mu.Lock()
		s, transcribing := e.session, e.transcribing
		e.mu.Unlock()
		if s != nil {
			snap := s.snapshot()
			snap.Transcribing = transcribing
			out = append(out, snap)
		}
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].GuildID < out[j].GuildID })
	return out
}

// Snapshot returns the view of one guild's session.
func (r *Registry) Snapshot(g types.GuildID) (Snapshot, bool) {
	s := r.Get(g)
	if s == nil {
		return Snapshot{}, false
	}
	snap := s.snapshot()
	snap.Transcribing = r.IsTranscribing(g)
	return snap, true
}
