package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/mrsingh-rishi/watson/sink"
	"github.com/mrsingh-rishi/watson/types"
)

// errStale is returned by advance when another goroutine moved the session
// first, typically an operator abort.
var errStale = errors.New("session state changed concurrently")

// Session is one guild's recording, from start until it is back in Idle.
// mu serializes transitions; it is held only while a transition runs.
type Session struct {
	ID               string
	GuildID          types.GuildID
	GuildName        string
	VoiceChannelID   string
	VoiceChannelName string
	TextChannelID    string
	RequestedBy      string
	StartedAt        time.Time
	MaxDuration      time.Duration
	WarnBefore       time.Duration

	mu        sync.Mutex
	state     types.State
	trigger   types.Trigger
	failure   error
	stoppedAt time.Time
	warnTimer *time.Timer
	stopTimer *time.Timer

	sink *sink.Sink

	// ctx is cancelled on abort; recvCtx additionally when recording ends.
	ctx        context.Context
	cancel     context.CancelFunc
	recvCtx    context.Context
	recvCancel context.CancelFunc

	log logrus.FieldLogger
}

// Snapshot is a read-only view of a session.
type Snapshot struct {
	ID               string        `json:"id"`
	GuildID          types.GuildID `json:"guild_id"`
	GuildName        string        `json:"guild_name"`
	VoiceChannelID   string        `json:"voice_channel_id"`
	VoiceChannelName string        `json:"voice_channel_name"`
	State            types.State   `json:"state"`
	Trigger          types.Trigger `json:"trigger,omitempty"`
	StartedAt        time.Time     `json:"started_at"`
	ElapsedSeconds   int64         `json:"elapsed_seconds"`
	Speakers         int           `json:"speakers"`
	Transcribing     bool          `json:"transcribing"`
	Failure          string        `json:"failure,omitempty"`
}

func newSession(start Start, log logrus.FieldLogger) *Session {
	now := time.Now()
	ctx, cancel := context.WithCancel(context.Background())
	recvCtx, recvCancel := context.WithCancel(ctx)
	id := uuid.NewString()

	snk := sink.New(now)
	snk.MinSpeechFrames = start.MinSpeechFrames

	return &Session{
		ID:               id,
		GuildID:          start.GuildID,
		GuildName:        start.GuildName,
		VoiceChannelID:   start.VoiceChannelID,
		VoiceChannelName: start.VoiceChannelName,
		TextChannelID:    start.TextChannelID,
		RequestedBy:      start.RequestedBy,
		StartedAt:        now,
		MaxDuration:      start.MaxDuration,
		WarnBefore:       start.WarnBefore,
		state:            types.StateRecording,
		sink:             snk,
		ctx:              ctx,
		cancel:           cancel,
		recvCtx:          recvCtx,
		recvCancel:       recvCancel,
		log: log.WithFields(logrus.Fields{
			"guild":   start.GuildID,
			"session": id,
		}),
	}
}

// State returns the current state.
func (s *Session) State() types.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Trigger returns what ended the recording, if anything did.
func (s *Session) Trigger() types.Trigger {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.trigger
}

// Failure returns the reason the session failed, if it did.
func (s *Session) Failure() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failure
}

// Transition moves the session to state to, rejecting illegal moves.
func (s *Session) Transition(to types.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transitionLocked(to)
}

// transitionLocked is the single place where state changes. Leaving
// Recording by any path cancels both timers and stops audio intake.
func (s *Session) transitionLocked(to types.State) error {
	from := s.state
	if !CanTransition(from, to) {
		s.log.WithFields(logrus.Fields{"from": from, "to": to}).Error("illegal session state transition")
		return errors.Wrapf(ErrIllegalTransition, "%s -> %s", from, to)
	}
	if from == types.StateRecording {
		s.stopTimersLocked()
		s.stoppedAt = time.Now()
		s.recvCancel()
		s.sink.Close()
	}
	s.state = to
	s.log.WithFields(logrus.Fields{"from": from, "to": to}).Debug("session state changed")
	return nil
}

// advance moves from -> to only if the session is still in from.
func (s *Session) advance(from, to types.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != from {
		return errStale
	}
	return s.transitionLocked(to)
}

// beginStop is the compare-and-set Recording -> Stopping. Exactly one
// caller wins; every other trigger gets false.
func (s *Session) beginStop(trigger types.Trigger) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != types.StateRecording {
		return false
	}
	if err := s.transitionLocked(types.StateStopping); err != nil {
		return false
	}
	s.trigger = trigger
	return true
}

// fail moves any active state to Failed and records the reason. It returns
// the state the session was in, and false if it was already Failed or Idle.
func (s *Session) fail(reason error) (types.State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	from := s.state
	if !from.Active() || from == types.StateFailed {
		return from, false
	}
	if err := s.transitionLocked(types.StateFailed); err != nil {
		return from, false
	}
	s.failure = reason
	return from, true
}

func (s *Session) stopTimersLocked() {
	if s.warnTimer != nil {
		s.warnTimer.Stop()
		s.warnTimer = nil
	}
	if s.stopTimer != nil {
		s.stopTimer.Stop()
		s.stopTimer = nil
	}
}

// armTimers schedules the warning and the auto-stop. It does nothing when
// the session already left Recording.
func (s *Session) armTimers(onWarn, onMax func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != types.StateRecording || s.MaxDuration <= 0 {
		return
	}
	if s.WarnBefore > 0 && s.WarnBefore < s.MaxDuration {
		s.warnTimer = time.AfterFunc(s.MaxDuration-s.WarnBefore, onWarn)
	}
	s.stopTimer = time.AfterFunc(s.MaxDuration, onMax)
}

// Elapsed returns the recorded time so far, or the full length once
// recording ended.
func (s *Session) Elapsed() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.stoppedAt.IsZero() {
		return s.stoppedAt.Sub(s.StartedAt)
	}
	return time.Since(s.StartedAt)
}

func (s *Session) snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{
		ID:               s.ID,
		GuildID:          s.GuildID,
		GuildName:        s.GuildName,
		VoiceChannelID:   s.VoiceChannelID,
		VoiceChannelName: s.VoiceChannelName,
		State:            s.state,
		Trigger:          s.trigger,
		StartedAt:        s.StartedAt,
	}
	if s.failure != nil {
		snap.Failure = s.failure.Error()
	}
	end := s.stoppedAt
	s.mu.Unlock()

	if end.IsZero() {
		end = time.Now()
	}
	snap.ElapsedSeconds = int64(end.Sub(s.StartedAt) / time.Second)
	snap.Speakers = s.sink.Speakers()
	return snap
}
