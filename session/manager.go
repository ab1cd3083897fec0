package session

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/mrsingh-rishi/watson/events"
	"github.com/mrsingh-rishi/watson/llm"
	"github.com/mrsingh-rishi/watson/model"
	"github.com/mrsingh-rishi/watson/pipeline"
	"github.com/mrsingh-rishi/watson/sink"
	"github.com/mrsingh-rishi/watson/types"
)

const (
	DefaultMaxDuration  = 30 * time.Minute
	DefaultWarnBefore   = 5 * time.Minute
	DefaultRecapTimeout = 120 * time.Second
)

type Config struct {
	TempDir         string
	RecordingsDir   string
	MaxDuration     time.Duration
	WarnBefore      time.Duration
	RecapTimeout    time.Duration
	MinSpeechFrames int
}

// Deps are the collaborators of a Manager.
type Deps struct {
	Registry   *Registry
	Voice      Voice
	Reporter   Reporter
	Pipeline   *pipeline.Pipeline
	Summarizer llm.Summarizer
	Events     events.Publisher
	Log        logrus.FieldLogger
}

// Manager drives sessions through their lifecycle. Command handlers call
// it and return quickly; transcription, recap and persistence run in a
// goroutine per session.
type Manager struct {
	cfg        Config
	registry   *Registry
	voice      Voice
	reporter   Reporter
	pipeline   *pipeline.Pipeline
	summarizer llm.Summarizer
	events     events.Publisher
	log        logrus.FieldLogger
	persist    func(dir, stem string, rec *model.Recording, a pipeline.Artifact) (pipeline.Saved, error)

	mu      sync.Mutex
	running int
	waiters []chan struct{}
}

func NewManager(cfg Config, deps Deps) (*Manager, error) {
	if deps.Voice == nil {
		return nil, errors.New("voice transport is required")
	}
	if deps.Reporter == nil {
		return nil, errors.New("reporter is required")
	}
	if deps.Pipeline == nil {
		return nil, errors.New("transcription pipeline is required")
	}
	if cfg.TempDir == "" || cfg.RecordingsDir == "" {
		return nil, errors.New("temp and recordings directories are required")
	}
	if cfg.MaxDuration <= 0 {
		cfg.MaxDuration = DefaultMaxDuration
	}
	if cfg.WarnBefore < 0 || cfg.WarnBefore >= cfg.MaxDuration {
		cfg.WarnBefore = 0
	}
	if cfg.RecapTimeout <= 0 {
		cfg.RecapTimeout = DefaultRecapTimeout
	}
	if deps.Log == nil {
		deps.Log = logrus.StandardLogger()
	}
	if deps.Registry == nil {
		deps.Registry = NewRegistry(deps.Log)
	}
	if deps.Summarizer == nil {
		deps.Summarizer = llm.NewRecapper(llm.RecapConfig{}, deps.Log)
	}
	if deps.Events == nil {
		deps.Events = events.Discard
	}
	return &Manager{
		cfg:        cfg,
		registry:   deps.Registry,
		voice:      deps.Voice,
		reporter:   deps.Reporter,
		pipeline:   deps.Pipeline,
		summarizer: deps.Summarizer,
		events:     deps.Events,
		log:        deps.Log.WithField("component", "manager"),
		persist:    pipeline.Persist,
	}, nil
}

// Registry exposes the session registry for read-only views.
func (m *Manager) Registry() *Registry { return m.registry }

// Snapshots lists the active sessions.
func (m *Manager) Snapshots() []Snapshot { return m.registry.Snapshots() }

func (m *Manager) Snapshot(g types.GuildID) (Snapshot, bool) { return m.registry.Snapshot(g) }

// StartRequest is a record command.
type StartRequest struct {
	GuildID          types.GuildID
	GuildName        string
	VoiceChannelID   string
	VoiceChannelName string
	TextChannelID    string
	RequestedBy      string
}

// Start claims the guild, joins the voice channel and begins capturing
// audio. It fails synchronously with ErrAlreadyRecording or
// ErrTranscriptionInProgress without touching the existing session.
func (m *Manager) Start(ctx context.Context, req StartRequest) (*Session, error) {
	if req.GuildID == "" || req.VoiceChannelID == "" {
		return nil, errors.New("guild and voice channel are required")
	}
	s, err := m.registry.TryStartRecording(Start{
		GuildID:          req.GuildID,
		GuildName:        req.GuildName,
		VoiceChannelID:   req.VoiceChannelID,
		VoiceChannelName: req.VoiceChannelName,
		TextChannelID:    req.TextChannelID,
		RequestedBy:      req.RequestedBy,
		MaxDuration:      m.cfg.MaxDuration,
		WarnBefore:       m.cfg.WarnBefore,
		MinSpeechFrames:  m.cfg.MinSpeechFrames,
	})
	if err != nil {
		return nil, err
	}

	conn, err := m.voice.Join(ctx, req.GuildID, req.VoiceChannelID)
	if err != nil {
		err = errors.Wrap(err, "join voice channel")
		s.log.WithError(err).Warn("could not start recording")
		s.fail(err)
		m.finish(s)
		return nil, err
	}

	s.mu.Lock()
	if s.state != types.StateRecording {
		reason := s.failure
		s.mu.Unlock()
		if reason == nil {
			// Stopped while joining; the pipeline reports the empty recording.
			return s, nil
		}
		// An abort while joining already released the guild, so the
		// connection is ours to drop.
		s.log.WithError(reason).Warn("session aborted while joining voice")
		if err := m.voice.Leave(req.GuildID); err != nil {
			s.log.WithError(err).Warn("could not leave voice channel")
		}
		return nil, reason
	}
	go conn.Receive(s.recvCtx, func(f model.AudioFrame) {
		if err := s.sink.Write(f); err != nil && !errors.Is(err, sink.ErrSinkClosed) {
			s.log.WithError(err).Debug("dropping audio frame")
		}
	})
	s.mu.Unlock()

	s.armTimers(func() { m.onWarning(s) }, func() { m.onMaxDuration(s) })

	s.log.WithFields(logrus.Fields{
		"channel":      req.VoiceChannelName,
		"requested_by": req.RequestedBy,
		"max_duration": s.MaxDuration,
	}).Info("recording started")
	m.emit(s, events.SessionStarted, "")
	return s, nil
}

// Stop ends the guild's recording. Only the first of several concurrent
// triggers wins and starts the pipeline; the others get false.
func (m *Manager) Stop(g types.GuildID, trigger types.Trigger) (bool, error) {
	s := m.registry.Get(g)
	if s == nil {
		return false, ErrNotRecording
	}
	return m.stopSession(s, trigger), nil
}

func (m *Manager) stopSession(s *Session, trigger types.Trigger) bool {
	if !s.beginStop(trigger) {
		return false
	}
	s.log.WithFields(logrus.Fields{
		"trigger": trigger,
		"elapsed": s.Elapsed().Round(time.Second),
	}).Info("recording stopped")
	m.emit(s, events.StateChanged, string(trigger))

	m.track()
	go m.run(s)
	return true
}

// StopAll stops every recording, for instance before shutdown.
func (m *Manager) StopAll(trigger types.Trigger) int {
	n := 0
	for _, s := range m.registry.Sessions() {
		if m.stopSession(s, trigger) {
			n++
		}
	}
	return n
}

// Abort cancels the guild's session wherever it is and discards its audio.
func (m *Manager) Abort(g types.GuildID) error {
	s := m.registry.Get(g)
	if s == nil {
		return ErrNoSession
	}
	if !m.abort(s, ErrAborted) {
		return ErrNoSession
	}
	return nil
}

// AbortAll aborts every active session with ErrShutdown and returns how
// many it reached.
func (m *Manager) AbortAll() int {
	n := 0
	for _, s := range m.registry.Sessions() {
		if m.abort(s, ErrShutdown) {
			n++
		}
	}
	return n
}

func (m *Manager) abort(s *Session, reason error) bool {
	from, ok := s.fail(reason)
	if !ok {
		return false
	}
	s.cancel()
	s.log.WithError(reason).WithField("from", from).Warn("session aborted")
	m.report(s, UserMessage(reason))
	m.emit(s, events.SessionFailed, reason.Error())

	// Past Recording the pipeline goroutine owns cleanup.
	if from == types.StateRecording {
		s.sink.Discard()
		m.finish(s)
	}
	return true
}

// Join connects the bot to a voice channel without recording.
func (m *Manager) Join(ctx context.Context, g types.GuildID, channelID string) error {
	if _, err := m.voice.Join(ctx, g, channelID); err != nil {
		return errors.Wrap(err, "join voice channel")
	}
	return nil
}

// Leave stops a running recording and disconnects from voice.
func (m *Manager) Leave(g types.GuildID) error {
	if s := m.registry.Get(g); s != nil {
		m.stopSession(s, types.TriggerLeave)
	}
	return m.voice.Leave(g)
}

// MembershipChanged stops the recording and leaves once the last human
// left the bot's channel. Mute and deafen toggles are ignored.
func (m *Manager) MembershipChanged(c MembershipChange) {
	if c.BeforeChannelID == c.AfterChannelID {
		return
	}
	if c.BotChannelID == "" || c.BeforeChannelID != c.BotChannelID || c.HumansRemaining > 0 {
		return
	}

	log := m.log.WithFields(logrus.Fields{"guild": c.GuildID, "channel": c.BotChannelID})
	if s := m.registry.Get(c.GuildID); s != nil && s.VoiceChannelID == c.BotChannelID {
		if m.stopSession(s, types.TriggerChannelEmpty) {
			m.report(s, "Everyone left the voice channel, stopping the recording.")
		}
	}
	log.Info("voice channel is empty, leaving")
	if err := m.voice.Leave(c.GuildID); err != nil {
		log.WithError(err).Warn("could not leave voice channel")
	}
}

func (m *Manager) onWarning(s *Session) {
	if s.State() != types.StateRecording {
		return
	}
	mins := int(s.WarnBefore.Round(time.Minute) / time.Minute)
	msg := fmt.Sprintf("⚠️ %d min left until auto-stop.", mins)
	if mins < 1 {
		msg = fmt.Sprintf("⚠️ %s left until auto-stop.", s.WarnBefore.Round(time.Second))
	}
	s.log.Info("recording limit approaching")
	m.report(s, msg)
	m.emit(s, events.SessionWarning, msg)
}

func (m *Manager) onMaxDuration(s *Session) {
	if m.stopSession(s, types.TriggerMaxDuration) {
		m.report(s, fmt.Sprintf("⏱️ Reached the %s recording limit, stopping.", s.MaxDuration))
	}
}

// run is the pipeline of a stopped session: finalize, transcribe, recap,
// persist, report. It always releases the session's resources.
func (m *Manager) run(s *Session) {
	defer m.untrack()
	tempDir := filepath.Join(m.cfg.TempDir, string(s.GuildID), s.ID)
	defer func() {
		if err := os.RemoveAll(tempDir); err != nil {
			s.log.WithError(err).Warn("could not remove temp directory")
		}
		m.finish(s)
	}()

	rec, err := s.sink.Finalize(tempDir)
	if err != nil {
		m.failSession(s, err)
		return
	}

	if err := m.advance(s, types.StateStopping, types.StateTranscribing); err != nil {
		return
	}
	m.registry.MarkTranscribing(s.GuildID)
	defer m.registry.ClearTranscribing(s.GuildID)

	m.report(s, fmt.Sprintf("🎙️ Processing audio of %d speaker(s)…", len(rec.Speakers)))
	m.logMemory(s, "transcription start")
	segments, err := m.pipeline.Transcribe(s.ctx, rec, func(id string) string {
		return m.voice.DisplayName(s.GuildID, id)
	})
	m.logMemory(s, "transcription end")
	if err != nil {
		m.failSession(s, err)
		return
	}

	if err := m.advance(s, types.StateTranscribing, types.StateRecapping); err != nil {
		return
	}
	lines := pipeline.FormatLines(segments)
	recapCtx, cancel := context.WithTimeout(s.ctx, m.cfg.RecapTimeout)
	recap, ok := m.summarizer.Recap(recapCtx, strings.Join(lines, "\n"))
	cancel()
	if !ok {
		recap = ""
	}

	artifact := pipeline.Artifact{
		CreatedAt:   s.StartedAt,
		GuildName:   s.GuildName,
		ChannelName: s.VoiceChannelName,
		Recap:       recap,
		Lines:       lines,
	}
	stem := pipeline.FileStem(s.StartedAt, s.VoiceChannelName, s.ID)
	if s.ctx.Err() != nil {
		return
	}
	saved, err := m.persist(filepath.Join(m.cfg.RecordingsDir, string(s.GuildID)), stem, rec, artifact)
	if err != nil {
		m.failSession(s, err)
		m.attachTranscript(s, stem, artifact)
		return
	}

	if err := m.advance(s, types.StateRecapping, types.StateIdle); err != nil {
		// Aborted while writing: nothing of the session is kept.
		for _, p := range saved.Paths() {
			if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
				s.log.WithError(err).WithField("path", p).Warn("could not remove saved file")
			}
		}
		return
	}
	s.log.WithFields(logrus.Fields{
		"segments": len(segments),
		"recap":    recap != "",
		"files":    len(saved.Paths()),
	}).Info("session completed")
	m.report(s, doneMessage(recap, saved))
	m.emit(s, events.SessionDone, saved.Transcript)
}

func doneMessage(recap string, saved pipeline.Saved) string {
	var b strings.Builder
	b.WriteString("✅ **Done.**\n\n")
	if recap != "" {
		b.WriteString(recap)
		b.WriteString("\n\n")
	}
	b.WriteString("Saved:\n")
	for _, p := range saved.Paths() {
		b.WriteString("• `")
		b.WriteString(p)
		b.WriteString("`\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// failSession moves s to Failed and reports why. A session an operator
// already aborted is left alone.
func (m *Manager) failSession(s *Session, err error) {
	from, ok := s.fail(err)
	if !ok {
		return
	}
	entry := s.log.WithError(err).WithField("from", from)
	if IsFatal(err) {
		entry.Warn("session failed")
	} else {
		entry.Error("session failed")
	}
	m.report(s, "❌ "+UserMessage(err))
	m.emit(s, events.SessionFailed, err.Error())
}

func (m *Manager) attachTranscript(s *Session, stem string, a pipeline.Artifact) {
	if s.TextChannelID == "" {
		return
	}
	if err := m.reporter.PostFile(s.TextChannelID, stem+"-transcript.txt", strings.NewReader(a.Render())); err != nil {
		s.log.WithError(err).Warn("could not attach transcript")
	}
}

// finish returns a failed session to Idle and releases the guild.
func (m *Manager) finish(s *Session) {
	s.mu.Lock()
	if s.state == types.StateFailed {
		_ = s.transitionLocked(types.StateIdle)
	}
	s.mu.Unlock()
	s.cancel()
	if m.registry.EndSession(s) {
		m.emit(s, events.StateChanged, "released")
	}
}

func (m *Manager) advance(s *Session, from, to types.State) error {
	if err := s.advance(from, to); err != nil {
		if !errors.Is(err, errStale) {
			s.log.WithError(err).Error("cannot advance session")
		}
		return err
	}
	m.emit(s, events.StateChanged, "")
	return nil
}

func (m *Manager) report(s *Session, msg string) {
	if s.TextChannelID == "" || msg == "" {
		return
	}
	if err := m.reporter.Post(s.TextChannelID, msg); err != nil {
		s.log.WithError(err).Warn("could not post message")
	}
}

func (m *Manager) emit(s *Session, t events.Type, msg string) {
	m.events.Publish(events.Event{
		Type:      t,
		GuildID:   s.GuildID,
		SessionID: s.ID,
		State:     s.State(),
		Trigger:   s.Trigger(),
		Message:   msg,
	})
}

func (m *Manager) logMemory(s *Session, stage string) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	s.log.WithFields(logrus.Fields{
		"stage":         stage,
		"heap_alloc_mb": ms.HeapAlloc >> 20,
		"sys_mb":        ms.Sys >> 20,
		"num_gc":        ms.NumGC,
		"goroutines":    runtime.NumGoroutine(),
	}).Info("memory")
}

func (m *Manager) track() {
	m.mu.Lock()
	m.running++
	m.mu.Unlock()
}

func (m *Manager) untrack() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.running--
	if m.running == 0 {
		for _, w := range m.waiters {
			close(w)
		}
		m.waiters = nil
	}
}

// Running returns the number of pipelines in flight.
func (m *Manager) Running() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Wait blocks until no pipeline is running or ctx is done.
func (m *Manager) Wait(ctx context.Context) error {
	m.mu.Lock()
	if m.running == 0 {
		m.mu.Unlock()
		return nil
	}
	ch := make(chan struct{})
	m.waiters = append(m.waiters, ch)
	m.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ShutdownGrace bounds how long Shutdown waits for aborted pipelines to
// release their sessions once ctx expired.
const ShutdownGrace = 5 * time.Second

// Shutdown stops every recording and waits for the pipelines to finish.
// When ctx expires first, the remaining sessions are aborted and their
// pipelines get ShutdownGrace to unwind; ctx's error is returned.
func (m *Manager) Shutdown(ctx context.Context) error {
	if n := m.StopAll(types.TriggerShutdown); n > 0 {
		m.log.WithField("sessions", n).Info("stopped recordings for shutdown")
	}
	if running := m.Running(); running > 0 {
		m.log.WithField("pipelines", running).Info("waiting for transcriptions to finish")
	}
	err := m.Wait(ctx)
	if err == nil {
		return nil
	}

	n := m.AbortAll()
	m.log.WithError(err).WithField("sessions", n).Warn("shutdown deadline reached, aborting sessions")
	grace, cancel := context.WithTimeout(context.Background(), ShutdownGrace)
	defer cancel()
	if werr := m.Wait(grace); werr != nil {
		m.log.WithField("pipelines", m.Running()).Error("pipelines did not unwind after abort")
	}
	return err
}
