package session

import (
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/mrsingh-rishi/watson/events"
	"github.com/mrsingh-rishi/watson/llm"
	"github.com/mrsingh-rishi/watson/model"
	"github.com/mrsingh-rishi/watson/pipeline"
	"github.com/mrsingh-rishi/watson/stt"
	"github.com/mrsingh-rishi/watson/types"
	"github.com/mrsingh-rishi/watson/workers"
)

type engineFunc func(ctx context.Context, path, lang string) ([]stt.Segment, error)

func (f engineFunc) Transcribe(ctx context.Context, path, lang string) ([]stt.Segment, error) {
	return f(ctx, path, lang)
}

func sayHello(context.Context, string, string) ([]stt.Segment, error) {
	return []stt.Segment{{Start: 0, End: time.Second, Text: "hello there"}}, nil
}

type recapFunc func(ctx context.Context, transcript string) (string, bool)

func (f recapFunc) Recap(ctx context.Context, transcript string) (string, bool) {
	return f(ctx, transcript)
}

var noRecap = recapFunc(func(context.Context, string) (string, bool) { return "", false })

type fakeConn struct {
	channel string
	mu      sync.Mutex
	fn      func(model.AudioFrame)
	ready   chan struct{}
	once    sync.Once
}

func (c *fakeConn) ChannelID() string { return c.channel }

func (c *fakeConn) Receive(ctx context.Context, fn func(model.AudioFrame)) {
	c.mu.Lock()
	c.fn = fn
	c.mu.Unlock()
	c.once.Do(func() { close(c.ready) })
	<-ctx.Done()
}

// speak delivers n speech frames from speaker as if heard now.
func (c *fakeConn) speak(t *testing.T, speaker string, n int) {
	t.Helper()
	select {
	case <-c.ready:
	case <-time.After(time.Second):
		t.Fatal("connection never started receiving")
	}
	c.mu.Lock()
	fn := c.fn
	c.mu.Unlock()
	start := time.Now()
	for i := 0; i < n; i++ {
		fn(model.AudioFrame{
			SpeakerID:  speaker,
			Opus:       []byte{0x78, 0x01, 0x02},
			ReceivedAt: start.Add(time.Duration(i) * 20 * time.Millisecond),
		})
	}
}

type fakeVoice struct {
	mu      sync.Mutex
	conns   map[types.GuildID]*fakeConn
	leaves  map[types.GuildID]int
	joinErr error

	// When set, Join signals joining and then blocks until joinGate closes.
	joining  chan struct{}
	joinGate chan struct{}
}

func newFakeVoice() *fakeVoice {
	return &fakeVoice{conns: map[types.GuildID]*fakeConn{}, leaves: map[types.GuildID]int{}}
}

func (v *fakeVoice) Join(ctx context.Context, g types.GuildID, channelID string) (Connection, error) {
	v.mu.Lock()
	joining, gate := v.joining, v.joinGate
	v.mu.Unlock()
	if gate != nil {
		close(joining)
		<-gate
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.joinErr != nil {
		return nil, v.joinErr
	}
	c := &fakeConn{channel: channelID, ready: make(chan struct{})}
	v.conns[g] = c
	return c, nil
}

func (v *fakeVoice) Leave(g types.GuildID) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.leaves[g]++
	return nil
}

func (v *fakeVoice) DisplayName(g types.GuildID, userID string) string {
	if userID == "1" {
		return "Ada"
	}
	return ""
}

func (v *fakeVoice) conn(g types.GuildID) *fakeConn {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.conns[g]
}

func (v *fakeVoice) leaveCount(g types.GuildID) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.leaves[g]
}

type fakeReporter struct {
	mu    sync.Mutex
	posts []string
	files map[string]string
}

func (r *fakeReporter) Post(channelID, content string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.posts = append(r.posts, content)
	return nil
}

func (r *fakeReporter) PostFile(channelID, name string, data io.Reader) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.files == nil {
		r.files = map[string]string{}
	}
	r.files[name] = string(b)
	return nil
}

// count returns how many posts contain substr.
func (r *fakeReporter) count(substr string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, p := range r.posts {
		if strings.Contains(p, substr) {
			n++
		}
	}
	return n
}

func (r *fakeReporter) fileCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.files)
}

type harness struct {
	m      *Manager
	voice  *fakeVoice
	rep    *fakeReporter
	events <-chan events.Event
	cfg    Config
	hook   *test.Hook
}

func newHarness(t *testing.T, engine stt.Engine, recap llm.Summarizer, opts ...func(*Config)) *harness {
	t.Helper()
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	pool, err := workers.NewPool(2, 4, logger)
	require.NoError(t, err)
	pool.Start()
	t.Cleanup(pool.Stop)

	pipe, err := pipeline.New(engine, pool, nil, "", logger)
	require.NoError(t, err)

	root := t.TempDir()
	cfg := Config{
		TempDir:       root + "/temp",
		RecordingsDir: root + "/recordings",
		MaxDuration:   time.Minute,
		WarnBefore:    10 * time.Second,
	}
	for _, o := range opts {
		o(&cfg)
	}

	hub := events.NewHub()
	_, ch := hub.Subscribe(1024)

	h := &harness{voice: newFakeVoice(), rep: &fakeReporter{}, events: ch, hook: hook}
	h.m, err = NewManager(cfg, Deps{
		Voice:      h.voice,
		Reporter:   h.rep,
		Pipeline:   pipe,
		Summarizer: recap,
		Events:     hub,
		Log:        logger,
	})
	require.NoError(t, err)
	h.cfg = h.m.cfg

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = h.m.Shutdown(ctx)
	})
	return h
}

func (h *harness) start(t *testing.T, g types.GuildID) *Session {
	t.Helper()
	s, err := h.m.Start(context.Background(), StartRequest{
		GuildID:          g,
		GuildName:        "Guild " + string(g),
		VoiceChannelID:   "voice-" + string(g),
		VoiceChannelName: "General",
		TextChannelID:    "text-" + string(g),
		RequestedBy:      "u1",
	})
	require.NoError(t, err)
	return s
}

// waitReleased waits until the guild has no session.
func (h *harness) waitReleased(t *testing.T, g types.GuildID) {
	t.Helper()
	require.Eventually(t, func() bool { return h.m.Registry().Get(g) == nil }, 5*time.Second, 5*time.Millisecond)
}

// drain returns every event published so far.
func (h *harness) drain() []events.Event {
	var out []events.Event
	for {
		select {
		case e := <-h.events:
			out = append(out, e)
		default:
			return out
		}
	}
}
