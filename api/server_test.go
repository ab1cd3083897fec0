package api

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	gws "github.com/gorilla/websocket"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrsingh-rishi/watson/events"
	"github.com/mrsingh-rishi/watson/session"
	"github.com/mrsingh-rishi/watson/types"
)

type fakeController struct {
	mu      sync.Mutex
	snaps   map[types.GuildID]session.Snapshot
	stopped map[types.GuildID]int
	aborted map[types.GuildID]int
}

func newFakeController(guilds ...types.GuildID) *fakeController {
	f := &fakeController{
		snaps:   map[types.GuildID]session.Snapshot{},
		stopped: map[types.GuildID]int{},
		aborted: map[types.GuildID]int{},
	}
	for _, g := range guilds {
		f.snaps[g] = session.Snapshot{ID: "sid-" + string(g), GuildID: g, State: types.StateRecording}
	}
	return f
}

func (f *fakeController) Snapshots() []session.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]session.Snapshot, 0, len(f.snaps))
	for _, s := range f.snaps {
		out = append(out, s)
	}
	return out
}

func (f *fakeController) Snapshot(g types.GuildID) (session.Snapshot, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.snaps[g]
	return s, ok
}

func (f *fakeController) Stop(g types.GuildID, trigger types.Trigger) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.snaps[g]; !ok {
		return false, session.ErrNotRecording
	}
	f.stopped[g]++
	return f.stopped[g] == 1, nil
}

func (f *fakeController) Abort(g types.GuildID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.snaps[g]; !ok {
		return session.ErrNoSession
	}
	f.aborted[g]++
	delete(f.snaps, g)
	return nil
}

func newTestServer(t *testing.T, secret string, ctl Controller) (*Server, *events.Hub) {
	t.Helper()
	logger, _ := test.NewNullLogger()
	hub := events.NewHub()
	s, err := New(Config{JWTSecret: secret, Version: "test"}, ctl, hub, logger)
	require.NoError(t, err)
	return s, hub
}

func do(t *testing.T, s *Server, method, path, token string) (int, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := s.App().Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var out map[string]interface{}
	if len(body) > 0 {
		require.NoError(t, json.Unmarshal(body, &out), string(body))
	}
	return resp.StatusCode, out
}

func TestHealthz_IsPublic(t *testing.T) {
	s, _ := newTestServer(t, "secret", newFakeController("g1"))
	code, body := do(t, s, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, float64(1), body["sessions"])
}

func TestSessions_RequireToken(t *testing.T) {
	s, _ := newTestServer(t, "secret", newFakeController("g1"))

	code, _ := do(t, s, http.MethodGet, "/sessions", "")
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = do(t, s, http.MethodGet, "/sessions", "garbage")
	assert.Equal(t, http.StatusUnauthorized, code)

	other, err := IssueToken([]byte("other"), "ops", time.Minute)
	require.NoError(t, err)
	code, _ = do(t, s, http.MethodGet, "/sessions", other)
	assert.Equal(t, http.StatusUnauthorized, code)

	expired, err := IssueToken([]byte("secret"), "ops", -time.Minute)
	require.NoError(t, err)
	code, _ = do(t, s, http.MethodGet, "/sessions", expired)
	assert.Equal(t, http.StatusUnauthorized, code)

	token, err := IssueToken([]byte("secret"), "ops", time.Minute)
	require.NoError(t, err)
	code, body := do(t, s, http.MethodGet, "/sessions", token)
	assert.Equal(t, http.StatusOK, code)
	assert.Len(t, body["sessions"], 1)

	code, _ = do(t, s, http.MethodGet, "/sessions?token="+token, "")
	assert.Equal(t, http.StatusOK, code)
}

func TestGetSession(t *testing.T) {
	s, _ := newTestServer(t, "", newFakeController("g1"))

	code, body := do(t, s, http.MethodGet, "/sessions/g1", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "sid-g1", body["id"])
	assert.Equal(t, "recording", body["state"])

	code, body = do(t, s, http.MethodGet, "/sessions/g2", "")
	assert.Equal(t, http.StatusNotFound, code)
	assert.NotEmpty(t, body["error"])
}

func TestStopSession(t *testing.T) {
	ctl := newFakeController("g1")
	s, _ := newTestServer(t, "", ctl)

	code, body := do(t, s, http.MethodPost, "/sessions/g1/stop", "")
	assert.Equal(t, http.StatusAccepted, code)
	assert.Equal(t, true, body["stopping"])

	code, _ = do(t, s, http.MethodPost, "/sessions/g1/stop", "")
	assert.Equal(t, http.StatusConflict, code)

	code, _ = do(t, s, http.MethodPost, "/sessions/nope/stop", "")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestAbortSession(t *testing.T) {
	ctl := newFakeController("g1")
	s, _ := newTestServer(t, "", ctl)

	code, body := do(t, s, http.MethodPost, "/sessions/g1/abort", "")
	assert.Equal(t, http.StatusAccepted, code)
	assert.Equal(t, true, body["aborted"])
	assert.Equal(t, 1, ctl.aborted["g1"])

	code, _ = do(t, s, http.MethodPost, "/sessions/g1/abort", "")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestRequestIDHeader(t *testing.T) {
	s, _ := newTestServer(t, "", newFakeController())
	resp, err := s.App().Test(httptest.NewRequest(http.MethodGet, "/healthz", nil), -1)
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Header.Get(headerRequestID))
}

func TestEvents_RequiresUpgrade(t *testing.T) {
	s, _ := newTestServer(t, "", newFakeController())
	code, _ := do(t, s, http.MethodGet, "/events", "")
	assert.Equal(t, http.StatusUpgradeRequired, code)
}

func TestEvents_StreamsFilteredEvents(t *testing.T) {
	s, hub := newTestServer(t, "secret", newFakeController())
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = s.App().Listener(ln) }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
	})

	token, err := IssueToken([]byte("secret"), "ops", time.Minute)
	require.NoError(t, err)
	url := "ws://" + ln.Addr().String() + "/events?guild=g1&token=" + token

	_, _, err = gws.DefaultDialer.Dial("ws://"+ln.Addr().String()+"/events", nil)
	require.Error(t, err)

	conn, _, err := gws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.Subscribers() == 1 }, 2*time.Second, 5*time.Millisecond)

	hub.Publish(events.Event{Type: events.SessionStarted, GuildID: "g2"})
	hub.Publish(events.Event{Type: events.SessionFailed, GuildID: "g1", Message: "boom"})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var e events.Event
	require.NoError(t, conn.ReadJSON(&e))
	assert.Equal(t, events.SessionFailed, e.Type)
	assert.Equal(t, types.GuildID("g1"), e.GuildID)
	assert.Equal(t, "boom", e.Message)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return hub.Subscribers() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestValidateToken(t *testing.T) {
	_, err := IssueToken(nil, "ops", time.Minute)
	assert.Error(t, err)

	token, err := IssueToken([]byte("k"), "ops", time.Minute)
	require.NoError(t, err)
	claims, err := ValidateToken([]byte("k"), token)
	require.NoError(t, err)
	assert.Equal(t, "ops", claims.Subject)
}
