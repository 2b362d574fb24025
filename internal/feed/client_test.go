package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"nhooyr.io/websocket"

	"github.com/park285/dota-match-companion/internal/gep"
	"github.com/park285/dota-match-companion/internal/match"
)

type recordingHandler struct {
	mu    sync.Mutex
	calls []string
	got   chan struct{}
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{got: make(chan struct{}, 64)}
}

func (h *recordingHandler) record(s string) {
	h.mu.Lock()
	h.calls = append(h.calls, s)
	h.mu.Unlock()
	h.got <- struct{}{}
}

func (h *recordingHandler) HandleUpdate(_ context.Context, feature string, p gep.Payload) match.Signal {
	id, _ := p.Text(gep.FieldMatchID)
	h.record("update:" + feature + ":" + id)
	return match.SignalNone
}

func (h *recordingHandler) HandleEvents(_ context.Context, batch []gep.Event) match.Signal {
	names := make([]string, 0, len(batch))
	for _, ev := range batch {
		names = append(names, ev.Name)
	}
	h.record("events:" + strings.Join(names, ","))
	return match.SignalNone
}

func (h *recordingHandler) HandleInfo(_ context.Context, info map[string]gep.Payload) {
	h.record("info")
}

func (h *recordingHandler) HandleGameExit(context.Context) { h.record("exit") }

func (h *recordingHandler) wait(t *testing.T, n int) []string {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-h.got:
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for call %d", i+1)
		}
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.calls...)
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func bridge(t *testing.T, frames []string, connections *int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(connections, 1)
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close(websocket.StatusNormalClosure, "")
		for _, f := range frames {
			if err := c.Write(r.Context(), websocket.MessageText, []byte(f)); err != nil {
				return
			}
		}
		// hold until the client goes away
		_, _, _ = c.Read(r.Context())
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestClientDispatchesFrames(t *testing.T) {
	var conns int32
	srv := bridge(t, []string{
		`{"type":"update","feature":"match_info","payload":{"match_id":"7001"}}`,
		`not json`,
		`{"type":"bogus"}`,
		`{"type":"events","events":[{"name":"match_state_changed","data":"{\"match_state\":\"STRATEGY_TIME\"}"},{"name":"game_over","data":{}}]}`,
		`{"type":"info","info":{"roster":{"players":[]}}}`,
		`{"type":"game_exit"}`,
	}, &conns)

	h := newRecordingHandler()
	c := NewClient(wsURL(srv), h, 3, 10*time.Millisecond)
	var states []State
	var sm sync.Mutex
	c.OnStateChange(func(s State) {
		sm.Lock()
		states = append(states, s)
		sm.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Serve(ctx) }()

	calls := h.wait(t, 4)
	want := []string{"update:match_info:7001", "events:match_state_changed,game_over", "info", "exit"}
	for i := range want {
		if calls[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, calls)
		}
	}
	if c.State() != StateConnected {
		t.Fatalf("expected connected, got %s", c.State())
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("Serve did not return after cancel")
	}
	sm.Lock()
	defer sm.Unlock()
	if len(states) < 2 || states[0] != StateConnecting || states[1] != StateConnected {
		t.Fatalf("unexpected state sequence %v", states)
	}
}

func TestClientReconnectsAfterServerClose(t *testing.T) {
	var conns int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&conns, 1)
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		_ = c.Write(r.Context(), websocket.MessageText, []byte(`{"type":"game_exit"}`))
		if n == 1 {
			c.Close(websocket.StatusGoingAway, "restart")
			return
		}
		defer c.Close(websocket.StatusNormalClosure, "")
		_, _, _ = c.Read(r.Context())
	}))
	t.Cleanup(srv.Close)

	h := newRecordingHandler()
	c := NewClient(wsURL(srv), h, 3, 10*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = c.Serve(ctx) }()

	h.wait(t, 2)
	if n := atomic.LoadInt32(&conns); n < 2 {
		t.Fatalf("expected a reconnect, got %d connections", n)
	}
}

func TestClientGivesUpAfterAttempts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no", http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	c := NewClient(wsURL(srv), newRecordingHandler(), 2, time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := c.Serve(ctx)
	if err == nil || ctx.Err() != nil {
		t.Fatalf("expected give-up error, got %v", err)
	}
	if c.State() != StateDisconnected {
		t.Fatalf("expected disconnected after return, got %s", c.State())
	}
}

func TestBackoffDuration(t *testing.T) {
	c := NewClient("ws://x", nil, 1, 100*time.Millisecond)
	if c.backoffDuration(1) != 100*time.Millisecond || c.backoffDuration(3) != 400*time.Millisecond {
		t.Fatalf("unexpected backoff")
	}
	if c.backoffDuration(10) != c.backoffDuration(6) {
		t.Fatalf("backoff must be capped")
	}
}
