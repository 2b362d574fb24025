package notify

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	json "github.com/goccy/go-json"

	"github.com/park285/dota-match-companion/internal/domain"
	"github.com/park285/dota-match-companion/internal/match"
	"github.com/park285/dota-match-companion/internal/recordsync"
)

func TestPostSendsJSONWithHeaders(t *testing.T) {
	var got Notification
	var clientID string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientID = r.Header.Get("X-Client-Id")
		b, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(b, &got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithHeaderProvider(func() map[string]string {
		return map[string]string{"X-Client-Id": "overlay-1", "X-Empty": " "}
	}))
	if err := c.Post(context.Background(), Notification{MatchID: "8123", Winner: "radiant"}); err != nil {
		t.Fatalf("post: %v", err)
	}
	if clientID != "overlay-1" {
		t.Fatalf("header = %q", clientID)
	}
	if got.MatchID != "8123" || got.Winner != "radiant" {
		t.Fatalf("body = %+v", got)
	}
}

func TestPostRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithRetry(3), WithBackoffBase(time.Millisecond))
	if err := c.Post(context.Background(), Notification{MatchID: "1"}); err != nil {
		t.Fatalf("post: %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("calls = %d, want 3", calls.Load())
	}
}

func TestPostDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad payload", http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithRetry(3), WithBackoffBase(time.Millisecond))
	err := c.Post(context.Background(), Notification{MatchID: "1"})
	var se *StatusError
	if !errors.As(err, &se) || se.Status != http.StatusBadRequest {
		t.Fatalf("err = %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("calls = %d, want 1", calls.Load())
	}
}

func TestFromResultFallsBackToSnapshot(t *testing.T) {
	snap := match.Snapshot{
		MatchID:  "tmp-1700000000000",
		GameMode: &match.GameModeInfo{GameMode: "ranked"},
		Roster: []match.RosterPlayer{
			{SteamID: "76561198000000001", Name: "alpha", Hero: "axe", Team: match.TeamRadiant},
		},
		Winner: match.TeamDire,
	}
	now := time.UnixMilli(1_700_000_100_000)
	n := FromResult(recordsync.Result{Snapshot: snap, Err: errors.New("finalize: boom")}, now)

	if n.MatchID != snap.MatchID || !n.Temporary {
		t.Fatalf("id = %q temporary = %v", n.MatchID, n.Temporary)
	}
	if n.Winner != "dire" || n.GameMode != "ranked" {
		t.Fatalf("winner = %q mode = %q", n.Winner, n.GameMode)
	}
	if len(n.Players) != 1 || n.Players[0].Team != "radiant" {
		t.Fatalf("players = %+v", n.Players)
	}
	if n.Error == "" || !n.EndedAt.Equal(now) {
		t.Fatalf("error = %q endedAt = %v", n.Error, n.EndedAt)
	}
}

func TestFromResultPrefersRecord(t *testing.T) {
	ended := time.UnixMilli(1_700_000_200_000)
	rec := domain.MatchRecord{
		MatchID: "8123",
		Winner:  match.TeamRadiant,
		EndedAt: &ended,
		Roster:  []match.RosterPlayer{{SteamID: "1"}, {SteamID: "2"}},
	}
	n := FromResult(recordsync.Result{Record: rec, Snapshot: match.Snapshot{MatchID: "other"}}, time.Now())
	if n.MatchID != "8123" || n.Temporary || !n.EndedAt.Equal(ended) || len(n.Players) != 2 {
		t.Fatalf("notification = %+v", n)
	}
}

type recordingPoster struct {
	mu   sync.Mutex
	got  []Notification
	sent chan struct{}
}

func (p *recordingPoster) Post(_ context.Context, v any) error {
	p.mu.Lock()
	p.got = append(p.got, v.(Notification))
	p.mu.Unlock()
	p.sent <- struct{}{}
	return nil
}

func TestNotifierDeliversInOrder(t *testing.T) {
	p := &recordingPoster{sent: make(chan struct{}, 4)}
	n := NewNotifier(p, 4)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = n.Serve(ctx) }()

	n.Observe(recordsync.Result{Record: domain.MatchRecord{MatchID: "1"}})
	n.Observe(recordsync.Result{Record: domain.MatchRecord{MatchID: "2"}})
	for i := 0; i < 2; i++ {
		select {
		case <-p.sent:
		case <-time.After(2 * time.Second):
			t.Fatalf("notification %d not delivered", i)
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.got[0].MatchID != "1" || p.got[1].MatchID != "2" {
		t.Fatalf("order = %+v", p.got)
	}
}

func TestNotifierDropsWhenFull(t *testing.T) {
	p := &recordingPoster{sent: make(chan struct{}, 4)}
	n := NewNotifier(p, 1)

	// Serve가 돌지 않으므로 두 번째는 버려짐
	n.Observe(recordsync.Result{Record: domain.MatchRecord{MatchID: "1"}})
	n.Observe(recordsync.Result{Record: domain.MatchRecord{MatchID: "2"}})
	if len(n.ch) != 1 {
		t.Fatalf("buffered = %d, want 1", len(n.ch))
	}
}
