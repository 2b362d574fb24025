package snapcache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/park285/dota-match-companion/internal/match"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func completeSnapshot(id string) match.Snapshot {
	idx := 0
	return match.Snapshot{
		MatchID: id,
		Roster:  []match.RosterPlayer{{SteamID: "1", Hero: "npc_dota_hero_axe", Team: match.TeamRadiant, PlayerIndex: &idx}},
	}
}

func TestMemoryExpiresAndClears(t *testing.T) {
	clock := newFakeClock()
	c := NewMemory(5 * time.Minute).WithClock(clock.Now)
	ctx := context.Background()

	if _, ok := c.Get(ctx); ok {
		t.Fatalf("empty cache must miss")
	}
	c.Update(ctx, completeSnapshot("7001"))
	clock.Advance(4 * time.Minute)
	e, ok := c.Get(ctx)
	if !ok || e.Snapshot.MatchID != "7001" {
		t.Fatalf("expected hit, got %+v %v", e, ok)
	}

	clock.Advance(time.Minute)
	if _, ok := c.Get(ctx); ok {
		t.Fatalf("entry must expire after the TTL")
	}
	// expired read cleared the slot
	clock.Advance(-time.Hour)
	if _, ok := c.Get(ctx); ok {
		t.Fatalf("expired entry must be cleared")
	}
}

func TestMemoryUpdateOverwritesAndCopies(t *testing.T) {
	c := NewMemory(0)
	ctx := context.Background()
	snap := completeSnapshot("7001")
	c.Update(ctx, snap)
	snap.Roster[0].Hero = "mutated"
	c.Update(ctx, completeSnapshot("7002"))

	e, ok := c.Get(ctx)
	if !ok || e.Snapshot.MatchID != "7002" {
		t.Fatalf("expected latest entry, got %+v", e)
	}
	e.Snapshot.Roster[0].Hero = "changed"
	again, _ := c.Get(ctx)
	if again.Snapshot.Roster[0].Hero != "npc_dota_hero_axe" {
		t.Fatalf("cache returned shared state")
	}
	c.Clear(ctx)
	if _, ok := c.Get(ctx); ok {
		t.Fatalf("cleared cache must miss")
	}
}

func TestAwaitReturnsAcceptedEntry(t *testing.T) {
	c := NewMemory(time.Minute)
	ctx := context.Background()
	c.Update(ctx, completeSnapshot("6999"))

	go func() {
		time.Sleep(30 * time.Millisecond)
		c.Update(ctx, completeSnapshot("7001"))
	}()
	e, ok := Await(ctx, c, 2*time.Second, 5*time.Millisecond, func(e Entry) bool {
		return e.Snapshot.MatchID == "7001"
	})
	if !ok || e.Snapshot.MatchID != "7001" {
		t.Fatalf("expected 7001, got %+v %v", e, ok)
	}
}

func TestAwaitTimesOut(t *testing.T) {
	c := NewMemory(time.Minute)
	start := time.Now()
	_, ok := Await(context.Background(), c, 50*time.Millisecond, 10*time.Millisecond, nil)
	if ok {
		t.Fatalf("expected miss")
	}
	if el := time.Since(start); el < 50*time.Millisecond || el > time.Second {
		t.Fatalf("unexpected wait %v", el)
	}
}

func TestAwaitHonoursCancellation(t *testing.T) {
	c := NewMemory(time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	if _, ok := Await(ctx, c, 5*time.Second, 100*time.Millisecond, nil); ok {
		t.Fatalf("expected miss")
	}
	if time.Since(start) > time.Second {
		t.Fatalf("cancelled wait did not return promptly")
	}
}
