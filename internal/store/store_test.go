package store

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/park285/dota-match-companion/internal/match"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
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

func newTestStore(t *testing.T) (*Store, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	var (
		mu  sync.Mutex
		seq int
	)
	s, err := Open(context.Background(), Config{
		Driver: DriverSQLite,
		Path:   filepath.Join(t.TempDir(), "companion.db"),
	}, WithClock(clock.Now), WithIDGenerator(func() string {
		mu.Lock()
		defer mu.Unlock()
		seq++
		return fmt.Sprintf("id-%04d", seq)
	}))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s, clock
}

func intPtr(v int) *int { return &v }

func testRoster() []match.RosterPlayer {
	return []match.RosterPlayer{
		{SteamID: "76561198000000001", Name: "alpha", Hero: "npc_dota_hero_axe", Team: match.TeamRadiant, PlayerIndex: intPtr(0), Role: intPtr(1)},
		{SteamID: "76561198000000002", Name: "bravo", Hero: "npc_dota_hero_lion", Team: match.TeamRadiant, PlayerIndex: intPtr(1)},
		{SteamID: "76561198000000006", Name: "foxtrot", Hero: "npc_dota_hero_zuus", Team: match.TeamDire, PlayerIndex: intPtr(5)},
	}
}

func testSnapshot(matchID string) match.Snapshot {
	return match.Snapshot{
		MatchID:    matchID,
		GameMode:   &match.GameModeInfo{GameMode: "all_pick", LobbyType: "ranked"},
		Self:       match.SelfPlayer{SteamID: "76561198000000001", Team: match.TeamRadiant},
		Roster:     testRoster(),
		MatchState: "DOTA_GAMERULES_STATE_GAME_IN_PROGRESS",
	}
}

func TestOpenIsRepeatable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "companion.db")
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		s, err := Open(ctx, Config{Driver: DriverSQLite, Path: path})
		if err != nil {
			t.Fatalf("open #%d: %v", i+1, err)
		}
		if err := s.Ping(ctx); err != nil {
			t.Fatalf("ping: %v", err)
		}
		_ = s.Close()
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	if _, err := Open(context.Background(), Config{Driver: "mysql"}); err == nil {
		t.Fatalf("expected error for unsupported driver")
	}
}

func TestRebind(t *testing.T) {
	got := postgresDialect.rebind("SELECT a FROM t WHERE x = ? AND y IN (?, ?)")
	if got != "SELECT a FROM t WHERE x = $1 AND y IN ($2, $3)" {
		t.Fatalf("unexpected rebind: %s", got)
	}
	if q := sqliteDialect.rebind("x = ?"); q != "x = ?" {
		t.Fatalf("sqlite query must not change: %s", q)
	}
	if placeholders(3) != "?, ?, ?" || placeholders(0) != "" {
		t.Fatalf("unexpected placeholders")
	}
}

func TestExtractUpMigration(t *testing.T) {
	content := "-- +migrate Up\nCREATE TABLE a (id TEXT);\n-- +migrate Down\nDROP TABLE a;\n"
	up := strings.TrimSpace(extractUpMigration(content))
	if up != "CREATE TABLE a (id TEXT);" {
		t.Fatalf("unexpected up section %q", up)
	}
}

func TestClearAll(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	snap := testSnapshot("7001")
	if _, err := s.Matches.CreateOrUpdate(ctx, snap, true); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := s.Players.SyncFromMatch(ctx, snap, nil); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if _, err := s.Comments.EnsurePlaceholders(ctx, snap.MatchID, snap.Roster); err != nil {
		t.Fatalf("placeholders: %v", err)
	}
	if err := s.ClearAll(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	for _, table := range []string{"matches", "players", "comments"} {
		var n int
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
			t.Fatalf("count %s: %v", table, err)
		}
		if n != 0 {
			t.Fatalf("%s not cleared: %d rows", table, n)
		}
	}
}
