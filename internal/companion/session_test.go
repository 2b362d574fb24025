package companion

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/park285/dota-match-companion/internal/gep"
	"github.com/park285/dota-match-companion/internal/match"
	"github.com/park285/dota-match-companion/internal/recordsync"
	"github.com/park285/dota-match-companion/internal/snapcache"
	"github.com/park285/dota-match-companion/internal/store"
	"github.com/park285/dota-match-companion/pkg/matchdto"
)

type jobSink struct {
	mu   sync.Mutex
	jobs []recordsync.Job
}

func (s *jobSink) Enqueue(job recordsync.Job) {
	s.mu.Lock()
	s.jobs = append(s.jobs, job)
	s.mu.Unlock()
}

func (s *jobSink) Kinds() []recordsync.Kind {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]recordsync.Kind, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j.Kind)
	}
	return out
}

func (s *jobSink) Last() recordsync.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs[len(s.jobs)-1]
}

func payload(kv ...string) gep.Payload {
	p := gep.Payload{}
	for i := 0; i+1 < len(kv); i += 2 {
		p[kv[i]] = json.RawMessage(kv[i+1])
	}
	return p
}

const rosterJSON = `"[{\"steamId\":\"1\",\"hero\":\"npc_dota_hero_axe\",\"team\":2,\"playerIndex\":0},{\"steamId\":\"6\",\"hero\":\"npc_dota_hero_lion\",\"team\":3,\"playerIndex\":5}]"`

func newSession() (*Session, *jobSink, *snapcache.Memory) {
	sink := &jobSink{}
	cache := snapcache.NewMemory(0)
	return NewSession(cache, sink), sink, cache
}

func TestSessionLifecycle(t *testing.T) {
	s, sink, cache := newSession()
	ctx := context.Background()

	s.HandleUpdate(ctx, "match_info", payload("pseudo_match_id", `"7001"`))
	s.HandleUpdate(ctx, "roster", payload("players", rosterJSON))
	if len(sink.Kinds()) != 0 {
		t.Fatalf("no jobs expected before start, got %v", sink.Kinds())
	}
	if e, ok := cache.Get(ctx); !ok || e.Snapshot.MatchID != "7001" {
		t.Fatalf("complete snapshot not cached: %+v %v", e, ok)
	}

	sig := s.HandleEvents(ctx, []gep.Event{{Name: "match_state_changed", Data: `{"match_state":"DOTA_GAMERULES_STATE_STRATEGY_TIME"}`}})
	if sig != match.SignalStart {
		t.Fatalf("expected start, got %v", sig)
	}
	s.HandleUpdate(ctx, "roster", payload("players", rosterJSON))
	s.HandleUpdate(ctx, "me", payload("steamId", `"1"`))

	gen := s.Live().Generation
	sig = s.HandleEvents(ctx, []gep.Event{{Name: "match_ended", Data: `{"winner":"radiant"}`}})
	if sig != match.SignalEnd {
		t.Fatalf("expected end, got %v", sig)
	}

	kinds := sink.Kinds()
	want := []recordsync.Kind{recordsync.KindStart, recordsync.KindUpdate, recordsync.KindEnd}
	if len(kinds) != len(want) {
		t.Fatalf("expected %v, got %v", want, kinds)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, kinds)
		}
	}
	end := sink.Last()
	if end.Generation != gen || end.Snapshot.MatchID != "7001" || end.Snapshot.Winner != match.TeamRadiant {
		t.Fatalf("unexpected end job %+v", end)
	}
	live := s.Live()
	if live.Active || live.Snapshot.MatchID != "" || live.Generation != gen+1 {
		t.Fatalf("tracker not reset after end: %+v", live)
	}
}

func TestSessionStartFromStateUpdate(t *testing.T) {
	s, sink, _ := newSession()
	sig := s.HandleUpdate(context.Background(), "match_state_changed", payload("match_state", `"GAME_IN_PROGRESS"`))
	if sig != match.SignalStart || len(sink.Kinds()) != 1 {
		t.Fatalf("expected start job, got %v %v", sig, sink.Kinds())
	}
}

func TestSessionGameOverCarriesBody(t *testing.T) {
	s, sink, _ := newSession()
	ctx := context.Background()
	s.HandleUpdate(ctx, "match_state_changed", payload("match_state", `"GAME_IN_PROGRESS"`))
	s.HandleEvents(ctx, []gep.Event{{Name: "game_over", Data: `{"players":[{"steamId":"1","kills":3}]}`}})
	end := sink.Last()
	if end.Kind != recordsync.KindEnd {
		t.Fatalf("expected end job, got %v", end.Kind)
	}
	if gep.ParseScoreboard(end.Body)["1"].Kills == nil {
		t.Fatalf("terminal body not carried: %+v", end.Body)
	}
}

func TestSessionInfoDumpOnlyFillsCache(t *testing.T) {
	s, sink, cache := newSession()
	ctx := context.Background()
	s.HandleInfo(ctx, map[string]gep.Payload{
		"match_info": payload("pseudo_match_id", `"7002"`),
		"roster":     payload("players", rosterJSON),
	})
	if e, ok := cache.Get(ctx); !ok || e.Snapshot.MatchID != "7002" || len(e.Snapshot.Roster) != 2 {
		t.Fatalf("info dump not cached: %+v %v", e, ok)
	}
	if s.Live().Snapshot.MatchID != "" || len(sink.Kinds()) != 0 {
		t.Fatalf("info dump must not touch the live tracker")
	}
}

func TestSessionGameExitResets(t *testing.T) {
	s, _, _ := newSession()
	ctx := context.Background()
	s.HandleUpdate(ctx, "match_state_changed", payload("match_state", `"STRATEGY_TIME"`))
	if !s.Live().Active {
		t.Fatalf("expected active session")
	}
	s.HandleGameExit(ctx)
	if s.Live().Active {
		t.Fatalf("game exit must reset the tracker")
	}
}

func TestSessionRepeatedTerminalBatchQueuesOneEnd(t *testing.T) {
	s, sink, _ := newSession()
	ctx := context.Background()
	s.HandleUpdate(ctx, "match_info", payload("pseudo_match_id", `"9001"`))
	s.HandleUpdate(ctx, "match_state_changed", payload("match_state", `"GAME_IN_PROGRESS"`))

	if sig := s.HandleEvents(ctx, []gep.Event{{Name: "match_ended", Data: `{"winner":"radiant"}`}}); sig != match.SignalEnd {
		t.Fatalf("expected end, got %v", sig)
	}
	if sig := s.HandleEvents(ctx, []gep.Event{{Name: "game_over"}}); sig != match.SignalEnd {
		t.Fatalf("expected end, got %v", sig)
	}

	ends := 0
	for _, k := range sink.Kinds() {
		if k == recordsync.KindEnd {
			ends++
		}
	}
	if ends != 1 {
		t.Fatalf("expected one end job, got %v", sink.Kinds())
	}
	if sink.Last().Snapshot.MatchID != "9001" {
		t.Fatalf("unexpected end job %+v", sink.Last())
	}
	if s.Live().Active {
		t.Fatalf("tracker must stay idle")
	}
}

func TestSessionIdleEndWithMatchDataIsQueued(t *testing.T) {
	s, sink, _ := newSession()
	ctx := context.Background()
	s.HandleUpdate(ctx, "match_info", payload("pseudo_match_id", `"9002"`))
	s.HandleEvents(ctx, []gep.Event{{Name: "match_ended", Data: `{"winner":"dire"}`}})

	kinds := sink.Kinds()
	if len(kinds) != 1 || kinds[0] != recordsync.KindEnd || sink.Last().Snapshot.MatchID != "9002" {
		t.Fatalf("expected an end job for 9002, got %v", kinds)
	}
}

func TestSessionJobsCarryObservationStart(t *testing.T) {
	clock := time.UnixMilli(1_700_000_000_000)
	now := func() time.Time { return clock }
	sink := &jobSink{}
	s := NewSession(snapcache.NewMemory(0), sink, WithClock(now))
	ctx := context.Background()
	first := clock

	clock = clock.Add(time.Minute)
	s.HandleUpdate(ctx, "match_state_changed", payload("match_state", `"GAME_IN_PROGRESS"`))
	clock = clock.Add(time.Minute)
	s.HandleEvents(ctx, []gep.Event{{Name: "game_over"}})
	if end := sink.Last(); !end.Since.Equal(first) || !end.At.Equal(clock) {
		t.Fatalf("end job since=%v at=%v", end.Since, end.At)
	}

	clock = clock.Add(time.Minute)
	second := clock
	s.HandleGameExit(ctx)
	clock = clock.Add(time.Minute)
	s.HandleUpdate(ctx, "match_state_changed", payload("match_state", `"GAME_IN_PROGRESS"`))
	if start := sink.Last(); start.Kind != recordsync.KindStart || !start.Since.Equal(second) {
		t.Fatalf("start job %+v", start)
	}
}

// applySink runs jobs inline against a synchronizer.
type applySink struct {
	syncer *recordsync.Synchronizer
}

func (a applySink) Enqueue(job recordsync.Job) {
	a.syncer.Apply(context.Background(), job)
}

func TestSessionRepeatedTerminalBatchPersistsOneMatch(t *testing.T) {
	ctx := context.Background()
	st, err := store.Open(ctx, store.Config{Driver: store.DriverSQLite, Path: filepath.Join(t.TempDir(), "session.db")})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	cache := snapcache.NewMemory(time.Minute)
	syncer := recordsync.New(recordsync.DepsFromStore(st, cache), recordsync.Options{
		SnapshotWait: 20 * time.Millisecond,
		SnapshotPoll: 5 * time.Millisecond,
	})
	var finalized []recordsync.Result
	syncer.OnFinalized(func(r recordsync.Result) { finalized = append(finalized, r) })
	s := NewSession(cache, applySink{syncer: syncer})

	s.HandleUpdate(ctx, "match_info", payload("pseudo_match_id", `"9001"`))
	s.HandleUpdate(ctx, "roster", payload("players", rosterJSON))
	s.HandleUpdate(ctx, "match_state_changed", payload("match_state", `"GAME_IN_PROGRESS"`))
	s.HandleEvents(ctx, []gep.Event{{Name: "match_ended", Data: `{"winner":"radiant"}`}})
	s.HandleEvents(ctx, []gep.Event{{Name: "game_over"}})

	page, err := st.Matches.List(ctx, matchdto.MatchFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if page.Total != 1 || page.Items[0].MatchID != "9001" || page.Items[0].Winner != match.TeamRadiant {
		t.Fatalf("unexpected matches %+v", page.Items)
	}
	if len(finalized) != 1 {
		t.Fatalf("expected one finalized result, got %d", len(finalized))
	}
}
