// Package recordsync turns lifecycle signals into durable records. Jobs are
// applied by a single writer so that, for one match, the start write always
// lands before the finalize.
package recordsync

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/park285/dota-match-companion/internal/domain"
	"github.com/park285/dota-match-companion/internal/gep"
	"github.com/park285/dota-match-companion/internal/match"
	"github.com/park285/dota-match-companion/internal/metrics"
	"github.com/park285/dota-match-companion/internal/obslog"
	"github.com/park285/dota-match-companion/internal/snapcache"
	"github.com/park285/dota-match-companion/internal/store"
)

type MatchWriter interface {
	CreateOrUpdate(ctx context.Context, snap match.Snapshot, allowCreate bool) (domain.MatchRecord, error)
	Finalize(ctx context.Context, snap match.Snapshot) (domain.MatchRecord, error)
	Rekey(ctx context.Context, fromID, toID string) error
}

type PlayerWriter interface {
	SyncFromMatch(ctx context.Context, snap match.Snapshot, board gep.Scoreboard) (int, error)
}

type CommentWriter interface {
	EnsurePlaceholders(ctx context.Context, matchID string, players []match.RosterPlayer) (int, error)
}

type Deps struct {
	Matches  MatchWriter
	Players  PlayerWriter
	Comments CommentWriter
	Cache    snapcache.Cache
}

// DepsFromStore wires the repositories of st.
func DepsFromStore(st *store.Store, cache snapcache.Cache) Deps {
	return Deps{Matches: st.Matches, Players: st.Players, Comments: st.Comments, Cache: cache}
}

type Options struct {
	// SnapshotWait bounds the end-of-match wait for a complete cached snapshot.
	SnapshotWait time.Duration
	// SnapshotPoll is the cache polling interval during that wait.
	SnapshotPoll time.Duration
	Now          func() time.Time
}

// Result is reported to finalize observers. Err joins every step that failed.
type Result struct {
	Record   domain.MatchRecord
	Snapshot match.Snapshot
	Err      error
}

type Synchronizer struct {
	deps Deps
	wait time.Duration
	poll time.Duration
	now  func() time.Time

	mu        sync.Mutex
	tempIDs   map[uint64]string
	observers []func(Result)
}

func New(deps Deps, opts Options) *Synchronizer {
	if opts.SnapshotWait <= 0 {
		opts.SnapshotWait = 5 * time.Second
	}
	if opts.SnapshotPoll <= 0 {
		opts.SnapshotPoll = 100 * time.Millisecond
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Synchronizer{
		deps:    deps,
		wait:    opts.SnapshotWait,
		poll:    opts.SnapshotPoll,
		now:     opts.Now,
		tempIDs: make(map[uint64]string),
	}
}

// OnFinalized registers fn to be called after every end job.
func (s *Synchronizer) OnFinalized(fn func(Result)) {
	s.mu.Lock()
	s.observers = append(s.observers, fn)
	s.mu.Unlock()
}

func (s *Synchronizer) Apply(ctx context.Context, job Job) {
	switch job.Kind {
	case KindStart:
		s.applyStart(ctx, job)
	case KindUpdate:
		s.applyUpdate(ctx, job)
	case KindEnd:
		s.applyEnd(ctx, job)
	default:
		obslog.L().Warn("persist_job_unknown", zap.Stringer("kind", job.Kind))
	}
}

func (s *Synchronizer) applyStart(ctx context.Context, job Job) {
	snap := job.Snapshot
	if snap.MatchID == "" {
		snap.MatchID = s.temporaryID(job.Generation, job.At)
	} else {
		s.rekey(ctx, job.Generation, snap.MatchID)
	}

	if err := s.step("match.start", func() error {
		_, err := s.deps.Matches.CreateOrUpdate(ctx, snap, true)
		return err
	}); err != nil {
		obslog.L().Error("match_start_error", zap.String("match_id", snap.MatchID), zap.Error(err))
		return
	}
	if err := s.step("player.sync", func() error {
		_, err := s.deps.Players.SyncFromMatch(ctx, snap, nil)
		return err
	}); err != nil {
		obslog.L().Error("player_sync_error", zap.String("match_id", snap.MatchID), zap.Error(err))
	}
	obslog.L().Info("match_start",
		zap.String("match_id", snap.MatchID),
		zap.Int("roster", len(snap.Roster)))
}

func (s *Synchronizer) applyUpdate(ctx context.Context, job Job) {
	snap := job.Snapshot
	if snap.MatchID == "" {
		id, ok := s.knownTemporaryID(job.Generation)
		if !ok {
			metrics.RecordPersist("match.update", 0, true, nil)
			return
		}
		snap.MatchID = id
	} else {
		s.rekey(ctx, job.Generation, snap.MatchID)
	}

	err := s.step("match.update", func() error {
		_, err := s.deps.Matches.CreateOrUpdate(ctx, snap, false)
		return err
	})
	switch {
	case errors.Is(err, store.ErrCreateNotAllowed):
		obslog.L().Debug("match_update_skipped", zap.String("match_id", snap.MatchID))
	case err != nil:
		obslog.L().Error("match_update_error", zap.String("match_id", snap.MatchID), zap.Error(err))
	}
}

func (s *Synchronizer) applyEnd(ctx context.Context, job Job) {
	snap := job.Snapshot
	if !snap.Complete() && s.deps.Cache != nil {
		want := snap.MatchID
		if e, ok := snapcache.Await(ctx, s.deps.Cache, s.wait, s.poll, func(e snapcache.Entry) bool {
			if !e.Snapshot.Complete() {
				return false
			}
			if want != "" {
				return e.Snapshot.MatchID == want
			}
			// without an id only a capture from this observation qualifies
			return !job.Since.IsZero() && !e.CapturedAt.Before(job.Since)
		}); ok {
			snap = snap.Merge(e.Snapshot)
		} else {
			obslog.L().Warn("match_end_partial_snapshot", zap.String("match_id", snap.MatchID))
		}
	}
	if !snap.HasMatchData() {
		if _, ok := s.knownTemporaryID(job.Generation); !ok {
			s.forget(job.Generation)
			metrics.RecordPersist("match.finalize", 0, true, nil)
			obslog.L().Info("match_end_dropped", zap.Uint64("generation", job.Generation))
			return
		}
	}
	if snap.MatchID == "" {
		snap.MatchID = s.temporaryID(job.Generation, job.At)
	} else {
		s.rekey(ctx, job.Generation, snap.MatchID)
	}
	s.forget(job.Generation)

	var errs []error
	rec, err := s.finalize(ctx, snap)
	if err != nil {
		errs = append(errs, err)
		obslog.L().Error("match_finalize_error", zap.String("match_id", snap.MatchID), zap.Error(err))
	}

	board := gep.ParseScoreboard(job.Body)
	if err := s.step("player.sync", func() error {
		_, err := s.deps.Players.SyncFromMatch(ctx, snap, board)
		return err
	}); err != nil {
		errs = append(errs, err)
		obslog.L().Error("player_sync_error", zap.String("match_id", snap.MatchID), zap.Error(err))
	}

	roster := snap.Roster
	if len(roster) == 0 {
		roster = rec.Roster
	}
	created := 0
	if err := s.step("comment.placeholders", func() error {
		n, err := s.deps.Comments.EnsurePlaceholders(ctx, snap.MatchID, roster)
		created = n
		return err
	}); err != nil {
		errs = append(errs, err)
		obslog.L().Error("comment_placeholder_error", zap.String("match_id", snap.MatchID), zap.Error(err))
	}

	if s.deps.Cache != nil {
		if e, ok := s.deps.Cache.Get(ctx); ok && e.Snapshot.MatchID == snap.MatchID {
			s.deps.Cache.Clear(ctx)
		}
	}

	obslog.L().Info("match_end",
		zap.String("match_id", snap.MatchID),
		zap.String("winner", string(rec.Winner)),
		zap.Int("placeholders", created),
		zap.Int("failed_steps", len(errs)))
	s.notify(Result{Record: rec, Snapshot: snap, Err: errors.Join(errs...)})
}

func (s *Synchronizer) finalize(ctx context.Context, snap match.Snapshot) (domain.MatchRecord, error) {
	var rec domain.MatchRecord
	err := s.step("match.finalize", func() error {
		var err error
		rec, err = s.deps.Matches.Finalize(ctx, snap)
		return err
	})
	return rec, err
}

func (s *Synchronizer) notify(res Result) {
	s.mu.Lock()
	observers := append([]func(Result){}, s.observers...)
	s.mu.Unlock()
	for _, fn := range observers {
		fn(res)
	}
}

// step times fn and records its outcome. ErrCreateNotAllowed counts as a skip
// but is still returned.
func (s *Synchronizer) step(op string, fn func() error) error {
	start := time.Now()
	err := fn()
	if errors.Is(err, store.ErrCreateNotAllowed) {
		metrics.RecordPersist(op, time.Since(start), true, nil)
		return err
	}
	metrics.RecordPersist(op, time.Since(start), false, err)
	return err
}

// temporaryID returns the id standing in for the unknown match id of one
// observation, creating it on first use.
func (s *Synchronizer) temporaryID(gen uint64, at time.Time) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.tempIDs[gen]; ok {
		return id
	}
	if at.IsZero() {
		at = s.now()
	}
	id := match.TemporaryMatchID(at)
	s.tempIDs[gen] = id
	return id
}

func (s *Synchronizer) knownTemporaryID(gen uint64) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.tempIDs[gen]
	return id, ok
}

func (s *Synchronizer) forget(gen uint64) {
	s.mu.Lock()
	delete(s.tempIDs, gen)
	s.mu.Unlock()
}

// rekey moves the temporary record of gen, if any, to naturalID.
func (s *Synchronizer) rekey(ctx context.Context, gen uint64, naturalID string) {
	tmp, ok := s.knownTemporaryID(gen)
	if !ok || tmp == naturalID {
		return
	}
	err := s.step("match.rekey", func() error {
		return s.deps.Matches.Rekey(ctx, tmp, naturalID)
	})
	switch {
	case err == nil, errors.Is(err, store.ErrNotFound):
		s.forget(gen)
		obslog.L().Info("match_rekey", zap.String("from", tmp), zap.String("to", naturalID))
	default:
		// 매핑 유지, 다음 작업에서 재시도
		obslog.L().Error("match_rekey_error", zap.String("from", tmp), zap.String("to", naturalID), zap.Error(err))
	}
}
