// Package companion hosts one observed game: it feeds partial updates and
// event batches to the lifecycle tracker, keeps the snapshot cache warm and
// hands persistence work to the writer queue.
package companion

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/park285/dota-match-companion/internal/gep"
	"github.com/park285/dota-match-companion/internal/match"
	"github.com/park285/dota-match-companion/internal/metrics"
	"github.com/park285/dota-match-companion/internal/obslog"
	"github.com/park285/dota-match-companion/internal/recordsync"
	"github.com/park285/dota-match-companion/internal/snapcache"
)

// Enqueuer accepts persistence jobs without blocking.
type Enqueuer interface {
	Enqueue(job recordsync.Job)
}

// infoOrder is the replay order of a full info dump.
var infoOrder = []string{
	match.FeatureMatchInfo,
	match.FeatureMe,
	match.FeatureRoster,
	match.FeatureGameState,
	match.FeatureMatchState,
}

// Live is the externally visible state of the session.
type Live struct {
	Snapshot   match.Snapshot `json:"snapshot"`
	Active     bool           `json:"active"`
	Generation uint64         `json:"generation"`
}

// Session serializes delivery to one tracker.
type Session struct {
	mu      sync.Mutex
	tracker *match.Tracker
	cache   snapcache.Cache
	jobs    Enqueuer
	now     func() time.Time
	// since marks the start of the current observation.
	since time.Time
}

type Option func(*Session)

func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

func NewSession(cache snapcache.Cache, jobs Enqueuer, opts ...Option) *Session {
	s := &Session{tracker: match.NewTracker(), cache: cache, jobs: jobs, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	s.since = s.now()
	return s
}

// HandleUpdate applies one partial update.
func (s *Session) HandleUpdate(ctx context.Context, feature string, payload gep.Payload) match.Signal {
	s.mu.Lock()
	defer s.mu.Unlock()

	sig := s.tracker.OnUpdate(feature, payload)
	snap := s.tracker.GetSnapshot()
	s.remember(ctx, snap)

	switch {
	case sig == match.SignalStart:
		s.start(snap)
	case s.tracker.IsActive():
		switch strings.ToLower(strings.TrimSpace(feature)) {
		case match.FeatureMatchInfo, match.FeatureRoster:
			s.enqueue(recordsync.KindUpdate, snap, nil)
		}
	}
	return sig
}

// HandleEvents applies an event batch. An end signal resets the tracker
// before the finalize job is queued, so the next match starts clean. An end
// seen while idle with nothing observed is dropped.
func (s *Session) HandleEvents(ctx context.Context, batch []gep.Event) match.Signal {
	s.mu.Lock()
	defer s.mu.Unlock()

	gen := s.tracker.Generation()
	since := s.since
	wasActive := s.tracker.IsActive()
	sig := s.tracker.OnEvents(batch)
	switch sig {
	case match.SignalStart:
		snap := s.tracker.GetSnapshot()
		s.remember(ctx, snap)
		s.start(snap)
	case match.SignalEnd:
		snap := s.tracker.GetSnapshot()
		body := gep.TerminalBody(batch)
		s.reset()
		if !wasActive && !snap.HasMatchData() {
			obslog.L().Debug("match_end_ignored", zap.Uint64("generation", gen))
			return sig
		}
		metrics.MatchSignals.WithLabelValues(sig.String()).Inc()
		obslog.L().Info("match_signal",
			zap.String("signal", sig.String()),
			zap.String("match_id", snap.MatchID),
			zap.String("winner", string(snap.Winner)))
		s.jobs.Enqueue(recordsync.Job{
			Kind:       recordsync.KindEnd,
			Generation: gen,
			Snapshot:   snap,
			Body:       body,
			At:         s.now(),
			Since:      since,
		})
	}
	return sig
}

// HandleInfo replays a full info dump into a scratch tracker and caches the
// result. The live tracker is left alone.
func (s *Session) HandleInfo(ctx context.Context, info map[string]gep.Payload) {
	scratch := match.NewTracker()
	for _, feature := range infoOrder {
		if p, ok := info[feature]; ok {
			scratch.OnUpdate(feature, p)
		}
	}
	s.remember(ctx, scratch.GetSnapshot())
}

// HandleGameExit drops any in-progress observation.
func (s *Session) HandleGameExit(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tracker.IsActive() {
		id, _ := s.tracker.GetMatchID()
		obslog.L().Warn("game_exit_during_match", zap.String("match_id", id))
	}
	s.reset()
}

func (s *Session) Live() Live {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Live{
		Snapshot:   s.tracker.GetSnapshot(),
		Active:     s.tracker.IsActive(),
		Generation: s.tracker.Generation(),
	}
}

func (s *Session) start(snap match.Snapshot) {
	metrics.MatchSignals.WithLabelValues(match.SignalStart.String()).Inc()
	obslog.L().Info("match_signal",
		zap.String("signal", match.SignalStart.String()),
		zap.String("match_id", snap.MatchID),
		zap.String("match_state", snap.MatchState))
	s.enqueue(recordsync.KindStart, snap, nil)
}

func (s *Session) enqueue(kind recordsync.Kind, snap match.Snapshot, body gep.Payload) {
	s.jobs.Enqueue(recordsync.Job{
		Kind:       kind,
		Generation: s.tracker.Generation(),
		Snapshot:   snap,
		Body:       body,
		At:         s.now(),
		Since:      s.since,
	})
}

func (s *Session) reset() {
	s.tracker.Reset()
	s.since = s.now()
}

// remember caches complete snapshots only.
func (s *Session) remember(ctx context.Context, snap match.Snapshot) {
	if s.cache == nil || !snap.Complete() {
		return
	}
	s.cache.Update(ctx, snap)
}
