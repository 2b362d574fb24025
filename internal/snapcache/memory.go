package snapcache

import (
	"context"
	"sync"
	"time"

	"github.com/park285/dota-match-companion/internal/match"
	"github.com/park285/dota-match-companion/internal/metrics"
)

// Memory is the in-process Cache.
type Memory struct {
	mu    sync.Mutex
	ttl   time.Duration
	now   func() time.Time
	entry *Entry
}

func NewMemory(ttl time.Duration) *Memory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Memory{ttl: ttl, now: time.Now}
}

// WithClock replaces time.Now; tests only.
func (m *Memory) WithClock(now func() time.Time) *Memory {
	m.now = now
	return m
}

func (m *Memory) Update(_ context.Context, snap match.Snapshot) {
	e := Entry{Snapshot: snap.Clone(), CapturedAt: m.now()}
	m.mu.Lock()
	m.entry = &e
	m.mu.Unlock()
}

func (m *Memory) Get(_ context.Context) (Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.entry == nil {
		metrics.CacheLookups.WithLabelValues("memory", "miss").Inc()
		return Entry{}, false
	}
	if m.now().Sub(m.entry.CapturedAt) >= m.ttl {
		m.entry = nil
		metrics.CacheLookups.WithLabelValues("memory", "expired").Inc()
		return Entry{}, false
	}
	metrics.CacheLookups.WithLabelValues("memory", "hit").Inc()
	return Entry{Snapshot: m.entry.Snapshot.Clone(), CapturedAt: m.entry.CapturedAt}, true
}

func (m *Memory) Clear(_ context.Context) {
	m.mu.Lock()
	m.entry = nil
	m.mu.Unlock()
}
