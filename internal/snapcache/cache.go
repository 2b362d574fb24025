// Package snapcache keeps the last complete snapshot seen on the feed for a
// short time. The end-of-match flow falls back to it when the terminal event
// arrives before the live snapshot is complete.
package snapcache

import (
	"context"
	"time"

	"github.com/park285/dota-match-companion/internal/match"
	"github.com/park285/dota-match-companion/internal/metrics"
)

// DefaultTTL is how long an entry stays readable.
const DefaultTTL = 5 * time.Minute

// Entry is a cached snapshot and the time it was captured.
type Entry struct {
	Snapshot   match.Snapshot `json:"snapshot"`
	CapturedAt time.Time      `json:"capturedAt"`
}

// Cache is a single-slot snapshot cache. Update overwrites unconditionally;
// Get reports a miss once the TTL has elapsed and clears the slot.
type Cache interface {
	Update(ctx context.Context, snap match.Snapshot)
	Get(ctx context.Context) (Entry, bool)
	Clear(ctx context.Context)
}

// Await polls c every interval until accept approves an entry or wait
// elapses. It never fails; the caller falls back to what it already has.
func Await(ctx context.Context, c Cache, wait, every time.Duration, accept func(Entry) bool) (Entry, bool) {
	start := time.Now()
	defer func() { metrics.CacheWaits.Observe(time.Since(start).Seconds()) }()

	check := func() (Entry, bool) {
		e, ok := c.Get(ctx)
		if !ok || (accept != nil && !accept(e)) {
			return Entry{}, false
		}
		return e, true
	}
	if e, ok := check(); ok {
		return e, true
	}
	if wait <= 0 {
		return Entry{}, false
	}
	if every <= 0 || every > wait {
		every = wait
	}

	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			// one last look: the deadline may race a fresh update
			return check()
		case <-ticker.C:
			if e, ok := check(); ok {
				return e, true
			}
		}
	}
}
