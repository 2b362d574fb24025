package snapcache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	gobreaker "github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/park285/dota-match-companion/internal/match"
	"github.com/park285/dota-match-companion/internal/metrics"
	"github.com/park285/dota-match-companion/internal/obslog"
)

const (
	DefaultKey = "companion:snapshot:last"

	breakerName = "snapshot_cache"
)

// RedisOptions tunes the Redis cache.
type RedisOptions struct {
	Key string
	TTL time.Duration
	// OpTimeout bounds every Redis round trip.
	OpTimeout time.Duration
	// FailureThreshold consecutive failures open the breaker.
	FailureThreshold uint32
	// BreakerTimeout is how long the breaker stays open.
	BreakerTimeout time.Duration
}

// Redis stores the entry under a single key with a PX expiry. Reads and
// writes go through a circuit breaker: while it is open, reads miss and
// writes are dropped.
type Redis struct {
	rdb       *redis.Client
	key       string
	ttl       time.Duration
	opTimeout time.Duration
	now       func() time.Time
	breaker   *gobreaker.CircuitBreaker[[]byte]
}

func NewRedis(rdb *redis.Client, opts RedisOptions) *Redis {
	if strings.TrimSpace(opts.Key) == "" {
		opts.Key = DefaultKey
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.OpTimeout <= 0 {
		opts.OpTimeout = 500 * time.Millisecond
	}
	if opts.FailureThreshold == 0 {
		opts.FailureThreshold = 3
	}
	if opts.BreakerTimeout <= 0 {
		opts.BreakerTimeout = 30 * time.Second
	}
	threshold := opts.FailureThreshold
	metrics.CircuitBreakerState.WithLabelValues(breakerName).Set(float64(gobreaker.StateClosed))
	return &Redis{
		rdb:       rdb,
		key:       opts.Key,
		ttl:       opts.TTL,
		opTimeout: opts.OpTimeout,
		now:       time.Now,
		breaker: gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
			Name:        breakerName,
			MaxRequests: 1,
			Timeout:     opts.BreakerTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= threshold
			},
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, redis.Nil)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
				obslog.L().Warn("circuit_breaker_state",
					zap.String("name", name),
					zap.String("from", from.String()),
					zap.String("to", to.String()))
			},
		}),
	}
}

// NewRedisFromURL dials REDIS_URL (redis:// or rediss://) and pings it.
func NewRedisFromURL(ctx context.Context, rawURL string, opts RedisOptions) (*Redis, error) {
	ropts, err := parseRedisURL(rawURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(ropts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewRedis(rdb, opts), nil
}

// parseRedisURL accepts redis:// and rediss:// URLs; rediss enables TLS.
func parseRedisURL(raw string) (*redis.Options, error) {
	opts, err := redis.ParseURL(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return opts, nil
}

func (r *Redis) Close() error {
	if r == nil || r.rdb == nil {
		return nil
	}
	return r.rdb.Close()
}

func (r *Redis) Update(ctx context.Context, snap match.Snapshot) {
	b, err := json.Marshal(Entry{Snapshot: snap, CapturedAt: r.now().UTC()})
	if err != nil {
		obslog.L().Error("snapshot_cache_encode_error", zap.Error(err))
		return
	}
	_, err = r.breaker.Execute(func() ([]byte, error) {
		ctx, cancel := context.WithTimeout(ctx, r.opTimeout)
		defer cancel()
		return nil, r.rdb.Set(ctx, r.key, b, r.ttl).Err()
	})
	if err != nil {
		obslog.L().Debug("snapshot_cache_write_dropped", zap.Error(err))
	}
}

func (r *Redis) Get(ctx context.Context) (Entry, bool) {
	raw, err := r.breaker.Execute(func() ([]byte, error) {
		ctx, cancel := context.WithTimeout(ctx, r.opTimeout)
		defer cancel()
		return r.rdb.Get(ctx, r.key).Bytes()
	})
	switch {
	case errors.Is(err, redis.Nil):
		metrics.CacheLookups.WithLabelValues("redis", "miss").Inc()
		return Entry{}, false
	case err != nil:
		metrics.CacheLookups.WithLabelValues("redis", "unavailable").Inc()
		return Entry{}, false
	}

	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		r.Clear(ctx)
		metrics.CacheLookups.WithLabelValues("redis", "miss").Inc()
		return Entry{}, false
	}
	// keys written under a longer TTL
	if r.now().Sub(e.CapturedAt) >= r.ttl {
		r.Clear(ctx)
		metrics.CacheLookups.WithLabelValues("redis", "expired").Inc()
		return Entry{}, false
	}
	metrics.CacheLookups.WithLabelValues("redis", "hit").Inc()
	return e, true
}

func (r *Redis) Clear(ctx context.Context) {
	_, _ = r.breaker.Execute(func() ([]byte, error) {
		ctx, cancel := context.WithTimeout(ctx, r.opTimeout)
		defer cancel()
		return nil, r.rdb.Del(ctx, r.key).Err()
	})
}
