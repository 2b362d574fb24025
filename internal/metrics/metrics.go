// Package metrics holds the prometheus collectors of the companion service.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Lifecycle
	MatchSignals = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "companion_match_signals_total",
			Help: "Match lifecycle signals produced by the tracker",
		},
		[]string{"signal"}, // "start", "end"
	)

	// Persistence
	PersistOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "companion_persist_ops_total",
			Help: "Persistence steps by outcome",
		},
		[]string{"op", "result"}, // result: "ok", "skipped", "error"
	)

	PersistDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "companion_persist_duration_seconds",
			Help:    "Duration of persistence steps in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "companion_persist_queue_depth",
			Help: "Persistence jobs waiting to be applied",
		},
	)

	// Snapshot cache
	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "companion_snapshot_cache_lookups_total",
			Help: "Snapshot cache reads by result",
		},
		[]string{"backend", "result"}, // result: "hit", "miss", "expired", "unavailable"
	)

	CacheWaits = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "companion_snapshot_cache_wait_seconds",
			Help:    "Time spent waiting for a complete snapshot at match end",
			Buckets: []float64{.05, .1, .25, .5, 1, 2, 3, 5, 10},
		},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "companion_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	// Feed
	FeedFrames = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "companion_feed_frames_total",
			Help: "Frames received from the event feed",
		},
		[]string{"type"},
	)

	FeedConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "companion_feed_connected",
			Help: "1 while the feed websocket is connected",
		},
	)

	FeedReconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "companion_feed_reconnects_total",
			Help: "Feed reconnect attempts",
		},
	)

	// Notify
	NotifyDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "companion_notify_deliveries_total",
			Help: "Finalized-match webhook deliveries by result",
		},
		[]string{"result"},
	)

	// API
	APIRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "companion_api_requests_total",
			Help: "API requests by route and status",
		},
		[]string{"route", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "companion_api_request_duration_seconds",
			Help:    "API request latency in seconds",
			Buckets: []float64{.001, .005, .01, .05, .1, .5, 1},
		},
		[]string{"route"},
	)
)

// RecordPersist records one persistence step. A nil err with skipped set is
// counted as "skipped".
func RecordPersist(op string, duration time.Duration, skipped bool, err error) {
	PersistDuration.WithLabelValues(op).Observe(duration.Seconds())
	switch {
	case err != nil:
		PersistOps.WithLabelValues(op, "error").Inc()
	case skipped:
		PersistOps.WithLabelValues(op, "skipped").Inc()
	default:
		PersistOps.WithLabelValues(op, "ok").Inc()
	}
}

func RecordAPIRequest(route string, status int, duration time.Duration) {
	APIRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	APIRequestDuration.WithLabelValues(route).Observe(duration.Seconds())
}

func SetFeedConnected(connected bool) {
	if connected {
		FeedConnected.Set(1)
		return
	}
	FeedConnected.Set(0)
}
