package recordsync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/park285/dota-match-companion/internal/gep"
	"github.com/park285/dota-match-companion/internal/match"
	"github.com/park285/dota-match-companion/internal/metrics"
	"github.com/park285/dota-match-companion/internal/obslog"
)

type Kind int

const (
	KindStart Kind = iota + 1
	KindUpdate
	KindEnd
)

func (k Kind) String() string {
	switch k {
	case KindStart:
		return "start"
	case KindUpdate:
		return "update"
	case KindEnd:
		return "end"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Job is one unit of persistence work. Generation identifies the tracker
// observation the snapshot was taken from.
type Job struct {
	Kind       Kind
	Generation uint64
	Snapshot   match.Snapshot
	// Body is the terminal event payload of an end job.
	Body gep.Payload
	At   time.Time
	// Since is when the observation that produced the job began.
	Since time.Time
}

// Applier performs one job.
type Applier interface {
	Apply(ctx context.Context, job Job)
}

// flushTimeout bounds how long Serve keeps applying queued jobs after its
// context is cancelled.
const flushTimeout = 10 * time.Second

// Queue is an unbounded FIFO drained by a single goroutine, so the jobs of
// one match are applied in the order their signals were produced.
type Queue struct {
	apply Applier

	mu      sync.Mutex
	jobs    []Job
	busy    bool
	wake    chan struct{}
	idle    chan struct{}
	stopped bool
}

func NewQueue(apply Applier) *Queue {
	idle := make(chan struct{})
	close(idle)
	return &Queue{apply: apply, wake: make(chan struct{}, 1), idle: idle}
}

func (q *Queue) String() string { return "persist-queue" }

// Enqueue appends job. It never blocks.
func (q *Queue) Enqueue(job Job) {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		obslog.L().Warn("persist_job_dropped", zap.Stringer("kind", job.Kind))
		return
	}
	if len(q.jobs) == 0 && !q.busy {
		q.idle = make(chan struct{})
	}
	q.jobs = append(q.jobs, job)
	metrics.QueueDepth.Set(float64(len(q.jobs)))
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

// Serve applies jobs until ctx is cancelled, then flushes what is left.
func (q *Queue) Serve(ctx context.Context) error {
	q.mu.Lock()
	q.stopped = false
	q.mu.Unlock()

	for {
		if job, ok := q.next(); ok {
			q.run(ctx, job)
			continue
		}
		select {
		case <-ctx.Done():
			q.flush(ctx)
			return ctx.Err()
		case <-q.wake:
		}
	}
}

func (q *Queue) flush(ctx context.Context) {
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), flushTimeout)
	defer cancel()
	for {
		job, ok := q.next()
		if !ok {
			return
		}
		q.run(fctx, job)
	}
}

// Drain waits until every queued job has been applied.
func (q *Queue) Drain(ctx context.Context) error {
	q.mu.Lock()
	idle := q.idle
	q.mu.Unlock()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop rejects further jobs; used at shutdown after Serve returned.
func (q *Queue) Stop() {
	q.mu.Lock()
	q.stopped = true
	q.mu.Unlock()
}

func (q *Queue) next() (Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.jobs) == 0 {
		return Job{}, false
	}
	job := q.jobs[0]
	q.jobs[0] = Job{}
	q.jobs = q.jobs[1:]
	q.busy = true
	metrics.QueueDepth.Set(float64(len(q.jobs)))
	return job, true
}

func (q *Queue) run(ctx context.Context, job Job) {
	defer func() {
		if r := recover(); r != nil {
			obslog.L().Error("persist_job_panic",
				zap.Stringer("kind", job.Kind),
				zap.String("match_id", job.Snapshot.MatchID),
				zap.Any("panic", r))
		}
		q.mu.Lock()
		q.busy = false
		if len(q.jobs) == 0 {
			select {
			case <-q.idle:
			default:
				close(q.idle)
			}
		}
		q.mu.Unlock()
	}()
	q.apply.Apply(ctx, job)
}
