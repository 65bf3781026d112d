// Package jobs provides the in-process background job runtime used for
// retraining and reindexing. One long-lived worker goroutine is started per
// process and reused across jobs; enqueueing is fire-and-forget. Failed jobs
// are retried a bounded number of times with a fixed backoff, and jobs that
// exhaust their budget are parked in a dead-letter store for manual replay.
package jobs

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// DefaultMaxAttempts is the per-job retry budget.
const DefaultMaxAttempts = 3

// DefaultBackoff is the fixed delay between attempts.
const DefaultBackoff = time.Minute

// defaultQueueDepth bounds how many jobs may be pending at once.
const defaultQueueDepth = 32

// Job is a unit of background work. Run is invoked by the worker goroutine;
// a nil error marks the job done (including soft failures the job chose to
// absorb), any other error triggers a retry.
type Job struct {
	// Name identifies the job kind in logs and the dead-letter table.
	Name string
	// Run executes the job.
	Run func(ctx context.Context) error
}

// DeadLetterer parks jobs that exhausted their retries. Satisfied by
// *store.SQLiteStore; nil disables dead-lettering (exhausted jobs are only
// logged).
type DeadLetterer interface {
	ParkJob(ctx context.Context, jobID, jobName, errMsg string) error
}

// queued is a Job plus its runtime-assigned identity.
type queued struct {
	job Job
	id  string
}

// Queue is the background job runtime.
type Queue struct {
	// ch carries pending jobs to the worker.
	ch chan queued
	// maxAttempts is the per-job retry budget.
	maxAttempts int
	// backoff is the fixed delay between attempts.
	backoff time.Duration
	// dead receives jobs that exhausted their retries. May be nil.
	dead DeadLetterer
	// log is the structured logger for job lifecycle events.
	log *slog.Logger

	// mu guards closed.
	mu     sync.Mutex
	closed bool
	// done is closed when the worker goroutine exits.
	done chan struct{}
	// inflight counts jobs from enqueue until their run finishes.
	inflight atomic.Int32
}

// Options configures a Queue. Zero values fall back to defaults.
type Options struct {
	// MaxAttempts overrides the retry budget.
	MaxAttempts int
	// Backoff overrides the delay between attempts.
	Backoff time.Duration
	// Depth overrides the pending-job buffer size.
	Depth int
	// DeadLetter parks exhausted jobs. Nil disables dead-lettering.
	DeadLetter DeadLetterer
	// Logger overrides the structured logger.
	Logger *slog.Logger
}

// New constructs a Queue. Call Start exactly once to launch the worker.
func New(opts Options) *Queue {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.Backoff <= 0 {
		opts.Backoff = DefaultBackoff
	}
	if opts.Depth <= 0 {
		opts.Depth = defaultQueueDepth
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Queue{
		ch:          make(chan queued, opts.Depth),
		maxAttempts: opts.MaxAttempts,
		backoff:     opts.Backoff,
		dead:        opts.DeadLetter,
		log:         opts.Logger,
		done:        make(chan struct{}),
	}
}

// Start launches the single worker goroutine. The worker drains jobs until
// ctx is cancelled, then exits; jobs still pending are dropped.
func (q *Queue) Start(ctx context.Context) {
	go q.worker(ctx)
}

// Enqueue submits a job fire-and-forget style and returns the assigned job
// id. Returns ("", false) when the queue is full or already closed — the
// caller treats that as a dropped trigger, never an error.
func (q *Queue) Enqueue(job Job) (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return "", false
	}

	id := uuid.NewString()
	select {
	case q.ch <- queued{job: job, id: id}:
		q.inflight.Add(1)
		q.log.Info("jobs: enqueued",
			slog.String("job", job.Name),
			slog.String("job_id", id),
		)
		return id, true
	default:
		q.log.Warn("jobs: queue full, dropping job", slog.String("job", job.Name))
		return "", false
	}
}

// Idle reports whether no job is pending or running. A job counts as in
// flight from the moment Enqueue accepts it until its run returns, so jobs
// that enqueue follow-up work keep the queue busy until the follow-up is
// also done.
func (q *Queue) Idle() bool {
	return q.inflight.Load() == 0
}

// Close stops accepting new jobs and waits for the worker to exit.
// The worker exits once its context is cancelled.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()
	<-q.done
}

// worker is the long-lived job loop.
func (q *Queue) worker(ctx context.Context) {
	defer close(q.done)
	for {
		select {
		case <-ctx.Done():
			return
		case item := <-q.ch:
			q.run(ctx, item)
			q.inflight.Add(-1)
		}
	}
}

// run executes one job with bounded retries and fixed backoff. Exhausted
// jobs are parked in the dead-letter store.
func (q *Queue) run(ctx context.Context, item queued) {
	log := q.log.With(
		slog.String("job", item.job.Name),
		slog.String("job_id", item.id),
	)

	var lastErr error
	for attempt := 1; attempt <= q.maxAttempts; attempt++ {
		start := time.Now()
		lastErr = item.job.Run(ctx)
		if lastErr == nil {
			log.Info("jobs: completed",
				slog.Int("attempt", attempt),
				slog.Duration("duration", time.Since(start)),
			)
			return
		}

		log.Warn("jobs: attempt failed",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", q.maxAttempts),
			slog.Any("error", lastErr),
		)

		if attempt < q.maxAttempts {
			select {
			case <-ctx.Done():
				return
			case <-time.After(q.backoff):
			}
		}
	}

	log.Error("jobs: retries exhausted", slog.Any("error", lastErr))
	if q.dead != nil {
		if err := q.dead.ParkJob(ctx, item.id, item.job.Name, lastErr.Error()); err != nil {
			log.Error("jobs: dead-letter write failed", slog.Any("error", err))
		}
	}
}
