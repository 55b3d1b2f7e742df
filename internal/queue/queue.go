// Package queue schedules recognition jobs over a durable store. Jobs flow
// QUEUED -> ACTIVE -> {COMPLETED | RETRY_WAIT -> QUEUED | FAILED}; workers
// pull with Dequeue and settle with Report. Submissions for an id already in
// flight attach to the running job instead of queueing twice.
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/docscan/constants"
	"github.com/joseph-ayodele/docscan/internal/common"
	"github.com/joseph-ayodele/docscan/internal/metrics"
	"github.com/joseph-ayodele/docscan/internal/store"
)

type Queue struct {
	store  store.JobStore
	logger *slog.Logger
	met    *metrics.Metrics

	pollInterval time.Duration
	visibility   time.Duration
	sweepEvery   time.Duration
	backoffBase  time.Duration
	backoffMax   time.Duration
	maxAttempts  int

	mu      sync.Mutex
	waiters map[string]*completion
	closed  bool

	stop chan struct{}
	wg   sync.WaitGroup
}

type Option func(*Queue)

func WithPollInterval(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.pollInterval = d
		}
	}
}
func WithVisibilityTimeout(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.visibility = d
		}
	}
}
func WithSweepInterval(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.sweepEvery = d
		}
	}
}
func WithBackoff(base, max time.Duration) Option {
	return func(q *Queue) {
		if base > 0 {
			q.backoffBase = base
		}
		if max > 0 {
			q.backoffMax = max
		}
	}
}
func WithMaxAttempts(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.maxAttempts = n
		}
	}
}

func New(st store.JobStore, logger *slog.Logger, met *metrics.Metrics, opts ...Option) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	q := &Queue{
		store:        st,
		logger:       logger,
		met:          met,
		pollInterval: 250 * time.Millisecond,
		visibility:   90 * time.Second,
		sweepEvery:   5 * time.Second,
		backoffBase:  2 * time.Second,
		backoffMax:   60 * time.Second,
		maxAttempts:  3,
		waiters:      make(map[string]*completion),
		stop:         make(chan struct{}),
	}
	for _, o := range opts {
		o(q)
	}
	q.wg.Add(1)
	go q.sweeper()
	return q
}

// Enqueue files a job and returns a handle to await it. A submission whose
// id matches a live job attaches to it; a submission matching a terminal row
// re-enqueues a fresh run.
func (q *Queue) Enqueue(ctx context.Context, job *Job) (*Handle, error) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.Lane == "" {
		job.Lane = constants.LaneSingle
	}
	if job.Priority == 0 {
		job.Priority = constants.DefaultPriority(job.Lane)
	}
	if job.MaxAttempts == 0 {
		job.MaxAttempts = q.maxAttempts
	}
	now := time.Now()
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = now
	}
	if job.EligibleAt.IsZero() {
		job.EligibleAt = job.EnqueuedAt
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil, fmt.Errorf("%w: queue is shut down", common.ErrBackendUnavailable)
	}
	c, attached := q.waiters[job.ID]
	if c == nil {
		c = newCompletion()
		q.waiters[job.ID] = c
	}
	q.mu.Unlock()

	dup, err := q.store.InsertJob(ctx, toRecord(job))
	if err != nil {
		if !attached {
			q.dropWaiter(job.ID, c)
		}
		return nil, fmt.Errorf("%w: %v", common.ErrBackendUnavailable, err)
	}
	if dup {
		q.logger.Debug("job already in flight, attaching", "job_id", job.ID)
	} else {
		q.logger.Info("job enqueued",
			"job_id", job.ID, "lane", job.Lane, "priority", job.Priority, "path", job.Path)
	}
	return &Handle{jobID: job.ID, c: c}, nil
}

// Dequeue blocks until a job is claimed on the lane, the queue stops, or ctx
// ends. Returns nil when there is nothing left to do.
func (q *Queue) Dequeue(ctx context.Context, lane constants.Lane) *Job {
	for {
		select {
		case <-q.stop:
			return nil
		case <-ctx.Done():
			return nil
		default:
		}

		rec, err := q.store.ClaimJob(ctx, lane, time.Now(), q.visibility)
		if err != nil {
			if ctx.Err() == nil {
				q.logger.Error("claim failed", "lane", lane, "error", err)
			}
		} else if rec != nil {
			q.logger.Debug("job claimed", "job_id", rec.ID, "lane", lane, "attempt", rec.Attempts)
			return fromRecord(rec)
		}

		select {
		case <-q.stop:
			return nil
		case <-ctx.Done():
			return nil
		case <-time.After(q.pollInterval):
		}
	}
}

// Report settles one execution attempt. Success and non-retryable errors
// resolve waiters; retryable errors either schedule another run or, once
// attempts are spent, fail the job with the last cause attached.
func (q *Queue) Report(ctx context.Context, job *Job, res *JobResult, err error) {
	now := time.Now()
	switch {
	case err == nil:
		if serr := q.store.CompleteJob(ctx, job.ID, now); serr != nil {
			q.logger.Warn("completion lost to a concurrent transition", "job_id", job.ID, "error", serr)
		}
		q.deliver(job.ID, res, nil)
		q.met.JobFinished(string(job.Lane), "completed", res.Duration)
		q.logger.Info("job completed", "job_id", job.ID, "lane", job.Lane,
			"attempt", job.Attempts, "engine", res.Engine, "duration_ms", res.Duration.Milliseconds())

	case !common.Retryable(err):
		if serr := q.store.FailJob(ctx, job.ID, now, err.Error()); serr != nil {
			q.logger.Warn("fail transition lost", "job_id", job.ID, "error", serr)
		}
		q.deliver(job.ID, nil, err)
		q.met.JobFinished(string(job.Lane), "failed", 0)
		q.logger.Warn("job failed", "job_id", job.ID, "lane", job.Lane, "error", err)

	case job.Attempts >= job.MaxAttempts:
		final := fmt.Errorf("%w after %d attempts: %w", common.ErrAttemptsExhausted, job.Attempts, err)
		if serr := q.store.FailJob(ctx, job.ID, now, err.Error()); serr != nil {
			q.logger.Warn("fail transition lost", "job_id", job.ID, "error", serr)
		}
		q.deliver(job.ID, nil, final)
		q.met.JobFinished(string(job.Lane), "failed", 0)
		q.logger.Warn("job failed, attempts exhausted",
			"job_id", job.ID, "lane", job.Lane, "attempts", job.Attempts, "error", err)

	default:
		delay := Backoff(q.backoffBase, q.backoffMax, job.Attempts)
		if serr := q.store.RetryJob(ctx, job.ID, now.Add(delay), err.Error()); serr != nil {
			q.logger.Error("retry transition failed", "job_id", job.ID, "error", serr)
			q.deliver(job.ID, nil, fmt.Errorf("%w: %v", common.ErrBackendUnavailable, serr))
			return
		}
		q.met.JobFinished(string(job.Lane), "retried", 0)
		q.logger.Info("job scheduled for retry", "job_id", job.ID, "lane", job.Lane,
			"attempt", job.Attempts, "max_attempts", job.MaxAttempts,
			"delay_ms", delay.Milliseconds(), "error", err)
	}
}

// Depths reports per-lane lifecycle counts and refreshes the depth gauges.
func (q *Queue) Depths(ctx context.Context) (map[constants.Lane]store.Depth, error) {
	out := make(map[constants.Lane]store.Depth, len(constants.Lanes))
	for _, lane := range constants.Lanes {
		d, err := q.store.LaneDepth(ctx, lane)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", common.ErrBackendUnavailable, err)
		}
		out[lane] = d
		q.met.SetQueueDepth(string(lane), "waiting", float64(d.Waiting))
		q.met.SetQueueDepth(string(lane), "active", float64(d.Active))
		q.met.SetQueueDepth(string(lane), "completed", float64(d.Completed))
		q.met.SetQueueDepth(string(lane), "failed", float64(d.Failed))
	}
	return out, nil
}

// Stop ends claiming, intake and sweeping. Idempotent. In-flight executions
// keep running and may still Report.
func (q *Queue) Stop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.stop)
}

// Shutdown stops the queue and resolves any still-pending waiters with a
// backend-unavailable error. Call after the worker pool has drained so
// in-flight jobs deliver real results first.
func (q *Queue) Shutdown(ctx context.Context) {
	q.Stop()

	done := make(chan struct{})
	go func() { defer close(done); q.wg.Wait() }()
	select {
	case <-ctx.Done():
		q.logger.Warn("queue shutdown interrupted by context")
	case <-done:
	}

	q.mu.Lock()
	pending := q.waiters
	q.waiters = make(map[string]*completion)
	q.mu.Unlock()
	for id, c := range pending {
		c.deliver(nil, fmt.Errorf("%w: queue is shut down", common.ErrBackendUnavailable))
		q.logger.Debug("waiter released on shutdown", "job_id", id)
	}
	q.logger.Info("queue shut down")
}

func (q *Queue) sweeper() {
	defer q.wg.Done()

	// first pass immediately: jobs left ACTIVE by a previous process have
	// expired deadlines and should re-enter the queue right away
	q.sweep()

	t := time.NewTicker(q.sweepEvery)
	defer t.Stop()
	for {
		select {
		case <-q.stop:
			return
		case <-t.C:
			q.sweep()
		}
	}
}

func (q *Queue) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	requeued, failed, err := q.store.SweepStalled(ctx, time.Now())
	if err != nil {
		q.logger.Error("stall sweep failed", "error", err)
		return
	}
	for _, id := range requeued {
		q.logger.Warn("stalled job re-queued", "job_id", id)
	}
	for _, id := range failed {
		q.deliver(id, nil, fmt.Errorf("%w: job stalled twice with no worker report", common.ErrAttemptsExhausted))
		q.logger.Error("stalled job failed terminally", "job_id", id)
	}
}

func (q *Queue) deliver(id string, res *JobResult, err error) {
	q.mu.Lock()
	c := q.waiters[id]
	delete(q.waiters, id)
	q.mu.Unlock()
	if c != nil {
		c.deliver(res, err)
	}
}

func (q *Queue) dropWaiter(id string, c *completion) {
	q.mu.Lock()
	if q.waiters[id] == c {
		delete(q.waiters, id)
	}
	q.mu.Unlock()
}
