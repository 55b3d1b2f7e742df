// Package worker runs claimed jobs against recognition engines. A pool pins
// a fixed number of goroutines to each lane; every goroutine pulls from the
// queue, executes under a per-format deadline, and reports the outcome back.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"runtime/debug"
	"sync"
	"time"

	"github.com/joseph-ayodele/docscan/constants"
	"github.com/joseph-ayodele/docscan/internal/common"
	"github.com/joseph-ayodele/docscan/internal/metrics"
	"github.com/joseph-ayodele/docscan/internal/ocr"
	"github.com/joseph-ayodele/docscan/internal/queue"
)

type Pool struct {
	queue   *queue.Queue
	engines *ocr.Registry
	logger  *slog.Logger
	met     *metrics.Metrics

	laneWorkers  map[constants.Lane]int
	pdfTimeout   time.Duration
	imageTimeout time.Duration

	wg   sync.WaitGroup
	once sync.Once
}

type Option func(*Pool)

func WithLaneWorkers(lane constants.Lane, n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.laneWorkers[lane] = n
		}
	}
}
func WithTimeouts(pdf, image time.Duration) Option {
	return func(p *Pool) {
		if pdf > 0 {
			p.pdfTimeout = pdf
		}
		if image > 0 {
			p.imageTimeout = image
		}
	}
}

// New builds the pool and starts its workers immediately. Workers exit when
// the queue stops handing out jobs.
func New(q *queue.Queue, engines *ocr.Registry, logger *slog.Logger, met *metrics.Metrics, opts ...Option) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pool{
		queue:   q,
		engines: engines,
		logger:  logger,
		met:     met,
		laneWorkers: map[constants.Lane]int{
			constants.LaneSingle: 4,
			constants.LaneBatch:  2,
		},
		pdfTimeout:   60 * time.Second,
		imageTimeout: 30 * time.Second,
	}
	for _, o := range opts {
		o(p)
	}
	p.start()
	return p
}

func (p *Pool) start() {
	p.once.Do(func() {
		for _, lane := range constants.Lanes {
			for i := 0; i < p.laneWorkers[lane]; i++ {
				p.wg.Add(1)
				go func(lane constants.Lane, workerID int) {
					defer p.wg.Done()
					p.logger.Info("worker started", "lane", lane, "worker_id", workerID)
					p.run(lane, workerID)
					p.logger.Info("worker stopped", "lane", lane, "worker_id", workerID)
				}(lane, i+1)
			}
		}
	})
}

// Wait blocks until every worker has exited. Stop the queue first so Dequeue
// returns nil and the loops unwind; in-flight tasks finish and report.
func (p *Pool) Wait() {
	p.wg.Wait()
}

func (p *Pool) run(lane constants.Lane, workerID int) {
	for {
		job := p.queue.Dequeue(context.Background(), lane)
		if job == nil {
			return
		}
		p.met.TaskStarted(string(lane))
		res, err := p.runTask(job)
		p.met.TaskDone(string(lane))
		p.queue.Report(context.Background(), job, res, err)
		if err != nil {
			p.logger.Error("task failed",
				"worker_id", workerID, "lane", lane, "job_id", job.ID,
				"attempt", job.Attempts, "error", err)
		} else {
			p.logger.Info("task finished",
				"worker_id", workerID, "lane", lane, "job_id", job.ID,
				"engine", res.Engine, "duration_ms", res.Duration.Milliseconds())
		}
	}
}

// runTask executes one attempt under a fresh per-format deadline, walking the
// job's engine preference order until an engine succeeds.
func (p *Pool) runTask(job *queue.Job) (*queue.JobResult, error) {
	format := constants.FormatForMime(job.MimeType)
	if format == "" {
		return nil, fmt.Errorf("%w: %s", common.ErrUnsupportedType, job.MimeType)
	}

	timeout := p.imageTimeout
	if format == constants.PDF {
		timeout = p.pdfTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if job.ContentHash != "" {
		ctx = ocr.WithContentHash(ctx, job.ContentHash)
	}

	engines := p.engines.Resolve(job.PreferredEngines)
	if len(engines) == 0 {
		return nil, fmt.Errorf("%w: no recognition engine registered", common.ErrBackendUnavailable)
	}

	var lastErr error
	for _, eng := range engines {
		out, err := p.extract(ctx, eng, job.Path, format)
		if err == nil {
			return &queue.JobResult{
				Text:       out.Text,
				Confidence: out.Confidence,
				Engine:     eng.Name(),
				Duration:   out.Duration,
				FileSize:   out.FileSize,
			}, nil
		}
		lastErr = classify(ctx, timeout, err)
		if !common.Retryable(lastErr) || errors.Is(lastErr, common.ErrWorkerTimeout) {
			// the deadline is spent; a later attempt gets a fresh one
			return nil, lastErr
		}
		p.logger.Warn("engine failed, trying next",
			"job_id", job.ID, "engine", eng.Name(), "error", err)
	}
	return nil, lastErr
}

// extract isolates one engine call so a panicking engine takes down neither
// the worker nor the pool.
func (p *Pool) extract(ctx context.Context, eng ocr.Engine, path string, format constants.Format) (out ocr.ExtractionResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("engine panicked",
				"engine", eng.Name(), "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("%w: engine %s panicked: %v", common.ErrWorkerCrashed, eng.Name(), r)
		}
	}()
	return eng.Extract(ctx, path, format)
}

// classify maps raw engine errors onto the retry taxonomy. The deadline check
// comes before the exit-status check: a process killed at the deadline
// surfaces as an ExitError even though the real cause is the timeout.
func classify(ctx context.Context, timeout time.Duration, err error) error {
	switch {
	case errors.Is(err, common.ErrWorkerTimeout),
		errors.Is(err, common.ErrWorkerCrashed),
		errors.Is(err, common.ErrUnsupportedType),
		errors.Is(err, common.ErrHashing):
		return err
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(ctx.Err(), context.DeadlineExceeded):
		return fmt.Errorf("%w: no result within %s: %v", common.ErrWorkerTimeout, timeout, err)
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return fmt.Errorf("%w: %v", common.ErrWorkerCrashed, err)
	}
	return err
}
