// Package dispatch is the single entry point for document recognition. It
// owns the flow callers see: hash the file, consult the cache, queue a job on
// a miss, await the outcome, and write fresh results back through the cache.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/joseph-ayodele/docscan/constants"
	"github.com/joseph-ayodele/docscan/internal/batch"
	"github.com/joseph-ayodele/docscan/internal/cache"
	"github.com/joseph-ayodele/docscan/internal/common"
	"github.com/joseph-ayodele/docscan/internal/metrics"
	"github.com/joseph-ayodele/docscan/internal/queue"
	"github.com/joseph-ayodele/docscan/internal/store"
	"github.com/joseph-ayodele/docscan/internal/worker"
)

// ProcessOptions tune one single-file request.
type ProcessOptions struct {
	SkipCache        bool
	Priority         int
	Delay            time.Duration
	PreferredEngines []string
}

// Result is a JobResult plus where it came from.
type Result struct {
	Text        string  `json:"text"`
	Confidence  float32 `json:"confidence"`
	Engine      string  `json:"engine"`
	DurationMS  int64   `json:"durationMs"`
	FileSize    int64   `json:"fileSize"`
	ContentHash string  `json:"contentHash"`
	Cached      bool    `json:"cached"`
}

// Stats snapshots the queue lanes and both cache tiers. Fields a backend
// could not answer for stay zero.
type Stats struct {
	Queues map[constants.Lane]store.Depth `json:"queues"`
	Cache  cache.Stats                    `json:"cache"`
}

type Dispatcher struct {
	store   store.Store
	queue   *queue.Queue
	pool    *worker.Pool
	cache   *cache.Cache
	batcher *batch.Coordinator
	logger  *slog.Logger

	batchOpts []batch.Option
	once      sync.Once
}

type Option func(*Dispatcher)

// WithBatchDefaults sets coordinator-level chunking defaults.
func WithBatchDefaults(opts ...batch.Option) Option {
	return func(d *Dispatcher) { d.batchOpts = opts }
}

func New(st store.Store, q *queue.Queue, p *worker.Pool, c *cache.Cache,
	logger *slog.Logger, met *metrics.Metrics, opts ...Option) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		store:  st,
		queue:  q,
		pool:   p,
		cache:  c,
		logger: logger,
	}
	for _, o := range opts {
		o(d)
	}
	d.batcher = batch.New(d.batchItem, logger, met, d.batchOpts...)
	return d
}

// ProcessFile recognizes one document and blocks until a terminal outcome.
// Identical content is served from the cache without queueing; concurrent
// submissions of the same content share a single execution.
func (d *Dispatcher) ProcessFile(ctx context.Context, path, mimeType string, opts ProcessOptions) (*Result, error) {
	res, hash, cached, err := d.process(ctx, constants.LaneSingle, path, mimeType, opts)
	if err != nil {
		return nil, err
	}
	return &Result{
		Text:        res.Text,
		Confidence:  res.Confidence,
		Engine:      res.Engine,
		DurationMS:  res.Duration.Milliseconds(),
		FileSize:    res.FileSize,
		ContentHash: hash,
		Cached:      cached,
	}, nil
}

// ProcessBatch fans files out on the batch lane. Per-item failures land in
// the result's error list; the call itself always settles.
func (d *Dispatcher) ProcessBatch(ctx context.Context, files []batch.File, opts batch.Options) *batch.Result {
	return d.batcher.Process(ctx, files, opts)
}

func (d *Dispatcher) batchItem(ctx context.Context, f batch.File, opts batch.Options) (*queue.JobResult, error) {
	res, _, _, err := d.process(ctx, constants.LaneBatch, f.Path, f.MimeType, ProcessOptions{
		SkipCache:        opts.SkipCache,
		Priority:         opts.Priority,
		PreferredEngines: opts.PreferredEngines,
	})
	return res, err
}

// process is the shared single-file path: mime gate, hash, cache lookup,
// enqueue, await, write-through.
func (d *Dispatcher) process(ctx context.Context, lane constants.Lane, path, mimeType string,
	opts ProcessOptions) (*queue.JobResult, string, bool, error) {

	if constants.FormatForMime(mimeType) == "" {
		return nil, "", false, fmt.Errorf("%w: %s", common.ErrUnsupportedType, mimeType)
	}

	hash, size, err := cache.HashFile(path)
	if err != nil {
		return nil, "", false, err
	}

	if !opts.SkipCache {
		if res, ok := d.cache.Lookup(ctx, hash); ok {
			d.logger.Info("cache hit", "path", path, "content_hash", shortHash(hash))
			return res, hash, true, nil
		}
	}

	// the hash doubles as the job id, so identical content in flight
	// collapses to one execution
	job := &queue.Job{
		ID:               hash,
		Lane:             lane,
		Path:             path,
		MimeType:         mimeType,
		ContentHash:      hash,
		Priority:         opts.Priority,
		PreferredEngines: opts.PreferredEngines,
	}
	if opts.Delay > 0 {
		now := time.Now()
		job.EnqueuedAt = now
		job.EligibleAt = now.Add(opts.Delay)
	}

	h, err := d.queue.Enqueue(ctx, job)
	if err != nil {
		return nil, "", false, err
	}
	res, err := h.Await(ctx)
	if err != nil {
		return nil, "", false, err
	}
	if res.FileSize == 0 {
		res.FileSize = size
	}

	d.cache.Store(ctx, hash, path, mimeType, res)
	return res, hash, false, nil
}

// Job looks up one job row by id.
func (d *Dispatcher) Job(ctx context.Context, id string) (*store.JobRecord, error) {
	rec, err := d.store.GetJob(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrBackendUnavailable, err)
	}
	if rec == nil {
		return nil, fmt.Errorf("job %s: %w", id, common.ErrNotFound)
	}
	return rec, nil
}

// Stats is best-effort: whatever a backend cannot answer for is left empty
// rather than failing the call.
func (d *Dispatcher) Stats(ctx context.Context) *Stats {
	st := &Stats{}
	if depths, err := d.queue.Depths(ctx); err == nil {
		st.Queues = depths
	} else {
		d.logger.Warn("queue depths unavailable", "error", err)
	}
	if cs, err := d.cache.Stats(ctx); err == nil {
		st.Cache = cs
	} else {
		d.logger.Warn("cache stats unavailable", "error", err)
	}
	return st
}

// Ping reports whether the backing store answers.
func (d *Dispatcher) Ping(ctx context.Context) error {
	return d.store.Ping(ctx)
}

// Shutdown drains in-flight work and releases the queue and pool. Safe to
// call more than once. Claiming stops first so workers run dry, then pending
// waiters are released.
func (d *Dispatcher) Shutdown(ctx context.Context) {
	d.once.Do(func() {
		d.logger.Info("dispatcher shutting down")
		d.queue.Stop()
		d.pool.Wait()
		d.queue.Shutdown(ctx)
		d.logger.Info("dispatcher shut down")
	})
}

func shortHash(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}
