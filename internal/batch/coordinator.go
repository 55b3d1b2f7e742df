// Package batch fans a file list out over the single-file processing path in
// bounded chunks. Every item settles individually; one bad file never fails
// the batch, and a pause between chunks keeps sustained bursts from flooding
// the queue.
package batch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/joseph-ayodele/docscan/internal/metrics"
	"github.com/joseph-ayodele/docscan/internal/queue"
)

// File is one entry of a batch request.
type File struct {
	Path     string `json:"path"`
	MimeType string `json:"mimeType"`
}

// Options tune one batch run. Zero values fall back to the coordinator's
// defaults.
type Options struct {
	ChunkSize        int
	ChunkDelay       time.Duration
	Priority         int
	SkipCache        bool
	PreferredEngines []string
}

// FileResult pairs a succeeded file with its recognition result.
type FileResult struct {
	Path   string           `json:"path"`
	Result *queue.JobResult `json:"result"`
}

// FileError pairs a failed file with its terminal error message.
type FileError struct {
	Path  string `json:"path"`
	Error string `json:"error"`
}

// Result aggregates a whole batch. Failed items are enumerated in Errors;
// the batch as a whole always settles.
type Result struct {
	Results        []FileResult `json:"results"`
	Errors         []FileError  `json:"errors"`
	FilesProcessed int          `json:"filesProcessed"`
	Succeeded      int          `json:"succeeded"`
	Failed         int          `json:"failed"`
	Chunks         int          `json:"chunks"`
	TotalTimeMS    int64        `json:"totalTimeMs"`
	SuccessRate    string       `json:"successRate"`
}

// ItemFunc runs one file through the single-file path and blocks until a
// terminal outcome. The dispatcher supplies it so the coordinator stays
// ignorant of caches and queues.
type ItemFunc func(ctx context.Context, file File, opts Options) (*queue.JobResult, error)

type Coordinator struct {
	run    ItemFunc
	logger *slog.Logger
	met    *metrics.Metrics

	chunkSize  int
	chunkDelay time.Duration
}

type Option func(*Coordinator)

func WithChunkSize(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.chunkSize = n
		}
	}
}
func WithChunkDelay(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.chunkDelay = d
		}
	}
}

func New(run ItemFunc, logger *slog.Logger, met *metrics.Metrics, opts ...Option) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Coordinator{
		run:        run,
		logger:     logger,
		met:        met,
		chunkSize:  5,
		chunkDelay: time.Second,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Process runs files chunk by chunk: every item of a chunk is submitted
// concurrently and the chunk settles completely before the next one starts,
// with a throttling pause in between. Cancelling ctx records the remaining
// files as errors instead of dropping them silently.
func (c *Coordinator) Process(ctx context.Context, files []File, opts Options) *Result {
	start := time.Now()
	size := opts.ChunkSize
	if size <= 0 {
		size = c.chunkSize
	}
	delay := opts.ChunkDelay
	if delay <= 0 {
		delay = c.chunkDelay
	}

	res := &Result{FilesProcessed: len(files)}
	chunks := (len(files) + size - 1) / size
	res.Chunks = chunks
	c.logger.Info("batch started",
		"files", len(files), "chunk_size", size, "chunks", chunks,
		"chunk_delay_ms", delay.Milliseconds())

	for lo := 0; lo < len(files); lo += size {
		if lo > 0 {
			select {
			case <-ctx.Done():
				for _, f := range files[lo:] {
					res.Errors = append(res.Errors, FileError{Path: f.Path, Error: ctx.Err().Error()})
				}
				return c.finish(res, len(files), start)
			case <-time.After(delay):
			}
		}

		hi := lo + size
		if hi > len(files) {
			hi = len(files)
		}
		chunk := files[lo:hi]
		c.met.ChunkDispatched()
		c.logger.Debug("chunk dispatched", "chunk", lo/size+1, "of", chunks, "items", len(chunk))

		results := make([]*queue.JobResult, len(chunk))
		errs := make([]error, len(chunk))
		var wg sync.WaitGroup
		for i, f := range chunk {
			wg.Add(1)
			go func(i int, f File) {
				defer wg.Done()
				results[i], errs[i] = c.run(ctx, f, opts)
			}(i, f)
		}
		wg.Wait()

		for i, f := range chunk {
			if errs[i] != nil {
				res.Errors = append(res.Errors, FileError{Path: f.Path, Error: errs[i].Error()})
				c.logger.Warn("batch item failed", "path", f.Path, "error", errs[i])
			} else {
				res.Results = append(res.Results, FileResult{Path: f.Path, Result: results[i]})
			}
		}
	}

	return c.finish(res, len(files), start)
}

func (c *Coordinator) finish(res *Result, total int, start time.Time) *Result {
	res.Succeeded = len(res.Results)
	res.Failed = len(res.Errors)
	res.TotalTimeMS = time.Since(start).Milliseconds()
	res.SuccessRate = successRate(res.Succeeded, total)
	c.logger.Info("batch finished",
		"files", total, "succeeded", res.Succeeded, "failed", res.Failed,
		"success_rate", res.SuccessRate, "total_time_ms", res.TotalTimeMS)
	return res
}

func successRate(succeeded, total int) string {
	if total == 0 {
		return "0.00%"
	}
	return fmt.Sprintf("%.2f%%", float64(succeeded)/float64(total)*100)
}
