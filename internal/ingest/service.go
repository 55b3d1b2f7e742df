package ingest

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/joseph-ayodele/docscan/constants"
	"github.com/joseph-ayodele/docscan/internal/dispatch"
)

// Processor is the slice of the dispatcher the service needs.
type Processor interface {
	ProcessFile(ctx context.Context, path, mimeType string, opts dispatch.ProcessOptions) (*dispatch.Result, error)
}

// Service drains watcher events into the processing path, a bounded number
// of files at a time.
type Service struct {
	proc    Processor
	logger  *slog.Logger
	workers int
}

func NewService(proc Processor, logger *slog.Logger, workers int) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if workers <= 0 {
		workers = 2
	}
	return &Service{proc: proc, logger: logger, workers: workers}
}

// Run consumes events until the channel closes or ctx ends, then waits for
// in-flight files to settle.
func (s *Service) Run(ctx context.Context, events <-chan string) {
	var wg sync.WaitGroup
	sem := make(chan struct{}, s.workers)
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return
		case path, ok := <-events:
			if !ok {
				return
			}
			wg.Add(1)
			sem <- struct{}{}
			go func(path string) {
				defer wg.Done()
				defer func() { <-sem }()
				s.handle(ctx, path)
			}(path)
		}
	}
}

func (s *Service) handle(ctx context.Context, path string) {
	mime := constants.MimeForExt(constants.NormalizeExt(filepath.Ext(path)))
	if mime == "" {
		s.logger.Debug("ignoring file with unsupported extension", "path", path)
		return
	}
	res, err := s.proc.ProcessFile(ctx, path, mime, dispatch.ProcessOptions{})
	if err != nil {
		s.logger.Error("hot-folder file failed", "path", path, "error", err)
		return
	}
	s.logger.Info("hot-folder file processed",
		"path", path, "engine", res.Engine, "cached", res.Cached, "confidence", res.Confidence)
}
