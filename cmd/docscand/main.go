package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/joseph-ayodele/docscan/constants"
	"github.com/joseph-ayodele/docscan/internal/batch"
	"github.com/joseph-ayodele/docscan/internal/cache"
	"github.com/joseph-ayodele/docscan/internal/common"
	"github.com/joseph-ayodele/docscan/internal/dispatch"
	"github.com/joseph-ayodele/docscan/internal/ingest"
	"github.com/joseph-ayodele/docscan/internal/metrics"
	"github.com/joseph-ayodele/docscan/internal/ocr"
	"github.com/joseph-ayodele/docscan/internal/queue"
	"github.com/joseph-ayodele/docscan/internal/server"
	"github.com/joseph-ayodele/docscan/internal/store"
	"github.com/joseph-ayodele/docscan/internal/worker"
)

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg := common.LoadConfig()
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.OpenPostgres(ctx, cfg.Database, logger)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	pingCtx, cancelPing := context.WithTimeout(ctx, cfg.Database.DialTimeout)
	err = st.Ping(pingCtx)
	cancelPing()
	if err != nil {
		logger.Error("database health check failed", "error", err)
		os.Exit(1)
	}
	logger.Info("database health OK")

	reg := prometheus.NewRegistry()
	met := metrics.New(reg)

	q := queue.New(st, logger, met,
		queue.WithPollInterval(cfg.Queue.PollInterval),
		queue.WithVisibilityTimeout(cfg.Queue.VisibilityTimeout),
		queue.WithSweepInterval(cfg.Queue.SweepInterval),
		queue.WithBackoff(cfg.Queue.BackoffBase, cfg.Queue.BackoffMax),
		queue.WithMaxAttempts(cfg.Queue.MaxAttempts),
	)

	engines := ocr.NewRegistry()
	engines.Register(ocr.NewExtractor(ocr.Config{
		TesseractLang:       cfg.OCR.Language,
		DPI:                 cfg.OCR.DPI,
		MaxPages:            cfg.OCR.MaxPages,
		Preprocess:          cfg.OCR.Preprocess,
		EnableTSVConfidence: cfg.OCR.TSVConfidence,
		HeicConverter:       cfg.OCR.HeicConverter,
		TessdataDir:         cfg.OCR.TessdataDir,
		ArtifactCacheDir:    cfg.OCR.ArtifactCacheDir,
	}, logger))

	pool := worker.New(q, engines, logger, met,
		worker.WithLaneWorkers(constants.LaneSingle, cfg.Queue.SingleWorkers),
		worker.WithLaneWorkers(constants.LaneBatch, cfg.Queue.BatchWorkers),
		worker.WithTimeouts(cfg.Worker.PDFTimeout, cfg.Worker.ImageTimeout),
	)

	results, err := cache.New(st, cfg.Cache.FastSize, logger, met)
	if err != nil {
		logger.Error("failed to build result cache", "error", err)
		os.Exit(1)
	}

	d := dispatch.New(st, q, pool, results, logger, met,
		dispatch.WithBatchDefaults(
			batch.WithChunkSize(cfg.Batch.ChunkSize),
			batch.WithChunkDelay(cfg.Batch.ChunkDelay),
		),
	)

	// hot folders are optional; without roots the daemon is HTTP-only
	if len(cfg.Watch.Roots) > 0 {
		events, _, werr := ingest.StartWatcher(ctx, ingest.WatchConfig{
			Roots:    cfg.Watch.Roots,
			Debounce: cfg.Watch.Debounce,
		}, logger)
		if werr != nil {
			logger.Error("failed to start hot-folder watcher", "error", werr)
			os.Exit(1)
		}
		svc := ingest.NewService(d, logger, cfg.Queue.SingleWorkers)
		go svc.Run(ctx, events)
	}

	httpServer := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           server.New(d, logger, promhttp.HandlerFor(reg, promhttp.HandlerOpts{})).Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("docscand listening", "addr", cfg.Server.HTTPAddr)
		if serveErr := httpServer.ListenAndServe(); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			logger.Error("http serve error", "error", serveErr)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown incomplete", "error", err)
	}
	d.Shutdown(shutdownCtx)
	logger.Info("stopped")
}
