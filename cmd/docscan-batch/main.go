package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/joseph-ayodele/docscan/constants"
	"github.com/joseph-ayodele/docscan/internal/batch"
	"github.com/joseph-ayodele/docscan/internal/cache"
	"github.com/joseph-ayodele/docscan/internal/common"
	"github.com/joseph-ayodele/docscan/internal/dispatch"
	"github.com/joseph-ayodele/docscan/internal/ingest"
	"github.com/joseph-ayodele/docscan/internal/ocr"
	"github.com/joseph-ayodele/docscan/internal/queue"
	"github.com/joseph-ayodele/docscan/internal/store"
	"github.com/joseph-ayodele/docscan/internal/worker"
)

func main() {
	var (
		dir        = flag.String("dir", "", "directory to process (required)")
		inmem      = flag.Bool("inmem", false, "use an in-memory SQLite database")
		dbPath     = flag.String("db", "./docscan.db", "SQLite database path")
		exts       = flag.String("ext", "", "comma-separated extension filter, e.g. pdf,png")
		chunkSize  = flag.Int("chunk-size", 5, "files per chunk")
		chunkDelay = flag.Duration("chunk-delay", time.Second, "pause between chunks")
		skipCache  = flag.Bool("skip-cache", false, "recompute even when results are cached")
		engines    = flag.String("engines", "", "comma-separated engine preference order")
		hidden     = flag.Bool("include-hidden", false, "include hidden files and directories")
	)
	flag.Parse()

	if *dir == "" {
		fmt.Fprintln(os.Stderr, "Error: -dir is required")
		flag.Usage()
		os.Exit(2)
	}

	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg := common.LoadConfig()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	path := *dbPath
	if *inmem {
		path = ":memory:"
	}
	st, err := store.OpenSQLite(ctx, path, logger)
	if err != nil {
		logger.Error("failed to open database", "path", path, "error", err)
		os.Exit(1)
	}
	defer st.Close()

	q := queue.New(st, logger, nil,
		queue.WithMaxAttempts(cfg.Queue.MaxAttempts),
		queue.WithBackoff(cfg.Queue.BackoffBase, cfg.Queue.BackoffMax),
	)

	registry := ocr.NewRegistry()
	registry.Register(ocr.NewExtractor(ocr.Config{
		TesseractLang:       cfg.OCR.Language,
		DPI:                 cfg.OCR.DPI,
		MaxPages:            cfg.OCR.MaxPages,
		Preprocess:          cfg.OCR.Preprocess,
		EnableTSVConfidence: cfg.OCR.TSVConfidence,
		HeicConverter:       cfg.OCR.HeicConverter,
		TessdataDir:         cfg.OCR.TessdataDir,
		ArtifactCacheDir:    cfg.OCR.ArtifactCacheDir,
	}, logger))

	pool := worker.New(q, registry, logger, nil,
		worker.WithLaneWorkers(constants.LaneBatch, cfg.Queue.BatchWorkers),
		worker.WithTimeouts(cfg.Worker.PDFTimeout, cfg.Worker.ImageTimeout),
	)

	results, err := cache.New(st, cfg.Cache.FastSize, logger, nil)
	if err != nil {
		logger.Error("failed to build result cache", "error", err)
		os.Exit(1)
	}

	d := dispatch.New(st, q, pool, results, logger, nil)

	files, stats, err := ingest.ScanDirectory(*dir, splitList(*exts), !*hidden, logger)
	if err != nil {
		logger.Error("directory scan failed", "dir", *dir, "error", err)
		os.Exit(1)
	}
	logger.Info("scan complete",
		"scanned", stats.Scanned, "matched", stats.Matched, "skipped", stats.Skipped)
	if len(files) == 0 {
		fmt.Println("No matching documents found.")
		return
	}

	res := d.ProcessBatch(ctx, files, batch.Options{
		ChunkSize:        *chunkSize,
		ChunkDelay:       *chunkDelay,
		SkipCache:        *skipCache,
		PreferredEngines: splitList(*engines),
	})

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	d.Shutdown(shutdownCtx)
	cancelShutdown()

	fmt.Printf("Batch processing complete!\n")
	fmt.Printf("- Files processed: %d\n", res.FilesProcessed)
	fmt.Printf("- Succeeded: %d\n", res.Succeeded)
	fmt.Printf("- Failed: %d\n", res.Failed)
	fmt.Printf("- Success rate: %s\n", res.SuccessRate)
	fmt.Printf("- Total time: %dms\n", res.TotalTimeMS)
	for _, fe := range res.Errors {
		fmt.Printf("  FAILED %s: %s\n", fe.Path, fe.Error)
	}
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
