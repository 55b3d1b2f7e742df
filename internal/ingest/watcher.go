// Package ingest discovers documents on disk: a hot-folder watcher streaming
// newly dropped files, a directory scanner for one-shot bulk runs, and a
// service that drains discoveries into the processing path.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/joseph-ayodele/docscan/constants"
)

// WatchConfig configures hot-folder discovery.
type WatchConfig struct {
	Roots       []string // directories to watch, recursive
	AllowedExts map[string]struct{}
	InitialScan bool // emit files already present under the roots
	Debounce    time.Duration
}

// StartWatcher watches the roots and emits paths of documents as they appear
// or change. Rapid write bursts coalesce within the debounce window. A path
// may be announced more than once; downstream processing dedupes by content.
// Both channels close when ctx ends.
func StartWatcher(ctx context.Context, cfg WatchConfig, logger *slog.Logger) (<-chan string, <-chan error, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if len(cfg.Roots) == 0 {
		return nil, nil, errors.New("no watch roots configured")
	}
	if cfg.AllowedExts == nil {
		cfg.AllowedExts = constants.AllowedExtensions
	}

	evCh := make(chan string, 256)
	errCh := make(chan error, 1)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, nil, err
	}

	addTree := func(root string) error {
		return filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			if d.IsDir() {
				return w.Add(path)
			}
			if cfg.InitialScan && allowedPath(path, cfg.AllowedExts) {
				emit(evCh, path, logger)
			}
			return nil
		})
	}
	for _, root := range cfg.Roots {
		if err := addTree(root); err != nil {
			_ = w.Close()
			return nil, nil, fmt.Errorf("watch %s: %w", root, err)
		}
		logger.Info("watching folder", "root", root)
	}

	go func() {
		defer close(evCh)
		defer close(errCh)
		defer w.Close()

		var timer *time.Timer
		var flush <-chan time.Time
		pending := map[string]struct{}{}

		sendPending := func() {
			for p := range pending {
				emit(evCh, p, logger)
				delete(pending, p)
			}
		}

		for {
			select {
			case <-ctx.Done():
				return

			case <-flush:
				sendPending()
				flush = nil

			case e, ok := <-w.Events:
				if !ok {
					return
				}
				before := len(pending)

				// a created directory gets watched immediately, and any
				// files already inside it join the pending set
				if e.Op&fsnotify.Create != 0 {
					if info, serr := os.Stat(e.Name); serr == nil && info.IsDir() {
						watchTree(w, e.Name, cfg.AllowedExts, pending, logger)
					}
				}
				if allowedPath(e.Name, cfg.AllowedExts) &&
					e.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0 {
					pending[e.Name] = struct{}{}
				}
				if len(pending) == before {
					continue
				}

				if cfg.Debounce > 0 {
					if timer == nil {
						timer = time.NewTimer(cfg.Debounce)
					} else {
						if !timer.Stop() {
							select {
							case <-timer.C:
							default:
							}
						}
						timer.Reset(cfg.Debounce)
					}
					flush = timer.C
				} else {
					sendPending()
				}

			case werr, ok := <-w.Errors:
				if !ok {
					return
				}
				logger.Error("watcher error", "error", werr)
				select {
				case errCh <- werr:
				default:
				}
			}
		}
	}()

	return evCh, errCh, nil
}

func watchTree(w *fsnotify.Watcher, root string, exts map[string]struct{}, pending map[string]struct{}, logger *slog.Logger) {
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return nil
		}
		if d.IsDir() {
			if err := w.Add(path); err != nil {
				logger.Warn("cannot watch new directory", "path", path, "error", err)
			}
			return nil
		}
		if allowedPath(path, exts) {
			pending[path] = struct{}{}
		}
		return nil
	})
}

func emit(ch chan string, path string, logger *slog.Logger) {
	select {
	case ch <- path:
	default:
		logger.Warn("watch buffer full, dropping event", "path", path)
	}
}

func allowedPath(path string, exts map[string]struct{}) bool {
	_, ok := exts[constants.NormalizeExt(filepath.Ext(path))]
	return ok
}
