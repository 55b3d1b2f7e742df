package ingest

import (
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/joseph-ayodele/docscan/constants"
	"github.com/joseph-ayodele/docscan/internal/batch"
	"github.com/joseph-ayodele/docscan/internal/common"
)

// ScanStats summarizes one directory scan.
type ScanStats struct {
	Scanned int `json:"scanned"`
	Matched int `json:"matched"`
	Skipped int `json:"skipped"`
}

// ScanDirectory walks root and collects documents with an allowed extension,
// each paired with its declared mime type. Unreadable entries are logged and
// skipped, not fatal. Hidden entries are skipped when skipHidden is set.
func ScanDirectory(root string, includeExts []string, skipHidden bool, logger *slog.Logger) ([]batch.File, ScanStats, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if strings.TrimSpace(root) == "" {
		return nil, ScanStats{}, fmt.Errorf("%w: root path is required", common.ErrInvalidInput)
	}

	exts := constants.AllowedExtensions
	if len(includeExts) > 0 {
		exts = map[string]struct{}{}
		for _, e := range includeExts {
			if e = constants.NormalizeExt(strings.TrimSpace(e)); e != "" {
				exts[e] = struct{}{}
			}
		}
	}

	var files []batch.File
	var stats ScanStats
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		stats.Scanned++
		if walkErr != nil {
			if path == root {
				return walkErr
			}
			logger.Warn("skipping unreadable entry", "path", path, "error", walkErr)
			stats.Skipped++
			return nil
		}
		if skipHidden && path != root && isHidden(path) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			stats.Skipped++
			return nil
		}
		if d.IsDir() {
			return nil
		}
		ext := constants.NormalizeExt(filepath.Ext(path))
		if _, ok := exts[ext]; !ok {
			stats.Skipped++
			return nil
		}
		mime := constants.MimeForExt(ext)
		if mime == "" {
			stats.Skipped++
			return nil
		}
		stats.Matched++
		files = append(files, batch.File{Path: path, MimeType: mime})
		return nil
	})
	if err != nil {
		return files, stats, common.WrapError(err, "walk "+root)
	}
	return files, stats, nil
}

func isHidden(path string) bool {
	return strings.HasPrefix(filepath.Base(path), ".")
}
