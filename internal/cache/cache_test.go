package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/joseph-ayodele/docscan/internal/common"
	"github.com/joseph-ayodele/docscan/internal/queue"
	"github.com/joseph-ayodele/docscan/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestCache(t *testing.T) (*Cache, *store.SQLite) {
	t.Helper()
	st, err := store.OpenSQLite(context.Background(), ":memory:", testLogger())
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(st.Close)
	c, err := New(st, 16, testLogger(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c, st
}

func sampleResult() *queue.JobResult {
	return &queue.JobResult{
		Text:       "page one text",
		Confidence: 0.91,
		Engine:     "tesseract",
		Duration:   40 * time.Millisecond,
		FileSize:   2048,
	}
}

func TestLookupMissThenHitBumpsAccessOnce(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()
	hash := "aaaa1111"

	if _, ok := c.Lookup(ctx, hash); ok {
		t.Fatal("lookup before store should miss")
	}
	c.Store(ctx, hash, "/docs/a.pdf", "application/pdf", sampleResult())

	res, ok := c.Lookup(ctx, hash)
	if !ok {
		t.Fatal("lookup after store should hit")
	}
	if res.Text != "page one text" || res.Engine != "tesseract" {
		t.Fatalf("unexpected result: %+v", res)
	}

	// write counted as access 1, the hit bumped it to exactly 2
	st, err := c.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.Entries != 1 || st.TotalHits != 2 {
		t.Fatalf("entries=%d totalHits=%d, want 1/2", st.Entries, st.TotalHits)
	}
	if st.FastHits != 1 || st.FastMisses != 1 {
		t.Fatalf("fastHits=%d fastMisses=%d, want 1/1", st.FastHits, st.FastMisses)
	}
}

func TestLookupPromotesFromDurableTier(t *testing.T) {
	c, st := newTestCache(t)
	ctx := context.Background()
	hash := "bbbb2222"

	// seed only the durable tier, as if written by an earlier process
	now := time.Now()
	err := st.PutCacheEntry(ctx, &store.CacheRecord{
		ContentHash: hash, Path: "/docs/b.pdf", MimeType: "application/pdf",
		Text: "older run", Confidence: 0.8, Engine: "tesseract",
		Duration: 30 * time.Millisecond, FileSize: 512,
		CreatedAt: now, LastAccessed: now,
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	res, ok := c.Lookup(ctx, hash)
	if !ok || res.Text != "older run" {
		t.Fatalf("durable hit: ok=%v res=%+v", ok, res)
	}
	res, ok = c.Lookup(ctx, hash)
	if !ok || res.Text != "older run" {
		t.Fatalf("fast hit after promotion: ok=%v res=%+v", ok, res)
	}

	stats, err := c.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	// seed=1, durable hit=2, fast hit=3
	if stats.TotalHits != 3 {
		t.Fatalf("totalHits=%d, want 3", stats.TotalHits)
	}
	if stats.FastEntries != 1 || stats.FastHits != 1 {
		t.Fatalf("fastEntries=%d fastHits=%d, want 1/1", stats.FastEntries, stats.FastHits)
	}
}

type brokenCacheStore struct{ err error }

func (b *brokenCacheStore) GetCacheEntry(context.Context, string, time.Time) (*store.CacheRecord, error) {
	return nil, b.err
}
func (b *brokenCacheStore) PutCacheEntry(context.Context, *store.CacheRecord) error { return b.err }
func (b *brokenCacheStore) TouchCacheEntry(context.Context, string, time.Time) error {
	return b.err
}
func (b *brokenCacheStore) CacheStats(context.Context) (store.CacheTierStats, error) {
	return store.CacheTierStats{}, b.err
}

func TestBackendFailureDegradesToMiss(t *testing.T) {
	c, err := New(&brokenCacheStore{err: errors.New("connection refused")}, 16, testLogger(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()

	if _, ok := c.Lookup(ctx, "cccc3333"); ok {
		t.Fatal("broken backend should read as a miss")
	}

	// the write is absorbed and the fast tier still serves the result
	c.Store(ctx, "cccc3333", "/docs/c.png", "image/png", sampleResult())
	res, ok := c.Lookup(ctx, "cccc3333")
	if !ok || res.FileSize != 2048 {
		t.Fatalf("fast tier should survive a broken backend: ok=%v res=%+v", ok, res)
	}
}

func TestHashFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.txt")
	body := []byte("scanned document body")
	if err := os.WriteFile(path, body, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	hash, size, err := HashFile(path)
	if err != nil {
		t.Fatalf("HashFile: %v", err)
	}
	sum := sha256.Sum256(body)
	if hash != hex.EncodeToString(sum[:]) {
		t.Fatalf("hash mismatch: %s", hash)
	}
	if size != int64(len(body)) {
		t.Fatalf("size=%d, want %d", size, len(body))
	}

	if _, _, err := HashFile(filepath.Join(dir, "missing.txt")); !errors.Is(err, common.ErrHashing) {
		t.Fatalf("missing file: want ErrHashing, got %v", err)
	}
}
