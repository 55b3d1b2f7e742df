// Package cache memoizes recognition results by content hash. An in-process
// LRU fronts the durable store, so a repeat submission of identical bytes
// skips the queue and the engines entirely.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/joseph-ayodele/docscan/internal/common"
	"github.com/joseph-ayodele/docscan/internal/metrics"
	"github.com/joseph-ayodele/docscan/internal/queue"
	"github.com/joseph-ayodele/docscan/internal/store"
)

type Cache struct {
	store  store.CacheStore
	fast   *lru.Cache[string, *queue.JobResult]
	logger *slog.Logger
	met    *metrics.Metrics

	fastHits   atomic.Int64
	fastMisses atomic.Int64
}

// Stats merges both tiers. TotalHits counts every access of every durable
// entry, including the one that wrote it.
type Stats struct {
	FastEntries int   `json:"fastEntries"`
	FastHits    int64 `json:"fastHits"`
	FastMisses  int64 `json:"fastMisses"`
	Entries     int64 `json:"entries"`
	TotalHits   int64 `json:"totalHits"`
}

func New(cs store.CacheStore, fastSize int, logger *slog.Logger, met *metrics.Metrics) (*Cache, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if fastSize <= 0 {
		fastSize = 1024
	}
	fast, err := lru.New[string, *queue.JobResult](fastSize)
	if err != nil {
		return nil, err
	}
	return &Cache{store: cs, fast: fast, logger: logger, met: met}, nil
}

// Lookup returns the memoized result for hash, if any. Every hit bumps the
// durable access stats exactly once, whichever tier served it. Backend
// failures degrade to a miss.
func (c *Cache) Lookup(ctx context.Context, hash string) (*queue.JobResult, bool) {
	if res, ok := c.fast.Get(hash); ok {
		c.fastHits.Add(1)
		c.met.CacheHit("fast")
		if err := c.store.TouchCacheEntry(ctx, hash, time.Now()); err != nil {
			c.logger.Warn("cache stat bump failed", "content_hash", hash, "error", err)
		}
		return res, true
	}
	c.fastMisses.Add(1)

	rec, err := c.store.GetCacheEntry(ctx, hash, time.Now())
	if err != nil {
		c.logger.Warn("durable cache lookup failed, treating as miss", "content_hash", hash, "error", err)
		c.met.CacheMiss()
		return nil, false
	}
	if rec == nil {
		c.met.CacheMiss()
		return nil, false
	}

	c.met.CacheHit("durable")
	res := &queue.JobResult{
		Text:       rec.Text,
		Confidence: rec.Confidence,
		Engine:     rec.Engine,
		Duration:   rec.Duration,
		FileSize:   rec.FileSize,
	}
	c.fast.Add(hash, res)
	return res, true
}

// Store writes a fresh result through both tiers. A failed durable write is
// logged and absorbed; the fast tier still serves the result for this
// process lifetime.
func (c *Cache) Store(ctx context.Context, hash, path, mime string, res *queue.JobResult) {
	c.fast.Add(hash, res)

	now := time.Now()
	rec := &store.CacheRecord{
		ContentHash:  hash,
		Path:         path,
		MimeType:     mime,
		Text:         res.Text,
		Confidence:   res.Confidence,
		Engine:       res.Engine,
		Duration:     res.Duration,
		FileSize:     res.FileSize,
		CreatedAt:    now,
		LastAccessed: now,
	}
	if err := c.store.PutCacheEntry(ctx, rec); err != nil {
		c.logger.Warn("durable cache write failed", "content_hash", hash, "error", err)
	}
}

func (c *Cache) Stats(ctx context.Context) (Stats, error) {
	st, err := c.store.CacheStats(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("%w: %v", common.ErrBackendUnavailable, err)
	}
	return Stats{
		FastEntries: c.fast.Len(),
		FastHits:    c.fastHits.Load(),
		FastMisses:  c.fastMisses.Load(),
		Entries:     st.Entries,
		TotalHits:   st.TotalHits,
	}, nil
}
