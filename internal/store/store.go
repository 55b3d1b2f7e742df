// Package store persists jobs and recognition results. Two implementations
// share the same SQL shape: Postgres (pgx) for the service deployment and
// SQLite (modernc, cgo-free) for CLI and test use.
package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/joseph-ayodele/docscan/constants"
)

// JobRecord is a row in the jobs table. The queue owns all state
// transitions; the store only enforces them atomically.
type JobRecord struct {
	ID          string
	Lane        constants.Lane
	Path        string
	MimeType    string
	ContentHash string
	Priority    int
	State       constants.JobState
	Attempts    int
	MaxAttempts int
	Stalls      int
	Engines     []string
	LastError   string
	EnqueuedAt  time.Time
	EligibleAt  time.Time
	LockedUntil time.Time // zero when not claimed
	FinishedAt  time.Time // zero until terminal
}

// CacheRecord is a row in the cache_entries table, keyed by content hash.
// The recognition payload is immutable once written; only the access stats
// move on subsequent hits.
type CacheRecord struct {
	ContentHash  string
	Path         string
	MimeType     string
	Text         string
	Confidence   float32
	Engine       string
	Duration     time.Duration
	FileSize     int64
	AccessCount  int64
	CreatedAt    time.Time
	LastAccessed time.Time
}

// Depth counts jobs per lifecycle bucket for one lane. Waiting folds
// QUEUED and RETRY_WAIT together.
type Depth struct {
	Waiting   int64 `json:"waiting"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

// CacheTierStats summarizes the durable cache tier.
type CacheTierStats struct {
	Entries   int64 `json:"entries"`
	TotalHits int64 `json:"totalHits"`
}

// JobStore is the durable queue backend.
type JobStore interface {
	// InsertJob adds a fresh queued job. If a live row (non-terminal state)
	// with the same id already exists, nothing is written and dup is true.
	// A terminal row with the same id is reset to a fresh queued job.
	InsertJob(ctx context.Context, rec *JobRecord) (dup bool, err error)

	// ClaimJob atomically claims the next eligible job on a lane: lowest
	// priority value first, then enqueue order. The claimed row moves to
	// ACTIVE with attempts incremented and a visibility deadline of
	// now+visibility. Returns (nil, nil) when no job is eligible.
	ClaimJob(ctx context.Context, lane constants.Lane, now time.Time, visibility time.Duration) (*JobRecord, error)

	// CompleteJob moves an ACTIVE job to COMPLETED. Fails if the job is no
	// longer active (for example the stall sweeper got there first).
	CompleteJob(ctx context.Context, id string, now time.Time) error

	// RetryJob moves an ACTIVE job to RETRY_WAIT until eligibleAt.
	RetryJob(ctx context.Context, id string, eligibleAt time.Time, cause string) error

	// FailJob moves an ACTIVE job to FAILED terminally.
	FailJob(ctx context.Context, id string, now time.Time, cause string) error

	// SweepStalled handles ACTIVE jobs whose visibility deadline passed.
	// First expiry re-queues the job with its stall counter bumped; a second
	// expiry fails it terminally. Returns the affected ids.
	SweepStalled(ctx context.Context, now time.Time) (requeued, failed []string, err error)

	// GetJob fetches a job by id. Returns (nil, nil) when absent.
	GetJob(ctx context.Context, id string) (*JobRecord, error)

	// LaneDepth counts jobs per lifecycle bucket for one lane.
	LaneDepth(ctx context.Context, lane constants.Lane) (Depth, error)
}

// CacheStore is the durable result cache backend.
type CacheStore interface {
	// GetCacheEntry fetches an entry by content hash and bumps its access
	// stats in the same statement. Returns (nil, nil) on miss.
	GetCacheEntry(ctx context.Context, hash string, now time.Time) (*CacheRecord, error)

	// PutCacheEntry upserts an entry. On conflict only the access stats
	// change; the stored recognition payload is never overwritten.
	PutCacheEntry(ctx context.Context, rec *CacheRecord) error

	// TouchCacheEntry bumps access stats for a hash without reading the
	// payload. Used when the fast tier already served the hit.
	TouchCacheEntry(ctx context.Context, hash string, now time.Time) error

	// CacheStats summarizes the durable tier.
	CacheStats(ctx context.Context) (CacheTierStats, error)
}

// Store is the full persistence surface the dispatcher wires up.
type Store interface {
	JobStore
	CacheStore
	Ping(ctx context.Context) error
	Close()
}

func encodeEngines(engines []string) string {
	if len(engines) == 0 {
		return "[]"
	}
	b, err := json.Marshal(engines)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func decodeEngines(s string) []string {
	if s == "" || s == "[]" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil
	}
	return out
}
