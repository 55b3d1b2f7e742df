package queue

import (
	"context"
	"sync"
	"time"

	"github.com/joseph-ayodele/docscan/constants"
	"github.com/joseph-ayodele/docscan/internal/store"
)

// Job is one recognition request travelling through a lane.
type Job struct {
	ID               string
	Lane             constants.Lane
	Path             string
	MimeType         string
	ContentHash      string
	Priority         int
	Attempts         int
	MaxAttempts      int
	PreferredEngines []string
	EnqueuedAt       time.Time
	EligibleAt       time.Time
}

// JobResult is the terminal payload of a successful job.
type JobResult struct {
	Text       string        `json:"text"`
	Confidence float32       `json:"confidence"`
	Engine     string        `json:"engine"`
	Duration   time.Duration `json:"duration"`
	FileSize   int64         `json:"fileSize"`
}

func toRecord(j *Job) *store.JobRecord {
	return &store.JobRecord{
		ID:          j.ID,
		Lane:        j.Lane,
		Path:        j.Path,
		MimeType:    j.MimeType,
		ContentHash: j.ContentHash,
		Priority:    j.Priority,
		MaxAttempts: j.MaxAttempts,
		Engines:     j.PreferredEngines,
		EnqueuedAt:  j.EnqueuedAt,
		EligibleAt:  j.EligibleAt,
	}
}

func fromRecord(rec *store.JobRecord) *Job {
	return &Job{
		ID:               rec.ID,
		Lane:             rec.Lane,
		Path:             rec.Path,
		MimeType:         rec.MimeType,
		ContentHash:      rec.ContentHash,
		Priority:         rec.Priority,
		Attempts:         rec.Attempts,
		MaxAttempts:      rec.MaxAttempts,
		PreferredEngines: rec.Engines,
		EnqueuedAt:       rec.EnqueuedAt,
		EligibleAt:       rec.EligibleAt,
	}
}

// completion fans a terminal result out to every handle attached to a job.
// Delivery happens at most once.
type completion struct {
	done chan struct{}
	res  *JobResult
	err  error
	once sync.Once
}

func newCompletion() *completion {
	return &completion{done: make(chan struct{})}
}

func (c *completion) deliver(res *JobResult, err error) {
	c.once.Do(func() {
		c.res, c.err = res, err
		close(c.done)
	})
}

// Handle tracks one caller's interest in a job. Multiple handles may share
// the same underlying job when submissions dedupe.
type Handle struct {
	jobID string
	c     *completion
}

func (h *Handle) JobID() string { return h.jobID }

// Await blocks until the job reaches a terminal state or ctx ends. Giving up
// on a handle never cancels the job; it keeps running and later handles for
// the same id still resolve.
func (h *Handle) Await(ctx context.Context) (*JobResult, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-h.c.done:
		return h.c.res, h.c.err
	}
}
