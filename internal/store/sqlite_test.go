package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/joseph-ayodele/docscan/constants"
	"github.com/joseph-ayodele/docscan/internal/common"
)

func newTestStore(t *testing.T) *SQLite {
	t.Helper()
	s, err := OpenSQLite(context.Background(), ":memory:", nil)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func testJob(id string, prio int) *JobRecord {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &JobRecord{
		ID:          id,
		Lane:        constants.LaneSingle,
		Path:        "/docs/" + id + ".pdf",
		MimeType:    "application/pdf",
		Priority:    prio,
		MaxAttempts: 3,
		EnqueuedAt:  now,
		EligibleAt:  now,
	}
}

func TestInsertJobDuplicateLive(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	dup, err := s.InsertJob(ctx, testJob("a", 10))
	if err != nil || dup {
		t.Fatalf("first insert: dup=%v err=%v", dup, err)
	}
	dup, err = s.InsertJob(ctx, testJob("a", 10))
	if err != nil {
		t.Fatalf("second insert: %v", err)
	}
	if !dup {
		t.Fatalf("expected duplicate for live job id")
	}
}

func TestInsertJobResetsTerminalRow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if _, err := s.InsertJob(ctx, testJob("a", 10)); err != nil {
		t.Fatalf("insert: %v", err)
	}
	rec, err := s.ClaimJob(ctx, constants.LaneSingle, now, time.Minute)
	if err != nil || rec == nil {
		t.Fatalf("claim: rec=%v err=%v", rec, err)
	}
	if err := s.FailJob(ctx, "a", now, "boom"); err != nil {
		t.Fatalf("fail: %v", err)
	}

	dup, err := s.InsertJob(ctx, testJob("a", 10))
	if err != nil {
		t.Fatalf("re-insert: %v", err)
	}
	if dup {
		t.Fatalf("terminal row should be re-enqueued as fresh, not reported duplicate")
	}
	got, err := s.GetJob(ctx, "a")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.State != constants.JobStateQueued || got.Attempts != 0 || got.LastError != "" {
		t.Fatalf("row not reset: state=%s attempts=%d err=%q", got.State, got.Attempts, got.LastError)
	}
}

func TestClaimJobOrderAndEligibility(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	low := testJob("low", 20)
	high := testJob("high", 10)
	future := testJob("future", 1)
	future.EligibleAt = now.Add(time.Hour)
	for _, j := range []*JobRecord{low, high, future} {
		if _, err := s.InsertJob(ctx, j); err != nil {
			t.Fatalf("insert %s: %v", j.ID, err)
		}
	}

	rec, err := s.ClaimJob(ctx, constants.LaneSingle, now, time.Minute)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if rec == nil || rec.ID != "high" {
		t.Fatalf("claimed %+v, want id=high (priority 10 before 20, future ineligible)", rec)
	}
	if rec.Attempts != 1 {
		t.Fatalf("attempts = %d, want 1 after claim", rec.Attempts)
	}
	if rec.State != constants.JobStateActive {
		t.Fatalf("state = %s, want ACTIVE", rec.State)
	}

	rec, err = s.ClaimJob(ctx, constants.LaneSingle, now, time.Minute)
	if err != nil {
		t.Fatalf("claim 2: %v", err)
	}
	if rec == nil || rec.ID != "low" {
		t.Fatalf("claimed %+v, want id=low", rec)
	}

	rec, err = s.ClaimJob(ctx, constants.LaneSingle, now, time.Minute)
	if err != nil {
		t.Fatalf("claim 3: %v", err)
	}
	if rec != nil {
		t.Fatalf("claimed %+v, want nil (only future-eligible job remains)", rec)
	}
}

func TestClaimJobLaneIsolation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	j := testJob("b1", 20)
	j.Lane = constants.LaneBatch
	if _, err := s.InsertJob(ctx, j); err != nil {
		t.Fatalf("insert: %v", err)
	}

	rec, err := s.ClaimJob(ctx, constants.LaneSingle, now, time.Minute)
	if err != nil {
		t.Fatalf("claim single: %v", err)
	}
	if rec != nil {
		t.Fatalf("single lane claimed batch job %+v", rec)
	}
	rec, err = s.ClaimJob(ctx, constants.LaneBatch, now, time.Minute)
	if err != nil || rec == nil || rec.ID != "b1" {
		t.Fatalf("batch claim: rec=%+v err=%v", rec, err)
	}
}

func TestTransitionsRequireActive(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if _, err := s.InsertJob(ctx, testJob("a", 10)); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := s.CompleteJob(ctx, "a", now); !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("complete queued job: err=%v, want ErrNotFound", err)
	}

	if _, err := s.ClaimJob(ctx, constants.LaneSingle, now, time.Minute); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := s.RetryJob(ctx, "a", now.Add(2*time.Second), "transient"); err != nil {
		t.Fatalf("retry: %v", err)
	}
	got, _ := s.GetJob(ctx, "a")
	if got.State != constants.JobStateRetryWait || got.LastError != "transient" {
		t.Fatalf("after retry: %+v", got)
	}

	// Not eligible until the backoff deadline passes.
	rec, err := s.ClaimJob(ctx, constants.LaneSingle, now.Add(time.Second), time.Minute)
	if err != nil || rec != nil {
		t.Fatalf("claim before eligibility: rec=%+v err=%v", rec, err)
	}
	rec, err = s.ClaimJob(ctx, constants.LaneSingle, now.Add(3*time.Second), time.Minute)
	if err != nil || rec == nil {
		t.Fatalf("claim after eligibility: rec=%+v err=%v", rec, err)
	}
	if rec.Attempts != 2 {
		t.Fatalf("attempts = %d, want 2 on second claim", rec.Attempts)
	}

	if err := s.CompleteJob(ctx, "a", now.Add(4*time.Second)); err != nil {
		t.Fatalf("complete: %v", err)
	}
	got, _ = s.GetJob(ctx, "a")
	if got.State != constants.JobStateCompleted || got.FinishedAt.IsZero() {
		t.Fatalf("after complete: %+v", got)
	}
}

func TestSweepStalledRequeuesThenFails(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if _, err := s.InsertJob(ctx, testJob("a", 10)); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := s.ClaimJob(ctx, constants.LaneSingle, now, time.Second); err != nil {
		t.Fatalf("claim: %v", err)
	}

	// Before the visibility deadline nothing is swept.
	requeued, failed, err := s.SweepStalled(ctx, now)
	if err != nil || len(requeued) != 0 || len(failed) != 0 {
		t.Fatalf("early sweep: requeued=%v failed=%v err=%v", requeued, failed, err)
	}

	requeued, failed, err = s.SweepStalled(ctx, now.Add(2*time.Second))
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(requeued) != 1 || requeued[0] != "a" || len(failed) != 0 {
		t.Fatalf("first sweep: requeued=%v failed=%v", requeued, failed)
	}
	got, _ := s.GetJob(ctx, "a")
	if got.State != constants.JobStateQueued || got.Stalls != 1 {
		t.Fatalf("after first sweep: %+v", got)
	}

	if _, err := s.ClaimJob(ctx, constants.LaneSingle, now.Add(3*time.Second), time.Second); err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	requeued, failed, err = s.SweepStalled(ctx, now.Add(5*time.Second))
	if err != nil {
		t.Fatalf("sweep 2: %v", err)
	}
	if len(requeued) != 0 || len(failed) != 1 || failed[0] != "a" {
		t.Fatalf("second sweep: requeued=%v failed=%v", requeued, failed)
	}
	got, _ = s.GetJob(ctx, "a")
	if got.State != constants.JobStateFailed {
		t.Fatalf("after second sweep: %+v", got)
	}
}

func TestLaneDepth(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for _, id := range []string{"a", "b", "c"} {
		if _, err := s.InsertJob(ctx, testJob(id, 10)); err != nil {
			t.Fatalf("insert %s: %v", id, err)
		}
	}
	if _, err := s.ClaimJob(ctx, constants.LaneSingle, now, time.Minute); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := s.CompleteJob(ctx, "a", now); err != nil {
		t.Fatalf("complete: %v", err)
	}

	d, err := s.LaneDepth(ctx, constants.LaneSingle)
	if err != nil {
		t.Fatalf("depth: %v", err)
	}
	want := Depth{Waiting: 2, Active: 0, Completed: 1, Failed: 0}
	if d != want {
		t.Fatalf("depth = %+v, want %+v", d, want)
	}
}

func TestCacheEntryLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	rec := &CacheRecord{
		ContentHash: "abc123",
		Path:        "/docs/x.pdf",
		MimeType:    "application/pdf",
		Text:        "hello",
		Confidence:  0.91,
		Engine:      "tesseract",
		Duration:    1500 * time.Millisecond,
		FileSize:    4096,
		CreatedAt:   now,
	}
	if err := s.PutCacheEntry(ctx, rec); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, err := s.GetCacheEntry(ctx, "abc123", now.Add(time.Minute))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil || got.Text != "hello" || got.Engine != "tesseract" {
		t.Fatalf("get = %+v", got)
	}
	if got.AccessCount != 2 {
		t.Fatalf("access count = %d, want 2 (1 at insert, +1 on hit)", got.AccessCount)
	}

	// Re-put must not overwrite the stored result, only bump stats.
	dupe := *rec
	dupe.Text = "DIFFERENT"
	if err := s.PutCacheEntry(ctx, &dupe); err != nil {
		t.Fatalf("re-put: %v", err)
	}
	got, err = s.GetCacheEntry(ctx, "abc123", now.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("get 2: %v", err)
	}
	if got.Text != "hello" {
		t.Fatalf("text = %q, cached payload must be immutable", got.Text)
	}
	if got.AccessCount != 4 {
		t.Fatalf("access count = %d, want 4", got.AccessCount)
	}

	if err := s.TouchCacheEntry(ctx, "abc123", now.Add(3*time.Minute)); err != nil {
		t.Fatalf("touch: %v", err)
	}
	st, err := s.CacheStats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.Entries != 1 || st.TotalHits != 5 {
		t.Fatalf("stats = %+v, want 1 entry / 5 hits", st)
	}

	missing, err := s.GetCacheEntry(ctx, "nope", now)
	if err != nil || missing != nil {
		t.Fatalf("miss: rec=%v err=%v", missing, err)
	}
}
