package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/joseph-ayodele/docscan/internal/queue"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func listFiles(n int) []File {
	files := make([]File, n)
	for i := range files {
		files[i] = File{Path: fmt.Sprintf("/docs/f%02d.pdf", i), MimeType: "application/pdf"}
	}
	return files
}

func TestBatchPartialFailure(t *testing.T) {
	failing := map[string]bool{"/docs/f02.pdf": true, "/docs/f05.pdf": true}
	run := func(ctx context.Context, f File, o Options) (*queue.JobResult, error) {
		if failing[f.Path] {
			return nil, errors.New("engine rejected page")
		}
		return &queue.JobResult{Text: "ok:" + f.Path}, nil
	}
	c := New(run, testLogger(), nil, WithChunkDelay(time.Millisecond))

	res := c.Process(context.Background(), listFiles(10), Options{})
	if len(res.Results) != 8 {
		t.Fatalf("results=%d, want 8", len(res.Results))
	}
	if len(res.Errors) != 2 {
		t.Fatalf("errors=%d, want 2", len(res.Errors))
	}
	if res.SuccessRate != "80.00%" {
		t.Fatalf("successRate=%q, want 80.00%%", res.SuccessRate)
	}
	if res.FilesProcessed != 10 || res.Succeeded != 8 || res.Failed != 2 {
		t.Fatalf("counts: processed=%d succeeded=%d failed=%d", res.FilesProcessed, res.Succeeded, res.Failed)
	}
	if res.Chunks != 2 {
		t.Fatalf("chunks=%d, want 2 with 10 files at the default size of 5", res.Chunks)
	}
	for _, fe := range res.Errors {
		if !failing[fe.Path] {
			t.Fatalf("unexpected failed path %s", fe.Path)
		}
		if fe.Error != "engine rejected page" {
			t.Fatalf("unexpected error message %q", fe.Error)
		}
	}
}

func TestChunkThrottling(t *testing.T) {
	const delay = 100 * time.Millisecond

	var mu sync.Mutex
	var starts []time.Time
	run := func(ctx context.Context, f File, o Options) (*queue.JobResult, error) {
		mu.Lock()
		starts = append(starts, time.Now())
		mu.Unlock()
		return &queue.JobResult{}, nil
	}
	c := New(run, testLogger(), nil)

	res := c.Process(context.Background(), listFiles(7), Options{ChunkSize: 3, ChunkDelay: delay})
	if len(res.Results) != 7 {
		t.Fatalf("results=%d, want 7", len(res.Results))
	}

	// 7 files in chunks of 3 make 3 waves, so exactly 2 throttling pauses
	mu.Lock()
	defer mu.Unlock()
	sort.Slice(starts, func(i, j int) bool { return starts[i].Before(starts[j]) })
	gaps := 0
	for i := 1; i < len(starts); i++ {
		if starts[i].Sub(starts[i-1]) > delay/2 {
			gaps++
		}
	}
	if gaps != 2 {
		t.Fatalf("observed %d inter-chunk pauses, want 2", gaps)
	}
	if got := time.Duration(res.TotalTimeMS) * time.Millisecond; got < 2*delay {
		t.Fatalf("batch finished in %v, expected at least %v of throttling", got, 2*delay)
	}
}

func TestChunkBoundsConcurrency(t *testing.T) {
	var active, peak atomic.Int32
	run := func(ctx context.Context, f File, o Options) (*queue.JobResult, error) {
		n := active.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		active.Add(-1)
		return &queue.JobResult{}, nil
	}
	c := New(run, testLogger(), nil, WithChunkDelay(time.Millisecond))

	c.Process(context.Background(), listFiles(6), Options{ChunkSize: 2})
	if p := peak.Load(); p > 2 {
		t.Fatalf("peak concurrency %d exceeds chunk size 2", p)
	}
}

func TestEmptyBatch(t *testing.T) {
	run := func(ctx context.Context, f File, o Options) (*queue.JobResult, error) {
		t.Error("item func should not run for an empty batch")
		return nil, nil
	}
	c := New(run, testLogger(), nil)

	res := c.Process(context.Background(), nil, Options{})
	if res.FilesProcessed != 0 || len(res.Results) != 0 || len(res.Errors) != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.SuccessRate != "0.00%" {
		t.Fatalf("successRate=%q, want 0.00%%", res.SuccessRate)
	}
}

func TestCancelledBatchRecordsRemainingFiles(t *testing.T) {
	run := func(ctx context.Context, f File, o Options) (*queue.JobResult, error) {
		return &queue.JobResult{}, nil
	}
	c := New(run, testLogger(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	res := c.Process(ctx, listFiles(4), Options{ChunkSize: 2, ChunkDelay: 500 * time.Millisecond})

	if res.Succeeded != 2 || res.Failed != 2 {
		t.Fatalf("succeeded=%d failed=%d, want 2/2", res.Succeeded, res.Failed)
	}
	if res.SuccessRate != "50.00%" {
		t.Fatalf("successRate=%q, want 50.00%%", res.SuccessRate)
	}
	for _, fe := range res.Errors {
		if fe.Error != context.DeadlineExceeded.Error() {
			t.Fatalf("unexpected error message %q", fe.Error)
		}
	}
}
