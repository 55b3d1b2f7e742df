package ingest

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func writeFile(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("document body: "+name), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

// waitForPath drains events until want shows up. Other paths, including
// duplicate announcements, are ignored.
func waitForPath(t *testing.T, events <-chan string, want string) {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case p := <-events:
			if p == want {
				return
			}
		case <-deadline:
			t.Fatalf("no event for %s", want)
		}
	}
}

// waitForPaths drains events until every wanted path has shown up at least
// once, in any order.
func waitForPaths(t *testing.T, events <-chan string, want ...string) {
	t.Helper()
	missing := map[string]struct{}{}
	for _, w := range want {
		missing[w] = struct{}{}
	}
	deadline := time.After(3 * time.Second)
	for len(missing) > 0 {
		select {
		case p := <-events:
			delete(missing, p)
		case <-deadline:
			t.Fatalf("still waiting for %v", missing)
		}
	}
}

func startTestWatcher(t *testing.T, cfg WatchConfig) (<-chan string, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	events, errs, err := StartWatcher(ctx, cfg, testLogger())
	if err != nil {
		t.Fatalf("start watcher: %v", err)
	}
	return events, errs
}

func TestWatcherEmitsNewFile(t *testing.T) {
	root := t.TempDir()
	events, _ := startTestWatcher(t, WatchConfig{
		Roots:    []string{root},
		Debounce: 10 * time.Millisecond,
	})

	path := writeFile(t, root, "invoice.pdf")
	waitForPath(t, events, path)
}

func TestWatcherFiltersByExtension(t *testing.T) {
	root := t.TempDir()
	events, _ := startTestWatcher(t, WatchConfig{
		Roots:    []string{root},
		Debounce: 10 * time.Millisecond,
	})

	txt := writeFile(t, root, "notes.txt")
	png := writeFile(t, root, "scan.png")

	waitForPath(t, events, png)

	drain := time.After(150 * time.Millisecond)
	for {
		select {
		case p := <-events:
			if p == txt {
				t.Fatalf("unsupported file emitted: %s", p)
			}
		case <-drain:
			return
		}
	}
}

func TestWatcherFollowsNewDirectories(t *testing.T) {
	root := t.TempDir()
	events, _ := startTestWatcher(t, WatchConfig{
		Roots:    []string{root},
		Debounce: 10 * time.Millisecond,
	})

	sub := filepath.Join(root, "incoming")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	// give the create event time to land so the subtree is watched
	time.Sleep(50 * time.Millisecond)

	path := writeFile(t, sub, "page.jpg")
	waitForPath(t, events, path)
}

func TestWatcherInitialScanEmitsExistingFiles(t *testing.T) {
	root := t.TempDir()
	top := writeFile(t, root, "old.pdf")
	sub := filepath.Join(root, "archive")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	nested := writeFile(t, sub, "deep.png")

	events, _ := startTestWatcher(t, WatchConfig{
		Roots:       []string{root},
		InitialScan: true,
		Debounce:    10 * time.Millisecond,
	})

	waitForPaths(t, events, top, nested)
}

func TestWatcherRequiresRoots(t *testing.T) {
	_, _, err := StartWatcher(context.Background(), WatchConfig{}, testLogger())
	if err == nil {
		t.Fatal("expected an error for empty roots")
	}
}

func TestWatcherDebounceCoalescesBursts(t *testing.T) {
	root := t.TempDir()
	events, _ := startTestWatcher(t, WatchConfig{
		Roots:    []string{root},
		Debounce: 150 * time.Millisecond,
	})

	// A scanner saving a large document produces a burst of writes to the
	// same path. They all land inside the debounce window, so exactly one
	// event should come out the other side.
	path := filepath.Join(root, "multi-page.pdf")
	for i := 0; i < 3; i++ {
		body := []byte("page data rev " + string(rune('0'+i)))
		if err := os.WriteFile(path, body, 0o644); err != nil {
			t.Fatalf("write rev %d: %v", i, err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	waitForPath(t, events, path)

	quiet := time.After(400 * time.Millisecond)
	for {
		select {
		case p := <-events:
			if p == path {
				t.Fatalf("burst emitted more than once: %s", p)
			}
		case <-quiet:
			return
		}
	}
}
