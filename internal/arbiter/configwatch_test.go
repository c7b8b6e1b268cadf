package arbiter

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/procwatch/arbiter/internal/config"
	"github.com/procwatch/arbiter/internal/events"
	"github.com/procwatch/arbiter/internal/fsys"
)

func TestConfigWatch_FileChangeTriggersReload(t *testing.T) {
	old := debounceDelay
	debounceDelay = 5 * time.Millisecond
	t.Cleanup(func() { debounceDelay = old })

	dir := t.TempDir()
	path := filepath.Join(dir, "arbiter.toml")
	initial := `check_delay = 0.05

[[watcher]]
name = "worker"
cmd = "worker"
numprocesses = 1
backend = "fake"
`
	if err := os.WriteFile(path, []byte(initial), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, _, err := config.Load(fsys.OSFS{}, path)
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}
	pub := events.NewBroadcaster(events.Discard)
	a, err := New(cfg, path, fsys.OSFS{}, pub)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	a.EnableConfigWatch([]string{dir})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Start(ctx) }()
	defer func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatalf("Start did not return after cancellation")
		}
	}()

	waitFor(t, func() bool { return a.NumWatchers() == 1 }, "initial watcher did not start")

	updated := initial + `
[[watcher]]
name = "reporter"
cmd = "reporter"
numprocesses = 1
backend = "fake"
`
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	waitFor(t, func() bool { return a.NumWatchers() == 2 },
		"config watch did not pick up the file change and reload")
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("%s", msg)
}
