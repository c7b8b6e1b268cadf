package arbiter

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/procwatch/arbiter/internal/backend"
	"github.com/procwatch/arbiter/internal/config"
	"github.com/procwatch/arbiter/internal/events"
	"github.com/procwatch/arbiter/internal/watcher"
)

// fakeBackend is an in-memory [backend.Backend] double: children never
// touch the OS. Each spawned child blocks in Wait until explicitly
// killed via Signal or told to exit on its own via kill. Pids are
// synthetic and monotonically increasing.
type fakeBackend struct {
	mu      sync.Mutex
	nextPid int
	done    map[int]chan backend.ExitStatus
	alive   map[int]bool
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		done:  make(map[int]chan backend.ExitStatus),
		alive: make(map[int]bool),
	}
}

func (b *fakeBackend) Spawn(_ context.Context, _ backend.ProcessSpec) (backend.Handle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextPid++
	pid := b.nextPid
	b.done[pid] = make(chan backend.ExitStatus, 1)
	b.alive[pid] = true
	return backend.Handle{Pid: pid}, nil
}

func (b *fakeBackend) Signal(_ context.Context, h backend.Handle, _ os.Signal) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.alive[h.Pid] {
		return nil
	}
	b.alive[h.Pid] = false
	b.done[h.Pid] <- backend.ExitStatus{ExitCode: 0}
	return nil
}

func (b *fakeBackend) Wait(ctx context.Context, h backend.Handle) (backend.ExitStatus, error) {
	b.mu.Lock()
	ch, ok := b.done[h.Pid]
	b.mu.Unlock()
	if !ok {
		return backend.ExitStatus{}, errUnknownPid
	}
	select {
	case status := <-ch:
		return status, nil
	case <-ctx.Done():
		return backend.ExitStatus{}, ctx.Err()
	}
}

func (b *fakeBackend) Alive(h backend.Handle) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.alive[h.Pid]
}

// crashOne marks one live pid as exited with a nonzero code, as if it
// crashed on its own (distinct from Signal, which simulates an
// intentional stop).
func (b *fakeBackend) crashOne() (int, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for pid, alive := range b.alive {
		if alive {
			b.alive[pid] = false
			b.done[pid] <- backend.ExitStatus{ExitCode: 1}
			return pid, true
		}
	}
	return 0, false
}

var errUnknownPid = fakeErr("fake backend: unknown pid")

type fakeErr string

func (e fakeErr) Error() string { return string(e) }

var (
	lastFakeMu sync.Mutex
	lastFake   *fakeBackend
)

func init() {
	backend.Register("fake", func() (backend.Backend, error) {
		b := newFakeBackend()
		lastFakeMu.Lock()
		lastFake = b
		lastFakeMu.Unlock()
		return b, nil
	})
}

func testConfig() *config.Config {
	return &config.Config{
		CheckDelay: 1.0,
		Watchers: []config.WatcherConfig{
			{Name: "Worker", Cmd: "worker", NumProcesses: 2, Priority: 1, Backend: "fake"},
			{Name: "cron", Cmd: "cron-runner", NumProcesses: 1, Priority: 2, Backend: "fake"},
		},
	}
}

func TestNew_RegistersWatchersCaseInsensitively(t *testing.T) {
	a, err := New(testConfig(), "/etc/arbiter/arbiter.toml", nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if a.NumWatchers() != 2 {
		t.Fatalf("NumWatchers = %d, want 2", a.NumWatchers())
	}
	if _, ok := a.GetWatcher("WORKER"); !ok {
		t.Fatalf("GetWatcher(\"WORKER\") not found; lookup must be case-insensitive")
	}
}

func TestAddWatcher_DuplicateNameFails(t *testing.T) {
	a, err := New(testConfig(), "", nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	err = a.AddWatcher(config.WatcherConfig{Name: "worker", Backend: "fake"})
	if err == nil {
		t.Fatalf("AddWatcher: want error for duplicate (case-insensitive) name, got nil")
	}
}

func TestRmWatcher_RemovesUnknownNameFails(t *testing.T) {
	a, err := New(testConfig(), "", nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.RmWatcher(context.Background(), "nonexistent"); err == nil {
		t.Fatalf("RmWatcher: want ErrNotFound, got nil")
	}
}

func TestIterWatchers_OrdersByPriority(t *testing.T) {
	a, err := New(testConfig(), "", nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	started := a.IterWatchers(true) // decreasing priority: cron (2) before Worker (1)
	if len(started) != 2 || started[0].Name() != "cron" {
		t.Fatalf("IterWatchers(true) order = %v, want cron first", names(started))
	}
	stopped := a.IterWatchers(false) // increasing priority: Worker (1) before cron (2)
	if len(stopped) != 2 || stopped[0].Name() != "Worker" {
		t.Fatalf("IterWatchers(false) order = %v, want Worker first", names(stopped))
	}
}

func names(ws []*watcher.Watcher) []string {
	out := make([]string, len(ws))
	for i, w := range ws {
		out[i] = w.Name()
	}
	return out
}

func TestStartStop_RoundTrip(t *testing.T) {
	pub := events.NewBroadcaster(events.Discard)
	a, err := New(testConfig(), "", nil, pub)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Start(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if a.NumProcessesSafe("Worker") == 2 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if n := a.NumProcessesSafe("Worker"); n != 2 {
		t.Fatalf("Worker process count = %d, want 2", n)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Start returned error after Stop: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Start did not return after ctx cancellation")
	}
}

// NumProcessesSafe is a tiny test helper tolerating a not-found watcher
// (returns -1) instead of an error, to keep polling loops terse.
func (a *Arbiter) NumProcessesSafe(name string) int {
	n, err := a.NumProcesses(name)
	if err != nil {
		return -1
	}
	return n
}

func TestReapProcesses_ReapsCrashedChildAndPublishesEvent(t *testing.T) {
	pub := events.NewBroadcaster(events.Discard)
	sub, unsub := pub.Subscribe()
	defer unsub()

	cfg := &config.Config{
		CheckDelay: 1.0,
		Watchers: []config.WatcherConfig{
			{Name: "worker", Cmd: "worker", NumProcesses: 1, Backend: "fake"},
		},
	}
	a, err := New(cfg, "", nil, pub)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := a.StartWatcher(context.Background(), "worker"); err != nil {
		t.Fatalf("StartWatcher: %v", err)
	}

	be := fakeBackendOf(t)
	pid, ok := be.crashOne()
	if !ok {
		t.Fatalf("no live child to crash")
	}

	a.ReapProcesses(context.Background())

	var sawCrash bool
	deadline := time.After(time.Second)
	for !sawCrash {
		select {
		case e := <-sub:
			if e.Type == events.WatcherCrashed && e.Pid == pid {
				sawCrash = true
			}
		case <-deadline:
			t.Fatalf("did not observe a watcher.crashed event for pid %d", pid)
		}
	}
}

// fakeBackendOf returns the most recently constructed fakeBackend.
// Watcher does not expose its backend, so tests that need to drive a
// child's exit directly reach it through this package-level hook
// (safe here since each test constructs exactly one watcher needing it).
func fakeBackendOf(t *testing.T) *fakeBackend {
	t.Helper()
	lastFakeMu.Lock()
	defer lastFakeMu.Unlock()
	if lastFake == nil {
		t.Fatalf("no fake backend has been constructed yet")
	}
	return lastFake
}
