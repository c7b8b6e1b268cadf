package controlplane

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/procwatch/arbiter/internal/config"
	"github.com/procwatch/arbiter/internal/watcher"
)

// fakeCommander is a scripted Commander double recording every call it
// receives, used to verify the control socket's JSON dispatch without
// standing up a real arbiter.
type fakeCommander struct {
	added              []config.WatcherConfig
	removed            []string
	started            []string
	stopped            []string
	restarted          []string
	reloaded           []string
	reloadedGraceful   bool
	reloadConfigCalled bool
	numProcsSet        map[string]int
	numProcsGet        map[string]int
	numWatchers        int
	statuses           map[string]watcher.Status
	names              []string
	watcherCfgs        map[string]config.WatcherConfig
}

func (f *fakeCommander) AddWatcher(cfg config.WatcherConfig) error {
	f.added = append(f.added, cfg)
	return nil
}

func (f *fakeCommander) RmWatcher(_ context.Context, name string) error {
	f.removed = append(f.removed, name)
	return nil
}

func (f *fakeCommander) StartWatcher(_ context.Context, name string) error {
	f.started = append(f.started, name)
	return nil
}

func (f *fakeCommander) StopWatcher(_ context.Context, name string) error {
	f.stopped = append(f.stopped, name)
	return nil
}

func (f *fakeCommander) RestartWatcher(_ context.Context, name string) error {
	f.restarted = append(f.restarted, name)
	return nil
}

func (f *fakeCommander) ReloadWatcher(_ context.Context, name string, graceful bool) error {
	f.reloaded = append(f.reloaded, name)
	f.reloadedGraceful = graceful
	return nil
}

func (f *fakeCommander) ReloadConfig(_ context.Context) error {
	f.reloadConfigCalled = true
	return nil
}

func (f *fakeCommander) SetNumProcesses(name string, n int) error {
	if f.numProcsSet == nil {
		f.numProcsSet = make(map[string]int)
	}
	f.numProcsSet[name] = n
	return nil
}

func (f *fakeCommander) NumProcesses(name string) (int, error) {
	if n, ok := f.numProcsGet[name]; ok {
		return n, nil
	}
	return 0, errors.New("not found")
}

func (f *fakeCommander) NumWatchers() int { return f.numWatchers }

func (f *fakeCommander) Statuses() map[string]watcher.Status { return f.statuses }

func (f *fakeCommander) WatcherNames() []string { return f.names }

func (f *fakeCommander) WatcherCfg(name string) (config.WatcherConfig, bool) {
	wc, ok := f.watcherCfgs[name]
	return wc, ok
}

func startTestController(t *testing.T, cmdr Commander) (sockPath string, stop func()) {
	t.Helper()
	sockPath = filepath.Join(t.TempDir(), "control.sock")
	ctrl := New(cmdr, sockPath)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ctrl.Serve(ctx) }()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if conn, err := net.Dial("unix", sockPath); err == nil {
			conn.Close() //nolint:errcheck // connectivity probe only
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	return sockPath, func() {
		cancel()
		<-done
	}
}

func sendCommand(t *testing.T, sockPath string, cmd Command) Response {
	t.Helper()
	conn, err := net.Dial("unix", sockPath)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close() //nolint:errcheck // test cleanup

	if err := json.NewEncoder(conn).Encode(cmd); err != nil {
		t.Fatalf("encode: %v", err)
	}
	scanner := bufio.NewScanner(conn)
	if !scanner.Scan() {
		t.Fatalf("no reply: %v", scanner.Err())
	}
	var resp Response
	if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
		t.Fatalf("decode reply: %v", err)
	}
	return resp
}

func TestNumProcesses_ExplicitZeroWrites(t *testing.T) {
	cmdr := &fakeCommander{}
	sockPath, stop := startTestController(t, cmdr)
	defer stop()

	zero := 0
	resp := sendCommand(t, sockPath, Command{Command: "numprocesses", Name: "worker", NumProcesses: &zero})
	if resp.Status != "ok" {
		t.Fatalf("status = %q, want ok (error: %s)", resp.Status, resp.Error)
	}
	if got, ok := cmdr.numProcsSet["worker"]; !ok || got != 0 {
		t.Fatalf("SetNumProcesses not called with 0; got %v, ok=%v", got, ok)
	}
}

func TestNumProcesses_AbsentCountReadsNotWrites(t *testing.T) {
	cmdr := &fakeCommander{numProcsGet: map[string]int{"worker": 7}}
	sockPath, stop := startTestController(t, cmdr)
	defer stop()

	resp := sendCommand(t, sockPath, Command{Command: "numprocesses", Name: "worker"})
	if resp.Status != "ok" {
		t.Fatalf("status = %q, want ok (error: %s)", resp.Status, resp.Error)
	}
	if len(cmdr.numProcsSet) != 0 {
		t.Fatalf("SetNumProcesses must not be called on a read; got %v", cmdr.numProcsSet)
	}
	n, ok := resp.Data.(float64) // JSON numbers decode to float64 through the `any` Data field
	if !ok || int(n) != 7 {
		t.Fatalf("Data = %#v, want 7", resp.Data)
	}
}

func TestDispatch_UnknownCommandErrors(t *testing.T) {
	cmdr := &fakeCommander{}
	sockPath, stop := startTestController(t, cmdr)
	defer stop()

	resp := sendCommand(t, sockPath, Command{Command: "bogus"})
	if resp.Status != "error" {
		t.Fatalf("status = %q, want error", resp.Status)
	}
}

func TestDispatch_AddUsesTopLevelNameWhenWatcherOmitsIt(t *testing.T) {
	cmdr := &fakeCommander{}
	sockPath, stop := startTestController(t, cmdr)
	defer stop()

	wc := config.WatcherConfig{Cmd: "run-worker"}
	resp := sendCommand(t, sockPath, Command{Command: "add", Name: "worker", Watcher: &wc})
	if resp.Status != "ok" {
		t.Fatalf("status = %q, want ok (error: %s)", resp.Status, resp.Error)
	}
	if len(cmdr.added) != 1 || cmdr.added[0].Name != "worker" {
		t.Fatalf("AddWatcher got %+v, want Name=worker", cmdr.added)
	}
}

func TestDispatch_Get(t *testing.T) {
	cmdr := &fakeCommander{watcherCfgs: map[string]config.WatcherConfig{
		"worker": {Name: "worker", Cmd: "run-worker", NumProcesses: 3},
	}}
	sockPath, stop := startTestController(t, cmdr)
	defer stop()

	resp := sendCommand(t, sockPath, Command{Command: "get", Name: "worker"})
	if resp.Status != "ok" {
		t.Fatalf("status = %q, want ok (error: %s)", resp.Status, resp.Error)
	}
	data, ok := resp.Data.(map[string]any)
	if !ok || data["Cmd"] != "run-worker" {
		t.Fatalf("Data = %#v, want Cmd=run-worker", resp.Data)
	}

	resp = sendCommand(t, sockPath, Command{Command: "get", Name: "missing"})
	if resp.Status != "error" {
		t.Fatalf("status = %q, want error for unknown watcher", resp.Status)
	}
}

func TestDispatch_SetNumProcesses(t *testing.T) {
	cmdr := &fakeCommander{}
	sockPath, stop := startTestController(t, cmdr)
	defer stop()

	five := 5
	resp := sendCommand(t, sockPath, Command{Command: "set", Name: "worker", NumProcesses: &five})
	if resp.Status != "ok" {
		t.Fatalf("status = %q, want ok (error: %s)", resp.Status, resp.Error)
	}
	if got, ok := cmdr.numProcsSet["worker"]; !ok || got != 5 {
		t.Fatalf("SetNumProcesses not called with 5; got %v, ok=%v", got, ok)
	}

	resp = sendCommand(t, sockPath, Command{Command: "set", Name: "worker"})
	if resp.Status != "error" {
		t.Fatalf("status = %q, want error when no settable property is given", resp.Status)
	}
}

func TestDispatch_Stats(t *testing.T) {
	cmdr := &fakeCommander{
		statuses:    map[string]watcher.Status{"worker": watcher.StatusActive},
		numProcsGet: map[string]int{"worker": 3},
	}
	sockPath, stop := startTestController(t, cmdr)
	defer stop()

	resp := sendCommand(t, sockPath, Command{Command: "stats"})
	if resp.Status != "ok" {
		t.Fatalf("status = %q, want ok (error: %s)", resp.Status, resp.Error)
	}
	data, ok := resp.Data.(map[string]any)
	if !ok {
		t.Fatalf("Data = %#v, want map", resp.Data)
	}
	worker, ok := data["worker"].(map[string]any)
	if !ok {
		t.Fatalf("Data[worker] = %#v, want map", data["worker"])
	}
	if n, ok := worker["processes"].(float64); !ok || int(n) != 3 {
		t.Fatalf("Data[worker].processes = %#v, want 3", worker["processes"])
	}
}

func TestDispatch_ListAndNumWatchers(t *testing.T) {
	cmdr := &fakeCommander{names: []string{"a", "b"}, numWatchers: 2}
	sockPath, stop := startTestController(t, cmdr)
	defer stop()

	resp := sendCommand(t, sockPath, Command{Command: "list"})
	names, ok := resp.Data.([]any)
	if !ok || len(names) != 2 {
		t.Fatalf("Data = %#v, want 2 entries", resp.Data)
	}

	resp = sendCommand(t, sockPath, Command{Command: "numwatchers"})
	n, ok := resp.Data.(float64)
	if !ok || int(n) != 2 {
		t.Fatalf("Data = %#v, want 2", resp.Data)
	}
}
