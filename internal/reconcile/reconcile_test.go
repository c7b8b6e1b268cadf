package reconcile

import (
	"context"
	"strings"
	"testing"

	"github.com/procwatch/arbiter/internal/config"
	"github.com/procwatch/arbiter/internal/fsys"
)

// fakeTarget is an in-memory [Target] double: no real sockets or
// processes, just maps tracking what the reconciler asked for. Keyed the
// same way *arbiter.Arbiter keys them (sockets by actual name, watchers
// by lowercased name) so case-handling bugs in the reconciler itself
// would show up here rather than being masked by the fake.
type fakeTarget struct {
	cfg      *config.Config
	sockets  map[string]config.SocketConfig
	watchers map[string]config.WatcherConfig // lowercased name -> cfg

	added, removed, started []string // watcher names, in call order
	resized                 map[string]int
	fullRestarted           bool
}

func newFakeTarget(cfg *config.Config) *fakeTarget {
	t := &fakeTarget{
		cfg:      cfg,
		sockets:  map[string]config.SocketConfig{},
		watchers: map[string]config.WatcherConfig{},
		resized:  map[string]int{},
	}
	for _, sc := range cfg.Sockets {
		t.sockets[sc.Name] = sc
	}
	for _, wc := range cfg.Watchers {
		t.watchers[strings.ToLower(wc.Name)] = wc
	}
	return t
}

func (t *fakeTarget) CurrentConfig() *config.Config { return t.cfg }

func (t *fakeTarget) SocketNames() []string {
	out := make([]string, 0, len(t.sockets))
	for n := range t.sockets {
		out = append(out, n)
	}
	return out
}

func (t *fakeTarget) SocketCfg(name string) (config.SocketConfig, bool) {
	sc, ok := t.sockets[name]
	return sc, ok
}

func (t *fakeTarget) AddSocket(cfg config.SocketConfig) error {
	t.sockets[cfg.Name] = cfg
	return nil
}

func (t *fakeTarget) RemoveSocket(name string) {
	delete(t.sockets, name)
}

func (t *fakeTarget) WatcherCfg(name string) (config.WatcherConfig, bool) {
	wc, ok := t.watchers[strings.ToLower(name)]
	return wc, ok
}

func (t *fakeTarget) WatcherNamesLower() []string {
	out := make([]string, 0, len(t.watchers))
	for n := range t.watchers {
		out = append(out, n)
	}
	return out
}

func (t *fakeTarget) AddWatcher(cfg config.WatcherConfig) error {
	t.watchers[strings.ToLower(cfg.Name)] = cfg
	t.added = append(t.added, cfg.Name)
	return nil
}

func (t *fakeTarget) RmWatcher(_ context.Context, name string) error {
	delete(t.watchers, strings.ToLower(name))
	t.removed = append(t.removed, name)
	return nil
}

func (t *fakeTarget) StartWatcher(_ context.Context, name string) error {
	t.started = append(t.started, name)
	return nil
}

func (t *fakeTarget) SetNumProcesses(name string, n int) error {
	key := strings.ToLower(name)
	wc := t.watchers[key]
	wc.NumProcesses = n
	t.watchers[key] = wc
	t.resized[key] = n
	return nil
}

func (t *fakeTarget) FullRestart(_ context.Context, cfg *config.Config) error {
	t.fullRestarted = true
	t.cfg = cfg
	t.sockets = map[string]config.SocketConfig{}
	for _, sc := range cfg.Sockets {
		t.sockets[sc.Name] = sc
	}
	t.watchers = map[string]config.WatcherConfig{}
	for _, wc := range cfg.Watchers {
		t.watchers[strings.ToLower(wc.Name)] = wc
	}
	return nil
}

func baseConfig() *config.Config {
	return &config.Config{
		Endpoint:   "tcp://127.0.0.1:5555",
		CheckDelay: 1.0,
		Sockets: []config.SocketConfig{
			{Name: "web", Host: "127.0.0.1", Port: 8080, Family: "tcp"},
		},
		Watchers: []config.WatcherConfig{
			{Name: "Worker", Cmd: "worker --fd circus.sockets.web", NumProcesses: 2, Priority: 1},
			{Name: "cron", Cmd: "cron-runner", NumProcesses: 1, Priority: 2},
		},
	}
}

func TestApply_AddsNewWatcher(t *testing.T) {
	cur := baseConfig()
	target := newFakeTarget(cur)

	newCfg := baseConfig()
	newCfg.Watchers = append(newCfg.Watchers, config.WatcherConfig{
		Name: "reporter", Cmd: "reporter", NumProcesses: 1,
	})

	if err := apply(context.Background(), target, newCfg); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if len(target.added) != 1 || target.added[0] != "reporter" {
		t.Fatalf("added = %v, want [reporter]", target.added)
	}
	if len(target.started) != 1 || target.started[0] != "reporter" {
		t.Fatalf("started = %v, want [reporter]", target.started)
	}
	if len(target.removed) != 0 {
		t.Fatalf("removed = %v, want none", target.removed)
	}
}

func TestApply_RemovesMissingWatcher(t *testing.T) {
	cur := baseConfig()
	target := newFakeTarget(cur)

	newCfg := baseConfig()
	newCfg.Watchers = newCfg.Watchers[:1] // drop "cron"

	if err := apply(context.Background(), target, newCfg); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if len(target.removed) != 1 || target.removed[0] != "cron" {
		t.Fatalf("removed = %v, want [cron]", target.removed)
	}
	if len(target.added) != 0 {
		t.Fatalf("added = %v, want none", target.added)
	}
}

func TestApply_NumProcessesOnlyChangeDoesNotRestartWatcher(t *testing.T) {
	cur := baseConfig()
	target := newFakeTarget(cur)

	newCfg := baseConfig()
	newCfg.Watchers[0].NumProcesses = 5 // Worker: 2 -> 5, nothing else differs

	if err := apply(context.Background(), target, newCfg); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if n, ok := target.resized["worker"]; !ok || n != 5 {
		t.Fatalf("resized[worker] = %v, %v; want 5, true", n, ok)
	}
	if len(target.added) != 0 || len(target.removed) != 0 {
		t.Fatalf("watcher identity should be preserved: added=%v removed=%v", target.added, target.removed)
	}
}

func TestApply_OtherFieldChangeIsDeleteThenAdd(t *testing.T) {
	cur := baseConfig()
	target := newFakeTarget(cur)

	newCfg := baseConfig()
	newCfg.Watchers[1].Cmd = "cron-runner --verbose" // cron: cmd changes

	if err := apply(context.Background(), target, newCfg); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if len(target.removed) != 1 || target.removed[0] != "cron" {
		t.Fatalf("removed = %v, want [cron]", target.removed)
	}
	if len(target.added) != 1 || target.added[0] != "cron" {
		t.Fatalf("added = %v, want [cron]", target.added)
	}
}

func TestApply_SocketChangeCascadesToReferencingWatcher(t *testing.T) {
	cur := baseConfig()
	target := newFakeTarget(cur)

	newCfg := baseConfig()
	newCfg.Sockets[0].Port = 9090 // web socket rebinds to a new port

	if err := apply(context.Background(), target, newCfg); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if _, ok := target.sockets["web"]; !ok || target.sockets["web"].Port != 9090 {
		t.Fatalf("socket web not rebound: %+v", target.sockets["web"])
	}
	// Worker references circus.sockets.web, so it must be stopped and
	// restarted even though its own WatcherConfig did not change.
	if len(target.removed) != 1 || target.removed[0] != "Worker" {
		t.Fatalf("removed = %v, want [Worker]", target.removed)
	}
	if len(target.added) != 1 || target.added[0] != "Worker" {
		t.Fatalf("added = %v, want [Worker]", target.added)
	}
	// cron does not reference the socket and must be left alone.
	for _, n := range append(target.removed, target.added...) {
		if strings.EqualFold(n, "cron") {
			t.Fatalf("cron should not have been touched by the socket-only change")
		}
	}
}

func TestApply_OrphanedSocketReferenceIsRefused(t *testing.T) {
	cur := baseConfig()
	target := newFakeTarget(cur)

	newCfg := baseConfig()
	newCfg.Sockets = nil // delete "web" while Worker still references it and is not itself removed

	err := apply(context.Background(), target, newCfg)
	if err == nil {
		t.Fatalf("apply: want error, got nil")
	}
	if containsAny(target.removed, "Worker") {
		// Worker wasn't explicitly deleted from config, so it must not
		// have been mutated before the conflict was detected.
		t.Fatalf("Worker was removed before the conflict check failed: %v", target.removed)
	}
	if len(target.started) != 0 {
		t.Fatalf("no watcher should have been started before the conflict check failed: %v", target.started)
	}
}

func TestApply_DeletingSocketAndItsOnlyReferencingWatcherTogetherIsNotAConflict(t *testing.T) {
	cur := baseConfig()
	target := newFakeTarget(cur)

	newCfg := baseConfig()
	newCfg.Sockets = nil           // delete "web"...
	newCfg.Watchers = newCfg.Watchers[1:] // ...and drop "Worker" too, leaving only "cron"

	if err := apply(context.Background(), target, newCfg); err != nil {
		t.Fatalf("apply: %v, want nil (Worker is being removed, not kept orphaned)", err)
	}
	if len(target.removed) != 1 || target.removed[0] != "Worker" {
		t.Fatalf("removed = %v, want [Worker]", target.removed)
	}
	if _, ok := target.sockets["web"]; ok {
		t.Fatalf("socket web should have been removed")
	}
}

func containsAny(ss []string, want string) bool {
	for _, s := range ss {
		if strings.EqualFold(s, want) {
			return true
		}
	}
	return false
}

func TestApply_ArbiterCfgChangeTriggersFullRestart(t *testing.T) {
	cur := baseConfig()
	target := newFakeTarget(cur)

	newCfg := baseConfig()
	newCfg.Endpoint = "tcp://127.0.0.1:6666" // part of ArbiterCfg

	if err := apply(context.Background(), target, newCfg); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if !target.fullRestarted {
		t.Fatalf("expected FullRestart to be called")
	}
}

func TestApply_NoChangesIsANoOp(t *testing.T) {
	cur := baseConfig()
	target := newFakeTarget(cur)

	if err := apply(context.Background(), target, baseConfig()); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if len(target.added)+len(target.removed)+len(target.resized) != 0 || target.fullRestarted {
		t.Fatalf("expected no-op, got added=%v removed=%v resized=%v fullRestarted=%v",
			target.added, target.removed, target.resized, target.fullRestarted)
	}
}

func TestReconcile_LoadsConfigFromFS(t *testing.T) {
	fs := fsys.NewFake()
	fs.Files["/etc/arbiter/arbiter.toml"] = []byte(`
check_delay = 1.0

[[watcher]]
name = "worker"
cmd = "worker"
numprocesses = 1
`)
	target := newFakeTarget(&config.Config{CheckDelay: 1.0})

	if err := Reconcile(context.Background(), target, fs, "/etc/arbiter/arbiter.toml"); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if len(target.added) != 1 || target.added[0] != "worker" {
		t.Fatalf("added = %v, want [worker]", target.added)
	}
}
