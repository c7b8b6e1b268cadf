// Package watcher implements the arbiter's watcher contract (spec
// component C2): a named group of identical child processes, spawned
// through a pluggable [backend.Backend], supervised for crashes, and
// resized/stopped/reloaded on command from the arbiter core.
package watcher

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/procwatch/arbiter/internal/backend"
	"github.com/procwatch/arbiter/internal/config"
	"github.com/procwatch/arbiter/internal/events"
	"github.com/procwatch/arbiter/internal/sockets"
)

// Status is a watcher's coarse lifecycle state.
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusActive   Status = "active"
	StatusStopping Status = "stopping"
)

// ProcessRecord is one running child of a watcher.
type ProcessRecord struct {
	Handle    backend.Handle
	StartedAt time.Time
}

const (
	defaultMaxRetry    = 5
	defaultRestartWindow = 30 * time.Second
)

// Watcher manages a named pool of identical child processes.
type Watcher struct {
	mu        sync.Mutex
	cfg       config.WatcherConfig
	be        backend.Backend
	pub       events.Publisher
	sockets   *sockets.Registry
	crash     crashTracker
	processes map[int]*ProcessRecord
	status    Status
	stopped   bool
	nextSeq   int
}

// New constructs a Watcher bound to the given config, backend, publisher
// and socket registry. The watcher does not spawn anything until Start
// or ManageProcesses is called.
func New(cfg config.WatcherConfig, be backend.Backend, pub events.Publisher, reg *sockets.Registry) *Watcher {
	return &Watcher{
		cfg:       cfg,
		be:        be,
		pub:       pub,
		sockets:   reg,
		crash:     newCrashTracker(defaultMaxRetry, defaultRestartWindow),
		processes: make(map[int]*ProcessRecord),
		status:    StatusStopped,
		stopped:   true,
	}
}

// Name implements the arbiter-facing watcher contract.
func (w *Watcher) Name() string { return w.cfg.Name }

// Priority implements the arbiter-facing watcher contract. Watchers
// start in decreasing priority order and stop in increasing order
// (spec.md §4.5).
func (w *Watcher) Priority() int { return w.cfg.Priority }

// Cmd returns the configured command line, unsubstituted.
func (w *Watcher) Cmd() string { return w.cfg.Cmd }

// Cfg returns the watcher's current configuration snapshot.
func (w *Watcher) Cfg() config.WatcherConfig {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cfg
}

// Status reports the watcher's coarse lifecycle state.
func (w *Watcher) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

// Stopped reports whether the watcher holds no running processes and is
// not mid-start. The arbiter's reap pass skips watchers that report
// true.
func (w *Watcher) Stopped() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stopped
}

// Processes returns a snapshot of currently tracked child processes,
// keyed by the backend Handle's Pid.
func (w *Watcher) Processes() map[int]*ProcessRecord {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make(map[int]*ProcessRecord, len(w.processes))
	for k, v := range w.processes {
		cp := *v
		out[k] = &cp
	}
	return out
}

// Start brings the watcher's process count up to its configured
// NumProcesses, in order, recording each spawn's start time for
// crash-loop detection (spec.md §4.5 decreasing-priority start).
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	w.status = StatusStarting
	w.stopped = false
	target := w.targetLocked()
	w.mu.Unlock()

	for w.numProcesses() < target {
		if err := w.spawnOne(ctx); err != nil {
			w.mu.Lock()
			w.status = StatusStopped
			w.mu.Unlock()
			return err
		}
	}

	w.mu.Lock()
	w.status = StatusActive
	w.mu.Unlock()
	w.pub.Publish(events.Event{Type: events.WatcherStarted, Watcher: w.cfg.Name})
	return nil
}

// Stop terminates every running child, sending SIGTERM and escalating to
// SIGKILL for stragglers after a grace period (spec.md §4.5 increasing-
// priority stop). Stop blocks until every child has been reaped or ctx
// is cancelled.
func (w *Watcher) Stop(ctx context.Context) error {
	w.mu.Lock()
	w.status = StatusStopping
	handles := make([]backend.Handle, 0, len(w.processes))
	for _, p := range w.processes {
		handles = append(handles, p.Handle)
	}
	w.mu.Unlock()

	for _, h := range handles {
		_ = w.be.Signal(ctx, h, sigterm()) //nolint:errcheck // best-effort; Wait below confirms exit
	}

	const gracePeriod = 5 * time.Second
	graceCtx, cancel := context.WithTimeout(ctx, gracePeriod)
	defer cancel()

	var firstErr error
	for _, h := range handles {
		status, err := w.be.Wait(graceCtx, h)
		if err != nil {
			_ = w.be.Signal(ctx, h, sigkill()) //nolint:errcheck // escalate past grace period
			status, err = w.be.Wait(ctx, h)
		}
		w.ReapProcess(h.Pid, status)
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	w.mu.Lock()
	w.status = StatusStopped
	w.stopped = len(w.processes) == 0
	w.mu.Unlock()
	w.pub.Publish(events.Event{Type: events.WatcherStopped, Watcher: w.cfg.Name})
	return firstErr
}

// Reload restarts the watcher's process pool to pick up a new command
// or environment. A graceful reload stops children one at a time,
// replacing each before moving to the next; a hard reload stops
// everything first.
func (w *Watcher) Reload(ctx context.Context, graceful bool) error {
	if !graceful {
		if err := w.Stop(ctx); err != nil {
			return err
		}
		return w.Start(ctx)
	}

	w.mu.Lock()
	handles := make([]backend.Handle, 0, len(w.processes))
	for _, p := range w.processes {
		handles = append(handles, p.Handle)
	}
	w.mu.Unlock()

	for _, h := range handles {
		if err := w.be.Signal(ctx, h, sigterm()); err != nil {
			return fmt.Errorf("watcher %q: graceful reload: %w", w.cfg.Name, err)
		}
		status, err := w.be.Wait(ctx, h)
		if err != nil {
			return err
		}
		w.ReapProcess(h.Pid, status)
		if err := w.spawnOne(ctx); err != nil {
			return err
		}
	}
	w.pub.Publish(events.Event{Type: events.WatcherReloaded, Watcher: w.cfg.Name})
	return nil
}

// SetNumProcesses adjusts the target pool size. Callers must follow up
// with ManageProcesses to actually spawn or stop children; SetNumProcesses
// itself only updates the target (REDESIGN FLAG: numprocesses-only
// reconciliation never needs a full Reload).
func (w *Watcher) SetNumProcesses(n int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.cfg.NumProcesses = n
}

// ManageProcesses reconciles the live process count against the target,
// spawning or stopping children as needed, and is the steady-state
// entry point the event loop calls every check_delay tick.
func (w *Watcher) ManageProcesses(ctx context.Context) error {
	w.mu.Lock()
	target := w.targetLocked()
	current := w.numProcessesLocked()
	w.mu.Unlock()

	switch {
	case current < target:
		for w.numProcesses() < target {
			if err := w.spawnOne(ctx); err != nil {
				return err
			}
		}
	case current > target:
		excess := current - target
		for i := 0; i < excess; i++ {
			h, ok := w.anyHandle()
			if !ok {
				break
			}
			_ = w.be.Signal(ctx, h, sigterm()) //nolint:errcheck // best-effort; Wait below confirms exit
			status, err := w.be.Wait(ctx, h)
			if err != nil {
				return err
			}
			w.ReapProcess(h.Pid, status)
		}
	}
	return nil
}

// ReapProcess records a child's exit, removing it from the tracked
// pool. It is safe to call from the arbiter's event loop after a
// backend.Wait or an OS-level SIGCHLD notification.
func (w *Watcher) ReapProcess(pid int, status backend.ExitStatus) {
	w.mu.Lock()
	delete(w.processes, pid)
	remaining := len(w.processes)
	w.mu.Unlock()

	if !status.Success() {
		w.pub.Publish(events.Event{
			Type:    events.WatcherCrashed,
			Watcher: w.cfg.Name,
			Pid:     pid,
			Payload: status,
		})
	}
	w.pub.Publish(events.Event{Type: events.WatcherExited, Watcher: w.cfg.Name, Pid: pid})

	if remaining == 0 {
		w.mu.Lock()
		w.stopped = true
		w.mu.Unlock()
	}
}

// ReapExited scans this watcher's tracked children for ones that have
// exited without already being reaped by an explicit Stop or
// ManageProcesses call, and reaps each one found. It is the per-watcher
// half of the arbiter's reap_processes loop (spec.md §4.5): the watcher
// owns its backend, so it is the only safe place to call Backend.Wait
// without racing Stop/ManageProcesses's own Wait calls on the same
// handles. Returns the pids reaped, for caller-side telemetry.
func (w *Watcher) ReapExited(ctx context.Context) []int {
	w.mu.Lock()
	handles := make([]backend.Handle, 0, len(w.processes))
	for _, p := range w.processes {
		handles = append(handles, p.Handle)
	}
	w.mu.Unlock()

	var reaped []int
	for _, h := range handles {
		if w.be.Alive(h) {
			continue
		}
		status, err := w.be.Wait(ctx, h)
		if err != nil {
			continue
		}
		w.ReapProcess(h.Pid, status)
		reaped = append(reaped, h.Pid)
	}
	return reaped
}

func (w *Watcher) spawnOne(ctx context.Context) error {
	w.mu.Lock()
	if w.crash != nil && w.crash.quarantined(time.Now()) {
		w.mu.Unlock()
		w.pub.Publish(events.Event{Type: events.WatcherQuarantine, Watcher: w.cfg.Name})
		return fmt.Errorf("watcher %q: quarantined after repeated crashes", w.cfg.Name)
	}
	cmd, extra, err := w.substituteSockets()
	if err != nil {
		w.mu.Unlock()
		return err
	}
	spec := backend.ProcessSpec{
		Watcher:    w.cfg.Name,
		Cmd:        cmd,
		CopyEnv:    w.cfg.CopyEnv,
		CopyPath:   w.cfg.CopyPath,
		ExtraFiles: extra,
	}
	if w.crash != nil {
		w.crash.recordStart(time.Now())
	}
	w.mu.Unlock()

	h, err := w.be.Spawn(ctx, spec)
	if err != nil {
		return fmt.Errorf("watcher %q: spawn: %w", w.cfg.Name, err)
	}

	w.mu.Lock()
	w.processes[h.Pid] = &ProcessRecord{Handle: h, StartedAt: time.Now()}
	w.stopped = false
	w.mu.Unlock()

	w.pub.Publish(events.Event{Type: events.WatcherSpawned, Watcher: w.cfg.Name, Pid: h.Pid})
	return nil
}

// substituteSockets resolves circus.sockets.<name> references in the
// watcher's command line to inherited file descriptors, matching the
// original implementation's socket substitution convention.
func (w *Watcher) substituteSockets() (string, []*os.File, error) {
	if len(w.cfg.UseSockets) == 0 || w.sockets == nil {
		return w.cfg.Cmd, nil, nil
	}
	cmd := w.cfg.Cmd
	var extra []*os.File
	for _, name := range w.cfg.UseSockets {
		marker := "circus.sockets." + strings.ToLower(name)
		if !strings.Contains(strings.ToLower(cmd), marker) {
			continue
		}
		s, ok := w.sockets.Get(name)
		if !ok || !s.Bound() {
			return "", nil, fmt.Errorf("watcher %q: references unbound socket %q", w.cfg.Name, name)
		}
		f, err := s.File()
		if err != nil {
			return "", nil, fmt.Errorf("watcher %q: socket %q: %w", w.cfg.Name, name, err)
		}
		extra = append(extra, f)
		// ExtraFiles[i] is fd 3+i in the child.
		fd := strconv.Itoa(2 + len(extra))
		for i := strings.Index(strings.ToLower(cmd), marker); i >= 0; i = strings.Index(strings.ToLower(cmd), marker) {
			cmd = cmd[:i] + fd + cmd[i+len(marker):]
		}
	}
	return cmd, extra, nil
}

func (w *Watcher) numProcesses() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.numProcessesLocked()
}

func (w *Watcher) numProcessesLocked() int { return len(w.processes) }

// targetLocked returns the watcher's effective target pool size: a
// singleton watcher is pinned at 1 regardless of its configured
// NumProcesses (glossary: "Singleton watcher").
func (w *Watcher) targetLocked() int {
	if w.cfg.Singleton {
		return 1
	}
	target := w.cfg.NumProcesses
	if target <= 0 {
		target = 1
	}
	return target
}

func (w *Watcher) anyHandle() (backend.Handle, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	pids := make([]int, 0, len(w.processes))
	for pid := range w.processes {
		pids = append(pids, pid)
	}
	if len(pids) == 0 {
		return backend.Handle{}, false
	}
	sort.Ints(pids)
	return w.processes[pids[len(pids)-1]].Handle, true
}
