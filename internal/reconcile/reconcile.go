// Package reconcile implements the configuration reconciler (spec
// component C6): given a running Target and a path to the desired
// config, it computes the diff between running and desired state and
// applies it with minimal disruption — restarting only the watchers and
// sockets whose configuration actually changed.
//
// Target is defined here, not imported from package arbiter, so the two
// packages stay acyclic: arbiter.Arbiter.ReloadConfig calls into this
// package, and *arbiter.Arbiter satisfies Target structurally.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/procwatch/arbiter/internal/config"
	"github.com/procwatch/arbiter/internal/fsys"
)

// ErrConfigConflict is returned when a watcher would be left referencing
// a socket that no longer exists (REDESIGN FLAG: orphan check runs
// before any watcher mutation, spec.md §9 Open Question #2).
var ErrConfigConflict = errors.New("reconcile: config conflict")

// Target is the running state the reconciler drives. Every method here
// is implemented by *arbiter.Arbiter.
type Target interface {
	// CurrentConfig returns the full config last applied.
	CurrentConfig() *config.Config

	// SocketNames returns registered socket names, case preserved.
	SocketNames() []string
	// SocketCfg returns the running config snapshot for one socket.
	SocketCfg(name string) (config.SocketConfig, bool)
	// AddSocket registers and binds one new socket.
	AddSocket(cfg config.SocketConfig) error
	// RemoveSocket closes and unregisters one socket.
	RemoveSocket(name string)

	// WatcherCfg returns the running config snapshot for one watcher,
	// keyed case-insensitively.
	WatcherCfg(name string) (config.WatcherConfig, bool)
	// WatcherNamesLower returns every registered watcher's lowercased
	// name.
	WatcherNamesLower() []string
	// AddWatcher constructs and registers a watcher (not started).
	AddWatcher(cfg config.WatcherConfig) error
	// RmWatcher stops and unregisters a watcher.
	RmWatcher(ctx context.Context, name string) error
	// StartWatcher starts an already-registered watcher.
	StartWatcher(ctx context.Context, name string) error
	// SetNumProcesses resizes a running watcher's pool in place
	// (REDESIGN FLAG: numprocesses-only optimization, spec.md §9 Open
	// Question #1).
	SetNumProcesses(name string, n int) error

	// FullRestart reconstructs all running state from cfg, for when the
	// top-level ArbiterCfg itself has changed.
	FullRestart(ctx context.Context, cfg *config.Config) error
}

// RevisionTarget is an optional extension of Target: a Target that can
// also report and record the bundle revision (internal/config.Revision)
// of the config it last applied. When t implements it, Reconcile skips
// the diff-and-apply pass entirely if the newly loaded config's bundle
// is byte-for-byte identical to the one already applied, short-
// circuiting the (cheap but unnecessary) recompute of planSockets/
// planWatchers on every tick of an armed fsnotify watch.
type RevisionTarget interface {
	Target
	CurrentRevision() string
	SetRevision(rev string)
}

// Reconcile loads the config at path and converges t to match it.
func Reconcile(ctx context.Context, t Target, fs fsys.FS, path string) error {
	newCfg, prov, err := config.Load(fs, path)
	if err != nil {
		return fmt.Errorf("reconcile: loading config: %w", err)
	}

	rt, tracksRevision := t.(RevisionTarget)
	if tracksRevision {
		rev := config.Revision(fs, prov)
		if rev == rt.CurrentRevision() {
			return nil
		}
		defer func() {
			if err == nil {
				rt.SetRevision(rev)
			}
		}()
	}

	err = apply(ctx, t, newCfg)
	return err
}

// apply runs the twelve-step diff-and-converge algorithm of spec.md
// §4.6 against an already-loaded config.
func apply(ctx context.Context, t Target, newCfg *config.Config) error {
	cur := t.CurrentConfig()
	if !cur.ArbiterCfg().Equal(newCfg.ArbiterCfg()) {
		return t.FullRestart(ctx, newCfg)
	}

	sockPlan := planSockets(t, newCfg)
	watchPlan := planWatchers(t, newCfg, sockPlan)

	// Orphan check (step 9): fail before any watcher mutation if a
	// watcher that would remain registered still references a socket
	// being deleted. A watcher that is itself being removed in this same
	// reconcile (in watchPlan.del and not re-added) does not "keep
	// existing", so it must not trip the conflict.
	for lname := range sockPlan.watchersOnDeletedSocket {
		if !watchPlan.add[lname] && !watchPlan.del[lname] {
			return fmt.Errorf("%w: watcher %q references a deleted socket", ErrConfigConflict, lname)
		}
	}

	// Sockets converge fully before any watcher mutation (ordering
	// invariant, spec.md §5).
	for lname := range sockPlan.del {
		t.RemoveSocket(lname)
	}
	for _, sc := range sockPlan.add {
		if err := t.AddSocket(sc); err != nil {
			return fmt.Errorf("reconcile: adding socket %q: %w", sc.Name, err)
		}
	}

	for lname, n := range watchPlan.numProcessesOnly {
		if err := t.SetNumProcesses(lname, n); err != nil {
			return fmt.Errorf("reconcile: resizing watcher %q: %w", lname, err)
		}
	}
	for lname := range watchPlan.del {
		name := lname
		if wc, ok := t.WatcherCfg(lname); ok {
			name = wc.Name
		}
		if err := t.RmWatcher(ctx, name); err != nil {
			return fmt.Errorf("reconcile: removing watcher %q: %w", lname, err)
		}
	}
	for lname := range watchPlan.add {
		wc, ok := watchPlan.newByName[lname]
		if !ok {
			continue
		}
		if err := t.AddWatcher(wc); err != nil {
			return fmt.Errorf("reconcile: adding watcher %q: %w", lname, err)
		}
		if err := t.StartWatcher(ctx, wc.Name); err != nil {
			return fmt.Errorf("reconcile: starting watcher %q: %w", lname, err)
		}
	}

	return nil
}

type socketPlan struct {
	add map[string]config.SocketConfig // name -> desired cfg, to (re)bind
	del map[string]bool                // name -> true, to remove

	// watchersOnDeletedSocket/watchersOnChangedSocket are lowercased
	// watcher names whose cmd references a socket in del/add
	// respectively (spec.md §4.6 steps 4 and "cascade" design note).
	watchersOnDeletedSocket map[string]bool
	watchersOnChangedSocket map[string]bool
}

func planSockets(t Target, newCfg *config.Config) socketPlan {
	plan := socketPlan{
		add:                     map[string]config.SocketConfig{},
		del:                     map[string]bool{},
		watchersOnDeletedSocket: map[string]bool{},
		watchersOnChangedSocket: map[string]bool{},
	}

	curNames := t.SocketNames()
	curSet := make(map[string]bool, len(curNames))
	for _, n := range curNames {
		curSet[n] = true
	}
	newByName := make(map[string]config.SocketConfig, len(newCfg.Sockets))
	for _, sc := range newCfg.Sockets {
		newByName[sc.Name] = sc
	}

	for name, sc := range newByName {
		if !curSet[name] {
			plan.add[name] = sc
		}
	}
	for name := range curSet {
		if _, ok := newByName[name]; !ok {
			plan.del[name] = true
		}
	}
	// Smaybe: present in both; a differing cfg is a delete+add (rebind).
	for name := range curSet {
		nc, inNew := newByName[name]
		if !inNew {
			continue
		}
		oc, ok := t.SocketCfg(name)
		if !ok || oc.CfgEqual(nc) {
			continue
		}
		plan.del[name] = true
		plan.add[name] = nc
	}

	for _, wname := range t.WatcherNamesLower() {
		wc, ok := t.WatcherCfg(wname)
		if !ok {
			continue
		}
		for name := range plan.del {
			if referencesSocket(wc, name) {
				plan.watchersOnDeletedSocket[wname] = true
			}
		}
		for name := range plan.add {
			if referencesSocket(wc, name) {
				plan.watchersOnChangedSocket[wname] = true
			}
		}
	}

	return plan
}

type watcherPlan struct {
	add              map[string]bool // lowercased name -> construct+start
	del              map[string]bool // lowercased name -> stop+unregister
	numProcessesOnly map[string]int  // lowercased name -> new numprocesses
	newByName        map[string]config.WatcherConfig
}

func planWatchers(t Target, newCfg *config.Config, sockPlan socketPlan) watcherPlan {
	plan := watcherPlan{
		add:              map[string]bool{},
		del:              map[string]bool{},
		numProcessesOnly: map[string]int{},
		newByName:        map[string]config.WatcherConfig{},
	}
	for _, wc := range newCfg.Watchers {
		plan.newByName[strings.ToLower(wc.Name)] = wc
	}

	curSet := make(map[string]bool)
	for _, n := range t.WatcherNamesLower() {
		curSet[n] = true
	}

	for lname := range plan.newByName {
		if !curSet[lname] {
			plan.add[lname] = true
		}
	}
	for lname := range curSet {
		if _, ok := plan.newByName[lname]; !ok {
			plan.del[lname] = true
		}
	}

	// Watchers whose cmd references a socket that is being rebound are
	// stopped and restarted so they observe the new listener fd, even
	// though their own WatcherConfig is otherwise unchanged (spec.md §9
	// Open Question #5: a watcher referencing a changed socket is always
	// treated as delete+add, never left registered against a stale fd).
	for lname := range sockPlan.watchersOnChangedSocket {
		plan.add[lname] = true
		plan.del[lname] = true
	}

	for lname := range curSet {
		if plan.del[lname] {
			continue
		}
		nc, inNew := plan.newByName[lname]
		if !inNew {
			continue
		}
		oc, ok := t.WatcherCfg(lname)
		if !ok || oc.CfgEqual(nc) {
			continue
		}
		if oc.OnlyNumProcessesDiffers(nc) {
			plan.numProcessesOnly[lname] = nc.NumProcesses
			continue
		}
		plan.del[lname] = true
		plan.add[lname] = true
	}

	return plan
}

// referencesSocket reports whether wc's command substitutes the given
// socket name (matching internal/watcher's own substitution rule:
// lowercased "circus.sockets.<name>" token).
func referencesSocket(wc config.WatcherConfig, socketName string) bool {
	marker := "circus.sockets." + strings.ToLower(socketName)
	return strings.Contains(strings.ToLower(wc.Cmd), marker)
}
