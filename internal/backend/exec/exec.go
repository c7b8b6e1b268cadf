// Package exec implements [backend.Backend] over local OS processes via
// os/exec. This is the default backend for every watcher.
package exec

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"

	"github.com/procwatch/arbiter/internal/backend"
	"github.com/procwatch/arbiter/internal/telemetry"
)

// Backend spawns watcher children as local OS processes.
type Backend struct {
	mu    sync.Mutex
	procs map[int]*os.Process
	cmds  map[int]*exec.Cmd
}

// New returns a ready-to-use Backend.
func New() *Backend {
	return &Backend{
		procs: make(map[int]*os.Process),
		cmds:  make(map[int]*exec.Cmd),
	}
}

func init() {
	backend.Register("exec", func() (backend.Backend, error) { return New(), nil })
}

// Spawn implements [backend.Backend].
func (b *Backend) Spawn(_ context.Context, spec backend.ProcessSpec) (backend.Handle, error) {
	fields := strings.Fields(spec.Cmd)
	if len(fields) == 0 {
		return backend.Handle{}, fmt.Errorf("exec backend: empty command")
	}

	cmd := exec.Command(fields[0], fields[1:]...) //nolint:gosec // cmd comes from trusted operator config

	env := buildEnv(spec)
	cmd.Env = env
	cmd.ExtraFiles = spec.ExtraFiles
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return backend.Handle{}, fmt.Errorf("exec backend: starting %q: %w", spec.Cmd, err)
	}

	pid := cmd.Process.Pid
	b.mu.Lock()
	b.procs[pid] = cmd.Process
	b.cmds[pid] = cmd
	b.mu.Unlock()

	telemetry.RecordWatcherStart(context.Background(), spec.Watcher, pid, nil)
	return backend.Handle{Pid: pid}, nil
}

func buildEnv(spec backend.ProcessSpec) []string {
	var env []string
	if spec.CopyEnv {
		env = append(env, os.Environ()...)
	} else if spec.CopyPath {
		if p, ok := os.LookupEnv("PATH"); ok {
			env = append(env, "PATH="+p)
		}
	}
	for k, v := range spec.Env {
		env = append(env, k+"="+v)
	}
	env = append(env, telemetry.OTELEnvForSubprocess(spec.Watcher)...)
	return env
}

// Signal implements [backend.Backend].
func (b *Backend) Signal(_ context.Context, h backend.Handle, sig os.Signal) error {
	b.mu.Lock()
	proc, ok := b.procs[h.Pid]
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("exec backend: pid %d: unknown", h.Pid)
	}
	return proc.Signal(sig)
}

// Wait implements [backend.Backend].
func (b *Backend) Wait(_ context.Context, h backend.Handle) (backend.ExitStatus, error) {
	b.mu.Lock()
	cmd, ok := b.cmds[h.Pid]
	b.mu.Unlock()
	if !ok {
		return backend.ExitStatus{}, fmt.Errorf("exec backend: pid %d: unknown", h.Pid)
	}

	err := cmd.Wait()

	b.mu.Lock()
	delete(b.procs, h.Pid)
	delete(b.cmds, h.Pid)
	b.mu.Unlock()

	if err == nil {
		return backend.ExitStatus{ExitCode: 0}, nil
	}
	var exitErr *exec.ExitError
	if ok := asExitError(err, &exitErr); ok {
		state := exitErr.ProcessState
		return backend.ExitStatus{
			ExitCode: state.ExitCode(),
			Signaled: !state.Exited(),
		}, nil
	}
	return backend.ExitStatus{}, err
}

func asExitError(err error, target **exec.ExitError) bool {
	ee, ok := err.(*exec.ExitError)
	if ok {
		*target = ee
	}
	return ok
}

// Alive implements [backend.Backend].
func (b *Backend) Alive(h backend.Handle) bool {
	b.mu.Lock()
	proc, ok := b.procs[h.Pid]
	b.mu.Unlock()
	if !ok {
		return false
	}
	// Signal 0 probes existence without affecting the process.
	return proc.Signal(syscall.Signal(0)) == nil
}

var _ backend.Backend = (*Backend)(nil)
