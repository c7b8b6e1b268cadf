// Package backend abstracts the mechanism a watcher uses to spawn and
// supervise its children, so the same watcher state machine (package
// watcher) can drive either local OS processes or Kubernetes Pods.
//
// This is a domain-stack addition: spec.md specifies the Watcher
// contract as an external collaborator and is silent on *how* children
// are realized. A production supervisor that must run the same fleet
// config across a laptop and a cluster needs exactly this seam.
package backend

import (
	"context"
	"os"
)

// ProcessSpec describes one child to spawn.
type ProcessSpec struct {
	Watcher string            // owning watcher name, for labeling/env
	Cmd     string             // command line, possibly containing circus.sockets.<name>
	Env     map[string]string
	CopyEnv bool
	CopyPath bool

	// ExtraFiles are file descriptors to pass to the child beyond
	// stdin/stdout/stderr, in order (used for inherited sockets). Only
	// meaningful to the exec backend.
	ExtraFiles []*os.File
}

// Handle identifies a spawned child to its backend.
type Handle struct {
	// Pid is the OS process id for the exec backend, or a synthetic
	// negative identifier for backends (such as k8s) with no OS pid.
	Pid int
	// Opaque carries backend-specific state (e.g. a pod name) that
	// round-trips through Signal/Wait/Alive without the watcher needing
	// to understand it.
	Opaque string
}

// ExitStatus is a backend-neutral terminal state for a child. Unlike
// os.ProcessState, it has no unexported fields, so every backend
// (including ones with no OS pid, like k8s) can construct one directly.
type ExitStatus struct {
	ExitCode int
	Signaled bool
	Signal   os.Signal
}

// Success reports whether the child exited cleanly.
func (s ExitStatus) Success() bool { return !s.Signaled && s.ExitCode == 0 }

// Backend spawns and supervises one child process on behalf of a
// watcher. Implementations must be safe for concurrent use across
// different Handles.
type Backend interface {
	// Spawn starts one child per spec and returns its Handle.
	Spawn(ctx context.Context, spec ProcessSpec) (Handle, error)

	// Signal delivers sig to the child. Implementations map sig to
	// their own idiom (e.g. pod deletion for SIGKILL).
	Signal(ctx context.Context, h Handle, sig os.Signal) error

	// Wait blocks until the child exits and returns its terminal state.
	// Cancelling ctx unblocks Wait with ctx.Err(); the child is not
	// killed.
	Wait(ctx context.Context, h Handle) (ExitStatus, error)

	// Alive reports whether the child is still running, without
	// blocking.
	Alive(h Handle) bool
}
