// Package daemonlock enforces that at most one arbiter instance runs
// against a given state directory at a time, via an exclusive flock.
package daemonlock

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// Lock is a held exclusive lock on a state directory. Release via Close.
type Lock struct {
	fl *flock.Flock
}

// Acquire takes an exclusive, non-blocking lock on <stateDir>/arbiter.lock.
// Returns an error if another arbiter instance already holds it.
func Acquire(stateDir string) (*Lock, error) {
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("daemonlock: creating state dir: %w", err)
	}
	path := filepath.Join(stateDir, "arbiter.lock")
	fl := flock.New(path)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("daemonlock: locking %s: %w", path, err)
	}
	if !ok {
		return nil, fmt.Errorf("daemonlock: another arbiter instance is already running against %s", stateDir)
	}
	return &Lock{fl: fl}, nil
}

// Close releases the lock.
func (l *Lock) Close() error {
	return l.fl.Unlock()
}
