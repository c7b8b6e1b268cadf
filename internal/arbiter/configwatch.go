package arbiter

import (
	"context"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/procwatch/arbiter/internal/telemetry"
)

// debounceDelay is the coalesce window for filesystem events: editors
// that rename-swap on save (vim, emacs) fire several events per logical
// change, so the watcher waits for a quiet period before marking the
// config dirty. Tests may override this for faster response.
var debounceDelay = 200 * time.Millisecond

// EnableConfigWatch arms an fsnotify watch over dirs (typically
// config.WatchDirs(prov) for the config most recently loaded by the
// caller): a change to any file in one of these directories sets a dirty
// flag that the next check_delay tick in runLoop notices and turns into
// a ReloadConfig call, so a config edit converges without waiting for an
// explicit "reloadconfig" control command. Grounded on cmd/gc/
// controller.go's watchConfigDirs/dirty-flag pattern (directories, not
// individual files, are watched so the handling survives rename-swap
// saves). Call before Start; a no-op if dirs is empty.
func (a *Arbiter) EnableConfigWatch(dirs []string) {
	a.mu.Lock()
	a.watchDirs = dirs
	a.mu.Unlock()
}

// startConfigWatch starts the fsnotify watcher armed by EnableConfigWatch,
// if any, and returns a cleanup func that is always safe to call (a no-op
// if no watcher was started, either because no directories were armed or
// because fsnotify itself could not be initialized).
func (a *Arbiter) startConfigWatch(ctx context.Context) func() {
	a.mu.Lock()
	dirs := a.watchDirs
	a.mu.Unlock()
	if len(dirs) == 0 {
		return func() {}
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		telemetry.RecordArbiterLifecycle(ctx, "config_watch_unavailable")
		return func() {}
	}
	for _, dir := range dirs {
		if err := w.Add(dir); err != nil {
			telemetry.RecordArbiterLifecycle(ctx, "config_watch_dir_error")
		}
	}

	go func() {
		var debounce *time.Timer
		for {
			select {
			case _, ok := <-w.Events:
				if !ok {
					return
				}
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(debounceDelay, func() {
					a.cfgDirty.Store(true)
				})
			case _, ok := <-w.Errors:
				if !ok {
					return
				}
			}
		}
	}()
	return func() { w.Close() } //nolint:errcheck // best-effort cleanup
}
