// Package controlplane implements the arbiter's control socket (spec
// component C4): a Unix-domain socket accepting newline-delimited JSON
// commands and replying with newline-delimited JSON responses, modeled
// on the gc controller's stop-command socket but generalized to the
// full circus-style command set.
package controlplane

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"sync"

	"github.com/procwatch/arbiter/internal/config"
	"github.com/procwatch/arbiter/internal/telemetry"
	"github.com/procwatch/arbiter/internal/watcher"
)

// Commander is the subset of the arbiter core the control plane drives.
// Defined here (not imported from package arbiter) so arbiter can depend
// on controlplane without a import cycle.
type Commander interface {
	AddWatcher(cfg config.WatcherConfig) error
	RmWatcher(ctx context.Context, name string) error
	StartWatcher(ctx context.Context, name string) error
	StopWatcher(ctx context.Context, name string) error
	RestartWatcher(ctx context.Context, name string) error
	ReloadWatcher(ctx context.Context, name string, graceful bool) error
	ReloadConfig(ctx context.Context) error
	SetNumProcesses(name string, n int) error
	NumProcesses(name string) (int, error)
	NumWatchers() int
	Statuses() map[string]watcher.Status
	WatcherNames() []string
	WatcherCfg(name string) (config.WatcherConfig, bool)
}

// WatcherStats is the per-watcher payload of a "stats" reply: coarse
// lifecycle status plus the live process count. The core does not run
// a statistics-collector itself (spec.md §1 names that an out-of-scope
// external watcher); this is what the arbiter already knows without one.
type WatcherStats struct {
	Status    watcher.Status `json:"status"`
	Processes int            `json:"processes"`
}

// Command is one request read from the control socket.
type Command struct {
	Command string `json:"command"`
	Name    string `json:"name,omitempty"`
	// NumProcesses is a pointer so "numprocesses" without a count (a
	// read) is distinguishable on the wire from "numprocesses" with an
	// explicit count of 0 (a write that drains the pool to zero).
	NumProcesses *int                  `json:"numprocesses,omitempty"`
	Graceful     bool                  `json:"graceful,omitempty"`
	Watcher      *config.WatcherConfig `json:"watcher,omitempty"` // full definition for "add"
}

// Response is one reply written to the control socket.
type Response struct {
	Status string `json:"status"` // "ok" or "error"
	Error  string `json:"error,omitempty"`
	Data   any    `json:"data,omitempty"`
}

// Controller serves the control socket.
type Controller struct {
	cmd  Commander
	path string

	mu  sync.Mutex
	lis net.Listener
}

// New constructs a Controller bound to sockPath, dispatching to cmd.
func New(cmd Commander, sockPath string) *Controller {
	return &Controller{cmd: cmd, path: sockPath}
}

// Serve listens on the control socket and handles connections until ctx
// is cancelled, at which point the listener is closed and Serve returns.
func (c *Controller) Serve(ctx context.Context) error {
	os.Remove(c.path) //nolint:errcheck // stale socket cleanup from a previous crash
	lis, err := net.Listen("unix", c.path)
	if err != nil {
		return fmt.Errorf("controlplane: listening on %s: %w", c.path, err)
	}
	c.mu.Lock()
	c.lis = lis
	c.mu.Unlock()

	go func() {
		<-ctx.Done()
		lis.Close() //nolint:errcheck // unblocks Accept below
	}()

	for {
		conn, err := lis.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("controlplane: accept: %w", err)
			}
		}
		go c.handleConn(ctx, conn)
	}
}

func (c *Controller) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close() //nolint:errcheck // best-effort cleanup

	scanner := bufio.NewScanner(conn)
	enc := json.NewEncoder(conn)
	for scanner.Scan() {
		var cmd Command
		if err := json.Unmarshal(scanner.Bytes(), &cmd); err != nil {
			enc.Encode(Response{Status: "error", Error: "malformed command: " + err.Error()}) //nolint:errcheck // best-effort reply
			continue
		}
		resp := c.dispatch(ctx, cmd)
		telemetry.RecordControlCommand(ctx, cmd.Command, respErr(resp))
		enc.Encode(resp) //nolint:errcheck // best-effort reply; client disconnect is not our error
	}
}

func respErr(r Response) error {
	if r.Status == "error" {
		return fmt.Errorf("%s", r.Error)
	}
	return nil
}

func (c *Controller) dispatch(ctx context.Context, cmd Command) Response {
	switch cmd.Command {
	case "add":
		wc := config.WatcherConfig{Name: cmd.Name}
		if cmd.Watcher != nil {
			wc = *cmd.Watcher
			if wc.Name == "" {
				wc.Name = cmd.Name
			}
		}
		return c.errOrOK(c.cmd.AddWatcher(wc))
	case "rm":
		return c.errOrOK(c.cmd.RmWatcher(ctx, cmd.Name))
	case "start":
		return c.errOrOK(c.cmd.StartWatcher(ctx, cmd.Name))
	case "stop":
		return c.errOrOK(c.cmd.StopWatcher(ctx, cmd.Name))
	case "restart":
		return c.errOrOK(c.cmd.RestartWatcher(ctx, cmd.Name))
	case "reload":
		return c.errOrOK(c.cmd.ReloadWatcher(ctx, cmd.Name, cmd.Graceful))
	case "reloadconfig":
		return c.errOrOK(c.cmd.ReloadConfig(ctx))
	case "numprocesses":
		if cmd.NumProcesses != nil {
			return c.errOrOK(c.cmd.SetNumProcesses(cmd.Name, *cmd.NumProcesses))
		}
		n, err := c.cmd.NumProcesses(cmd.Name)
		if err != nil {
			return Response{Status: "error", Error: err.Error()}
		}
		return Response{Status: "ok", Data: n}
	case "numwatchers":
		return Response{Status: "ok", Data: c.cmd.NumWatchers()}
	case "list":
		return Response{Status: "ok", Data: c.cmd.WatcherNames()}
	case "status":
		return Response{Status: "ok", Data: c.cmd.Statuses()}
	case "get":
		wc, ok := c.cmd.WatcherCfg(cmd.Name)
		if !ok {
			return Response{Status: "error", Error: fmt.Sprintf("no such watcher %q", cmd.Name)}
		}
		return Response{Status: "ok", Data: wc}
	case "set":
		if cmd.NumProcesses == nil {
			return Response{Status: "error", Error: "set: only numprocesses is settable at runtime"}
		}
		return c.errOrOK(c.cmd.SetNumProcesses(cmd.Name, *cmd.NumProcesses))
	case "stats":
		return Response{Status: "ok", Data: c.stats()}
	default:
		return Response{Status: "error", Error: fmt.Sprintf("unknown command %q", cmd.Command)}
	}
}

// stats builds the "stats" command's reply: every watcher's status
// joined with its live process count.
func (c *Controller) stats() map[string]WatcherStats {
	statuses := c.cmd.Statuses()
	out := make(map[string]WatcherStats, len(statuses))
	for name, st := range statuses {
		n, _ := c.cmd.NumProcesses(name) //nolint:errcheck // name came from Statuses(), always found
		out[name] = WatcherStats{Status: st, Processes: n}
	}
	return out
}

func (c *Controller) errOrOK(err error) Response {
	if err != nil {
		return Response{Status: "error", Error: err.Error()}
	}
	return Response{Status: "ok"}
}

// Close closes the listening socket, if open.
func (c *Controller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lis == nil {
		return nil
	}
	return c.lis.Close()
}
