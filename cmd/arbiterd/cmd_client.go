package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"sort"

	"github.com/spf13/cobra"

	"github.com/procwatch/arbiter/internal/config"
)

// clientCommand is the wire shape sent to the control socket. Mirrors
// controlplane.Command without importing the package's Commander
// dependency graph into the CLI binary's hot path.
type clientCommand struct {
	Command      string                `json:"command"`
	Name         string                `json:"name,omitempty"`
	NumProcesses *int                  `json:"numprocesses,omitempty"`
	Graceful     bool                  `json:"graceful,omitempty"`
	Watcher      *config.WatcherConfig `json:"watcher,omitempty"`
}

// clientResponse is the wire shape read back from the control socket.
type clientResponse struct {
	Status string          `json:"status"`
	Error  string          `json:"error,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// dialControl sends cmd to the control socket at path and returns the
// decoded reply.
func dialControl(path string, cmd clientCommand) (clientResponse, error) {
	conn, err := net.Dial("unix", path)
	if err != nil {
		return clientResponse{}, fmt.Errorf("connecting to %s: %w (is the daemon running?)", path, err)
	}
	defer conn.Close() //nolint:errcheck // best-effort cleanup

	if err := json.NewEncoder(conn).Encode(cmd); err != nil {
		return clientResponse{}, fmt.Errorf("sending command: %w", err)
	}
	scanner := bufio.NewScanner(conn)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return clientResponse{}, fmt.Errorf("reading reply: %w", err)
		}
		return clientResponse{}, fmt.Errorf("reading reply: connection closed with no response")
	}
	var resp clientResponse
	if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
		return clientResponse{}, fmt.Errorf("decoding reply: %w", err)
	}
	return resp, nil
}

// runControlCommand resolves the control socket path from the
// --config/--state-dir flags (args is not consulted), sends
// cmd, and prints either its data payload or a formatted error. printData,
// if non-nil, is used to render a successful response's Data; otherwise
// "ok" is printed on success.
func runControlCommand(args []string, cmd clientCommand, stdout, stderr io.Writer, printData func(io.Writer, json.RawMessage) error) int {
	configPath, err := resolveConfigPath(nil)
	if err != nil {
		fmt.Fprintf(stderr, "arbiterd: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}
	stateDir, err := resolveStateDir(configPath)
	if err != nil {
		fmt.Fprintf(stderr, "arbiterd: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}
	_ = args // reserved: per-watcher commands set cmd.Name themselves

	resp, err := dialControl(controlSocketPath(stateDir), cmd)
	if err != nil {
		fmt.Fprintf(stderr, "arbiterd %s: %v\n", cmd.Command, err) //nolint:errcheck // best-effort stderr
		return 1
	}
	if resp.Status != "ok" {
		fmt.Fprintf(stderr, "arbiterd %s: %s\n", cmd.Command, resp.Error) //nolint:errcheck // best-effort stderr
		return 1
	}
	if printData != nil && len(resp.Data) > 0 {
		if err := printData(stdout, resp.Data); err != nil {
			fmt.Fprintf(stderr, "arbiterd %s: %v\n", cmd.Command, err) //nolint:errcheck // best-effort stderr
			return 1
		}
		return 0
	}
	fmt.Fprintln(stdout, "ok") //nolint:errcheck // best-effort stdout
	return 0
}

// ---------------------------------------------------------------------------
// arbiterd reloadconfig
// ---------------------------------------------------------------------------

func newReloadConfigCmd(stdout, stderr io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "reloadconfig",
		Short: "Reconcile the running arbiter against the config file on disk",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, args []string) error {
			if runControlCommand(args, clientCommand{Command: "reloadconfig"}, stdout, stderr, nil) != 0 {
				return errExit
			}
			return nil
		},
	}
}

// ---------------------------------------------------------------------------
// arbiterd add <name> <cmd>
// ---------------------------------------------------------------------------

func newAddCmd(stdout, stderr io.Writer) *cobra.Command {
	var numProcesses int
	var priority int
	var singleton bool
	cmd := &cobra.Command{
		Use:   "add <name> <cmd>",
		Short: "Add a new watcher at runtime",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			wc := config.WatcherConfig{
				Name:         args[0],
				Cmd:          args[1],
				NumProcesses: numProcesses,
				Priority:     priority,
				Singleton:    singleton,
			}
			if runControlCommand(args, clientCommand{Command: "add", Name: wc.Name, Watcher: &wc}, stdout, stderr, nil) != 0 {
				return errExit
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&numProcesses, "numprocesses", 1, "number of child processes")
	cmd.Flags().IntVar(&priority, "priority", 0, "start/stop ordering priority")
	cmd.Flags().BoolVar(&singleton, "singleton", false, "pin numprocesses to 1")
	return cmd
}

// ---------------------------------------------------------------------------
// arbiterd rm <name>
// ---------------------------------------------------------------------------

func newRmCmd(stdout, stderr io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <name>",
		Short: "Stop and remove a watcher",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			if runControlCommand(args, clientCommand{Command: "rm", Name: args[0]}, stdout, stderr, nil) != 0 {
				return errExit
			}
			return nil
		},
	}
}

// ---------------------------------------------------------------------------
// arbiterd start <name>
// ---------------------------------------------------------------------------

func newStartCmd(stdout, stderr io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "start <name>",
		Short: "Start a watcher's processes",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			if runControlCommand(args, clientCommand{Command: "start", Name: args[0]}, stdout, stderr, nil) != 0 {
				return errExit
			}
			return nil
		},
	}
}

// ---------------------------------------------------------------------------
// arbiterd stop <name>
// ---------------------------------------------------------------------------

func newStopCmd(stdout, stderr io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "stop <name>",
		Short: "Stop a watcher's processes",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			if runControlCommand(args, clientCommand{Command: "stop", Name: args[0]}, stdout, stderr, nil) != 0 {
				return errExit
			}
			return nil
		},
	}
}

// ---------------------------------------------------------------------------
// arbiterd restart <name>
// ---------------------------------------------------------------------------

func newRestartCmd(stdout, stderr io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "restart <name>",
		Short: "Stop then start a watcher's processes",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			if runControlCommand(args, clientCommand{Command: "restart", Name: args[0]}, stdout, stderr, nil) != 0 {
				return errExit
			}
			return nil
		},
	}
}

// ---------------------------------------------------------------------------
// arbiterd reload <name> [--graceful]
// ---------------------------------------------------------------------------

func newReloadCmd(stdout, stderr io.Writer) *cobra.Command {
	var graceful bool
	cmd := &cobra.Command{
		Use:   "reload <name>",
		Short: "Reload a watcher's processes",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			if runControlCommand(args, clientCommand{Command: "reload", Name: args[0], Graceful: graceful}, stdout, stderr, nil) != 0 {
				return errExit
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&graceful, "graceful", true, "start replacements before retiring old children")
	return cmd
}

// ---------------------------------------------------------------------------
// arbiterd status [name]
// ---------------------------------------------------------------------------

func newStatusCmd(stdout, stderr io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "status [name]",
		Short: "Show watcher status (all watchers if name is omitted)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			if runControlCommand(args, clientCommand{Command: "status"}, stdout, stderr, printStatus(optionalArg(args))) != 0 {
				return errExit
			}
			return nil
		},
	}
}

func optionalArg(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return ""
}

func printStatus(filterName string) func(io.Writer, json.RawMessage) error {
	return func(w io.Writer, data json.RawMessage) error {
		var statuses map[string]string
		if err := json.Unmarshal(data, &statuses); err != nil {
			return err
		}
		names := make([]string, 0, len(statuses))
		for name := range statuses {
			if filterName != "" && name != filterName {
				continue
			}
			names = append(names, name)
		}
		sort.Strings(names)
		if filterName != "" && len(names) == 0 {
			return fmt.Errorf("watcher %q not found", filterName)
		}
		for _, name := range names {
			fmt.Fprintf(w, "%-24s %s\n", name, statuses[name]) //nolint:errcheck // best-effort stdout
		}
		return nil
	}
}

// ---------------------------------------------------------------------------
// arbiterd list
// ---------------------------------------------------------------------------

func newListCmd(stdout, stderr io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List watcher names",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, args []string) error {
			if runControlCommand(args, clientCommand{Command: "list"}, stdout, stderr, printList) != 0 {
				return errExit
			}
			return nil
		},
	}
}

func printList(w io.Writer, data json.RawMessage) error {
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return err
	}
	sort.Strings(names)
	for _, n := range names {
		fmt.Fprintln(w, n) //nolint:errcheck // best-effort stdout
	}
	return nil
}

// ---------------------------------------------------------------------------
// arbiterd numwatchers
// ---------------------------------------------------------------------------

func newNumWatchersCmd(stdout, stderr io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "numwatchers",
		Short: "Print the number of registered watchers",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, args []string) error {
			if runControlCommand(args, clientCommand{Command: "numwatchers"}, stdout, stderr, printInt) != 0 {
				return errExit
			}
			return nil
		},
	}
}

func printInt(w io.Writer, data json.RawMessage) error {
	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	fmt.Fprintln(w, n) //nolint:errcheck // best-effort stdout
	return nil
}

// ---------------------------------------------------------------------------
// arbiterd numprocesses <name> [n]
// ---------------------------------------------------------------------------

func newNumProcessesCmd(stdout, stderr io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "numprocesses <name> [n]",
		Short: "Get or set a watcher's target process count",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(_ *cobra.Command, args []string) error {
			cmd := clientCommand{Command: "numprocesses", Name: args[0]}
			var printData func(io.Writer, json.RawMessage) error
			if len(args) == 2 {
				n, err := parsePositiveInt(args[1])
				if err != nil {
					fmt.Fprintf(stderr, "arbiterd numprocesses: %v\n", err) //nolint:errcheck // best-effort stderr
					return errExit
				}
				cmd.NumProcesses = &n
			} else {
				printData = printInt
			}
			if runControlCommand(args, cmd, stdout, stderr, printData) != 0 {
				return errExit
			}
			return nil
		},
	}
}

func parsePositiveInt(s string) (int, error) {
	var n int
	if _, err := fmt.Sscanf(s, "%d", &n); err != nil {
		return 0, fmt.Errorf("invalid process count %q", s)
	}
	if n < 0 {
		return 0, fmt.Errorf("process count must be non-negative, got %d", n)
	}
	return n, nil
}
