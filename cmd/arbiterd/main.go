// Command arbiterd is the process-arbiter daemon and its thin control-
// plane client, modeled on gc's errExit/run/newRootCmd entrypoint pattern.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// errExit is a sentinel error returned by cobra RunE functions to signal
// non-zero exit. The command has already written its own error to stderr.
var errExit = errors.New("exit")

// configFlag holds the value of the --config persistent flag. Empty
// means "arbiter.toml in the current directory."
var configFlag string

// stateDirFlag holds the value of the --state-dir persistent flag. Empty
// means "derive from the config file's directory."
var stateDirFlag string

// run executes the arbiterd CLI with the given args, writing output to
// stdout and errors to stderr. Returns the exit code.
func run(args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(stdout, stderr)
	if args == nil {
		args = []string{}
	}
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	if err := root.Execute(); err != nil {
		return 1
	}
	return 0
}

// newRootCmd creates the root cobra command with all subcommands.
func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "arbiterd",
		Short:         "arbiterd — process arbiter daemon and control-plane client",
		SilenceErrors: true,
		SilenceUsage:  true,
		Args:          cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return cmd.Help()
			}
			fmt.Fprintf(stderr, "arbiterd: unknown command %q\n", args[0]) //nolint:errcheck // best-effort stderr
			return errExit
		},
	}
	root.PersistentFlags().StringVar(&configFlag, "config", "",
		"path to the arbiter config file (default: arbiter.toml in cwd)")
	root.PersistentFlags().StringVar(&stateDirFlag, "state-dir", "",
		"directory for the daemon lock, PID file, log, and control socket "+
			"(default: .arbiter next to the config file)")
	root.CompletionOptions.DisableDefaultCmd = true
	root.AddCommand(
		newDaemonCmd(stdout, stderr),
		newReloadConfigCmd(stdout, stderr),
		newAddCmd(stdout, stderr),
		newRmCmd(stdout, stderr),
		newStartCmd(stdout, stderr),
		newStopCmd(stdout, stderr),
		newRestartCmd(stdout, stderr),
		newReloadCmd(stdout, stderr),
		newStatusCmd(stdout, stderr),
		newListCmd(stdout, stderr),
		newNumWatchersCmd(stdout, stderr),
		newNumProcessesCmd(stdout, stderr),
		newVersionCmd(stdout),
	)
	return root
}

// resolveConfigPath resolves the config file path from an optional
// positional arg, --config, or the default "arbiter.toml" in cwd.
func resolveConfigPath(args []string) (string, error) {
	var p string
	switch {
	case len(args) > 0:
		p = args[0]
	case configFlag != "":
		p = configFlag
	default:
		p = "arbiter.toml"
	}
	return filepath.Abs(p)
}

// resolveStateDir derives the daemon's state directory from the config
// path unless --state-dir overrides it.
func resolveStateDir(configPath string) (string, error) {
	if stateDirFlag != "" {
		return filepath.Abs(stateDirFlag)
	}
	return filepath.Join(filepath.Dir(configPath), ".arbiter"), nil
}

// controlSocketPath returns the control-plane Unix socket path for stateDir.
func controlSocketPath(stateDir string) string {
	return filepath.Join(stateDir, "control.sock")
}

// pubsubSocketPath returns the event pubsub Unix socket path for stateDir
// (spec.md §6 "Event endpoint"). Like the control socket, this binds a
// fixed path under the daemon's own state directory rather than a literal
// network address named by Config.PubsubEndpoint, which this
// implementation treats purely as part of ArbiterCfg's identity subset
// (see internal/reconcile) rather than a dialable address.
func pubsubSocketPath(stateDir string) string {
	return filepath.Join(stateDir, "pubsub.sock")
}

// pidFilePath returns the daemon PID file path for stateDir.
func pidFilePath(stateDir string) string {
	return filepath.Join(stateDir, "daemon.pid")
}

// logFilePath returns the daemon log file path for stateDir.
func logFilePath(stateDir string) string {
	return filepath.Join(stateDir, "daemon.log")
}

// eventsLogPath returns the JSONL audit-log path for stateDir.
func eventsLogPath(stateDir string) string {
	return filepath.Join(stateDir, "events.jsonl")
}
