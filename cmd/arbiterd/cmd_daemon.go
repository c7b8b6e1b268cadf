package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"regexp"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"text/template"
	"time"

	"github.com/spf13/cobra"

	"github.com/procwatch/arbiter/internal/arbiter"
	"github.com/procwatch/arbiter/internal/config"
	"github.com/procwatch/arbiter/internal/controlplane"
	"github.com/procwatch/arbiter/internal/daemonlock"
	"github.com/procwatch/arbiter/internal/events"
	"github.com/procwatch/arbiter/internal/fsys"

	_ "github.com/procwatch/arbiter/internal/backend/exec"
	_ "github.com/procwatch/arbiter/internal/backend/k8s"
)

// newDaemonCmd creates the "arbiterd daemon" command group with run,
// start, stop, status, logs, install, and uninstall subcommands.
func newDaemonCmd(stdout, stderr io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Manage the arbiter daemon (background supervisor)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
	cmd.AddCommand(
		newDaemonRunCmd(stdout, stderr),
		newDaemonStartCmd(stdout, stderr),
		newDaemonStopCmd(stdout, stderr),
		newDaemonStatusCmd(stdout, stderr),
		newDaemonLogsCmd(stdout, stderr),
		newDaemonInstallCmd(stdout, stderr),
		newDaemonUninstallCmd(stdout, stderr),
	)
	return cmd
}

// newDaemonRunCmd creates the "arbiterd daemon run" subcommand —
// foreground supervisor with log-file output.
func newDaemonRunCmd(stdout, stderr io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "run [config]",
		Short: "Run the arbiter in the foreground (with log file)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			if doDaemonRun(args, stdout, stderr) != 0 {
				return errExit
			}
			return nil
		},
	}
}

// doDaemonRun runs the arbiter in the foreground, tee-ing output to both
// stdout and <state-dir>/daemon.log.
func doDaemonRun(args []string, stdout, stderr io.Writer) int {
	configPath, err := resolveConfigPath(args)
	if err != nil {
		fmt.Fprintf(stderr, "arbiterd daemon run: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}
	stateDir, err := resolveStateDir(configPath)
	if err != nil {
		fmt.Fprintf(stderr, "arbiterd daemon run: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		fmt.Fprintf(stderr, "arbiterd daemon run: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}

	logFile, err := os.OpenFile(logFilePath(stateDir), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		fmt.Fprintf(stderr, "arbiterd daemon run: opening log: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}
	defer logFile.Close() //nolint:errcheck // best-effort cleanup

	logWriter := io.MultiWriter(stdout, logFile)
	return runArbiter(configPath, stateDir, logWriter, stderr)
}

// runArbiter acquires the daemon lock, constructs and starts the
// arbiter with its control plane bound, and blocks until SIGINT/SIGTERM
// cancels the run (SIGHUP reloads the config instead). Grounded on
// cmd/gc/controller.go's runController (lock → signal handling → serve →
// graceful shutdown shape).
func runArbiter(configPath, stateDir string, stdout, stderr io.Writer) int {
	lock, err := daemonlock.Acquire(stateDir)
	if err != nil {
		fmt.Fprintf(stderr, "arbiterd: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}
	defer lock.Close() //nolint:errcheck // best-effort cleanup

	cfg, prov, err := config.Load(fsys.OSFS{}, configPath)
	if err != nil {
		fmt.Fprintf(stderr, "arbiterd: loading config: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}

	rec, err := events.NewFileRecorder(eventsLogPath(stateDir), stderr)
	if err != nil {
		fmt.Fprintf(stderr, "arbiterd: opening event log: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}
	pub := events.NewBroadcaster(rec)

	a, err := arbiter.New(cfg, configPath, fsys.OSFS{}, pub)
	if err != nil {
		fmt.Fprintf(stderr, "arbiterd: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}
	ctrl := controlplane.New(a, controlSocketPath(stateDir))
	a.BindControlPlane(ctrl)
	a.EnableConfigWatch(config.WatchDirs(prov))

	pubsub := events.NewPubsubServer(pub, pubsubSocketPath(stateDir))

	if err := os.WriteFile(pidFilePath(stateDir), []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		fmt.Fprintf(stderr, "arbiterd: writing PID file: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}
	defer os.Remove(pidFilePath(stateDir)) //nolint:errcheck // best-effort cleanup

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	hupCh := make(chan os.Signal, 1)
	signal.Notify(hupCh, syscall.SIGHUP)
	go func() {
		for {
			select {
			case <-hupCh:
				if err := a.ReloadConfig(ctx); err != nil {
					fmt.Fprintf(stderr, "arbiterd: SIGHUP reload: %v\n", err) //nolint:errcheck // best-effort stderr
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		if err := pubsub.Serve(ctx); err != nil {
			fmt.Fprintf(stderr, "arbiterd: pubsub: %v\n", err) //nolint:errcheck // best-effort stderr
		}
	}()
	defer pubsub.Close() //nolint:errcheck // best-effort cleanup

	fmt.Fprintln(stdout, "arbiter started.") //nolint:errcheck // best-effort stdout
	err = a.Start(ctx)
	fmt.Fprintln(stdout, "arbiter stopped.") //nolint:errcheck // best-effort stdout
	if err != nil && ctx.Err() == nil {
		fmt.Fprintf(stderr, "arbiterd: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}
	return 0
}

// newDaemonStartCmd creates the "arbiterd daemon start" subcommand —
// background fork.
func newDaemonStartCmd(stdout, stderr io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "start [config]",
		Short: "Start the daemon in the background",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			if doDaemonStart(args, stdout, stderr) != 0 {
				return errExit
			}
			return nil
		},
	}
}

// doDaemonStart forks a background "arbiterd daemon run" process.
func doDaemonStart(args []string, stdout, stderr io.Writer) int {
	configPath, err := resolveConfigPath(args)
	if err != nil {
		fmt.Fprintf(stderr, "arbiterd daemon start: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}
	stateDir, err := resolveStateDir(configPath)
	if err != nil {
		fmt.Fprintf(stderr, "arbiterd daemon start: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}

	// Pre-check: try to acquire the lock to see if a daemon is already running.
	lock, err := daemonlock.Acquire(stateDir)
	if err != nil {
		fmt.Fprintf(stderr, "arbiterd daemon start: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}
	lock.Close() //nolint:errcheck // releasing pre-check lock

	exePath, err := os.Executable()
	if err != nil {
		fmt.Fprintf(stderr, "arbiterd daemon start: finding executable: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}

	child := exec.Command(exePath, "--config", configPath, "--state-dir", stateDir, "daemon", "run")
	child.SysProcAttr = daemonSysProcAttr()
	child.Stdin = nil
	child.Stdout = nil
	child.Stderr = nil

	if err := child.Start(); err != nil {
		fmt.Fprintf(stderr, "arbiterd daemon start: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}
	childPID := child.Process.Pid

	time.Sleep(200 * time.Millisecond)
	lock2, err := daemonlock.Acquire(stateDir)
	if err == nil {
		lock2.Close()                                                                         //nolint:errcheck // cleanup
		fmt.Fprintln(stderr, "arbiterd daemon start: child process failed to acquire lock") //nolint:errcheck // best-effort stderr
		return 1
	}

	pid := readDaemonPID(stateDir)
	if pid != 0 && pid != childPID {
		fmt.Fprintf(stderr, "arbiterd daemon start: PID mismatch (expected %d, got %d)\n", childPID, pid) //nolint:errcheck // best-effort stderr
		return 1
	}

	fmt.Fprintf(stdout, "Daemon started (PID %d)\n", childPID) //nolint:errcheck // best-effort stdout
	return 0
}

// newDaemonStopCmd creates the "arbiterd daemon stop" subcommand.
func newDaemonStopCmd(stdout, stderr io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "stop [config]",
		Short: "Stop the running daemon",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			if doDaemonStop(args, stdout, stderr) != 0 {
				return errExit
			}
			return nil
		},
	}
}

func doDaemonStop(args []string, stdout, stderr io.Writer) int {
	configPath, err := resolveConfigPath(args)
	if err != nil {
		fmt.Fprintf(stderr, "arbiterd daemon stop: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}
	stateDir, err := resolveStateDir(configPath)
	if err != nil {
		fmt.Fprintf(stderr, "arbiterd daemon stop: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}
	pid := readDaemonPID(stateDir)
	if pid == 0 || !isDaemonAlive(pid) {
		fmt.Fprintln(stderr, "arbiterd daemon stop: no daemon is running") //nolint:errcheck // best-effort stderr
		return 1
	}
	if err := stopControllerViaSocket(stateDir); err != nil {
		fmt.Fprintf(stderr, "arbiterd daemon stop: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}
	fmt.Fprintln(stdout, "Daemon stopping...") //nolint:errcheck // best-effort stdout
	return 0
}

// newDaemonStatusCmd creates the "arbiterd daemon status" subcommand.
func newDaemonStatusCmd(stdout, stderr io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "status [config]",
		Short: "Show daemon status (PID, liveness)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			if doDaemonStatus(args, stdout, stderr) != 0 {
				return errExit
			}
			return nil
		},
	}
}

func doDaemonStatus(args []string, stdout, stderr io.Writer) int {
	configPath, err := resolveConfigPath(args)
	if err != nil {
		fmt.Fprintf(stderr, "arbiterd daemon status: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}
	stateDir, err := resolveStateDir(configPath)
	if err != nil {
		fmt.Fprintf(stderr, "arbiterd daemon status: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}

	pid := readDaemonPID(stateDir)
	if pid == 0 || !isDaemonAlive(pid) {
		if pid != 0 {
			os.Remove(pidFilePath(stateDir)) //nolint:errcheck // best-effort cleanup
		}
		fmt.Fprintln(stdout, "Daemon is not running") //nolint:errcheck // best-effort stdout
		return 1
	}
	fmt.Fprintf(stdout, "Daemon is running (PID %d)\n", pid) //nolint:errcheck // best-effort stdout
	return 0
}

// newDaemonLogsCmd creates the "arbiterd daemon logs" subcommand.
func newDaemonLogsCmd(stdout, stderr io.Writer) *cobra.Command {
	var numLines int
	var follow bool
	cmd := &cobra.Command{
		Use:   "logs [config]",
		Short: "Tail the daemon log file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			if doDaemonLogs(args, numLines, follow, stdout, stderr) != 0 {
				return errExit
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&numLines, "lines", "n", 50, "number of lines to show")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "follow log output")
	return cmd
}

func doDaemonLogs(args []string, numLines int, follow bool, stdout, stderr io.Writer) int {
	configPath, err := resolveConfigPath(args)
	if err != nil {
		fmt.Fprintf(stderr, "arbiterd daemon logs: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}
	stateDir, err := resolveStateDir(configPath)
	if err != nil {
		fmt.Fprintf(stderr, "arbiterd daemon logs: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}

	logPath := logFilePath(stateDir)
	if _, err := os.Stat(logPath); os.IsNotExist(err) {
		fmt.Fprintf(stderr, "arbiterd daemon logs: log file not found: %s\n", logPath) //nolint:errcheck // best-effort stderr
		return 1
	}

	tailArgs := []string{"-n", strconv.Itoa(numLines)}
	if follow {
		tailArgs = append(tailArgs, "-f")
	}
	tailArgs = append(tailArgs, logPath)

	tailCmd := exec.Command("tail", tailArgs...)
	tailCmd.Stdout = stdout
	tailCmd.Stderr = stderr
	if err := tailCmd.Run(); err != nil {
		fmt.Fprintf(stderr, "arbiterd daemon logs: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}
	return 0
}

// newDaemonInstallCmd creates the "arbiterd daemon install" subcommand.
func newDaemonInstallCmd(stdout, stderr io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "install [config]",
		Short: "Install the daemon as a platform service (launchd/systemd)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			if doDaemonInstall(args, stdout, stderr) != 0 {
				return errExit
			}
			return nil
		},
	}
}

func doDaemonInstall(args []string, stdout, stderr io.Writer) int {
	data, err := buildSupervisorData(args)
	if err != nil {
		fmt.Fprintf(stderr, "arbiterd daemon install: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}
	switch runtime.GOOS {
	case "darwin":
		return installLaunchd(data, stdout, stderr)
	case "linux":
		return installSystemd(data, stdout, stderr)
	default:
		fmt.Fprintf(stderr, "arbiterd daemon install: not supported on %s\n", runtime.GOOS) //nolint:errcheck // best-effort stderr
		return 1
	}
}

// newDaemonUninstallCmd creates the "arbiterd daemon uninstall" subcommand.
func newDaemonUninstallCmd(stdout, stderr io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall [config]",
		Short: "Remove the platform service (launchd/systemd)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			if doDaemonUninstall(args, stdout, stderr) != 0 {
				return errExit
			}
			return nil
		},
	}
}

func doDaemonUninstall(args []string, stdout, stderr io.Writer) int {
	data, err := buildSupervisorData(args)
	if err != nil {
		fmt.Fprintf(stderr, "arbiterd daemon uninstall: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}
	switch runtime.GOOS {
	case "darwin":
		return uninstallLaunchd(data, stdout, stderr)
	case "linux":
		return uninstallSystemd(data, stdout, stderr)
	default:
		fmt.Fprintf(stderr, "arbiterd daemon uninstall: not supported on %s\n", runtime.GOOS) //nolint:errcheck // best-effort stderr
		return 1
	}
}

// --- Helpers ---

// readDaemonPID reads the PID from <state-dir>/daemon.pid. Returns 0 if
// the file is missing, empty, or unparseable.
func readDaemonPID(stateDir string) int {
	data, err := os.ReadFile(pidFilePath(stateDir))
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0
	}
	return pid
}

// stopControllerViaSocket stops the running daemon. Stopping the arbiter
// itself is not a control-plane command; daemon shutdown is driven by
// signal, not the control socket (circus itself separates "stop the
// arbiter" from individual watcher commands). It reads the daemon's PID
// file and sends that process SIGTERM; the control socket is not dialed.
func stopControllerViaSocket(stateDir string) error {
	pid := readDaemonPID(stateDir)
	if pid == 0 {
		return fmt.Errorf("no PID file at %s", pidFilePath(stateDir))
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return proc.Signal(syscall.SIGTERM)
}

// supervisorData holds template variables for platform service files.
type supervisorData struct {
	ExePath    string
	ConfigPath string
	StateDir   string
	SafeName   string // sanitized for service file names
	LogPath    string
}

func buildSupervisorData(args []string) (*supervisorData, error) {
	configPath, err := resolveConfigPath(args)
	if err != nil {
		return nil, err
	}
	stateDir, err := resolveStateDir(configPath)
	if err != nil {
		return nil, err
	}
	exePath, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("finding executable: %w", err)
	}
	return &supervisorData{
		ExePath:    exePath,
		ConfigPath: configPath,
		StateDir:   stateDir,
		SafeName:   sanitizeServiceName(filepath.Base(filepath.Dir(configPath))),
		LogPath:    logFilePath(stateDir),
	}, nil
}

// sanitizeServiceName converts a name to a safe string for use in
// service file names and identifiers. Lowercase, non-alnum replaced with
// hyphens, trimmed.
func sanitizeServiceName(name string) string {
	name = strings.ToLower(name)
	re := regexp.MustCompile(`[^a-z0-9]+`)
	name = re.ReplaceAllString(name, "-")
	return strings.Trim(name, "-")
}

// --- Platform service templates ---

const launchdPlistTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
    <key>Label</key>
    <string>com.procwatch.arbiterd.{{.SafeName}}</string>
    <key>ProgramArguments</key>
    <array>
        <string>{{.ExePath}}</string>
        <string>--config</string>
        <string>{{.ConfigPath}}</string>
        <string>--state-dir</string>
        <string>{{.StateDir}}</string>
        <string>daemon</string>
        <string>run</string>
    </array>
    <key>RunAtLoad</key>
    <true/>
    <key>KeepAlive</key>
    <dict>
        <key>Crashed</key>
        <true/>
        <key>SuccessfulExit</key>
        <false/>
    </dict>
    <key>StandardOutPath</key>
    <string>{{.LogPath}}</string>
    <key>StandardErrorPath</key>
    <string>{{.LogPath}}</string>
</dict>
</plist>
`

const systemdServiceTemplate = `[Unit]
Description=process arbiter daemon for {{.SafeName}}

[Service]
Type=simple
ExecStart={{.ExePath}} --config {{.ConfigPath}} --state-dir {{.StateDir}} daemon run
Restart=always
RestartSec=5s
StandardOutput=append:{{.LogPath}}
StandardError=append:{{.LogPath}}

[Install]
WantedBy=default.target
`

func renderTemplate(tmplStr string, data *supervisorData) (string, error) {
	tmpl, err := template.New("service").Parse(tmplStr)
	if err != nil {
		return "", err
	}
	var buf strings.Builder
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func launchdPlistPath(safeName string) string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, "Library", "LaunchAgents",
		fmt.Sprintf("com.procwatch.arbiterd.%s.plist", safeName))
}

func systemdServicePath(safeName string) string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "systemd", "user",
		fmt.Sprintf("arbiterd-%s.service", safeName))
}

func installLaunchd(data *supervisorData, stdout, stderr io.Writer) int {
	content, err := renderTemplate(launchdPlistTemplate, data)
	if err != nil {
		fmt.Fprintf(stderr, "arbiterd daemon install: rendering plist: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}

	plistPath := launchdPlistPath(data.SafeName)
	if err := os.MkdirAll(filepath.Dir(plistPath), 0o755); err != nil {
		fmt.Fprintf(stderr, "arbiterd daemon install: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}
	if err := os.WriteFile(plistPath, []byte(content), 0o644); err != nil {
		fmt.Fprintf(stderr, "arbiterd daemon install: writing plist: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}

	exec.Command("launchctl", "unload", plistPath).Run() //nolint:errcheck // best-effort
	if err := exec.Command("launchctl", "load", plistPath).Run(); err != nil {
		fmt.Fprintf(stderr, "arbiterd daemon install: launchctl load: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}

	fmt.Fprintf(stdout, "Installed launchd service: %s\n", plistPath) //nolint:errcheck // best-effort stdout
	return 0
}

func uninstallLaunchd(data *supervisorData, stdout, stderr io.Writer) int {
	plistPath := launchdPlistPath(data.SafeName)
	exec.Command("launchctl", "unload", plistPath).Run() //nolint:errcheck // best-effort
	if err := os.Remove(plistPath); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(stderr, "arbiterd daemon uninstall: removing plist: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}
	fmt.Fprintf(stdout, "Uninstalled launchd service: %s\n", plistPath) //nolint:errcheck // best-effort stdout
	return 0
}

func installSystemd(data *supervisorData, stdout, stderr io.Writer) int {
	content, err := renderTemplate(systemdServiceTemplate, data)
	if err != nil {
		fmt.Fprintf(stderr, "arbiterd daemon install: rendering unit: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}

	unitPath := systemdServicePath(data.SafeName)
	if err := os.MkdirAll(filepath.Dir(unitPath), 0o755); err != nil {
		fmt.Fprintf(stderr, "arbiterd daemon install: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}
	if err := os.WriteFile(unitPath, []byte(content), 0o644); err != nil {
		fmt.Fprintf(stderr, "arbiterd daemon install: writing unit: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}

	serviceName := fmt.Sprintf("arbiterd-%s.service", data.SafeName)
	for _, args := range [][]string{
		{"--user", "daemon-reload"},
		{"--user", "enable", serviceName},
		{"--user", "start", serviceName},
	} {
		if err := exec.Command("systemctl", args...).Run(); err != nil {
			fmt.Fprintf(stderr, "arbiterd daemon install: systemctl %s: %v\n", strings.Join(args, " "), err) //nolint:errcheck // best-effort stderr
			return 1
		}
	}

	fmt.Fprintf(stdout, "Installed systemd service: %s\n", unitPath) //nolint:errcheck // best-effort stdout
	return 0
}

func uninstallSystemd(data *supervisorData, stdout, stderr io.Writer) int {
	serviceName := fmt.Sprintf("arbiterd-%s.service", data.SafeName)
	unitPath := systemdServicePath(data.SafeName)

	exec.Command("systemctl", "--user", "stop", serviceName).Run()    //nolint:errcheck // best-effort
	exec.Command("systemctl", "--user", "disable", serviceName).Run() //nolint:errcheck // best-effort

	if err := os.Remove(unitPath); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(stderr, "arbiterd daemon uninstall: removing unit: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}

	exec.Command("systemctl", "--user", "daemon-reload").Run() //nolint:errcheck // best-effort

	fmt.Fprintf(stdout, "Uninstalled systemd service: %s\n", unitPath) //nolint:errcheck // best-effort stdout
	return 0
}
