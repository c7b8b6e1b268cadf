package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSanitizeServiceName(t *testing.T) {
	cases := map[string]string{
		"My App":        "my-app",
		"foo_bar.baz":   "foo-bar-baz",
		"  leading  ":   "leading",
		"already-clean": "already-clean",
		"---":           "",
	}
	for in, want := range cases {
		if got := sanitizeServiceName(in); got != want {
			t.Errorf("sanitizeServiceName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestReadDaemonPID_NoFileReturnsZero(t *testing.T) {
	dir := t.TempDir()
	if pid := readDaemonPID(dir); pid != 0 {
		t.Fatalf("readDaemonPID with no PID file = %d, want 0", pid)
	}
}

func TestReadDaemonPID_ParsesFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(pidFilePath(dir), []byte("1234\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if pid := readDaemonPID(dir); pid != 1234 {
		t.Fatalf("readDaemonPID = %d, want 1234", pid)
	}
}

func TestReadDaemonPID_GarbageReturnsZero(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(pidFilePath(dir), []byte("not-a-pid"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if pid := readDaemonPID(dir); pid != 0 {
		t.Fatalf("readDaemonPID with garbage content = %d, want 0", pid)
	}
}

func TestBuildSupervisorData(t *testing.T) {
	orig, origState := configFlag, stateDirFlag
	defer func() { configFlag, stateDirFlag = orig, origState }()

	dir := t.TempDir()
	configPath := filepath.Join(dir, "arbiter.toml")
	if err := os.WriteFile(configPath, []byte(""), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	configFlag = configPath
	stateDirFlag = ""

	data, err := buildSupervisorData(nil)
	if err != nil {
		t.Fatalf("buildSupervisorData: %v", err)
	}
	if data.ConfigPath != configPath {
		t.Fatalf("ConfigPath = %q, want %q", data.ConfigPath, configPath)
	}
	if data.StateDir != filepath.Join(dir, ".arbiter") {
		t.Fatalf("StateDir = %q, want %q", data.StateDir, filepath.Join(dir, ".arbiter"))
	}
	if data.SafeName == "" {
		t.Fatalf("SafeName is empty")
	}
}

func TestIsDaemonAlive_UnknownPIDIsFalseEventually(t *testing.T) {
	// PID 0 is never a real running arbiterd process in any of our
	// environments; this just exercises the code path without asserting
	// on a specific live PID (which would be flaky across platforms).
	if isDaemonAlive(0) {
		t.Skip("platform reports pid 0 as alive; not exercising further")
	}
}
