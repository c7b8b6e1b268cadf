package config

import (
	"testing"

	"github.com/procwatch/arbiter/internal/fsys"
)

func TestParse_AppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
[[watcher]]
name = "worker"
cmd = "run-worker"
numprocesses = 2
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.CheckDelay != DefaultCheckDelay {
		t.Fatalf("CheckDelay = %v, want default %v", cfg.CheckDelay, DefaultCheckDelay)
	}
	if len(cfg.Watchers) != 1 || cfg.Watchers[0].Name != "worker" {
		t.Fatalf("Watchers = %+v, want one entry named worker", cfg.Watchers)
	}
}

func TestParse_ExplicitCheckDelayIsPreserved(t *testing.T) {
	cfg, err := Parse([]byte(`check_delay = 2.5`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.CheckDelay != 2.5 {
		t.Fatalf("CheckDelay = %v, want 2.5", cfg.CheckDelay)
	}
}

func TestWatcherConfig_CfgEqual(t *testing.T) {
	a := WatcherConfig{Name: "worker", Cmd: "run", NumProcesses: 2}
	b := a
	if !a.CfgEqual(b) {
		t.Fatalf("CfgEqual = false, want true for identical configs")
	}
	b.Cmd = "run-other"
	if a.CfgEqual(b) {
		t.Fatalf("CfgEqual = true, want false after Cmd change")
	}
}

func TestWatcherConfig_OnlyNumProcessesDiffers(t *testing.T) {
	a := WatcherConfig{Name: "worker", Cmd: "run", NumProcesses: 2, Priority: 1}
	b := a
	b.NumProcesses = 5
	if !a.OnlyNumProcessesDiffers(b) {
		t.Fatalf("OnlyNumProcessesDiffers = false, want true when only NumProcesses changes")
	}

	c := a
	c.NumProcesses = 5
	c.Cmd = "run-other"
	if a.OnlyNumProcessesDiffers(c) {
		t.Fatalf("OnlyNumProcessesDiffers = true, want false when Cmd also changes")
	}

	d := a
	if a.OnlyNumProcessesDiffers(d) {
		t.Fatalf("OnlyNumProcessesDiffers = true, want false for identical configs (no diff at all)")
	}
}

func TestArbiterCfg_Equal(t *testing.T) {
	cfg1 := &Config{Endpoint: "tcp://127.0.0.1:5555", CheckDelay: 1.0}
	cfg2 := &Config{Endpoint: "tcp://127.0.0.1:5555", CheckDelay: 1.0}
	if !cfg1.ArbiterCfg().Equal(cfg2.ArbiterCfg()) {
		t.Fatalf("ArbiterCfg().Equal = false, want true for identical arbiter-identity fields")
	}

	cfg2.Endpoint = "tcp://127.0.0.1:6666"
	if cfg1.ArbiterCfg().Equal(cfg2.ArbiterCfg()) {
		t.Fatalf("ArbiterCfg().Equal = true, want false after Endpoint change")
	}
}

func TestLoadWithIncludes_MergesFragmentsByName(t *testing.T) {
	fs := fsys.NewFake()
	fs.Files["/etc/arbiter/arbiter.toml"] = []byte(`
include = ["extra.toml"]

[[watcher]]
name = "worker"
cmd = "run-worker"
numprocesses = 1
`)
	fs.Files["/etc/arbiter/extra.toml"] = []byte(`
[[watcher]]
name = "worker"
cmd = "run-worker"
numprocesses = 3

[[watcher]]
name = "cron"
cmd = "run-cron"
`)

	cfg, prov, err := Load(fs, "/etc/arbiter/arbiter.toml")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Watchers) != 2 {
		t.Fatalf("Watchers = %+v, want 2 entries (worker replaced, cron added)", cfg.Watchers)
	}
	var worker WatcherConfig
	for _, w := range cfg.Watchers {
		if w.Name == "worker" {
			worker = w
		}
	}
	if worker.NumProcesses != 3 {
		t.Fatalf("worker.NumProcesses = %d, want 3 (later fragment wins)", worker.NumProcesses)
	}
	if len(prov.Sources) != 2 {
		t.Fatalf("Provenance.Sources = %v, want 2 entries", prov.Sources)
	}
}

func TestLoadWithIncludes_CycleDetected(t *testing.T) {
	fs := fsys.NewFake()
	fs.Files["/a.toml"] = []byte(`include = ["b.toml"]`)
	fs.Files["/b.toml"] = []byte(`include = ["a.toml"]`)

	if _, _, err := Load(fs, "/a.toml"); err == nil {
		t.Fatalf("Load: want include-cycle error, got nil")
	}
}

func TestRevision_ChangesWithContent(t *testing.T) {
	fs := fsys.NewFake()
	fs.Files["/arbiter.toml"] = []byte(`check_delay = 1.0`)
	_, prov, err := Load(fs, "/arbiter.toml")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	rev1 := Revision(fs, prov)

	fs.Files["/arbiter.toml"] = []byte(`check_delay = 2.0`)
	rev2 := Revision(fs, prov)

	if rev1 == rev2 {
		t.Fatalf("Revision did not change after content change")
	}
}

func TestRevision_StableForUnchangedContent(t *testing.T) {
	fs := fsys.NewFake()
	fs.Files["/arbiter.toml"] = []byte(`check_delay = 1.0`)
	_, prov, err := Load(fs, "/arbiter.toml")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if Revision(fs, prov) != Revision(fs, prov) {
		t.Fatalf("Revision not stable across repeated calls with unchanged content")
	}
}

func TestWatchDirs_DedupesAndSorts(t *testing.T) {
	prov := &Provenance{Sources: []string{"/etc/arbiter/b.toml", "/etc/arbiter/a.toml", "/etc/other/c.toml"}}
	dirs := WatchDirs(prov)
	if len(dirs) != 2 || dirs[0] != "/etc/arbiter" || dirs[1] != "/etc/other" {
		t.Fatalf("WatchDirs = %v, want [/etc/arbiter /etc/other]", dirs)
	}
}
