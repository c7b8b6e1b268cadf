package config

import (
	"fmt"
	"path/filepath"

	"github.com/procwatch/arbiter/internal/fsys"
)

// Provenance tracks which source files contributed to a composed
// Config, for use by [Revision] and [WatchDirs].
type Provenance struct {
	Sources []string
}

// LoadWithIncludes loads the TOML document at path, then recursively
// loads every fragment named in its top-level include list (relative to the
// including file's directory), merging each into the accumulator.
// extraIncludes are merged last, after the root document's own
// includes — used by callers that want to layer an override fragment
// on top of a file on disk.
//
// Merge policy (last fragment wins), mirroring the teacher's
// mergeFragment: Sockets and Watchers and Plugins are unioned by name
// (a later fragment's entry with the same name replaces the earlier
// one); scalar ArbiterCfg fields are overwritten only when the fragment's
// value is non-zero, so a fragment cannot reset a scalar to its zero
// value ("", 0 or false).
func LoadWithIncludes(fs fsys.FS, path string, extraIncludes ...string) (*Config, *Provenance, error) {
	prov := &Provenance{}
	seen := make(map[string]bool)

	base, err := loadFragment(fs, path, prov, seen)
	if err != nil {
		return nil, nil, err
	}

	for _, inc := range base.Includes {
		if err := mergeIncludePath(fs, resolveIncludePath(inc, filepath.Dir(path)), base, prov, seen); err != nil {
			return nil, nil, err
		}
	}
	for _, inc := range extraIncludes {
		if err := mergeIncludePath(fs, inc, base, prov, seen); err != nil {
			return nil, nil, err
		}
	}

	base.applyDefaults()
	return base, prov, nil
}

func mergeIncludePath(fs fsys.FS, path string, base *Config, prov *Provenance, seen map[string]bool) error {
	frag, fragProv, err := loadFragmentRecursive(fs, path, prov, seen)
	if err != nil {
		return err
	}
	mergeFragment(base, frag)
	for _, inc := range frag.Includes {
		if err := mergeIncludePath(fs, resolveIncludePath(inc, filepath.Dir(path)), base, prov, seen); err != nil {
			return err
		}
	}
	_ = fragProv
	return nil
}

func loadFragmentRecursive(fs fsys.FS, path string, prov *Provenance, seen map[string]bool) (*Config, *Provenance, error) {
	frag, err := loadFragment(fs, path, prov, seen)
	return frag, prov, err
}

func loadFragment(fs fsys.FS, path string, prov *Provenance, seen map[string]bool) (*Config, error) {
	if seen[path] {
		return nil, fmt.Errorf("config: include cycle detected at %s", path)
	}
	seen[path] = true

	data, err := fs.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	cfg, _, err := parseWithMeta(data)
	if err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	prov.Sources = append(prov.Sources, path)
	return cfg, nil
}

func resolveIncludePath(inc, declDir string) string {
	if filepath.IsAbs(inc) {
		return inc
	}
	return filepath.Join(declDir, inc)
}

// mergeFragment folds fragment's settings into base. Scalars present
// (non-zero) in fragment override base; Sockets/Watchers/Plugins are
// merged by Name, later entries replacing earlier ones.
func mergeFragment(base, fragment *Config) {
	if fragment.Endpoint != "" {
		base.Endpoint = fragment.Endpoint
	}
	if fragment.PubsubEndpoint != "" {
		base.PubsubEndpoint = fragment.PubsubEndpoint
	}
	if fragment.StatsEndpoint != "" {
		base.StatsEndpoint = fragment.StatsEndpoint
	}
	if fragment.CheckDelay != 0 {
		base.CheckDelay = fragment.CheckDelay
	}
	if fragment.WarmupDelay != 0 {
		base.WarmupDelay = fragment.WarmupDelay
	}
	if fragment.PrereloadFn != "" {
		base.PrereloadFn = fragment.PrereloadFn
	}
	if fragment.SSHServer != "" {
		base.SSHServer = fragment.SSHServer
	}
	if fragment.Debug {
		base.Debug = true
	}
	if fragment.ProcName != "" {
		base.ProcName = fragment.ProcName
	}
	if fragment.StreamBackend != "" {
		base.StreamBackend = fragment.StreamBackend
	}
	if fragment.Httpd {
		base.Httpd = true
	}
	if fragment.HttpdHost != "" {
		base.HttpdHost = fragment.HttpdHost
	}
	if fragment.HttpdPort != 0 {
		base.HttpdPort = fragment.HttpdPort
	}

	base.Sockets = mergeSocketsByName(base.Sockets, fragment.Sockets)
	base.Watchers = mergeWatchersByName(base.Watchers, fragment.Watchers)
	base.Plugins = mergePluginsByName(base.Plugins, fragment.Plugins)
}

func mergeSocketsByName(base, frag []SocketConfig) []SocketConfig {
	idx := make(map[string]int, len(base))
	for i, s := range base {
		idx[s.Name] = i
	}
	for _, s := range frag {
		if i, ok := idx[s.Name]; ok {
			base[i] = s
			continue
		}
		idx[s.Name] = len(base)
		base = append(base, s)
	}
	return base
}

func mergeWatchersByName(base, frag []WatcherConfig) []WatcherConfig {
	idx := make(map[string]int, len(base))
	for i, w := range base {
		idx[w.Name] = i
	}
	for _, w := range frag {
		if i, ok := idx[w.Name]; ok {
			base[i] = w
			continue
		}
		idx[w.Name] = len(base)
		base = append(base, w)
	}
	return base
}

func mergePluginsByName(base, frag []PluginConfig) []PluginConfig {
	idx := make(map[string]int, len(base))
	for i, p := range base {
		idx[p.Name] = i
	}
	for _, p := range frag {
		if i, ok := idx[p.Name]; ok {
			base[i] = p
			continue
		}
		idx[p.Name] = len(base)
		base = append(base, p)
	}
	return base
}
