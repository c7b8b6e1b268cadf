// Package config defines the arbiter's declarative configuration model
// and the TOML loader that produces it.
//
// Config is an immutable snapshot of intent: sockets, watchers, plugins,
// and the arbiter's own identity settings (see [ArbiterCfg]). Loading
// supports multi-file composition via the top-level include list (see
// compose.go) and
// change detection via [Revision].
package config

import (
	"fmt"
	"reflect"

	"github.com/BurntSushi/toml"
	"github.com/procwatch/arbiter/internal/fsys"
)

// Config is the full declarative intent the reconciler diffs against.
type Config struct {
	Endpoint       string   `toml:"endpoint"`
	PubsubEndpoint string   `toml:"pubsub_endpoint"`
	StatsEndpoint  string   `toml:"stats_endpoint,omitempty"`
	CheckDelay     float64  `toml:"check_delay"`
	WarmupDelay    float64  `toml:"warmup_delay"`
	PrereloadFn    string   `toml:"prereload_fn,omitempty"`
	SSHServer      string   `toml:"ssh_server,omitempty"`
	Debug          bool     `toml:"debug"`
	ProcName       string   `toml:"proc_name,omitempty"`
	StreamBackend  string   `toml:"stream_backend,omitempty"`
	Httpd          bool     `toml:"httpd"`
	HttpdHost      string   `toml:"httpd_host,omitempty"`
	HttpdPort      int      `toml:"httpd_port,omitempty"`
	Includes       []string `toml:"include,omitempty"`

	Sockets  []SocketConfig  `toml:"socket"`
	Watchers []WatcherConfig `toml:"watcher"`
	Plugins  []PluginConfig  `toml:"plugin,omitempty"`
}

// SocketConfig describes one named, bindable listen socket.
type SocketConfig struct {
	Name    string `toml:"name"`
	Host    string `toml:"host,omitempty"`
	Port    int    `toml:"port,omitempty"`
	Path    string `toml:"path,omitempty"`
	Family  string `toml:"family,omitempty"` // "unix", "tcp", "tcp4", "tcp6"
	Type    string `toml:"type,omitempty"`   // "stream", "dgram"
	Backlog int    `toml:"backlog,omitempty"`
}

// WatcherConfig describes one named group of child processes.
type WatcherConfig struct {
	Name          string   `toml:"name"`
	Cmd           string   `toml:"cmd"`
	NumProcesses  int      `toml:"numprocesses"`
	Priority      int      `toml:"priority,omitempty"`
	Singleton     bool     `toml:"singleton,omitempty"`
	UseSockets    []string `toml:"use_sockets,omitempty"`
	CopyEnv       bool     `toml:"copy_env,omitempty"`
	CopyPath      bool     `toml:"copy_path,omitempty"`
	StdoutStream  string   `toml:"stdout_stream,omitempty"`
	StderrStream  string   `toml:"stderr_stream,omitempty"`
	StreamBackend string   `toml:"stream_backend,omitempty"`

	// Backend selects the process backend this watcher's children run
	// under: "exec" (default, local OS processes) or "k8s" (Pods). See
	// internal/backend.
	Backend string `toml:"backend,omitempty"`
}

// PluginConfig describes one named plugin. Plugins take part in the
// ArbiterCfg identity comparison only; the arbiter starts no watcher or
// process for them.
type PluginConfig struct {
	Name   string            `toml:"name"`
	Config map[string]string `toml:"config,omitempty"`
}

// ArbiterCfg is the subset of Config that defines the arbiter's own
// identity. If this subset changes across a reload, reconciliation is a
// full restart rather than a diff (spec.md §3, §4.6 step 2).
type ArbiterCfg struct {
	Endpoint       string
	PubsubEndpoint string
	CheckDelay     float64
	PrereloadFn    string
	StatsEndpoint  string
	Plugins        []PluginConfig
	WarmupDelay    float64
	Httpd          bool
	HttpdHost      string
	HttpdPort      int
	Debug          bool
	StreamBackend  string
	SSHServer      string
}

// ArbiterCfg projects Config onto its identity-defining subset.
func (c *Config) ArbiterCfg() ArbiterCfg {
	return ArbiterCfg{
		Endpoint:       c.Endpoint,
		PubsubEndpoint: c.PubsubEndpoint,
		CheckDelay:     c.CheckDelay,
		PrereloadFn:    c.PrereloadFn,
		StatsEndpoint:  c.StatsEndpoint,
		Plugins:        c.Plugins,
		WarmupDelay:    c.WarmupDelay,
		Httpd:          c.Httpd,
		HttpdHost:      c.HttpdHost,
		HttpdPort:      c.HttpdPort,
		Debug:          c.Debug,
		StreamBackend:  c.StreamBackend,
		SSHServer:      c.SSHServer,
	}
}

// Equal reports whether two ArbiterCfg values are identical.
func (a ArbiterCfg) Equal(b ArbiterCfg) bool {
	return reflect.DeepEqual(a, b)
}

// CfgEqual reports whether two socket configs are equal for
// reconciliation purposes (spec.md §4.1 cfg2dict).
func (s SocketConfig) CfgEqual(o SocketConfig) bool {
	return reflect.DeepEqual(s, o)
}

// CfgEqual reports whether two watcher configs are equal for
// reconciliation purposes (spec.md §4.2 cfg2dict).
func (w WatcherConfig) CfgEqual(o WatcherConfig) bool {
	return reflect.DeepEqual(w, o)
}

// OnlyNumProcessesDiffers reports whether w and o differ in exactly the
// NumProcesses field and are otherwise identical (REDESIGN FLAG 1).
func (w WatcherConfig) OnlyNumProcessesDiffers(o WatcherConfig) bool {
	if w.NumProcesses == o.NumProcesses {
		return false
	}
	wc, oc := w, o
	wc.NumProcesses, oc.NumProcesses = 0, 0
	return reflect.DeepEqual(wc, oc)
}

// DefaultCheckDelay is applied when CheckDelay is zero.
const DefaultCheckDelay = 1.0

// applyDefaults fills in zero-valued fields with their documented
// defaults (spec.md §3).
func (c *Config) applyDefaults() {
	if c.CheckDelay == 0 {
		c.CheckDelay = DefaultCheckDelay
	}
}

// Load reads and parses the config at path using fs, resolving the
// include list's fragments relative to path's directory. It returns the
// composed Config and a [Provenance] describing every source file that
// contributed, for use with [Revision] and [WatchDirs].
func Load(fs fsys.FS, path string) (*Config, *Provenance, error) {
	return LoadWithIncludes(fs, path)
}

// Parse decodes a single TOML document with no include resolution.
// Exposed mainly for tests that construct an in-memory fragment.
func Parse(data []byte) (*Config, error) {
	cfg, _, err := parseWithMeta(data)
	if err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

func parseWithMeta(data []byte) (*Config, toml.MetaData, error) {
	var cfg Config
	meta, err := toml.Decode(string(data), &cfg)
	if err != nil {
		return nil, meta, fmt.Errorf("decoding config: %w", err)
	}
	// Unknown keys are ignored, but an unknown top-level table is an error.
	for _, key := range meta.Undecoded() {
		if len(key) != 1 {
			continue
		}
		if typ := meta.Type(key...); typ == "Hash" || typ == "ArrayHash" {
			return nil, meta, fmt.Errorf("decoding config: unknown table %q", key.String())
		}
	}
	return &cfg, meta, nil
}

// Marshal renders cfg back to TOML.
func (c *Config) Marshal() ([]byte, error) {
	var buf []byte
	w := &sliceWriter{buf: &buf}
	enc := toml.NewEncoder(w)
	if err := enc.Encode(c); err != nil {
		return nil, fmt.Errorf("encoding config: %w", err)
	}
	return buf, nil
}

type sliceWriter struct{ buf *[]byte }

func (w *sliceWriter) Write(p []byte) (int, error) {
	*w.buf = append(*w.buf, p...)
	return len(p), nil
}
