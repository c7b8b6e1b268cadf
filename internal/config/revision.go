package config

import (
	"crypto/sha256"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/procwatch/arbiter/internal/fsys"
)

// Revision computes a deterministic bundle hash from all resolved config
// source files (the root file plus every included fragment). If the
// revision changes between two loads, the effective config may have
// changed and a reload is warranted.
func Revision(fs fsys.FS, prov *Provenance) string {
	h := sha256.New()

	sources := make([]string, len(prov.Sources))
	copy(sources, prov.Sources)
	sort.Strings(sources)
	for _, path := range sources {
		data, err := fs.ReadFile(path)
		if err != nil {
			continue
		}
		h.Write([]byte(path)) //nolint:errcheck // hash.Write never errors
		h.Write([]byte{0})    //nolint:errcheck // hash.Write never errors
		h.Write(data)         //nolint:errcheck // hash.Write never errors
		h.Write([]byte{0})    //nolint:errcheck // hash.Write never errors
	}

	return fmt.Sprintf("%x", h.Sum(nil))
}

// WatchDirs returns the deduplicated, sorted set of directories that
// should be watched for config changes: the directory of every source
// file that contributed to the composed config.
func WatchDirs(prov *Provenance) []string {
	seen := make(map[string]bool)
	var dirs []string

	for _, src := range prov.Sources {
		dir := filepath.Dir(src)
		if dir != "" && !seen[dir] {
			seen[dir] = true
			dirs = append(dirs, dir)
		}
	}

	sort.Strings(dirs)
	return dirs
}
