// Command genschema generates a JSON Schema for the arbiter's TOML
// config format from internal/config.Config. Run from the repository
// root:
//
//	go run ./cmd/genschema
//
// Output:
//
//	docs/schema/config-schema.json
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/invopop/jsonschema"

	"github.com/procwatch/arbiter/internal/config"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "genschema: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	if _, err := os.Stat("go.mod"); err != nil {
		return fmt.Errorf("must run from repository root (go.mod not found)")
	}
	if err := os.MkdirAll("docs/schema", 0o755); err != nil {
		return fmt.Errorf("creating docs/schema: %w", err)
	}

	r := &jsonschema.Reflector{
		ExpandedStruct: true,
		DoNotReference: true,
	}
	schema := r.Reflect(&config.Config{})

	if err := writeSchema("docs/schema/config-schema.json", schema); err != nil {
		return err
	}
	fmt.Println("Generated:")
	fmt.Println("  docs/schema/config-schema.json")
	return nil
}

// writeSchema writes a JSON Schema to path using an atomic write (temp
// file + rename), grounded on gascity's cmd/genschema writeSchema.
func writeSchema(path string, s *jsonschema.Schema) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", path, err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".genschema-*")
	if err != nil {
		return fmt.Errorf("creating temp file for %s: %w", path, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("closing %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("renaming %s: %w", path, err)
	}
	return nil
}
