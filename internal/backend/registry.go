package backend

import "fmt"

// Factory constructs a Backend by name. Registered by each backend
// implementation's package via Register, so internal/arbiter can select
// a backend by config string without importing exec or k8s directly
// (so the arbiter package itself does not depend on k8s's client-go
// stack).
type Factory func() (Backend, error)

var factories = make(map[string]Factory)

// Register adds a named backend factory. Called from each backend
// implementation's package init.
func Register(name string, f Factory) {
	factories[name] = f
}

// Build constructs the named backend, or returns an error if name is
// unregistered. The empty string selects "exec".
func Build(name string) (Backend, error) {
	if name == "" {
		name = "exec"
	}
	f, ok := factories[name]
	if !ok {
		return nil, fmt.Errorf("backend: unknown backend %q", name)
	}
	return f()
}
