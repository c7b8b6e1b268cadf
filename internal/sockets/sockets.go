// Package sockets implements the arbiter's socket registry (spec
// component C1): a set of named, already-bound listening sockets that
// watcher children inherit by file descriptor.
package sockets

import (
	"fmt"
	"net"
	"os"
	"sort"
	"strconv"

	"github.com/procwatch/arbiter/internal/config"
)

// Socket is a named, possibly-bound listen socket.
type Socket struct {
	Name string
	Cfg  config.SocketConfig

	listener net.Listener
}

// File returns the socket's file descriptor for inheritance by a spawned
// child, or nil if the socket is not yet bound.
func (s *Socket) File() (*os.File, error) {
	if s.listener == nil {
		return nil, fmt.Errorf("socket %q: not bound", s.Name)
	}
	switch l := s.listener.(type) {
	case *net.TCPListener:
		return l.File()
	case *net.UnixListener:
		return l.File()
	default:
		return nil, fmt.Errorf("socket %q: unsupported listener type %T", s.Name, l)
	}
}

// Bound reports whether the socket has been bound and is listening.
func (s *Socket) Bound() bool { return s.listener != nil }

// Registry owns the full set of named sockets.
type Registry struct {
	byName map[string]*Socket
	order  []string
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{byName: make(map[string]*Socket)}
}

// Add registers s. If a socket with the same name already exists it is
// replaced (callers diffing config are expected to Remove first).
func (r *Registry) Add(s *Socket) {
	if _, exists := r.byName[s.Name]; !exists {
		r.order = append(r.order, s.Name)
	}
	r.byName[s.Name] = s
}

// Remove closes (if bound) and removes the named socket.
func (r *Registry) Remove(name string) {
	s, ok := r.byName[name]
	if !ok {
		return
	}
	if s.listener != nil {
		s.listener.Close() //nolint:errcheck // best-effort close on removal
	}
	delete(r.byName, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Get returns the named socket, if present.
func (r *Registry) Get(name string) (*Socket, bool) {
	s, ok := r.byName[name]
	return s, ok
}

// All returns every socket in insertion order.
func (r *Registry) All() []*Socket {
	out := make([]*Socket, 0, len(r.order))
	for _, n := range r.order {
		out = append(out, r.byName[n])
	}
	return out
}

// Names returns the set of registered socket names.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	sort.Strings(out)
	return out
}

// FromConfig constructs an unbound Socket from a config entry.
func FromConfig(cfg config.SocketConfig) *Socket {
	return &Socket{Name: cfg.Name, Cfg: cfg}
}

// BindAndListenAll binds every socket in the registry that is not yet
// bound. Failure on any one socket stops the operation immediately,
// leaving previously bound sockets open; the caller should call
// CloseAll to clean up on error (spec.md §4.1).
func (r *Registry) BindAndListenAll() error {
	for _, name := range r.order {
		s := r.byName[name]
		if s.Bound() {
			continue
		}
		if err := bindAndListen(s); err != nil {
			return fmt.Errorf("binding socket %q: %w", name, err)
		}
	}
	return nil
}

func bindAndListen(s *Socket) error {
	family := s.Cfg.Family
	if family == "" {
		family = "tcp"
	}
	backlog := s.Cfg.Backlog

	var l net.Listener
	var err error
	switch family {
	case "unix":
		l, err = net.Listen("unix", s.Cfg.Path)
	default:
		addr := net.JoinHostPort(s.Cfg.Host, strconv.Itoa(s.Cfg.Port))
		l, err = net.Listen(family, addr)
	}
	if err != nil {
		return err
	}
	_ = backlog // backlog is advisory; Go's net package manages it internally
	s.listener = l
	return nil
}

// CloseAll idempotently closes every bound socket.
func (r *Registry) CloseAll() {
	for _, name := range r.order {
		s := r.byName[name]
		if s.listener != nil {
			s.listener.Close() //nolint:errcheck // best-effort close on shutdown
			s.listener = nil
		}
	}
}

// CfgEqual reports whether two socket configs are equal for
// reconciliation purposes (spec.md §4.1 cfg2dict).
func CfgEqual(a, b config.SocketConfig) bool {
	return a.CfgEqual(b)
}
