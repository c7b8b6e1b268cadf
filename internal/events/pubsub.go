package events

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"sync"
)

// PubsubServer exposes a [Publisher]'s event stream on a Unix-domain
// socket (spec.md §6 "Event endpoint"): every connection gets its own
// subscription and receives newline-delimited JSON events for as long as
// it stays connected. There is no delivery guarantee — a client that
// reconnects after a gap is expected to reconcile with a status query,
// not replay missed events (spec.md §1 Non-goals).
type PubsubServer struct {
	pub  Publisher
	path string

	mu  sync.Mutex
	lis net.Listener
}

// NewPubsubServer constructs a server that republishes pub's events on
// the Unix socket at path.
func NewPubsubServer(pub Publisher, path string) *PubsubServer {
	return &PubsubServer{pub: pub, path: path}
}

// Serve listens on the pubsub socket and streams events to every
// connection until ctx is cancelled, at which point the listener closes
// and Serve returns.
func (s *PubsubServer) Serve(ctx context.Context) error {
	os.Remove(s.path) //nolint:errcheck // stale socket cleanup from a previous crash
	lis, err := net.Listen("unix", s.path)
	if err != nil {
		return fmt.Errorf("events: pubsub listening on %s: %w", s.path, err)
	}
	s.mu.Lock()
	s.lis = lis
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		lis.Close() //nolint:errcheck // unblocks Accept below
	}()

	for {
		conn, err := lis.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("events: pubsub accept: %w", err)
			}
		}
		go s.serveConn(ctx, conn)
	}
}

func (s *PubsubServer) serveConn(ctx context.Context, conn net.Conn) {
	defer conn.Close() //nolint:errcheck // best-effort cleanup

	ch, unsubscribe := s.pub.Subscribe()
	defer unsubscribe()

	enc := json.NewEncoder(conn)
	for {
		select {
		case e, ok := <-ch:
			if !ok {
				return
			}
			if err := enc.Encode(e); err != nil {
				return // client gone or buffer full; drop the subscription
			}
		case <-ctx.Done():
			return
		}
	}
}

// Close closes the listening socket, if open.
func (s *PubsubServer) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lis == nil {
		return nil
	}
	return s.lis.Close()
}
