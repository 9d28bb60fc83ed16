package tcpconn

import (
	"context"
	"sync"
	"time"
)

// Registry tracks live TCP connections so shutdown and fault paths can
// close every socket the process has open, including ones whose owning
// code path has stalled.
type Registry struct {
	mu    sync.Mutex
	conns map[*Connection]struct{}
}

// NewRegistry creates an empty connection registry.
func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[*Connection]struct{}),
	}
}

// Len returns the number of currently tracked connections.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// CloseAll closes every tracked connection. Close errors are ignored;
// the point is to release the sockets, not to report on them.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	conns := make([]*Connection, 0, len(r.conns))
	for c := range r.conns {
		conns = append(conns, c)
	}
	r.mu.Unlock()

	for _, c := range conns {
		_ = c.Close() //nolint:errcheck // Best effort teardown
	}
}

// WithConnection opens a setup-bounded connection to addr, runs fn with
// it, and guarantees the connection is closed and deregistered afterwards,
// whether fn returns normally, returns an error, or panics.
//
// This is the preferred way to use short-lived connections: the scoped
// form makes a leak structurally impossible.
func (r *Registry) WithConnection(ctx context.Context, addr string, setupTimeout time.Duration, log Logger, fn func(*Connection) error) error {
	conn, err := Open(ctx, addr, setupTimeout, r, log)
	if err != nil {
		return err
	}
	defer conn.Close() //nolint:errcheck // Idempotent, error surfaced via fn

	return fn(conn)
}

func (r *Registry) add(c *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[c] = struct{}{}
}

func (r *Registry) remove(c *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, c)
}
