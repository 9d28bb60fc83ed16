package tcpconn

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"
)

// Connection wraps a TCP connection whose lifetime is bounded.
//
// A setup timer force-closes the socket if the caller has not finished
// with it within the setup timeout. This prevents a connection opened for
// a handshake or probe from leaking when the code path that should close
// it stalls or is skipped. Close cancels the timer, so a connection closed
// in time never sees the forced close.
type Connection struct {
	net.Conn

	registry   *Registry
	setupTimer *time.Timer

	mu     sync.Mutex
	closed bool
	forced bool
}

// Logger defines the minimal logging interface used by this package.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// Open dials addr and returns a setup-bounded connection registered with
// registry.
//
// The dial itself honours ctx. Once connected, a timer of setupTimeout is
// armed; if the caller has not closed the connection by then, it is force
// closed and removed from the registry. Pass a nil registry to skip
// tracking.
//
// Parameters:
//   - ctx: Context bounding the dial
//   - addr: host:port to connect to
//   - setupTimeout: Deadline for the caller to finish setup and Close
//   - registry: Registry tracking live connections, may be nil
//   - log: Logger for forced-close diagnostics, may be nil
//
// Returns:
//   - *Connection: Connected, registered, setup-bounded connection
//   - error: If the dial fails
func Open(ctx context.Context, addr string, setupTimeout time.Duration, registry *Registry, log Logger) (*Connection, error) {
	if log == nil {
		log = noopLogger{}
	}

	var d net.Dialer
	raw, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("tcpconn: dialling %s: %w", addr, err)
	}

	c := &Connection{
		Conn:     raw,
		registry: registry,
	}
	if registry != nil {
		registry.add(c)
	}

	c.setupTimer = time.AfterFunc(setupTimeout, func() {
		if c.forceClose() {
			log.Warn("tcp connection exceeded setup timeout, force closed",
				"addr", addr, "timeout", setupTimeout)
		}
	})

	return c, nil
}

// Close closes the connection, cancels the setup timer, and removes the
// connection from its registry. Idempotent.
func (c *Connection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	if c.setupTimer != nil {
		c.setupTimer.Stop()
	}
	if c.registry != nil {
		c.registry.remove(c)
	}
	return c.Conn.Close()
}

// ForceClosed reports whether the setup timer fired and closed the
// connection out from under its user.
func (c *Connection) ForceClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.forced
}

// forceClose is the setup timer's close path. Returns true if this call
// actually closed the connection.
func (c *Connection) forceClose() bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	c.closed = true
	c.forced = true
	c.mu.Unlock()

	if c.registry != nil {
		c.registry.remove(c)
	}
	_ = c.Conn.Close() //nolint:errcheck // Forced teardown, nothing to recover
	return true
}
