package tcpconn

import (
	"errors"
	"io"
	"net"
	"os"
	"time"
)

// Reader performs deadline-bounded reads from a socket.
//
// Instead of polling a non-blocking socket in a loop, it sets a read
// deadline and issues a single blocking Read. The kernel parks the
// goroutine until data arrives or the deadline passes, so an idle link
// costs no CPU.
type Reader struct {
	// Timeout is the per-read deadline. Zero disables the deadline and
	// the read blocks until data arrives or the peer closes.
	Timeout time.Duration

	// Logger receives diagnostics for error outcomes. May be nil.
	Logger Logger
}

// Read reads up to max bytes from conn.
//
// All non-data outcomes collapse to an empty result:
//   - Deadline expiry returns nil with no error (idle link, normal)
//   - EOF returns nil (peer closed)
//   - Any other error returns nil and is logged
//
// Callers therefore only ever handle "got bytes" or "got nothing", and
// connection-level failures surface through the disconnect path rather
// than through every read site.
func (r *Reader) Read(conn net.Conn, max int) []byte {
	log := r.Logger
	if log == nil {
		log = noopLogger{}
	}
	if max <= 0 {
		return nil
	}

	if r.Timeout > 0 {
		if err := conn.SetReadDeadline(time.Now().Add(r.Timeout)); err != nil {
			log.Warn("setting read deadline failed", "error", err)
			return nil
		}
	}

	buf := make([]byte, max)
	n, err := conn.Read(buf)
	if n > 0 {
		return buf[:n]
	}
	if err != nil {
		switch {
		case errors.Is(err, os.ErrDeadlineExceeded):
			// Nothing arrived within the window. Normal for an idle link.
		case errors.Is(err, io.EOF):
			log.Debug("peer closed connection during read")
		default:
			log.Warn("socket read failed", "error", err)
		}
	}
	return nil
}
