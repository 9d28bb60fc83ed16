package portlock

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

// Lock inspection constants.
const (
	// lsofTimeout bounds the holder identification shell-out. A hung lsof
	// must never stall the reconnect path.
	lsofTimeout = 5 * time.Second
)

// Logger defines the minimal logging interface used by this package.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

// noopLogger is used when no logger is configured.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// LockInfo describes the lock state of a device path at inspection time.
type LockInfo struct {
	// Locked is true when another process holds an exclusive advisory
	// lock on the path.
	Locked bool

	// HolderCommand is the command name of the lock holder, when it could
	// be identified. Empty otherwise.
	HolderCommand string

	// HolderPID is the process ID of the lock holder, or 0 when unknown.
	HolderPID int
}

// commandRunner executes a command and returns its combined output.
// Injectable for tests.
type commandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

// Inspector probes advisory locks on serial device paths.
//
// It answers three questions for the connection manager: is the port
// locked, who holds it, and is the holder this very process (a stale
// handle from an earlier session that we can resolve ourselves).
type Inspector struct {
	log Logger
	run commandRunner
}

// NewInspector creates a port lock inspector.
func NewInspector() *Inspector {
	return &Inspector{
		log: noopLogger{},
		run: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return exec.CommandContext(ctx, name, args...).Output()
		},
	}
}

// SetLogger configures diagnostic logging. Safe to leave unset.
func (i *Inspector) SetLogger(log Logger) {
	if log != nil {
		i.log = log
	}
}

// Inspect probes whether path is exclusively locked by another process.
//
// It opens the path without blocking and attempts a non-blocking exclusive
// flock. EWOULDBLOCK means another process holds the lock. Any lock the
// probe itself acquires is released immediately; Inspect never leaves state
// behind.
//
// A missing path reports unlocked: the caller's open attempt will surface
// the real error with better context.
//
// Parameters:
//   - ctx: Context used to bound holder identification
//   - path: Device path to inspect, e.g. /dev/ttyUSB0
//
// Returns:
//   - LockInfo: Lock state plus holder identity when determinable
//   - error: Only for unexpected probe failures, never for "locked"
func (i *Inspector) Inspect(ctx context.Context, path string) (LockInfo, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_NONBLOCK|unix.O_NOCTTY, 0)
	if err != nil {
		if os.IsNotExist(err) || err == unix.ENOENT {
			i.log.Debug("lock inspect: path absent", "path", path)
			return LockInfo{}, nil
		}
		return LockInfo{}, fmt.Errorf("portlock: opening %s for inspection: %w", path, err)
	}
	defer unix.Close(fd) //nolint:errcheck // Probe descriptor, nothing to recover

	err = unix.Flock(fd, unix.LOCK_EX|unix.LOCK_NB)
	if err == nil {
		// We got the lock, so nobody else held it. Release immediately.
		_ = unix.Flock(fd, unix.LOCK_UN) //nolint:errcheck // Released with fd close anyway
		return LockInfo{}, nil
	}
	if err != unix.EWOULDBLOCK && err != unix.EAGAIN {
		return LockInfo{}, fmt.Errorf("portlock: probing flock on %s: %w", path, err)
	}

	info := LockInfo{Locked: true}
	cmd, pid := i.identifyHolder(ctx, path)
	info.HolderCommand = cmd
	info.HolderPID = pid
	return info, nil
}

// IdentifyHolder returns the command name and PID of the process holding
// path open, using lsof. Returns zero values when identification fails;
// identification is best effort and failure is not an error.
func (i *Inspector) IdentifyHolder(ctx context.Context, path string) (string, int) {
	return i.identifyHolder(ctx, path)
}

func (i *Inspector) identifyHolder(ctx context.Context, path string) (string, int) {
	ctx, cancel := context.WithTimeout(ctx, lsofTimeout)
	defer cancel()

	// -F cn emits machine-readable "p<pid>", "c<command>" lines.
	out, err := i.run(ctx, "lsof", "-F", "cn", path)
	if err != nil {
		// lsof exits non-zero when no process has the file open, and may
		// be absent entirely on minimal images. Neither is fatal.
		i.log.Debug("lock holder identification unavailable", "path", path, "error", err)
		return "", 0
	}
	return parseLsofOutput(string(out))
}

// IsSelfLocked reports whether the lock on path is held by this process.
//
// This happens when an earlier session's device handle was never fully
// released, e.g. after a USB re-enumeration mid-read. The connection
// manager resolves it by closing its own handle rather than waiting out
// a lock that will never clear.
func (i *Inspector) IsSelfLocked(ctx context.Context, path string) bool {
	info, err := i.Inspect(ctx, path)
	if err != nil || !info.Locked {
		return false
	}
	return info.HolderPID == os.Getpid()
}

// parseLsofOutput extracts the first process entry from lsof -F cn output.
func parseLsofOutput(out string) (command string, pid int) {
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if len(line) < 2 {
			continue
		}
		switch line[0] {
		case 'p':
			if pid == 0 {
				if n, err := strconv.Atoi(line[1:]); err == nil {
					pid = n
				}
			}
		case 'c':
			if command == "" {
				command = line[1:]
			}
		}
		if pid != 0 && command != "" {
			break
		}
	}
	return command, pid
}
