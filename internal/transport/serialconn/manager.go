package serialconn

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/arlenmoss/meshbridge-core/internal/transport/portlock"
)

// Connection management defaults. All are overridable through Config.
const (
	// defaultMaxRetries is the number of device open attempts per connect.
	defaultMaxRetries = 5

	// defaultRetryDelay is the base delay between open attempts.
	defaultRetryDelay = 5 * time.Second

	// defaultMaxRetryDelay caps both the linear retry delay and the
	// monitor's exponential backoff.
	defaultMaxRetryDelay = 60 * time.Second

	// defaultPortLockWait is how long to wait for another process to
	// release the port before failing the connect.
	defaultPortLockWait = 30 * time.Second

	// defaultLockPollInterval is the cadence of lock re-checks while
	// waiting for release.
	defaultLockPollInterval = time.Second

	// defaultStabilizationDelay lets the device settle after open before
	// liveness verification. USB serial adapters need this.
	defaultStabilizationDelay = 3 * time.Second

	// defaultSelfLockWait is how long to wait for the OS to release an
	// advisory lock after force-closing our own stale handle.
	defaultSelfLockWait = 3 * time.Second

	// defaultGracePeriod suppresses disconnect notifications immediately
	// after a successful connect.
	defaultGracePeriod = 5 * time.Second

	// defaultMonitorInterval is the background monitor's wake-up cadence.
	defaultMonitorInterval = 5 * time.Second

	// defaultEINTRRetries is how many interrupted-syscall conditions a
	// single open tolerates before treating them as a hard failure.
	defaultEINTRRetries = 3

	// defaultLivenessCacheTTL bounds how often IsConnected re-runs the
	// full liveness verification.
	defaultLivenessCacheTTL = time.Second

	// defaultCloseJoinTimeout bounds how long Close waits for the
	// monitor goroutine to exit.
	defaultCloseJoinTimeout = 3 * time.Second
)

// Logger defines the minimal logging interface used by this package.
// Satisfied by *slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// LockInspector probes advisory lock state on a device path.
// Satisfied by *portlock.Inspector.
type LockInspector interface {
	Inspect(ctx context.Context, path string) (portlock.LockInfo, error)
}

// Config contains serial connection management options.
type Config struct {
	// Path is the serial device path, e.g. /dev/ttyUSB0.
	Path string

	// BaudRate is used by the default device factory. Ignored when a
	// custom factory is supplied.
	BaudRate int

	// MaxRetries is the number of open attempts per connect call.
	MaxRetries int

	// RetryDelay is the base inter-attempt delay. The actual delay grows
	// linearly with the attempt number, capped at MaxRetryDelay.
	RetryDelay time.Duration

	// MaxRetryDelay caps retry and monitor backoff delays.
	MaxRetryDelay time.Duration

	// AutoReconnect starts the background monitor after the first
	// successful connect.
	AutoReconnect bool

	// GracePeriod suppresses disconnect notifications after connect.
	GracePeriod time.Duration

	// PortLockWait bounds the wait for a foreign lock holder to release.
	PortLockWait time.Duration

	// LockPollInterval is the lock re-check cadence during the wait.
	LockPollInterval time.Duration

	// StabilizationDelay is the post-open settle time before liveness
	// verification.
	StabilizationDelay time.Duration

	// SelfLockWait is the OS lock release wait after a forced close.
	SelfLockWait time.Duration

	// MonitorInterval is the background monitor cadence.
	MonitorInterval time.Duration

	// EINTRRetries is the per-open tolerance for interrupted syscalls.
	EINTRRetries int

	// LivenessCacheTTL bounds IsConnected re-verification frequency.
	LivenessCacheTTL time.Duration

	// CloseJoinTimeout bounds the monitor join during Close.
	CloseJoinTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.BaudRate <= 0 {
		c.BaudRate = 115200
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = defaultMaxRetries
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = defaultRetryDelay
	}
	if c.MaxRetryDelay <= 0 {
		c.MaxRetryDelay = defaultMaxRetryDelay
	}
	if c.GracePeriod < 0 {
		c.GracePeriod = defaultGracePeriod
	}
	if c.PortLockWait <= 0 {
		c.PortLockWait = defaultPortLockWait
	}
	if c.LockPollInterval <= 0 {
		c.LockPollInterval = defaultLockPollInterval
	}
	if c.StabilizationDelay < 0 {
		c.StabilizationDelay = defaultStabilizationDelay
	}
	if c.SelfLockWait <= 0 {
		c.SelfLockWait = defaultSelfLockWait
	}
	if c.MonitorInterval <= 0 {
		c.MonitorInterval = defaultMonitorInterval
	}
	if c.EINTRRetries <= 0 {
		c.EINTRRetries = defaultEINTRRetries
	}
	if c.LivenessCacheTTL <= 0 {
		c.LivenessCacheTTL = defaultLivenessCacheTTL
	}
	if c.CloseJoinTimeout <= 0 {
		c.CloseJoinTimeout = defaultCloseJoinTimeout
	}
}

// Stats is a point-in-time snapshot of manager counters.
type Stats struct {
	State                State
	ConnectedAt          time.Time
	ConnectAttempts      uint64
	Connects             uint64
	Disconnects          uint64
	Reconnects           uint64
	LastDisconnectReason string
}

// Manager owns the lifecycle of one serial device connection: connect
// with lock resolution and retry, verify, monitor, reconnect with
// backoff, and bounded shutdown.
//
// A single mutex guards the handle and all state transitions. Connect
// attempts, including their waits, run under that mutex, so concurrent
// connect calls serialize rather than race.
type Manager struct {
	cfg       Config
	factory   DeviceFactory
	inspector LockInspector
	log       Logger

	mu          sync.Mutex
	state       State
	device      Device
	connectedAt time.Time
	graceUntil  time.Time
	downSince   time.Time
	livenessAt  time.Time
	liveness    bool
	stats       Stats

	monitorStarted bool
	monitorDone    chan struct{}
	stop           chan struct{}
	closed         atomic.Bool
	closeOnce      sync.Once
}

// NewManager creates a serial connection manager.
//
// Parameters:
//   - cfg: Connection options; zero values take documented defaults
//   - factory: Device factory, or nil for the serial default
//   - inspector: Lock inspector, or nil for the default flock inspector
func NewManager(cfg Config, factory DeviceFactory, inspector LockInspector) *Manager {
	cfg.applyDefaults()
	if factory == nil {
		factory = NewSerialFactory(cfg.BaudRate)
	}
	if inspector == nil {
		inspector = portlock.NewInspector()
	}
	return &Manager{
		cfg:         cfg,
		factory:     factory,
		inspector:   inspector,
		log:         noopLogger{},
		state:       StateDisconnected,
		monitorDone: make(chan struct{}),
		stop:        make(chan struct{}),
	}
}

// SetLogger configures diagnostic logging. Safe to leave unset.
func (m *Manager) SetLogger(log Logger) {
	if log != nil {
		m.log = log
	}
}

// Connect establishes the serial connection. Idempotent: returns nil
// immediately when already connected and live.
//
// The full sequence: resolve port locks (wait for foreign holders, force
// close stale self-locks), then up to MaxRetries open attempts with
// transparent interrupted-syscall retry, linearly growing capped delays,
// lock re-checks before each retry, post-open stabilization, and liveness
// verification. On success the state becomes Connected, the connect time
// is recorded, disconnect notifications are suppressed for the grace
// period, and the background monitor is started if auto-reconnect is on.
func (m *Manager) Connect(ctx context.Context) error {
	if m.closed.Load() {
		return ErrClosed
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateConnected && m.verifyAliveLocked() {
		return nil
	}
	return m.connectLocked(ctx)
}

func (m *Manager) connectLocked(ctx context.Context) error {
	if m.state != StateReconnecting {
		m.state = StateConnecting
	}
	reconnecting := m.state == StateReconnecting
	m.livenessAt = time.Time{}

	if err := m.resolveLockLocked(ctx); err != nil {
		m.state = StateDisconnected
		return err
	}

	var lastErr error
	for attempt := 1; attempt <= m.cfg.MaxRetries; attempt++ {
		if m.closed.Load() {
			m.state = StateDisconnected
			return ErrClosed
		}
		if attempt > 1 {
			delay := m.retryDelayFor(attempt - 1)
			m.log.Info("retrying device open",
				"path", m.cfg.Path, "attempt", attempt, "max", m.cfg.MaxRetries, "delay", delay)
			if err := m.sleep(ctx, delay); err != nil {
				m.state = StateDisconnected
				return err
			}
			if err := m.resolveLockLocked(ctx); err != nil {
				m.state = StateDisconnected
				return err
			}
		}

		m.stats.ConnectAttempts++
		dev, err := m.openWithRetry()
		if err != nil {
			lastErr = err
			m.log.Warn("device open failed", "path", m.cfg.Path, "attempt", attempt, "error", err)
			continue
		}

		if err := m.sleep(ctx, m.cfg.StabilizationDelay); err != nil {
			_ = dev.Close() //nolint:errcheck // Abandoning the handle anyway
			m.state = StateDisconnected
			return err
		}

		m.device = dev
		if !m.verifyAliveLocked() {
			lastErr = fmt.Errorf("liveness verification failed after open")
			m.log.Warn("device opened but failed liveness verification",
				"path", m.cfg.Path, "attempt", attempt)
			_ = dev.Close() //nolint:errcheck // Failed verification, handle discarded
			m.device = nil
			continue
		}

		now := time.Now()
		m.state = StateConnected
		m.connectedAt = now
		m.graceUntil = now.Add(m.cfg.GracePeriod)
		m.livenessAt = now
		m.liveness = true
		m.stats.Connects++
		m.stats.ConnectedAt = now
		if reconnecting {
			m.stats.Reconnects++
		}
		if !m.downSince.IsZero() {
			m.log.Info("serial connection recovered",
				"path", m.cfg.Path, "downtime", now.Sub(m.downSince).Round(time.Second))
			m.downSince = time.Time{}
		} else {
			m.log.Info("serial device connected", "path", m.cfg.Path, "attempt", attempt)
		}
		if m.cfg.AutoReconnect {
			m.startMonitorLocked()
		}
		return nil
	}

	m.state = StateDisconnected
	if lastErr == nil {
		lastErr = errors.New("no attempts made")
	}
	return fmt.Errorf("%w: %d attempts on %s: %v", ErrDeviceOpen, m.cfg.MaxRetries, m.cfg.Path, lastErr)
}

// resolveLockLocked clears the path to an open attempt: waits out foreign
// lock holders and force-closes stale self-locks. Inspection trouble never
// blocks the open; the open itself will surface the real error.
func (m *Manager) resolveLockLocked(ctx context.Context) error {
	info, err := m.inspector.Inspect(ctx, m.cfg.Path)
	if err != nil {
		m.log.Debug("lock inspection failed, proceeding with open", "error", err)
		return nil
	}
	if !info.Locked {
		return nil
	}
	if info.HolderPID == os.Getpid() {
		return m.resolveSelfLockLocked(ctx)
	}
	return m.waitForUnlockLocked(ctx, info)
}

// waitForUnlockLocked polls the lock until the foreign holder releases it
// or the lock wait timeout expires.
func (m *Manager) waitForUnlockLocked(ctx context.Context, info portlock.LockInfo) error {
	m.log.Warn("serial port locked by another process, waiting for release",
		"path", m.cfg.Path, "holder", info.HolderCommand, "pid", info.HolderPID,
		"timeout", m.cfg.PortLockWait)

	deadline := time.Now().Add(m.cfg.PortLockWait)
	for time.Now().Before(deadline) {
		if err := m.sleep(ctx, m.cfg.LockPollInterval); err != nil {
			return err
		}
		fresh, err := m.inspector.Inspect(ctx, m.cfg.Path)
		if err != nil || !fresh.Locked {
			m.log.Info("serial port released", "path", m.cfg.Path)
			return nil
		}
		if fresh.HolderPID == os.Getpid() {
			return m.resolveSelfLockLocked(ctx)
		}
		m.log.Debug("serial port still locked",
			"path", m.cfg.Path, "holder", fresh.HolderCommand, "pid", fresh.HolderPID,
			"remaining", time.Until(deadline).Round(time.Second))
		info = fresh
	}
	return fmt.Errorf("%w: %s held by %s (pid %d) after %s",
		ErrPortLocked, m.cfg.Path, info.HolderCommand, info.HolderPID, m.cfg.PortLockWait)
}

// resolveSelfLockLocked handles the degenerate case where our own stale
// handle holds the port: force-close it, give the OS time to release the
// advisory lock, and re-check.
func (m *Manager) resolveSelfLockLocked(ctx context.Context) error {
	m.state = StateSelfLocked
	m.log.Warn("serial port locked by this process, force closing stale handle",
		"path", m.cfg.Path)

	if m.device != nil {
		if err := m.device.Close(); err != nil {
			m.log.Warn("stale handle close reported error", "error", err)
		}
		m.device = nil
	}

	if err := m.sleep(ctx, m.cfg.SelfLockWait); err != nil {
		m.state = StateDisconnected
		return err
	}

	fresh, err := m.inspector.Inspect(ctx, m.cfg.Path)
	if err == nil && fresh.Locked && fresh.HolderPID == os.Getpid() {
		m.state = StateDisconnected
		return fmt.Errorf("%w: %s", ErrSelfLocked, m.cfg.Path)
	}
	m.log.Info("self-lock resolved", "path", m.cfg.Path)
	m.state = StateConnecting
	return nil
}

// openWithRetry calls the device factory, transparently retrying
// interrupted-syscall failures a small fixed number of times.
func (m *Manager) openWithRetry() (Device, error) {
	var lastErr error
	for i := 0; i <= m.cfg.EINTRRetries; i++ {
		dev, err := m.factory(m.cfg.Path)
		if err == nil {
			return dev, nil
		}
		lastErr = err
		if !isInterrupted(err) {
			return nil, err
		}
		m.log.Debug("open interrupted, retrying", "path", m.cfg.Path, "retry", i+1)
	}
	return nil, fmt.Errorf("open interrupted %d times: %w", m.cfg.EINTRRetries+1, lastErr)
}

func isInterrupted(err error) bool {
	return errors.Is(err, syscall.EINTR) ||
		strings.Contains(err.Error(), "interrupted system call")
}

// retryDelayFor returns the inter-attempt delay after n failed attempts:
// linear growth capped at MaxRetryDelay.
func (m *Manager) retryDelayFor(n int) time.Duration {
	d := time.Duration(n) * m.cfg.RetryDelay
	if d > m.cfg.MaxRetryDelay {
		d = m.cfg.MaxRetryDelay
	}
	return d
}

// VerifyAlive reports whether the current handle passes the full liveness
// chain: handle present, stream open, device path still on the
// filesystem, protocol layer connected. Short-circuits on first failure.
func (m *Manager) VerifyAlive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.verifyAliveLocked()
}

func (m *Manager) verifyAliveLocked() bool {
	if m.device == nil {
		return false
	}
	if !m.device.IsOpen() {
		return false
	}
	if _, err := os.Stat(m.cfg.Path); err != nil {
		return false
	}
	return m.device.IsConnected()
}

// IsConnected reports whether the connection is live. Liveness is
// re-verified at most once per LivenessCacheTTL; between verifications
// the cached result is returned. A failed verification downgrades the
// state to Disconnected.
func (m *Manager) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateConnected {
		return false
	}
	if time.Since(m.livenessAt) < m.cfg.LivenessCacheTTL {
		return m.liveness
	}
	alive := m.verifyAliveLocked()
	m.livenessAt = time.Now()
	m.liveness = alive
	if !alive {
		m.log.Warn("liveness check failed", "path", m.cfg.Path)
		m.markDisconnectedLocked("liveness check failed")
	}
	return alive
}

// Handle returns the live device, connecting first if necessary.
func (m *Manager) Handle(ctx context.Context) (Device, error) {
	if err := m.Connect(ctx); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.device == nil {
		return nil, ErrNotConnected
	}
	return m.device, nil
}

// NotifyDisconnect reports an asynchronous connection-lost event from an
// external source. Notifications are ignored while a reconnect is in
// progress and within the post-connect grace period, since those are
// usually echoes of the connect itself.
func (m *Manager) NotifyDisconnect(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case StateConnecting, StateReconnecting, StateSelfLocked:
		m.log.Debug("ignoring disconnect notification mid-reconnect", "reason", reason)
		return
	case StateConnected:
		if time.Now().Before(m.graceUntil) {
			m.log.Debug("ignoring disconnect notification within grace period", "reason", reason)
			return
		}
	default:
		return
	}

	m.log.Warn("disconnect reported", "path", m.cfg.Path, "reason", reason)
	m.markDisconnectedLocked(reason)
}

func (m *Manager) markDisconnectedLocked(reason string) {
	m.state = StateDisconnected
	m.liveness = false
	if m.downSince.IsZero() {
		m.downSince = time.Now()
	}
	m.stats.Disconnects++
	m.stats.LastDisconnectReason = reason
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Stats returns a snapshot of connection counters.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.stats
	s.State = m.state
	s.ConnectedAt = m.connectedAt
	return s
}

// Close shuts the manager down: stops the background monitor (joining it
// with a bounded timeout), closes the device handle, and leaves the state
// Disconnected. Safe to call multiple times.
func (m *Manager) Close() error {
	var err error
	m.closeOnce.Do(func() {
		m.closed.Store(true)
		close(m.stop)

		m.mu.Lock()
		started := m.monitorStarted
		m.mu.Unlock()
		if started {
			select {
			case <-m.monitorDone:
			case <-time.After(m.cfg.CloseJoinTimeout):
				m.log.Warn("monitor did not stop within join timeout",
					"timeout", m.cfg.CloseJoinTimeout)
			}
		}

		m.mu.Lock()
		if m.device != nil {
			err = m.device.Close()
			m.device = nil
		}
		m.state = StateDisconnected
		m.mu.Unlock()
	})
	return err
}

// startMonitorLocked launches the background reconnect monitor once.
func (m *Manager) startMonitorLocked() {
	if m.monitorStarted {
		return
	}
	m.monitorStarted = true
	go m.monitor()
}

// monitor is the background reconnect loop. It wakes on a fixed cadence,
// checks connectivity cheaply, and on loss drives reconnect attempts with
// exponentially growing capped backoff between failed cycles.
func (m *Manager) monitor() {
	defer close(m.monitorDone)

	retries := 0
	for {
		select {
		case <-m.stop:
			return
		case <-time.After(m.cfg.MonitorInterval):
		}

		if m.closed.Load() {
			return
		}
		if m.IsConnected() {
			retries = 0
			continue
		}

		retries++
		m.mu.Lock()
		if m.state == StateDisconnected {
			m.state = StateReconnecting
		}
		m.mu.Unlock()

		m.log.Info("monitor attempting reconnect", "path", m.cfg.Path, "retry", retries)
		if err := m.Connect(context.Background()); err != nil {
			if errors.Is(err, ErrClosed) {
				return
			}
			backoff := m.monitorBackoff(retries)
			m.log.Warn("reconnect failed, backing off",
				"path", m.cfg.Path, "retry", retries, "backoff", backoff, "error", err)
			select {
			case <-m.stop:
				return
			case <-time.After(backoff):
			}
			continue
		}
		retries = 0
	}
}

// monitorBackoff returns the post-failure sleep for the monitor:
// RetryDelay × 2^min(retries,5), capped at MaxRetryDelay.
func (m *Manager) monitorBackoff(retries int) time.Duration {
	shift := retries
	if shift > 5 {
		shift = 5
	}
	d := m.cfg.RetryDelay * time.Duration(1<<shift)
	if d > m.cfg.MaxRetryDelay {
		d = m.cfg.MaxRetryDelay
	}
	return d
}

// sleep waits for d or until the context is cancelled or the manager is
// closed, whichever comes first.
func (m *Manager) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-m.stop:
		return ErrClosed
	}
}
