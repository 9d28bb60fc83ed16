package health

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// I/O health monitoring defaults.
const (
	// defaultCooldown is the minimum interval between health check runs.
	defaultCooldown = 900 * time.Second

	// defaultFailureThreshold is the consecutive-failure count that
	// justifies escalation.
	defaultFailureThreshold = 3

	// defaultScratchDir is the RAM-backed path for filesystem probes.
	// Falls back to the OS temp dir when absent.
	defaultScratchDir = "/dev/shm"

	// probeFilePrefix names the transient filesystem probe files.
	probeFilePrefix = "meshbridge-ioprobe-"
)

// StorageProber exposes the storage-engine checks the monitor runs.
// Satisfied by *database.DB.
type StorageProber interface {
	// QuickCheck runs the engine's built-in quick integrity check.
	QuickCheck(ctx context.Context) error

	// JournalMode reads the active journal mode.
	JournalMode(ctx context.Context) (string, error)

	// PageCount reads the database size in pages.
	PageCount(ctx context.Context) (int64, error)
}

// Outcome is the result of one health check run. Only the
// consecutive-failure counter persists between runs.
type Outcome struct {
	AllPassed           bool
	Skipped             bool
	FailedChecks        []string
	ConsecutiveFailures int
}

// IOMonitorConfig contains I/O health monitor options.
type IOMonitorConfig struct {
	// Enabled gates all checking and escalation.
	Enabled bool

	// Cooldown is the minimum interval between runs. Zero means the
	// default; negative means no cooldown (test mode).
	Cooldown time.Duration

	// FailureThreshold is the consecutive-failure escalation trigger.
	FailureThreshold int

	// ScratchDir is where filesystem probes write. Should be RAM-backed
	// so the probe exercises the VFS without wearing flash storage.
	ScratchDir string
}

func (c *IOMonitorConfig) applyDefaults() {
	if c.Cooldown == 0 {
		c.Cooldown = defaultCooldown
	}
	if c.Cooldown < 0 {
		c.Cooldown = 0
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = defaultFailureThreshold
	}
	if c.ScratchDir == "" {
		c.ScratchDir = defaultScratchDir
		if _, err := os.Stat(c.ScratchDir); err != nil {
			c.ScratchDir = os.TempDir()
		}
	}
}

// IOMonitor periodically verifies that the filesystem accepts writes and
// that the storage engine is intact, escalating after sustained failure.
//
// Probe failures are collected as outcome data, never raised. A single
// failed run is expected noise; only consecutive failures crossing the
// threshold produce an escalation, and only once per crossing.
type IOMonitor struct {
	cfg       IOMonitorConfig
	prober    StorageProber
	escalator Escalator
	log       Logger
	now       func() time.Time

	mu          sync.Mutex
	lastRun     time.Time
	consecutive int
	lastFailed  []string
	escalated   bool
}

// NewIOMonitor creates an I/O health monitor.
//
// Parameters:
//   - cfg: Monitor options; zero values take documented defaults
//   - prober: Storage-engine probe target, may be nil (filesystem-only)
//   - escalator: Escalation capability, may be nil (logged no-op)
func NewIOMonitor(cfg IOMonitorConfig, prober StorageProber, escalator Escalator) *IOMonitor {
	cfg.applyDefaults()
	return &IOMonitor{
		cfg:       cfg,
		prober:    prober,
		escalator: escalator,
		log:       noopLogger{},
		now:       time.Now,
	}
}

// SetLogger configures diagnostic logging. Safe to leave unset.
func (m *IOMonitor) SetLogger(log Logger) {
	if log != nil {
		m.log = log
	}
}

// ShouldRun reports whether a check is due: the monitor is enabled and
// the cooldown since the last run has elapsed.
func (m *IOMonitor) ShouldRun() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.shouldRunLocked()
}

func (m *IOMonitor) shouldRunLocked() bool {
	if !m.cfg.Enabled {
		return false
	}
	if m.lastRun.IsZero() {
		return true
	}
	return m.now().Sub(m.lastRun) >= m.cfg.Cooldown
}

// RunCheck runs the probe battery if due, in order: filesystem write
// probe, storage integrity probe, storage writability probe. When the
// monitor is disabled or cooling down it returns a skipped pass-through
// outcome with no side effects.
//
// On any failure the consecutive-failure counter advances; a fully
// successful run resets it, logging the recovery. Crossing the failure
// threshold invokes the escalator once; the trigger re-arms on recovery.
func (m *IOMonitor) RunCheck(ctx context.Context) Outcome {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.shouldRunLocked() {
		return Outcome{
			AllPassed:           true,
			Skipped:             true,
			ConsecutiveFailures: m.consecutive,
		}
	}
	m.lastRun = m.now()

	var failed []string
	if reason := m.probeFilesystem(); reason != "" {
		failed = append(failed, reason)
	}
	failed = append(failed, m.probeStorage(ctx)...)

	if len(failed) > 0 {
		m.consecutive++
		m.lastFailed = failed
		m.log.Warn("I/O health check failed",
			"failures", strings.Join(failed, "; "), "consecutive", m.consecutive)
		m.maybeEscalateLocked()
	} else {
		if m.consecutive > 0 {
			m.log.Info("I/O health recovered", "previous_failures", m.consecutive)
		}
		m.consecutive = 0
		m.lastFailed = nil
		m.escalated = false
	}

	return Outcome{
		AllPassed:           len(failed) == 0,
		FailedChecks:        failed,
		ConsecutiveFailures: m.consecutive,
	}
}

// ShouldEscalate reports whether sustained failure has crossed the
// threshold.
func (m *IOMonitor) ShouldEscalate() Decision {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.decisionLocked()
}

func (m *IOMonitor) decisionLocked() Decision {
	if !m.cfg.Enabled || m.consecutive < m.cfg.FailureThreshold {
		return Decision{}
	}
	return Decision{
		ShouldEscalate: true,
		Reason: fmt.Sprintf("%d consecutive I/O health check failures (threshold %d), last: %s",
			m.consecutive, m.cfg.FailureThreshold, strings.Join(m.lastFailed, "; ")),
	}
}

func (m *IOMonitor) maybeEscalateLocked() {
	d := m.decisionLocked()
	if !d.ShouldEscalate || m.escalated {
		return
	}
	m.escalated = true
	esc := m.escalator
	if esc == nil {
		esc = NopEscalator{Log: m.log}
	}
	m.log.Error("escalating to reboot request", "reason", d.Reason)
	esc.RequestReboot(d.Reason)
}

// probeFilesystem writes a uniquely stamped payload to the scratch path,
// forces a sync, reads it back, compares, and removes it. Returns a
// reason string on failure, empty on success.
func (m *IOMonitor) probeFilesystem() string {
	stamp := uuid.NewString()
	payload := []byte(fmt.Sprintf("ioprobe %s %s\n", stamp, m.now().Format(time.RFC3339Nano)))
	path := filepath.Join(m.cfg.ScratchDir, probeFilePrefix+stamp)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0600)
	if err != nil {
		return fmt.Sprintf("filesystem probe: create %s: %v", path, err)
	}
	defer os.Remove(path) //nolint:errcheck // Best effort cleanup

	if _, err := f.Write(payload); err != nil {
		f.Close() //nolint:errcheck // Write already failed
		return fmt.Sprintf("filesystem probe: write: %v", err)
	}
	if err := f.Sync(); err != nil {
		f.Close() //nolint:errcheck // Sync already failed
		return fmt.Sprintf("filesystem probe: sync: %v", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Sprintf("filesystem probe: close: %v", err)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		return fmt.Sprintf("filesystem probe: read back: %v", err)
	}
	if string(got) != string(payload) {
		return "filesystem probe: read back mismatch"
	}
	if err := os.Remove(path); err != nil {
		return fmt.Sprintf("filesystem probe: remove: %v", err)
	}
	return ""
}

// probeStorage runs the integrity and writability probes against the
// storage engine. Returns reasons for each failure.
func (m *IOMonitor) probeStorage(ctx context.Context) []string {
	if m.prober == nil {
		m.log.Debug("no storage prober configured, skipping storage probes")
		return nil
	}

	var failed []string
	if err := m.prober.QuickCheck(ctx); err != nil {
		failed = append(failed, fmt.Sprintf("storage integrity: %v", err))
	}
	if _, err := m.prober.JournalMode(ctx); err != nil {
		failed = append(failed, fmt.Sprintf("storage writability: journal mode: %v", err))
	}
	if _, err := m.prober.PageCount(ctx); err != nil {
		failed = append(failed, fmt.Sprintf("storage writability: page count: %v", err))
	}
	return failed
}
