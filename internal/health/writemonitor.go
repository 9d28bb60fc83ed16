package health

import (
	"fmt"
	"sync"
	"time"
)

// Write failure monitoring defaults.
const (
	// defaultWindow is the sliding evaluation window.
	defaultWindow = 300 * time.Second

	// defaultErrorThreshold is the in-window failure count that triggers
	// escalation.
	defaultErrorThreshold = 10

	// defaultMaxStoredFailures caps the failure record ring.
	defaultMaxStoredFailures = 100
)

// FailureRecord is one reported write failure. Immutable after creation.
type FailureRecord struct {
	Timestamp time.Time
	Operation string
	Kind      string
}

// WriteMonitorConfig contains write failure monitor options.
type WriteMonitorConfig struct {
	// Window is the sliding interval over which failures are counted.
	Window time.Duration

	// ErrorThreshold is the in-window count that triggers escalation.
	ErrorThreshold int

	// MaxStoredFailures caps the record ring; oldest records are evicted.
	MaxStoredFailures int
}

func (c *WriteMonitorConfig) applyDefaults() {
	if c.Window <= 0 {
		c.Window = defaultWindow
	}
	if c.ErrorThreshold <= 0 {
		c.ErrorThreshold = defaultErrorThreshold
	}
	if c.MaxStoredFailures <= 0 {
		c.MaxStoredFailures = defaultMaxStoredFailures
	}
}

// WriteMonitor tracks reported write failures over a sliding time window
// and raises a one-shot escalation when the in-window count crosses the
// threshold. It does not re-trigger until Reset.
type WriteMonitor struct {
	cfg       WriteMonitorConfig
	escalator Escalator
	log       Logger
	now       func() time.Time

	mu        sync.Mutex
	records   []FailureRecord
	lifetime  uint64
	triggered bool
}

// NewWriteMonitor creates a write failure monitor.
//
// Parameters:
//   - cfg: Monitor options; zero values take documented defaults
//   - escalator: Escalation capability, may be nil (logged no-op)
func NewWriteMonitor(cfg WriteMonitorConfig, escalator Escalator) *WriteMonitor {
	cfg.applyDefaults()
	return &WriteMonitor{
		cfg:       cfg,
		escalator: escalator,
		log:       noopLogger{},
		now:       time.Now,
	}
}

// SetLogger configures diagnostic logging. Safe to leave unset.
func (m *WriteMonitor) SetLogger(log Logger) {
	if log != nil {
		m.log = log
	}
}

// RecordFailure appends a failure record and evaluates the sliding
// window. Crossing the threshold triggers escalation exactly once; the
// trigger stays latched until Reset.
func (m *WriteMonitor) RecordFailure(operation, kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.records = append(m.records, FailureRecord{
		Timestamp: now,
		Operation: operation,
		Kind:      kind,
	})
	if len(m.records) > m.cfg.MaxStoredFailures {
		m.records = m.records[len(m.records)-m.cfg.MaxStoredFailures:]
	}
	m.lifetime++

	count := m.windowCountLocked(now)
	m.log.Debug("write failure recorded",
		"operation", operation, "kind", kind, "in_window", count, "lifetime", m.lifetime)

	if count < m.cfg.ErrorThreshold || m.triggered {
		return
	}
	m.triggered = true

	reason := fmt.Sprintf("%d write failures within %s (threshold %d), latest: %s/%s",
		count, m.cfg.Window, m.cfg.ErrorThreshold, operation, kind)
	esc := m.escalator
	if esc == nil {
		esc = NopEscalator{Log: m.log}
	}
	m.log.Error("write failure threshold crossed, escalating", "reason", reason)
	esc.RequestReboot(reason)
}

// Reset clears the record ring, the lifetime counter, and the escalation
// latch. Intended for operators and tests.
func (m *WriteMonitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = nil
	m.lifetime = 0
	m.triggered = false
	m.log.Info("write failure monitor reset")
}

// WindowCount returns the number of failures inside the current window.
func (m *WriteMonitor) WindowCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.windowCountLocked(m.now())
}

// LifetimeFailures returns the total failures recorded since the last
// reset, including ones evicted from the ring.
func (m *WriteMonitor) LifetimeFailures() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lifetime
}

// Triggered reports whether the one-shot escalation has fired.
func (m *WriteMonitor) Triggered() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.triggered
}

func (m *WriteMonitor) windowCountLocked(now time.Time) int {
	cutoff := now.Add(-m.cfg.Window)
	count := 0
	for _, r := range m.records {
		if !r.Timestamp.Before(cutoff) {
			count++
		}
	}
	return count
}
