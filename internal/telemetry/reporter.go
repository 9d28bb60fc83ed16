package telemetry

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/arlenmoss/meshbridge-core/internal/health"
	"github.com/arlenmoss/meshbridge-core/internal/infrastructure/mqtt"
	"github.com/arlenmoss/meshbridge-core/internal/transport/serialconn"
)

// Reporting defaults.
const (
	// defaultInterval is the status publish cadence.
	defaultInterval = 30 * time.Second
)

// Publisher is the outbound message surface the reporter needs.
// Satisfied by *mqtt.Client.
type Publisher interface {
	PublishRetained(topic string, payload []byte) error
	PublishEvent(topic string, payload []byte) error
}

// RadioSource reports the radio link's current condition.
// Satisfied by *serialconn.Manager.
type RadioSource interface {
	State() serialconn.State
	Stats() serialconn.Stats
}

// ConnCounter reports how many TCP connections are currently open.
// Satisfied by *tcpconn.Registry.
type ConnCounter interface {
	Len() int
}

// HealthSource reports the I/O health monitor's escalation posture.
// Satisfied by *health.IOMonitor.
type HealthSource interface {
	ShouldEscalate() health.Decision
}

// WriteSource reports the write failure monitor's counters.
// Satisfied by *health.WriteMonitor.
type WriteSource interface {
	WindowCount() int
	LifetimeFailures() uint64
	Triggered() bool
}

// Logger defines the minimal logging interface used by this package.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// Config contains reporter options.
type Config struct {
	// NodeID identifies this bridge in payloads and topics.
	NodeID string

	// Interval is the status publish cadence. Default: 30s.
	Interval time.Duration
}

// Reporter periodically publishes a retained bridge status over MQTT and
// exposes a publishing escalation wrapper for the health monitors.
//
// Every source is optional; absent sources simply leave their section out
// of the payload. Publish failures are logged and the next tick retries.
type Reporter struct {
	cfg       Config
	publisher Publisher
	radio     RadioSource
	conns     ConnCounter
	ioHealth  HealthSource
	writes    WriteSource
	log       Logger
	topics    mqtt.Topics

	stop      chan struct{}
	done      chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
}

// New creates a telemetry reporter. Any source may be nil.
func New(cfg Config, publisher Publisher, radio RadioSource, conns ConnCounter, ioHealth HealthSource, writes WriteSource) *Reporter {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	return &Reporter{
		cfg:       cfg,
		publisher: publisher,
		radio:     radio,
		conns:     conns,
		ioHealth:  ioHealth,
		writes:    writes,
		log:       noopLogger{},
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// SetLogger configures diagnostic logging. Safe to leave unset.
func (r *Reporter) SetLogger(log Logger) {
	if log != nil {
		r.log = log
	}
}

// Start launches the reporting loop. Publishes an immediate first status,
// then one per interval. Calling Start more than once is a no-op.
func (r *Reporter) Start() {
	r.startOnce.Do(func() {
		go r.run()
	})
}

// Stop halts the loop and publishes a final "stopping" status so
// subscribers see an orderly shutdown. Safe to call more than once.
func (r *Reporter) Stop() {
	r.stopOnce.Do(func() {
		close(r.stop)
		<-r.done
		r.publishStatus("stopping")
	})
}

func (r *Reporter) run() {
	defer close(r.done)

	r.publishStatus("running")

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			r.publishStatus("running")
		}
	}
}

// radioStatus is the radio section of the status payload.
type radioStatus struct {
	State                string `json:"state"`
	ConnectedAt          string `json:"connected_at,omitempty"`
	Connects             uint64 `json:"connects"`
	Disconnects          uint64 `json:"disconnects"`
	Reconnects           uint64 `json:"reconnects"`
	LastDisconnectReason string `json:"last_disconnect_reason,omitempty"`
}

// healthStatus is the health section of the status payload.
type healthStatus struct {
	EscalationPending bool   `json:"escalation_pending"`
	Reason            string `json:"reason,omitempty"`
	WriteFailures     int    `json:"write_failures_in_window"`
	LifetimeFailures  uint64 `json:"write_failures_lifetime"`
	WriteTriggered    bool   `json:"write_escalation_triggered"`
}

// statusPayload is the full bridge status message.
type statusPayload struct {
	NodeID         string        `json:"node_id"`
	Status         string        `json:"status"`
	Radio          *radioStatus  `json:"radio,omitempty"`
	TCPConnections int           `json:"tcp_connections"`
	Health         *healthStatus `json:"health,omitempty"`
	Timestamp      string        `json:"timestamp"`
}

func (r *Reporter) publishStatus(status string) {
	if r.publisher == nil {
		return
	}

	payload := statusPayload{
		NodeID:    r.cfg.NodeID,
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	if r.radio != nil {
		stats := r.radio.Stats()
		rs := &radioStatus{
			State:                r.radio.State().String(),
			Connects:             stats.Connects,
			Disconnects:          stats.Disconnects,
			Reconnects:           stats.Reconnects,
			LastDisconnectReason: stats.LastDisconnectReason,
		}
		if !stats.ConnectedAt.IsZero() {
			rs.ConnectedAt = stats.ConnectedAt.UTC().Format(time.RFC3339)
		}
		payload.Radio = rs
	}

	if r.conns != nil {
		payload.TCPConnections = r.conns.Len()
	}

	if r.ioHealth != nil || r.writes != nil {
		hs := &healthStatus{}
		if r.ioHealth != nil {
			d := r.ioHealth.ShouldEscalate()
			hs.EscalationPending = d.ShouldEscalate
			hs.Reason = d.Reason
		}
		if r.writes != nil {
			hs.WriteFailures = r.writes.WindowCount()
			hs.LifetimeFailures = r.writes.LifetimeFailures()
			hs.WriteTriggered = r.writes.Triggered()
		}
		payload.Health = hs
	}

	data, err := json.Marshal(payload)
	if err != nil {
		r.log.Warn("status payload marshal failed", "error", err)
		return
	}
	if err := r.publisher.PublishRetained(r.topics.SystemHealth(), data); err != nil {
		r.log.Warn("status publish failed", "error", err)
	}
}

// escalationEvent is the payload for reboot escalation events.
type escalationEvent struct {
	NodeID    string `json:"node_id"`
	Source    string `json:"source"`
	Reason    string `json:"reason"`
	Accepted  bool   `json:"accepted"`
	Timestamp string `json:"timestamp"`
}

// PublishEscalation emits a clearly marked, non-retained escalation event.
func (r *Reporter) PublishEscalation(source, reason string, accepted bool) {
	if r.publisher == nil {
		return
	}
	data, err := json.Marshal(escalationEvent{
		NodeID:    r.cfg.NodeID,
		Source:    source,
		Reason:    reason,
		Accepted:  accepted,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		r.log.Warn("escalation payload marshal failed", "error", err)
		return
	}
	if err := r.publisher.PublishEvent(r.topics.SystemEscalation(), data); err != nil {
		r.log.Warn("escalation publish failed", "error", err)
	}
}

// Escalator wraps an inner escalation capability so every reboot request
// is also published as an operator-visible event. A nil inner escalator
// publishes the event and reports the request as not accepted.
func (r *Reporter) Escalator(source string, inner health.Escalator) health.Escalator {
	return &publishingEscalator{reporter: r, source: source, inner: inner}
}

type publishingEscalator struct {
	reporter *Reporter
	source   string
	inner    health.Escalator
}

func (e *publishingEscalator) RequestReboot(reason string) bool {
	accepted := false
	if e.inner != nil {
		accepted = e.inner.RequestReboot(reason)
	}
	e.reporter.PublishEscalation(e.source, reason, accepted)
	return accepted
}
