package mqtt

import (
	"errors"
	"strings"
	"testing"

	"github.com/arlenmoss/meshbridge-core/internal/infrastructure/config"
)

// TestConnectDisabled verifies a disabled config is rejected with the
// sentinel rather than a dial attempt.
func TestConnectDisabled(t *testing.T) {
	_, err := Connect(config.MQTTConfig{Enabled: false})
	if !errors.Is(err, ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

// TestTopics verifies the topic builders produce the documented scheme.
func TestTopics(t *testing.T) {
	topics := Topics{}

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"system status", topics.SystemStatus(), "meshbridge/system/status"},
		{"system health", topics.SystemHealth(), "meshbridge/system/health"},
		{"system escalation", topics.SystemEscalation(), "meshbridge/system/escalation"},
		{"radio state", topics.RadioState("meshbridge-001"), "meshbridge/radio/meshbridge-001/state"},
		{"radio event", topics.RadioEvent("meshbridge-001"), "meshbridge/radio/meshbridge-001/event"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("topic = %q, want %q", tt.got, tt.want)
			}
		})
	}
}

// TestBuildClientOptions verifies broker URL and auth wiring.
func TestBuildClientOptions(t *testing.T) {
	t.Run("plain broker", func(t *testing.T) {
		opts := buildClientOptions(config.MQTTConfig{
			Broker: config.MQTTBrokerConfig{Host: "broker.local", Port: 1883, ClientID: "meshbridge"},
		})
		if got := opts.Servers[0].String(); got != "tcp://broker.local:1883" {
			t.Errorf("broker URL = %q, want tcp://broker.local:1883", got)
		}
		if opts.ClientID != "meshbridge" {
			t.Errorf("ClientID = %q, want meshbridge", opts.ClientID)
		}
	})

	t.Run("tls broker", func(t *testing.T) {
		opts := buildClientOptions(config.MQTTConfig{
			Broker: config.MQTTBrokerConfig{Host: "broker.local", Port: 8883, TLS: true},
		})
		if got := opts.Servers[0].Scheme; got != "ssl" {
			t.Errorf("scheme = %q, want ssl", got)
		}
	})

	t.Run("credentials", func(t *testing.T) {
		opts := buildClientOptions(config.MQTTConfig{
			Broker: config.MQTTBrokerConfig{Host: "broker.local", Port: 1883},
			Auth:   config.MQTTAuthConfig{Username: "bridge", Password: "secret"},
		})
		if opts.Username != "bridge" {
			t.Errorf("Username = %q, want bridge", opts.Username)
		}
	})
}

// TestStatusPayloads verifies the status payload shapes.
func TestStatusPayloads(t *testing.T) {
	online := buildOnlinePayload("meshbridge")
	if !strings.Contains(online, `"status":"online"`) || !strings.Contains(online, `"client_id":"meshbridge"`) {
		t.Errorf("online payload malformed: %s", online)
	}

	offline := buildOfflinePayload("meshbridge")
	if !strings.Contains(offline, `"status":"offline"`) || !strings.Contains(offline, `"reason":"graceful_shutdown"`) {
		t.Errorf("offline payload malformed: %s", offline)
	}
}

// TestPublishValidation verifies input validation before any network use.
func TestPublishValidation(t *testing.T) {
	c := &Client{subscriptions: make(map[string]subscription)}

	if err := c.Publish("", []byte("x"), 0, false); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("empty topic error = %v, want ErrInvalidTopic", err)
	}
	if err := c.Publish("meshbridge/system/status", []byte("x"), 3, false); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("qos 3 error = %v, want ErrInvalidQoS", err)
	}
	if err := c.Publish("meshbridge/system/status", make([]byte, maxPayloadSize+1), 0, false); !errors.Is(err, ErrPublishFailed) {
		t.Errorf("oversize payload error = %v, want ErrPublishFailed", err)
	}
}
