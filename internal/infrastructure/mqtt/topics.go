package mqtt

import "fmt"

// Topic prefixes for the meshbridge MQTT surface.
//
// Scheme: meshbridge/{category}/... where status and health are retained
// state topics; escalation and radio events are not.
const (
	// TopicPrefix is the base for all meshbridge topics.
	TopicPrefix = "meshbridge"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "meshbridge/system"

	// TopicPrefixRadio is the base for radio topics.
	TopicPrefixRadio = "meshbridge/radio"
)

// Topics provides builders for meshbridge MQTT topics.
// Using these helpers keeps topic naming consistent across the codebase.
//
//	topics := mqtt.Topics{}
//	stateTopic := topics.RadioState("meshbridge-001")
//	// Returns: "meshbridge/radio/meshbridge-001/state"
type Topics struct{}

// SystemStatus returns the topic for bridge online/offline status.
// Retained; also the LWT target so subscribers see crashes.
//
// Example: meshbridge/system/status
func (Topics) SystemStatus() string {
	return TopicPrefixSystem + "/status"
}

// SystemHealth returns the topic for periodic health reports.
//
// Example: meshbridge/system/health
func (Topics) SystemHealth() string {
	return TopicPrefixSystem + "/health"
}

// SystemEscalation returns the topic for reboot escalation events.
// Not retained; each crossing publishes one clearly marked event.
//
// Example: meshbridge/system/escalation
func (Topics) SystemEscalation() string {
	return TopicPrefixSystem + "/escalation"
}

// RadioState returns the topic for connection state updates of a node's
// radio link.
//
// Example: meshbridge/radio/meshbridge-001/state
func (Topics) RadioState(nodeID string) string {
	return fmt.Sprintf("%s/%s/state", TopicPrefixRadio, nodeID)
}

// RadioEvent returns the topic for discrete radio lifecycle events
// (connect, disconnect, reconnect).
//
// Example: meshbridge/radio/meshbridge-001/event
func (Topics) RadioEvent(nodeID string) string {
	return fmt.Sprintf("%s/%s/event", TopicPrefixRadio, nodeID)
}
