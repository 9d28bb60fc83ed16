// Package telemetry publishes the bridge's operational status.
//
// A Reporter periodically emits a retained status message (radio link
// state, open TCP connections, health posture) over MQTT, and wraps the
// health monitors' escalation path so every reboot request also appears
// as a clearly marked event on the escalation topic.
package telemetry
