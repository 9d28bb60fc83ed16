// Package mqtt provides the bridge's MQTT connectivity.
//
// It wraps paho.mqtt.golang with:
//   - Connection management and automatic reconnection
//   - Last Will and Testament so subscribers can tell crashes from
//     graceful shutdowns
//   - Subscription tracking with restoration on reconnect
//   - Panic-recovering message handlers
//   - Topic builders for the meshbridge topic scheme
//
// The bridge publishes retained state (system status, radio link state,
// health reports) and non-retained events (disconnects, reboot
// escalations). Payload decoding of mesh traffic is out of scope; this
// package moves opaque bytes.
//
// Usage:
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	topics := mqtt.Topics{}
//	client.PublishRetained(topics.RadioState(cfg.Node.ID), payload)
package mqtt
