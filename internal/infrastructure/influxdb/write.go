package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteConnectionEvent records a radio connection lifecycle event.
//
// The write is non-blocking; data is batched and sent asynchronously.
//
// Parameters:
//   - nodeID: Bridge node identifier
//   - event: Lifecycle event ("connect", "disconnect", "reconnect")
//   - attempt: The connect attempt number that produced the event
//
// Example:
//
//	client.WriteConnectionEvent("meshbridge-001", "reconnect", 3)
func (c *Client) WriteConnectionEvent(nodeID, event string, attempt int) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"radio_connection",
		map[string]string{
			"node_id": nodeID,
			"event":   event,
		},
		map[string]interface{}{
			"attempt": attempt,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteDowntime records how long the radio link was lost before recovery.
//
// Parameters:
//   - nodeID: Bridge node identifier
//   - downtime: Total outage duration
func (c *Client) WriteDowntime(nodeID string, downtime time.Duration) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"radio_downtime",
		map[string]string{
			"node_id": nodeID,
		},
		map[string]interface{}{
			"seconds": downtime.Seconds(),
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteHealthOutcome records the result of an I/O health check run.
//
// Parameters:
//   - nodeID: Bridge node identifier
//   - passed: Whether the full probe battery passed
//   - consecutiveFailures: The failure streak after this run
func (c *Client) WriteHealthOutcome(nodeID string, passed bool, consecutiveFailures int) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"io_health",
		map[string]string{
			"node_id": nodeID,
		},
		map[string]interface{}{
			"passed":               passed,
			"consecutive_failures": consecutiveFailures,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteWriteFailures records the write-failure monitor's window count.
//
// Parameters:
//   - nodeID: Bridge node identifier
//   - inWindow: Failures currently inside the sliding window
//   - lifetime: Total failures since the last reset
func (c *Client) WriteWriteFailures(nodeID string, inWindow int, lifetime uint64) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"write_failures",
		map[string]string{
			"node_id": nodeID,
		},
		map[string]interface{}{
			"in_window": inWindow,
			"lifetime":  int64(lifetime), // #nosec G115 -- counter, not attacker controlled
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Use this for custom measurements that don't fit the helper methods.
//
// Parameters:
//   - measurement: The measurement name (table)
//   - tags: Key-value pairs for indexing (low cardinality)
//   - fields: Key-value pairs for the actual data
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}
