// Package influxdb provides optional time-series metrics for meshbridge.
//
// When enabled, the bridge records radio connection lifecycle events,
// outage durations, I/O health check outcomes, and write-failure counts.
// Writes are batched and non-blocking; a failed metrics backend never
// slows the transport path.
//
// When influxdb.enabled is false, Connect returns ErrDisabled and callers
// run without metrics.
package influxdb
