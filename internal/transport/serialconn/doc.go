// Package serialconn manages the lifecycle of a serial radio connection.
//
// A Manager owns one device: it connects through an injected DeviceFactory
// with port-lock resolution (waiting out foreign holders, force-closing
// stale self-locks), retries with linearly growing capped delays, verifies
// liveness after a stabilization period, suppresses disconnect noise for a
// grace period after each connect, and runs a background monitor that
// reconnects with exponential capped backoff when the link drops.
//
// State transitions happen only inside the manager's critical section:
//
//	Disconnected → Connecting → Connected
//	Connected → Disconnected (liveness failure or disconnect event)
//	Disconnected → SelfLocked → Connecting (stale self-lock resolution)
//
// Close stops the monitor with a bounded join and is safe to call more
// than once.
package serialconn
