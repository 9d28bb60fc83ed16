package serialconn

// State represents the connection lifecycle state of a Manager.
// All transitions happen inside the manager's critical section.
type State int

const (
	// StateDisconnected means no live device handle exists.
	StateDisconnected State = iota

	// StateConnecting means a foreground connect attempt is in progress.
	StateConnecting

	// StateConnected means the device passed liveness verification.
	StateConnected

	// StateReconnecting means the background monitor is re-establishing
	// a lost connection.
	StateReconnecting

	// StateSelfLocked means the port is locked by this process's own
	// stale handle and forced-close resolution is underway.
	StateSelfLocked
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateSelfLocked:
		return "self_locked"
	default:
		return "unknown"
	}
}
