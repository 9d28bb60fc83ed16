package serialconn

import "errors"

// Sentinel errors returned by the serial connection manager.
var (
	// ErrPortLocked indicates another process holds the device and did not
	// release it within the lock wait timeout.
	ErrPortLocked = errors.New("serialconn: port locked by another process")

	// ErrSelfLocked indicates this process holds a stale lock on the
	// device that forced-close resolution could not clear.
	ErrSelfLocked = errors.New("serialconn: port still locked by this process")

	// ErrDeviceOpen indicates the device could not be opened after all
	// configured attempts.
	ErrDeviceOpen = errors.New("serialconn: device open failed")

	// ErrNotConnected indicates no live device handle is available.
	ErrNotConnected = errors.New("serialconn: not connected")

	// ErrClosed indicates the manager has been shut down.
	ErrClosed = errors.New("serialconn: manager closed")
)
