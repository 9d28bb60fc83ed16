package serialconn

import (
	"fmt"
	"sync"

	"go.bug.st/serial"
)

// Device is the protocol-level handle a DeviceFactory produces.
//
// The manager only needs lifecycle answers from it; reads and writes go
// through whatever richer interface the concrete type offers.
type Device interface {
	// IsOpen reports whether the underlying stream is open.
	IsOpen() bool

	// IsConnected reports whether the protocol layer considers the
	// device responsive. For raw streams with no protocol layer this
	// mirrors IsOpen.
	IsConnected() bool

	// Close releases the device and its OS resources.
	Close() error
}

// DeviceFactory opens the device at path and wraps it in a Device.
// Supplied by the caller so the manager never constructs protocol framing
// itself.
type DeviceFactory func(path string) (Device, error)

// NewSerialFactory returns a DeviceFactory that opens path as a serial
// port at the given baud rate.
func NewSerialFactory(baudRate int) DeviceFactory {
	return func(path string) (Device, error) {
		port, err := serial.Open(path, &serial.Mode{BaudRate: baudRate})
		if err != nil {
			return nil, fmt.Errorf("opening serial port %s: %w", path, err)
		}
		return &serialDevice{port: port, open: true}, nil
	}
}

// serialDevice adapts a raw serial port to the Device interface.
// It has no protocol layer, so connectedness mirrors the stream state.
type serialDevice struct {
	mu   sync.Mutex
	port serial.Port
	open bool
}

func (d *serialDevice) IsOpen() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.open
}

func (d *serialDevice) IsConnected() bool {
	return d.IsOpen()
}

func (d *serialDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.open {
		return nil
	}
	d.open = false
	if err := d.port.Close(); err != nil {
		return fmt.Errorf("closing serial port: %w", err)
	}
	return nil
}

// Port exposes the underlying serial port for read/write use.
func (d *serialDevice) Port() serial.Port {
	return d.port
}
