package reader

import (
	"errors"
	"fmt"
)

var (
	ErrNotConnected = errors.New("reader: not connected")
	// ErrWrongProtocol means the peer answered in a text protocol (HTTP or
	// JSON). Retrying will not help; the address points at the wrong service.
	ErrWrongProtocol   = errors.New("reader: peer speaks a different protocol")
	ErrCommandTimeout  = errors.New("reader: command timed out")
	ErrReadTimeout     = errors.New("reader: no frame before deadline")
	ErrAlreadyScanning = errors.New("reader: already scanning")
)

// ConnectionError is returned when the link cannot be opened or breaks.
type ConnectionError struct {
	Addr string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("reader %s: connection: %v", e.Addr, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// DeviceError is a non-success status returned by the reader for a command.
type DeviceError struct {
	Command     uint16
	Status      byte
	Description string
	Raw         []byte
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("reader: command %04X failed: status %02X (%s)", e.Command, e.Status, e.Description)
}
