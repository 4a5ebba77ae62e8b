package modbus

import "errors"

// Use errors.Is() to check for these errors in calling code.
var (
	// ErrConnectionFailed is returned when opening the serial port or socket fails.
	ErrConnectionFailed = errors.New("modbus: connection failed")

	// ErrReadFailed is returned when a coil or register read fails.
	ErrReadFailed = errors.New("modbus: read failed")

	// ErrWriteFailed is returned when a coil or register write fails.
	ErrWriteFailed = errors.New("modbus: write failed")

	// ErrShortResponse is returned when the PLC answers with fewer bytes than requested.
	ErrShortResponse = errors.New("modbus: short response")

	// ErrInvalidMode is returned for a transport other than rtu or tcp.
	ErrInvalidMode = errors.New("modbus: invalid mode (must be rtu or tcp)")
)
