package ble

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a peripheral cannot be located.
var ErrNotFound = errors.New("ble: device not found")

// ErrUnknownFamily is returned when a serial number matches no catalog family.
var ErrUnknownFamily = errors.New("ble: no device family matches serial number")

// TransportError reports a failed connect, read or write.
type TransportError struct {
	Op       string // "connect", "read" or "write"
	DeviceID string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("ble: %s %s: %v", e.Op, e.DeviceID, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
