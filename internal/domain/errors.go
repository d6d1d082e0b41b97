package domain

import (
	"errors"
	"fmt"
	"strings"
)

// JoinError is returned by a transport when the initial join is rejected
// (bad credential) or cannot reach the provider.
type JoinError struct {
	Room string
	Code int
	Err  error
}

func (e *JoinError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("join %q: code=%d: %v", e.Room, e.Code, e.Err)
	}
	return fmt.Sprintf("join %q: %v", e.Room, e.Err)
}

func (e *JoinError) Unwrap() error { return e.Err }

// Device error codes reported by capturers.
const (
	CodeNotReadable      = "NOT_READABLE"
	CodeNotFound         = "NOT_FOUND"
	CodePermissionDenied = "PERMISSION_DENIED"
)

// DeviceError is a capture failure carrying a platform error code.
type DeviceError struct {
	Code string
	Kind Kind
	Err  error
}

func (e *DeviceError) Error() string {
	parts := make([]string, 0, 3)
	if e.Kind != "" {
		parts = append(parts, string(e.Kind))
	}
	if e.Code != "" {
		parts = append(parts, e.Code)
	}
	if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}
	return strings.Join(parts, ": ")
}

func (e *DeviceError) Unwrap() error { return e.Err }

// ErrNotFound is returned when no capture device matches a request.
var ErrNotFound = errors.New("no matching capture device")
