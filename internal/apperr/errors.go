package apperr

import (
	"errors"
	"fmt"
)

var (
	// setup errors, never retried
	ErrConfiguration = errors.New("configuration error")

	// machine interaction errors
	ErrTransportTimeout   = errors.New("machine offline")
	ErrDeviceRejection    = errors.New("device rejected command")
	ErrAmbiguousResponse  = errors.New("ambiguous device response")
	ErrValidationMismatch = errors.New("validation mismatch")

	// repository / flow errors
	ErrNotFound     = errors.New("not found")
	ErrInvalidState = errors.New("invalid state transition")
)

// RejectionError carries the HTTP status and body detail a device answered with.
type RejectionError struct {
	Status int
	Detail string
}

func (e *RejectionError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("device rejected command: status %d", e.Status)
	}
	return fmt.Sprintf("device rejected command: status %d: %s", e.Status, e.Detail)
}

func (e *RejectionError) Unwrap() error { return ErrDeviceRejection }

// Configuration wraps a message as a configuration error.
func Configuration(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}
