package pickup

import (
	"errors"
	"fmt"

	"keymatic-backend/internal/apperr"
)

// State is a step of the guest-facing pickup flow.
type State string

const (
	StateWelcome    State = "welcome"
	StateConfirm    State = "confirm"
	StateOpenDoor   State = "openDoor"
	StateReleaseKey State = "releaseKey"
	StateCloseDoor  State = "closeDoor"
	StateSuccess    State = "success"
	StateExpired    State = "expired"
	StateError      State = "error"
)

// ExpiryReason says why a pickup link can no longer be used.
type ExpiryReason string

const (
	ReasonInvalid ExpiryReason = "invalid" // link already consumed or revoked
	ReasonTime    ExpiryReason = "time"    // check-out has passed
)

var (
	ErrDoorObstructed = errors.New("door limit switch still engaged")
	ErrKeyNotTaken    = errors.New("key still in slot")
	ErrSlotUnknown    = errors.New("key slot unknown")
	ErrExpired        = errors.New("pickup link expired")
)

// MismatchError is returned when the identity check fails.
type MismatchError struct {
	LastName bool
	Machine  bool
	// BadFormat is set when the machine id is not three characters.
	BadFormat bool
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("identity mismatch (last name: %t, machine: %t)", e.LastName, e.Machine)
}

func (e *MismatchError) Unwrap() error { return apperr.ErrValidationMismatch }

// Message returns the text shown to the guest.
func (e *MismatchError) Message() string {
	switch {
	case e.BadFormat && e.LastName:
		return "The last name does not match this pickup, and the machine ID has exactly 3 characters."
	case e.BadFormat:
		return "The machine ID has exactly 3 characters."
	case e.LastName && e.Machine:
		return "Neither the last name nor the machine ID match this pickup."
	case e.LastName:
		return "The last name does not match this pickup."
	default:
		return "The machine ID does not match this pickup."
	}
}

// userMessage maps a transition error to the text shown at the kiosk.
func userMessage(err error) string {
	var mismatch *MismatchError
	var rejection *apperr.RejectionError

	switch {
	case err == nil:
		return ""
	case errors.As(err, &mismatch):
		return mismatch.Message()
	case errors.Is(err, ErrDoorObstructed):
		return "The door did not open. Please make sure nothing is blocking it and try again."
	case errors.Is(err, ErrKeyNotTaken):
		return "Your key is ready. Please take it from the machine."
	case errors.Is(err, ErrExpired):
		return "This pickup link has expired."
	case errors.Is(err, apperr.ErrTransportTimeout):
		return "The machine is offline. Please try again in a moment."
	case errors.As(err, &rejection):
		if rejection.Detail != "" {
			return "The machine refused the request: " + rejection.Detail
		}
		return "The machine refused the request."
	case errors.Is(err, apperr.ErrAmbiguousResponse):
		return "The machine gave an unexpected answer. Please try again."
	case errors.Is(err, apperr.ErrConfiguration), errors.Is(err, ErrSlotUnknown):
		return "This machine is not set up for your key. Please contact your host."
	case errors.Is(err, apperr.ErrInvalidState):
		return "This step is not available right now."
	default:
		return "Something went wrong. Please try again."
	}
}
