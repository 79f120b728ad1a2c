package api

import (
	"errors"
	"net/http"

	"keymatic-backend/internal/apperr"
	"keymatic-backend/internal/pickup"
)

// statusFor maps an error to the HTTP status of the admin and owner routes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperr.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, apperr.ErrValidationMismatch):
		return http.StatusBadRequest
	case errors.Is(err, apperr.ErrTransportTimeout),
		errors.Is(err, apperr.ErrDeviceRejection),
		errors.Is(err, apperr.ErrAmbiguousResponse):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// kioskStatus maps a transition error. Guest mistakes and physical prompts
// are normal screens, not failures.
func kioskStatus(err error) int {
	switch {
	case err == nil,
		errors.Is(err, apperr.ErrValidationMismatch),
		errors.Is(err, pickup.ErrDoorObstructed),
		errors.Is(err, pickup.ErrKeyNotTaken):
		return http.StatusOK
	case errors.Is(err, pickup.ErrExpired):
		return http.StatusGone
	default:
		return statusFor(err)
	}
}
