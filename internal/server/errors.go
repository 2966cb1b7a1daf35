// Package server provides the HTTP REST API for the verification service.
package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/minionlabs/minion-api/internal/schemas"
	"github.com/minionlabs/minion-api/internal/storage"
	"github.com/minionlabs/minion-api/internal/verify"
)

// ErrEmailAlreadyExists indicates email is already registered
type ErrEmailAlreadyExists struct {
	Email string
}

func (e *ErrEmailAlreadyExists) Error() string {
	return fmt.Sprintf("email already registered: %s", e.Email)
}

// ErrInvalidCredentials indicates invalid login credentials
type ErrInvalidCredentials struct{}

func (e *ErrInvalidCredentials) Error() string {
	return "invalid email or password"
}

// ErrUserNotFound indicates user was not found
type ErrUserNotFound struct {
	UserID uuid.UUID
}

func (e *ErrUserNotFound) Error() string {
	return fmt.Sprintf("user not found: %s", e.UserID)
}

// ErrPasswordMismatch indicates current password is incorrect
type ErrPasswordMismatch struct{}

func (e *ErrPasswordMismatch) Error() string {
	return "current password is incorrect"
}

// ErrValidation indicates request validation failure
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("validation error: %s - %s", e.Field, e.Message)
}

// HTTPStatus returns the appropriate HTTP status code for an error
func HTTPStatus(err error) int {
	var (
		emailExists *ErrEmailAlreadyExists
		badCreds    *ErrInvalidCredentials
		mismatch    *ErrPasswordMismatch
		noUser      *ErrUserNotFound
		invalid     *ErrValidation
		schemaErr   *schemas.ValidationError
		breakpoint  *verify.BreakpointError
	)

	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &emailExists):
		return http.StatusConflict
	case errors.As(err, &badCreds), errors.As(err, &mismatch):
		return http.StatusUnauthorized
	case errors.As(err, &noUser):
		return http.StatusNotFound
	case errors.As(err, &invalid), errors.As(err, &schemaErr), errors.Is(err, verify.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, verify.ErrInsufficientCredits):
		return http.StatusPaymentRequired
	case errors.Is(err, verify.ErrNotFound), errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, verify.ErrConflict):
		return http.StatusConflict
	case errors.As(err, &breakpoint):
		// The job is parked at a checkpoint and can be resumed.
		return http.StatusServiceUnavailable
	case errors.Is(err, verify.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, verify.ErrProviderUnavailable), errors.Is(err, verify.ErrStorage):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// publicMessage returns the text shown to API callers for err. Internal
// failures are not echoed back.
func publicMessage(err error) string {
	var breakpoint *verify.BreakpointError
	switch {
	case errors.As(err, &breakpoint):
		return fmt.Sprintf("Verification stopped at breakpoint %d; resume to continue", breakpoint.Stage.Code())
	case errors.Is(err, verify.ErrInsufficientCredits):
		return "Insufficient credits"
	case errors.Is(err, verify.ErrTimeout):
		return "Timed out waiting for the verification provider"
	case errors.Is(err, verify.ErrProviderUnavailable):
		return "Verification provider unavailable"
	case errors.Is(err, verify.ErrStorage):
		return "Object storage unavailable"
	case errors.Is(err, verify.ErrPersistence):
		return "Failed to persist job state"
	}
	if status := HTTPStatus(err); status >= http.StatusInternalServerError {
		return "Internal server error"
	}
	return err.Error()
}
