package domain

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrAuthentication indicates a missing or invalid bearer token.
	ErrAuthentication = errors.New("authentication error")
	// ErrPersistence wraps storage read/write failures.
	ErrPersistence = errors.New("persistence error")
	// ErrTokenRefreshFailed indicates the refresh grant was rejected or could not be completed.
	ErrTokenRefreshFailed = errors.New("token refresh failed")
	// ErrNotConnected is returned when an action needs a provider link the user does not have.
	ErrNotConnected = errors.New("provider not connected")
	// ErrInvalidTransition is returned when a connection action is not valid in the current state.
	ErrInvalidTransition = errors.New("invalid connection state transition")
)

// ValidationError reports a missing or malformed request field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("%s is invalid", e.Field)
}

// NewValidationError builds a ValidationError for field.
func NewValidationError(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// UpstreamError describes a non-success answer from the remote provider.
// Status is the provider's HTTP status code and is proxied to the caller.
type UpstreamError struct {
	Status  int
	Message string
	Body    string
}

func (e *UpstreamError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("upstream error (status %d): %s", e.Status, e.Message)
	}
	return fmt.Sprintf("upstream error (status %d)", e.Status)
}

// HTTPStatus returns Status, falling back to 502 when the provider gave none.
func (e *UpstreamError) HTTPStatus() int {
	if e.Status < 400 {
		return http.StatusBadGateway
	}
	return e.Status
}

// Persistence wraps err as a persistence failure for operation op.
func Persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %w", ErrPersistence, op, err)
}

// RefreshFailed wraps err as a token refresh failure.
func RefreshFailed(err error) error {
	if err == nil {
		return ErrTokenRefreshFailed
	}
	return fmt.Errorf("%w: %w", ErrTokenRefreshFailed, err)
}
