// Package errors provides custom error types for the agentdeck core.
package errors

import (
	"errors"
	"fmt"
)

// Error codes as constants. They map onto the failure taxonomy of the
// session core: malformed upstream payloads are ignored, resumability
// failures clear local session state, upstream errors are surfaced, and
// transport failures close the connection.
const (
	ErrCodeMalformedEvent      = "MALFORMED_EVENT"
	ErrCodeSessionNotResumable = "SESSION_NOT_RESUMABLE"
	ErrCodeUpstreamError       = "UPSTREAM_ERROR"
	ErrCodeTransportFailure    = "TRANSPORT_FAILURE"
	ErrCodeNotFound            = "NOT_FOUND"
	ErrCodeInvalidState        = "INVALID_STATE"
)

// AppError represents an application-specific error with additional context.
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error for use with errors.Is and errors.As.
func (e *AppError) Unwrap() error {
	return e.Err
}

// MalformedEvent creates an error for an unparseable or unrecognized event.
func MalformedEvent(detail string) *AppError {
	return &AppError{
		Code:    ErrCodeMalformedEvent,
		Message: detail,
	}
}

// SessionNotResumable creates an error for a session that the backend can no
// longer resume.
func SessionNotResumable(sessionID string) *AppError {
	return &AppError{
		Code:    ErrCodeSessionNotResumable,
		Message: fmt.Sprintf("session '%s' can no longer be resumed", sessionID),
	}
}

// Upstream creates an error for a failure reported by the agent backend.
func Upstream(message string, err error) *AppError {
	return &AppError{
		Code:    ErrCodeUpstreamError,
		Message: message,
		Err:     err,
	}
}

// TransportFailure creates an error for a dropped or unusable stream connection.
func TransportFailure(message string, err error) *AppError {
	return &AppError{
		Code:    ErrCodeTransportFailure,
		Message: message,
		Err:     err,
	}
}

// NotFound creates a new not found error for a resource.
func NotFound(resource string, id string) *AppError {
	return &AppError{
		Code:    ErrCodeNotFound,
		Message: fmt.Sprintf("%s with id '%s' not found", resource, id),
	}
}

// InvalidState creates an error for an operation attempted in the wrong
// lifecycle state.
func InvalidState(message string) *AppError {
	return &AppError{
		Code:    ErrCodeInvalidState,
		Message: message,
	}
}

// Wrap wraps an existing error with additional context, returning an AppError.
func Wrap(err error, message string) *AppError {
	if err == nil {
		return nil
	}

	// If the error is already an AppError, preserve its code
	var appErr *AppError
	if errors.As(err, &appErr) {
		return &AppError{
			Code:    appErr.Code,
			Message: fmt.Sprintf("%s: %s", message, appErr.Message),
			Err:     err,
		}
	}

	return &AppError{
		Code:    ErrCodeUpstreamError,
		Message: message,
		Err:     err,
	}
}

// IsSessionNotResumable checks if the error marks a non-resumable session.
func IsSessionNotResumable(err error) bool {
	return hasCode(err, ErrCodeSessionNotResumable)
}

// IsTransportFailure checks if the error is a transport failure.
func IsTransportFailure(err error) bool {
	return hasCode(err, ErrCodeTransportFailure)
}

// IsNotFound checks if the error is a not found error.
func IsNotFound(err error) bool {
	return hasCode(err, ErrCodeNotFound)
}

func hasCode(err error, code string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}
