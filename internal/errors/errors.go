// Package errors provides the error taxonomy for the sync core.
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode identifies a class of failure. Components return these codes
// across boundaries instead of raising ad-hoc errors, so callers can branch
// on the class without string matching.
type ErrorCode string

const (
	// Transient transport failures: timeouts, connection resets, 5xx.
	ErrNetwork ErrorCode = "NETWORK_ERROR"

	// Credential failures: refresh failed, revoked session, 401/403.
	// Fatal for an entire drain pass.
	ErrAuth ErrorCode = "AUTH_ERROR"

	// Non-auth 4xx responses: malformed payload, not-found, conflict.
	// Fatal for the single mutation only.
	ErrClient ErrorCode = "CLIENT_ERROR"

	// Local persistence I/O failure.
	ErrStorage ErrorCode = "STORAGE_ERROR"

	// Enqueue rejected because the mutation store is at capacity.
	ErrQueueFull ErrorCode = "QUEUE_FULL"

	// A read found nothing in either remote or cache.
	ErrNoData ErrorCode = "NO_DATA"

	// Malformed configuration detected at startup.
	ErrInvalidConfig ErrorCode = "INVALID_CONFIG"
)

// AppError represents an application error with code and message.
type AppError struct {
	Code    ErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with an error code.
func Wrap(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Is checks if an error carries a specific code, unwrapping as needed.
func Is(err error, code ErrorCode) bool {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// CodeOf returns the code carried by err, or the empty string when err is
// not an AppError.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// Retryable reports whether err is a transient failure worth retrying.
func Retryable(err error) bool {
	return Is(err, ErrNetwork)
}
