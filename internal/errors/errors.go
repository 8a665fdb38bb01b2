// Package errors provides the error taxonomy shared across the sync engine.
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode classifies an error for retry and user-surfacing decisions.
type ErrorCode string

const (
	// ErrInternal covers programming errors and unclassifiable failures.
	ErrInternal ErrorCode = "INTERNAL_ERROR"
	// ErrNotFound means the referenced queue entry or record does not exist.
	ErrNotFound ErrorCode = "NOT_FOUND"

	// Storage errors
	ErrStorage           ErrorCode = "STORAGE_ERROR"
	ErrQuotaExceeded     ErrorCode = "QUOTA_EXCEEDED"
	ErrInvalidTransition ErrorCode = "INVALID_TRANSITION"

	// Network/publisher errors, classified at the orchestrator boundary.
	// The retry policy only ever sees these codes, never raw transport errors.
	ErrTransientNetwork    ErrorCode = "TRANSIENT_NETWORK"
	ErrPermanentValidation ErrorCode = "PERMANENT_VALIDATION"
	ErrAuthFailed          ErrorCode = "AUTH_FAILED"

	// ErrConflictDetected is a distinct outcome, not a failure: the draft's
	// assumed remote state diverged and resolver input is required.
	ErrConflictDetected ErrorCode = "CONFLICT_DETECTED"
)

// AppError carries an ErrorCode alongside a message and an optional cause.
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
	return &AppError{Code: code, Message: message}
}

// Newf creates a new AppError with a formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an existing error with an error code.
func Wrap(code ErrorCode, message string, err error) *AppError {
	return &AppError{Code: code, Message: message, Err: err}
}

// CodeOf extracts the ErrorCode from an error chain.
// Unclassified errors report ErrInternal.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrInternal
}

// Is checks if an error carries a specific code.
func Is(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}

// IsTransient reports whether a retry under the backoff schedule may fix err.
func IsTransient(err error) bool {
	return Is(err, ErrTransientNetwork)
}

// IsPermanent reports whether no retry can fix err.
func IsPermanent(err error) bool {
	switch CodeOf(err) {
	case ErrPermanentValidation, ErrAuthFailed:
		return true
	}
	return false
}
