package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError represents an application error with an error code and,
// for REST failures, the HTTP status that produced it.
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
	Err     error  `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error
func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError creates a new AppError
func NewAppError(code, message string, status int, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Status:  status,
		Err:     err,
	}
}

// Error class constructors

// Connection creates a transport-level connection error. These are
// retried by the transport and surfaced on its status stream, never
// thrown at emit callers.
func Connection(message string, err error) *AppError {
	return &AppError{
		Code:    "CONNECTION_ERROR",
		Message: message,
		Status:  http.StatusServiceUnavailable,
		Err:     err,
	}
}

// Rejected creates a command-rejection error for server-sent *Error events.
func Rejected(code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Status:  http.StatusUnprocessableEntity,
	}
}

// Validation creates a synchronous call-site validation error.
func Validation(message string, err error) *AppError {
	return &AppError{
		Code:    "VALIDATION_ERROR",
		Message: message,
		Status:  http.StatusBadRequest,
		Err:     err,
	}
}

// Recovery creates a snapshot persistence/restore error. Logged and
// swallowed by callers; the session continues with in-memory state.
func Recovery(message string, err error) *AppError {
	return &AppError{
		Code:    "RECOVERY_ERROR",
		Message: message,
		Status:  http.StatusInternalServerError,
		Err:     err,
	}
}

// Unauthorized creates a 401 error
func Unauthorized(message string, err error) *AppError {
	return &AppError{
		Code:    "UNAUTHORIZED",
		Message: message,
		Status:  http.StatusUnauthorized,
		Err:     err,
	}
}

// NotFound creates a 404 error
func NotFound(message string, err error) *AppError {
	return &AppError{
		Code:    "NOT_FOUND",
		Message: message,
		Status:  http.StatusNotFound,
		Err:     err,
	}
}

// Internal creates a 500 error
func Internal(message string, err error) *AppError {
	return &AppError{
		Code:    "INTERNAL_ERROR",
		Message: message,
		Status:  http.StatusInternalServerError,
		Err:     err,
	}
}

// Timeout creates a timeout error for one-shot event waits.
func Timeout(message string) *AppError {
	return &AppError{
		Code:    "TIMEOUT",
		Message: message,
		Status:  http.StatusGatewayTimeout,
	}
}

// Domain-specific errors

var (
	ErrNoUserID         = Validation("No user id available", nil)
	ErrNotConnected     = Connection("Realtime connection is not established", nil)
	ErrNotInitialized   = Connection("Realtime transport is not initialized", nil)
	ErrConnectionFailed = Connection("Realtime connection failed after maximum retries", nil)
	ErrNoActiveRide     = Validation("No active ride", nil)
	ErrNoDriverAssigned = Validation("No driver assigned to the ride yet", nil)
	ErrRideNotFound     = NotFound("Ride not found", nil)
	ErrNoDriversFound   = Rejected("NO_DRIVERS_FOUND", "No drivers available in the area")
	ErrSessionExpired   = Unauthorized("Session expired", nil)
	ErrSessionNotFound  = Unauthorized("No stored session", nil)
	ErrAccountBlocked   = Unauthorized("Account is blocked", nil)
	ErrInvalidRating    = Validation("Rating must be between 1 and 5", nil)
	ErrInvalidSnapshot  = Recovery("Persisted ride snapshot is not readable", nil)
)

// IsAppError checks if an error is an AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// GetAppError attempts to convert an error to AppError
func GetAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return Internal("An unexpected error occurred", err)
}

// Wrap wraps an error with additional context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}
