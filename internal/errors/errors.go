package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a category of application error.
type ErrorCode string

const (
	// ErrCodeNotFound indicates a resource was not found.
	ErrCodeNotFound ErrorCode = "not_found"
	// ErrCodeConflict indicates a conflict with existing data.
	ErrCodeConflict ErrorCode = "conflict"
	// ErrCodeValidation indicates invalid input data.
	ErrCodeValidation ErrorCode = "validation"
	// ErrCodeInternal indicates an internal error.
	ErrCodeInternal ErrorCode = "internal"
	// ErrCodeTimeout indicates a timeout occurred.
	ErrCodeTimeout ErrorCode = "timeout"
	// ErrCodeCanceled indicates the operation was canceled.
	ErrCodeCanceled ErrorCode = "canceled"

	// ErrCodeProviderUnavailable indicates a vendor cannot be used at all
	// (missing or invalid credentials). Fatal, never retried.
	ErrCodeProviderUnavailable ErrorCode = "provider_unavailable"
	// ErrCodeProviderRequest indicates the vendor rejected a task-creation
	// request (4xx/5xx). Triggers the one-shot fallback at creation time.
	ErrCodeProviderRequest ErrorCode = "provider_request"
	// ErrCodePollingNetwork indicates a transient status-query failure,
	// tolerated up to a consecutive-failure budget.
	ErrCodePollingNetwork ErrorCode = "polling_network"
	// ErrCodePollingTimeout indicates the polling attempt budget was exhausted.
	ErrCodePollingTimeout ErrorCode = "polling_timeout"
	// ErrCodePersistence indicates a remote store write failed. Logged and
	// repaired by the reconciler; never fails the job.
	ErrCodePersistence ErrorCode = "persistence"
	// ErrCodeUnknownResponse indicates a vendor response that does not match
	// the expected schema. Handled like a polling network error.
	ErrCodeUnknownResponse ErrorCode = "unknown_response"
)

// AppError represents a structured application error with a code, message,
// and optional cause. It supports errors.Is and errors.As.
type AppError struct {
	// Code categorizes the error type
	Code ErrorCode
	// Message is a human-readable error message
	Message string
	// Cause is the underlying error that caused this error (optional)
	Cause error
	// Provider tags provider-originated errors with the vendor name (optional)
	Provider string
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause, enabling errors.Is and errors.As.
func (e *AppError) Unwrap() error {
	return e.Cause
}

// NotFound creates a new NotFound error.
func NotFound(message string) *AppError {
	return &AppError{Code: ErrCodeNotFound, Message: message}
}

// NotFoundf creates a new NotFound error with formatted message.
func NotFoundf(format string, args ...any) *AppError {
	return &AppError{Code: ErrCodeNotFound, Message: fmt.Sprintf(format, args...)}
}

// Validation creates a new Validation error.
func Validation(message string) *AppError {
	return &AppError{Code: ErrCodeValidation, Message: message}
}

// Validationf creates a new Validation error with formatted message.
func Validationf(format string, args ...any) *AppError {
	return &AppError{Code: ErrCodeValidation, Message: fmt.Sprintf(format, args...)}
}

// Conflict creates a new Conflict error.
func Conflict(message string) *AppError {
	return &AppError{Code: ErrCodeConflict, Message: message}
}

// Internal creates a new Internal error.
func Internal(message string) *AppError {
	return &AppError{Code: ErrCodeInternal, Message: message}
}

// Internalf creates a new Internal error with formatted message.
func Internalf(format string, args ...any) *AppError {
	return &AppError{Code: ErrCodeInternal, Message: fmt.Sprintf(format, args...)}
}

// ProviderUnavailable creates an error for a vendor that cannot be used.
func ProviderUnavailable(provider, message string) *AppError {
	return &AppError{Code: ErrCodeProviderUnavailable, Message: message, Provider: provider}
}

// ProviderRequest creates an error for a rejected task-creation request.
func ProviderRequest(provider, message string, cause error) *AppError {
	return &AppError{
		Code:     ErrCodeProviderRequest,
		Message:  message,
		Cause:    cause,
		Provider: provider,
	}
}

// PollingNetwork creates an error for a transient status-query failure.
func PollingNetwork(provider string, cause error) *AppError {
	return &AppError{
		Code:     ErrCodePollingNetwork,
		Message:  "status query failed",
		Cause:    cause,
		Provider: provider,
	}
}

// PollingTimeout creates an error for an exhausted polling attempt budget.
func PollingTimeout(provider string, attempts int) *AppError {
	return &AppError{
		Code:     ErrCodePollingTimeout,
		Message:  fmt.Sprintf("polling timed out after %d attempts", attempts),
		Provider: provider,
	}
}

// Persistence creates an error for a failed remote store write.
func Persistence(message string, cause error) *AppError {
	return &AppError{Code: ErrCodePersistence, Message: message, Cause: cause}
}

// UnknownResponse creates an error for a vendor response schema mismatch.
func UnknownResponse(provider, message string) *AppError {
	return &AppError{Code: ErrCodeUnknownResponse, Message: message, Provider: provider}
}

// Wrap wraps an existing error with an AppError, preserving the cause.
func Wrap(err error, code ErrorCode, message string) *AppError {
	if err == nil {
		return nil
	}
	return &AppError{Code: code, Message: message, Cause: err}
}

// Wrapf wraps an existing error with an AppError and formatted message.
func Wrapf(err error, code ErrorCode, format string, args ...any) *AppError {
	if err == nil {
		return nil
	}
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...), Cause: err}
}

// isCode checks if an error has a specific error code.
func isCode(err error, code ErrorCode) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == code
}

// IsNotFound checks if an error is a NotFound error.
func IsNotFound(err error) bool {
	return isCode(err, ErrCodeNotFound)
}

// IsValidation checks if an error is a Validation error.
func IsValidation(err error) bool {
	return isCode(err, ErrCodeValidation)
}

// IsConflict checks if an error is a Conflict error.
func IsConflict(err error) bool {
	return isCode(err, ErrCodeConflict)
}

// IsProviderUnavailable checks if an error is a ProviderUnavailable error.
func IsProviderUnavailable(err error) bool {
	return isCode(err, ErrCodeProviderUnavailable)
}

// IsProviderRequest checks if an error is a ProviderRequest error.
func IsProviderRequest(err error) bool {
	return isCode(err, ErrCodeProviderRequest)
}

// IsCreationFailure reports whether an error should trigger the one-shot
// fallback provider at task-creation time.
func IsCreationFailure(err error) bool {
	return IsProviderUnavailable(err) || IsProviderRequest(err)
}

// IsPollingNetwork checks if an error counts against the consecutive
// polling failure budget. Schema mismatches count the same way.
func IsPollingNetwork(err error) bool {
	return isCode(err, ErrCodePollingNetwork) || isCode(err, ErrCodeUnknownResponse)
}

// IsPollingTimeout checks if an error is a PollingTimeout error.
func IsPollingTimeout(err error) bool {
	return isCode(err, ErrCodePollingTimeout)
}

// IsPersistence checks if an error is a Persistence error.
func IsPersistence(err error) bool {
	return isCode(err, ErrCodePersistence)
}

// GetCode returns the ErrorCode from an error, or empty string if not an AppError.
func GetCode(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// GetProvider returns the provider tag from an error, or empty string.
func GetProvider(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Provider
	}
	return ""
}
