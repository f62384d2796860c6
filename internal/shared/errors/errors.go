package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Machine-readable error codes returned to clients.
const (
	CodeInvalidRequest      = "invalid_request"
	CodeInvalidEvent        = "invalid_event"
	CodeInvalidSignature    = "invalid_signature"
	CodeUnauthorized        = "unauthorized"
	CodeNotAuthorized       = "not_authorized"
	CodeNotFound            = "not_found"
	CodeInsufficientCredits = "insufficient_credits"
	CodeConflict            = "conflict"
	CodeStorageFailure      = "storage_failure"
	CodeTierChangeFailed    = "tier_change_failed"
	CodeProviderFailure     = "provider_failure"
	CodeInternal            = "internal_error"
)

// AppError represents an application error with HTTP status and error code.
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"-"`
	Err        error  `json:"-"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// ErrorResponse represents the JSON error response.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error details.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewAppError creates a new application error.
func NewAppError(code string, message string, statusCode int, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
		Err:        err,
	}
}

// BadRequest creates a bad request error.
func BadRequest(code, message string, err error) *AppError {
	if code == "" {
		code = CodeInvalidRequest
	}
	return NewAppError(code, message, http.StatusBadRequest, err)
}

// Unauthorized creates an unauthenticated error.
func Unauthorized(message string) *AppError {
	if message == "" {
		message = "authentication required"
	}
	return NewAppError(CodeUnauthorized, message, http.StatusUnauthorized, nil)
}

// Forbidden creates an error for a caller acting on a resource it does not own.
func Forbidden(message string, err error) *AppError {
	if message == "" {
		message = "access denied"
	}
	return NewAppError(CodeNotAuthorized, message, http.StatusForbidden, err)
}

// NotFound creates a not found error.
func NotFound(resource string, err error) *AppError {
	return NewAppError(CodeNotFound, fmt.Sprintf("%s not found", resource), http.StatusNotFound, err)
}

// InsufficientCredits creates the error for an exhausted daily allotment.
func InsufficientCredits(err error) *AppError {
	return NewAppError(CodeInsufficientCredits, "Daily credit limit reached", http.StatusForbidden, err)
}

// Conflict creates a conflict error.
func Conflict(message string, err error) *AppError {
	return NewAppError(CodeConflict, message, http.StatusConflict, err)
}

// Unavailable creates an error for a failing dependency.
func Unavailable(code, message string, err error) *AppError {
	return NewAppError(code, message, http.StatusServiceUnavailable, err)
}

// Internal creates an internal error.
func Internal(code, message string, err error) *AppError {
	if code == "" {
		code = CodeInternal
	}
	return NewAppError(code, message, http.StatusInternalServerError, err)
}

// ToResponse converts an AppError to ErrorResponse.
func (e *AppError) ToResponse() ErrorResponse {
	return ErrorResponse{
		Error: ErrorDetail{
			Code:    e.Code,
			Message: e.Message,
		},
	}
}

// GetStatusCode returns the HTTP status code for an error.
func GetStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}
	return http.StatusInternalServerError
}
