package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode represents application-specific error codes
type ErrorCode string

const (
	// Validation errors
	ErrCodeValidation     ErrorCode = "VALIDATION_ERROR"
	ErrCodeInvalidPayload ErrorCode = "INVALID_PAYLOAD"

	// Call state errors
	ErrCodeInvalidState    ErrorCode = "INVALID_STATE"
	ErrCodeNoActiveCall    ErrorCode = "NO_ACTIVE_CALL"
	ErrCodeCallUnavailable ErrorCode = "CALL_FEATURES_UNAVAILABLE"

	// Transport errors
	ErrCodeNotConnected   ErrorCode = "NOT_CONNECTED"
	ErrCodeSendBufferFull ErrorCode = "SEND_BUFFER_FULL"
	ErrCodeTransport      ErrorCode = "TRANSPORT_ERROR"

	// Collaborator errors
	ErrCodeMedia               ErrorCode = "MEDIA_ERROR"
	ErrCodeIdentityUnavailable ErrorCode = "IDENTITY_UNAVAILABLE"

	// Internal errors
	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
)

// AppError represents a structured application error with code, message, and HTTP status
type AppError struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	StatusCode int       `json:"-"`
	Details    any       `json:"details,omitempty"`
	Err        error     `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError with the given code and message.
// The status code defaults to 500.
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: http.StatusInternalServerError,
	}
}

// NewWithStatus creates a new AppError with a specific HTTP status code
func NewWithStatus(code ErrorCode, message string, statusCode int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

// Wrap wraps an existing error with an AppError, preserving the original error
func Wrap(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Err:        err,
	}
}

// WrapWithStatus wraps an existing error with an AppError and specific status code
func WrapWithStatus(code ErrorCode, message string, statusCode int, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
		Err:        err,
	}
}

// WithDetails attaches details to the error
func (e *AppError) WithDetails(details any) *AppError {
	e.Details = details
	return e
}

func ValidationError(message string) *AppError {
	return NewWithStatus(ErrCodeValidation, message, http.StatusBadRequest)
}

func InvalidPayloadError(event string, err error) *AppError {
	return WrapWithStatus(ErrCodeInvalidPayload, fmt.Sprintf("Invalid payload for %s", event), http.StatusBadRequest, err)
}

func InvalidStateError(message string) *AppError {
	return NewWithStatus(ErrCodeInvalidState, message, http.StatusConflict)
}

func NoActiveCallError() *AppError {
	return NewWithStatus(ErrCodeNoActiveCall, "No active call", http.StatusNotFound)
}

func CallUnavailableError() *AppError {
	return NewWithStatus(ErrCodeCallUnavailable, "Call features are unavailable", http.StatusServiceUnavailable)
}

func NotConnectedError() *AppError {
	return NewWithStatus(ErrCodeNotConnected, "Event channel is not connected", http.StatusServiceUnavailable)
}

func SendBufferFullError() *AppError {
	return NewWithStatus(ErrCodeSendBufferFull, "Event channel send buffer is full", http.StatusServiceUnavailable)
}

func TransportError(err error) *AppError {
	return WrapWithStatus(ErrCodeTransport, "Transport error", http.StatusBadGateway, err)
}

func MediaError(err error) *AppError {
	return WrapWithStatus(ErrCodeMedia, "Media session error", http.StatusInternalServerError, err)
}

func IdentityUnavailableError() *AppError {
	return NewWithStatus(ErrCodeIdentityUnavailable, "Local identity is unavailable", http.StatusServiceUnavailable)
}

func InternalError(message string) *AppError {
	return NewWithStatus(ErrCodeInternal, message, http.StatusInternalServerError)
}

// IsAppError checks if an error is, or wraps, an AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// HasCode reports whether err is an AppError with the given code
func HasCode(err error, code ErrorCode) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == code
}

// GetAppError extracts AppError from an error, wrapping non-AppErrors as InternalError
func GetAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return InternalError(err.Error())
}
