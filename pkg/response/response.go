// Package response writes the control API JSON envelope.
package response

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	apperrors "taskboard-calls/pkg/errors"
)

// Response is the envelope every control API endpoint answers with
type Response struct {
	Success bool         `json:"success"`
	Data    any          `json:"data,omitempty"`
	Error   *ErrorDetail `json:"error,omitempty"`
	Meta    Meta         `json:"meta"`
}

// ErrorDetail contains error information
type ErrorDetail struct {
	Code    string `json:"code"` // e.g. "NO_ACTIVE_CALL"
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// Meta contains response metadata
type Meta struct {
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id,omitempty"`
}

// Success sends a successful response
func Success(c *gin.Context, statusCode int, data any) {
	c.JSON(statusCode, Response{Success: true, Data: data, Meta: meta(c)})
}

// Accepted answers an optimistic action: the local state already changed and the
// server is notified in the background.
func Accepted(c *gin.Context, data any) {
	Success(c, http.StatusAccepted, data)
}

// Error sends an error response
func Error(c *gin.Context, statusCode int, errorCode, errorMessage string) {
	writeError(c, statusCode, &ErrorDetail{Code: errorCode, Message: errorMessage})
}

// FromError sends err using its AppError code, status and details, or a 500 for anything else
func FromError(c *gin.Context, err error) {
	appErr := apperrors.GetAppError(err)
	if appErr == nil {
		InternalError(c, "Internal server error")
		return
	}
	status := appErr.StatusCode
	if status == 0 {
		status = http.StatusInternalServerError
	}
	writeError(c, status, &ErrorDetail{
		Code:    string(appErr.Code),
		Message: appErr.Message,
		Details: appErr.Details,
	})
}

// ValidationError sends a 400
func ValidationError(c *gin.Context, message string) {
	Error(c, http.StatusBadRequest, string(apperrors.ErrCodeValidation), message)
}

// Unauthorized sends a 401
func Unauthorized(c *gin.Context, message string) {
	Error(c, http.StatusUnauthorized, "UNAUTHORIZED", message)
}

// InternalError sends a 500
func InternalError(c *gin.Context, message string) {
	Error(c, http.StatusInternalServerError, string(apperrors.ErrCodeInternal), message)
}

func writeError(c *gin.Context, status int, detail *ErrorDetail) {
	c.JSON(status, Response{Success: false, Error: detail, Meta: meta(c)})
}

func meta(c *gin.Context) Meta {
	m := Meta{Timestamp: time.Now().UTC()}
	if id, ok := c.Get("request_id"); ok {
		m.RequestID, _ = id.(string)
	}
	return m
}
