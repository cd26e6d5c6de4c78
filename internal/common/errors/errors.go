// Package errors provides structured error handling for the connector status API
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

// ErrorCode represents an application error code
type ErrorCode string

const (
	// General errors
	ErrInternal   ErrorCode = "INTERNAL_ERROR"
	ErrNotFound   ErrorCode = "NOT_FOUND"
	ErrBadRequest ErrorCode = "BAD_REQUEST"
	ErrConflict   ErrorCode = "CONFLICT"
	ErrTimeout    ErrorCode = "TIMEOUT"

	// Session errors
	ErrAlreadyRunning     ErrorCode = "ALREADY_RUNNING"
	ErrChannelUnavailable ErrorCode = "CHANNEL_UNAVAILABLE"

	// Backend errors
	ErrDirectoryUnavailable ErrorCode = "DIRECTORY_UNAVAILABLE"
	ErrCalendarUnavailable  ErrorCode = "CALENDAR_UNAVAILABLE"
)

// AppError represents a structured application error
type AppError struct {
	Code       ErrorCode              `json:"code"`
	Message    string                 `json:"message"`
	Details    string                 `json:"details,omitempty"`
	StatusCode int                    `json:"-"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	Err        error                  `json:"-"` // Original error for logging
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the original error
func (e *AppError) Unwrap() error {
	return e.Err
}

// WithMetadata adds metadata to the error
func (e *AppError) WithMetadata(key string, value interface{}) *AppError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

// WithDetails adds details to the error
func (e *AppError) WithDetails(details string) *AppError {
	e.Details = details
	return e
}

// New creates a new AppError
func New(code ErrorCode, message string, statusCode int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

// Wrap wraps an existing error into an AppError
func Wrap(err error, code ErrorCode, message string, statusCode int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
		Err:        err,
	}
}

// Internal creates an internal server error
func Internal(message string, err error) *AppError {
	return Wrap(err, ErrInternal, message, http.StatusInternalServerError)
}

// Timeout creates a timeout error
func Timeout(message string) *AppError {
	return New(ErrTimeout, message, http.StatusGatewayTimeout)
}

// AlreadyRunning reports a start request against an active session
func AlreadyRunning(err error) *AppError {
	return Wrap(err, ErrAlreadyRunning, "Connector is already running", http.StatusConflict)
}

// ChannelUnavailable reports a control channel that could not be opened
func ChannelUnavailable(err error) *AppError {
	return (&AppError{
		Code:       ErrChannelUnavailable,
		Message:    "Control channel unavailable",
		StatusCode: http.StatusBadGateway,
		Err:        err,
	}).WithDetails(errText(err))
}

// DirectoryUnavailable reports an unreachable directory
func DirectoryUnavailable(err error) *AppError {
	return (&AppError{
		Code:       ErrDirectoryUnavailable,
		Message:    "Directory unavailable",
		StatusCode: http.StatusBadGateway,
		Err:        err,
	}).WithDetails(errText(err))
}

// CalendarUnavailable reports an unreachable calendar service
func CalendarUnavailable(err error) *AppError {
	return (&AppError{
		Code:       ErrCalendarUnavailable,
		Message:    "Calendar unavailable",
		StatusCode: http.StatusBadGateway,
		Err:        err,
	}).WithDetails(errText(err))
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// ErrorResponse is the JSON response structure for errors
type ErrorResponse struct {
	Error     ErrorCode              `json:"error"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
}

// HandleError sends an error response to the client
func HandleError(c *gin.Context, err error) {
	var appErr *AppError
	if !stderrors.As(err, &appErr) {
		appErr = Internal("An unexpected error occurred", err)
	}

	requestID, _ := c.Get("request_id")
	reqIDStr, _ := requestID.(string)

	c.JSON(appErr.StatusCode, ErrorResponse{
		Error:     appErr.Code,
		Message:   appErr.Message,
		Details:   appErr.Details,
		Metadata:  appErr.Metadata,
		RequestID: reqIDStr,
	})
}

// ErrorHandler is a middleware that handles panics and converts them to errors
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				var appErr *AppError

				switch e := err.(type) {
				case *AppError:
					appErr = e
				case error:
					appErr = Internal("Internal server error", e)
				default:
					appErr = Internal("Internal server error", fmt.Errorf("%v", err))
				}

				HandleError(c, appErr)
				c.Abort()
			}
		}()

		c.Next()
	}
}

