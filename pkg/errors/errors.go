package errors

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/frostdev-ops/pma-sensor-core/internal/adapters/miniserver"
	"github.com/frostdev-ops/pma-sensor-core/internal/core/directory"
	"github.com/frostdev-ops/pma-sensor-core/internal/core/resolver"
	"github.com/frostdev-ops/pma-sensor-core/internal/database"
)

// AppError is an error with the HTTP status it maps to
type AppError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
	cause   error
}

func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("code=%d, message=%s, details=%s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("code=%d, message=%s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.cause
}

// Common errors
var (
	ErrNotFound       = &AppError{Code: http.StatusNotFound, Message: "Resource not found"}
	ErrBadRequest     = &AppError{Code: http.StatusBadRequest, Message: "Bad request"}
	ErrBadGateway     = &AppError{Code: http.StatusBadGateway, Message: "Device backend unavailable"}
	ErrInternalServer = &AppError{Code: http.StatusInternalServerError, Message: "Internal server error"}
)

// New creates a new AppError
func New(code int, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// WithDetails copies err with details attached
func WithDetails(err *AppError, details string) *AppError {
	return &AppError{
		Code:    err.Code,
		Message: err.Message,
		Details: details,
		cause:   err.cause,
	}
}

// FromError maps a domain error to an AppError. Unknown errors become 500.
func FromError(err error) *AppError {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	base := ErrInternalServer
	switch {
	case errors.Is(err, resolver.ErrDeviceNotFound), errors.Is(err, database.ErrDeviceNotFound):
		base = ErrNotFound
	case errors.Is(err, miniserver.ErrFetchFailed):
		base = ErrBadGateway
	case errors.Is(err, directory.ErrUnsupportedFormat):
		base = ErrBadRequest
	}

	return &AppError{
		Code:    base.Code,
		Message: base.Message,
		Details: err.Error(),
		cause:   err,
	}
}

// GetStatusCode returns the HTTP status code of err
func GetStatusCode(err error) int {
	if appErr := FromError(err); appErr != nil {
		return appErr.Code
	}
	return http.StatusOK
}
