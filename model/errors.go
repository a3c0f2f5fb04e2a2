package model

import "fmt"

// Standard error codes.
const (
	ErrBadRequest          = "BAD_REQUEST"
	ErrUnauthorized        = "UNAUTHORIZED"
	ErrForbidden           = "FORBIDDEN"
	ErrNotFound            = "NOT_FOUND"
	ErrConflict            = "CONFLICT"
	ErrValidationError     = "VALIDATION_ERROR"
	ErrInternalError       = "INTERNAL_ERROR"
	ErrPlatformUnavailable = "PLATFORM_UNAVAILABLE"
	ErrPlatformTimeout     = "PLATFORM_TIMEOUT"
)

// Submission-specific error codes.
const (
	ErrSessionNotFound  = "SESSION_NOT_FOUND"
	ErrSubmissionFailed = "SUBMISSION_FAILED"
	ErrConfigInvalid    = "CONFIG_INVALID"
)

// ErrorEnvelope is the standard error response envelope returned by the BFF.
// It implements the error interface.
type ErrorEnvelope struct {
	Code    string       `json:"code"`
	Message string       `json:"message"`
	Details []FieldError `json:"details,omitempty"`
	TraceID string       `json:"trace_id"`
}

// Error implements the error interface.
func (e *ErrorEnvelope) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// FieldError describes a field-level validation error.
type FieldError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewBadRequestError returns a BAD_REQUEST error.
func NewBadRequestError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrBadRequest, Message: msg}
}

// NewUnauthorizedError returns an UNAUTHORIZED error.
func NewUnauthorizedError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrUnauthorized, Message: msg}
}

// NewForbiddenError returns a FORBIDDEN error.
func NewForbiddenError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrForbidden, Message: msg}
}

// NewNotFoundError returns a NOT_FOUND error.
func NewNotFoundError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrNotFound, Message: msg}
}

// NewConflictError returns a CONFLICT error.
func NewConflictError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrConflict, Message: msg}
}

// NewValidationError returns a VALIDATION_ERROR with field-level details.
func NewValidationError(details []FieldError) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrValidationError,
		Message: "One or more fields are invalid",
		Details: details,
	}
}

// NewConfigInvalidError returns a CONFIG_INVALID error for submissions
// against a modal configuration that fails validation.
func NewConfigInvalidError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrConfigInvalid, Message: msg}
}

// NewSessionNotFoundError returns a SESSION_NOT_FOUND error.
func NewSessionNotFoundError(sessionID string) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrSessionNotFound,
		Message: fmt.Sprintf("preview session %q not found", sessionID),
	}
}

// NewInternalError returns an INTERNAL_ERROR.
func NewInternalError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrInternalError,
		Message: "An unexpected error occurred",
	}
}

// NewPlatformUnavailableError returns a PLATFORM_UNAVAILABLE error.
func NewPlatformUnavailableError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrPlatformUnavailable,
		Message: "The platform backend is temporarily unavailable",
	}
}

// NewPlatformTimeoutError returns a PLATFORM_TIMEOUT error.
func NewPlatformTimeoutError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrPlatformTimeout,
		Message: "The platform backend did not respond in time",
	}
}
