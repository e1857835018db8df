package errors

import (
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"strings"
)

// ErrorType represents the type of error
type ErrorType string

const (
	// Input errors
	ErrorTypeValidation ErrorType = "VALIDATION"
	ErrorTypeNotFound   ErrorType = "NOT_FOUND"
	ErrorTypeConflict   ErrorType = "CONFLICT"

	// Processing errors
	ErrorTypeInternal      ErrorType = "INTERNAL"
	ErrorTypeTimeout       ErrorType = "TIMEOUT"
	ErrorTypeUnavailable   ErrorType = "UNAVAILABLE"
	ErrorTypeCancelled     ErrorType = "CANCELLED"
	ErrorTypeClarification ErrorType = "CLARIFICATION_REQUIRED"
	ErrorTypeInvalidOutput ErrorType = "INVALID_OUTPUT"

	// Infrastructure errors
	ErrorTypeDatabase ErrorType = "DATABASE"
	ErrorTypeExternal ErrorType = "EXTERNAL"
)

// Severity grades how much of the pipeline an error affects.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// AppError represents an application-specific error
type AppError struct {
	Type            ErrorType              `json:"type"`
	Message         string                 `json:"message"`
	Code            string                 `json:"code,omitempty"`
	Severity        Severity               `json:"severity"`
	Recoverable     bool                   `json:"recoverable"`
	SuggestedAction string                 `json:"suggested_action,omitempty"`
	Details         map[string]interface{} `json:"details,omitempty"`
	Cause           error                  `json:"-"`
	StackTrace      string                 `json:"-"`
	HTTPStatus      int                    `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithCode adds an error code
func (e *AppError) WithCode(code string) *AppError {
	e.Code = code
	return e
}

// WithDetails adds error details
func (e *AppError) WithDetails(details map[string]interface{}) *AppError {
	e.Details = details
	return e
}

// WithDetail sets a single detail entry.
func (e *AppError) WithDetail(key string, value interface{}) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithCause wraps an underlying error
func (e *AppError) WithCause(err error) *AppError {
	e.Cause = err
	return e
}

// WithSuggestedAction attaches a hint for the caller.
func (e *AppError) WithSuggestedAction(action string) *AppError {
	e.SuggestedAction = action
	return e
}

// WithSeverity overrides the default severity of the error type.
func (e *AppError) WithSeverity(severity Severity) *AppError {
	e.Severity = severity
	return e
}

// WithStatus overrides the HTTP status the error maps to
func (e *AppError) WithStatus(status int) *AppError {
	e.HTTPStatus = status
	return e
}

// AsRecoverable flags whether the caller may continue monitoring.
func (e *AppError) AsRecoverable(recoverable bool) *AppError {
	e.Recoverable = recoverable
	return e
}

// captureStackTrace captures the current stack trace
func captureStackTrace() string {
	const depth = 32
	var pcs [depth]uintptr
	n := runtime.Callers(3, pcs[:])
	frames := runtime.CallersFrames(pcs[:n])

	var sb strings.Builder
	for {
		frame, more := frames.Next()
		fmt.Fprintf(&sb, "%s:%d %s\n", frame.File, frame.Line, frame.Function)
		if !more {
			break
		}
	}
	return sb.String()
}

func newError(t ErrorType, message string, status int, severity Severity, recoverable bool) *AppError {
	return &AppError{
		Type:        t,
		Message:     message,
		Severity:    severity,
		Recoverable: recoverable,
		HTTPStatus:  status,
		StackTrace:  captureStackTrace(),
	}
}

// Constructor functions for common error types

// NewValidationError creates a validation error
func NewValidationError(message string) *AppError {
	return newError(ErrorTypeValidation, message, http.StatusBadRequest, SeverityWarning, true)
}

// NewNotFoundError creates a not found error
func NewNotFoundError(resource string) *AppError {
	return newError(ErrorTypeNotFound, fmt.Sprintf("%s not found", resource), http.StatusNotFound, SeverityWarning, true)
}

// NewConflictError creates a conflict error
func NewConflictError(message string) *AppError {
	return newError(ErrorTypeConflict, message, http.StatusConflict, SeverityError, true)
}

// NewInternalError creates an internal error
func NewInternalError(message string) *AppError {
	return newError(ErrorTypeInternal, message, http.StatusInternalServerError, SeverityError, false)
}

// NewTimeoutError creates a timeout error
func NewTimeoutError(operation string) *AppError {
	return newError(ErrorTypeTimeout, fmt.Sprintf("operation '%s' timed out", operation), http.StatusGatewayTimeout, SeverityError, true)
}

// NewUnavailableError creates a service unavailable error
func NewUnavailableError(service string) *AppError {
	return newError(ErrorTypeUnavailable, fmt.Sprintf("service '%s' is unavailable", service), http.StatusServiceUnavailable, SeverityError, true)
}

// NewCancelledError reports work abandoned because its session was torn down.
func NewCancelledError(operation string) *AppError {
	return newError(ErrorTypeCancelled, fmt.Sprintf("operation '%s' was cancelled", operation), http.StatusGone, SeverityWarning, false)
}

// NewClarificationError asks the participants for more context before a plan can be built.
func NewClarificationError(message string) *AppError {
	return newError(ErrorTypeClarification, message, http.StatusUnprocessableEntity, SeverityWarning, true).
		WithSuggestedAction("continue the discussion and add detail to the agreed idea")
}

// NewInvalidOutputError reports capability output that failed schema validation after all retries.
func NewInvalidOutputError(stage string, err error) *AppError {
	return newError(ErrorTypeInvalidOutput, fmt.Sprintf("stage '%s' produced invalid output", stage), http.StatusInternalServerError, SeverityCritical, false).
		WithCause(err)
}

// NewDatabaseError creates a database error
func NewDatabaseError(operation string, err error) *AppError {
	return newError(ErrorTypeDatabase, fmt.Sprintf("database operation '%s' failed", operation), http.StatusInternalServerError, SeverityError, true).
		WithCause(err)
}

// NewExternalError creates an external service error
func NewExternalError(service string, err error) *AppError {
	return newError(ErrorTypeExternal, fmt.Sprintf("external service '%s' error", service), http.StatusBadGateway, SeverityWarning, true).
		WithCause(err)
}

// Helper functions

// IsAppError checks if an error is an AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// GetAppError extracts AppError from an error chain
func GetAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return nil
}

// IsType checks if an error is of a specific type
func IsType(err error, errType ErrorType) bool {
	appErr := GetAppError(err)
	return appErr != nil && appErr.Type == errType
}

// IsNotFound checks if an error is a not found error
func IsNotFound(err error) bool {
	return IsType(err, ErrorTypeNotFound)
}

// IsValidation checks if an error is a validation error
func IsValidation(err error) bool {
	return IsType(err, ErrorTypeValidation)
}

// IsConflict checks if an error is a conflict error
func IsConflict(err error) bool {
	return IsType(err, ErrorTypeConflict)
}

// IsTimeout checks if an error is a timeout error
func IsTimeout(err error) bool {
	return IsType(err, ErrorTypeTimeout)
}

// IsClarification checks if an error asks for more discussion context
func IsClarification(err error) bool {
	return IsType(err, ErrorTypeClarification)
}

// IsRecoverable reports whether processing may continue after err.
func IsRecoverable(err error) bool {
	if appErr := GetAppError(err); appErr != nil {
		return appErr.Recoverable
	}
	return false
}

// Wrap wraps an error with additional context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}

	// If it's already an AppError, add context to message
	if appErr := GetAppError(err); appErr != nil {
		appErr.Message = fmt.Sprintf("%s: %s", message, appErr.Message)
		return appErr
	}

	// Otherwise create a new internal error
	return NewInternalError(message).WithCause(err)
}

// Wrapf wraps an error with formatted message
func Wrapf(err error, format string, args ...interface{}) error {
	return Wrap(err, fmt.Sprintf(format, args...))
}
