package engine

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorClass represents the classification of an error for retry and recovery logic.
type ErrorClass string

const (
	// ErrorClassTransient indicates a temporary failure that may succeed on retry.
	// Examples: a locked history database, a git process killed by a timeout.
	ErrorClassTransient ErrorClass = "transient"

	// ErrorClassConflict indicates the persisted document changed underneath the caller.
	ErrorClassConflict ErrorClass = "conflict"

	// ErrorClassPermanent indicates a non-recoverable error.
	// Examples: invalid backlog, unknown action token, missing file.
	ErrorClassPermanent ErrorClass = "permanent"
)

// EngineError represents a classified error with context.
// nolint:revive // EngineError is intentionally named to distinguish from standard errors
type EngineError struct {
	// Class is the error classification for retry logic.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Resource is the work item id or file path that caused the error, if applicable.
	Resource string `json:"resource,omitempty"`

	// Operation is the operation being performed when the error occurred.
	Operation string `json:"operation,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Class, e.Message)
	if e.Resource != "" && e.Operation != "" {
		msg = fmt.Sprintf("%s (resource=%s, operation=%s)", msg, e.Resource, e.Operation)
	} else if e.Resource != "" {
		msg = fmt.Sprintf("%s (resource=%s)", msg, e.Resource)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewTransientError creates a new transient error.
func NewTransientError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassTransient, Message: message, Err: err}
}

// NewConflictError creates a new conflict error.
func NewConflictError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassConflict, Message: message, Err: err}
}

// NewPermanentError creates a new permanent error.
func NewPermanentError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassPermanent, Message: message, Err: err}
}

// WithResource adds resource context to an error.
func (e *EngineError) WithResource(resourceID string) *EngineError {
	e.Resource = resourceID
	return e
}

// WithOperation adds operation context to an error.
func (e *EngineError) WithOperation(operation string) *EngineError {
	e.Operation = operation
	return e
}

// WithCode adds an error code to an error.
func (e *EngineError) WithCode(code string) *EngineError {
	e.Code = code
	return e
}

// IsTransient returns true if the error is classified as transient.
func IsTransient(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassTransient
	}
	return false
}

// IsPermanent returns true if the error is classified as permanent.
func IsPermanent(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassPermanent
	}
	return false
}

// IsNotFound reports whether err carries the NOT_FOUND code.
func IsNotFound(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Code == ErrCodeNotFound
	}
	return false
}

// Common error codes.
const (
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeDrift             = "DRIFT"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeDecode            = "DECODE_ERROR"
	ErrCodeUnsupportedAction = "UNSUPPORTED_ACTION"
	ErrCodeInvalidParams     = "INVALID_PARAMS"
	ErrCodeExecutionFailed   = "EXECUTION_FAILED"
	ErrCodeTimeout           = "TIMEOUT"
	ErrCodeInternal          = "INTERNAL_ERROR"
)

// ValidationError aggregates every violation found in a single validation pass.
type ValidationError struct {
	Violations []Violation
}

// Error implements the error interface. Every violation is listed, one per line.
func (e *ValidationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "backlog validation failed with %d violation(s)", len(e.Violations))
	for _, v := range e.Violations {
		b.WriteString("\n  - ")
		b.WriteString(v.String())
	}
	return b.String()
}

// Is matches any EngineError carrying the validation code.
func (e *ValidationError) Is(target error) bool {
	t, ok := target.(*EngineError)
	return ok && t.Code == ErrCodeValidation
}

// ByCategory returns the violations tagged with the given category.
func (e *ValidationError) ByCategory(c Category) []Violation {
	var out []Violation
	for _, v := range e.Violations {
		if v.Category == c {
			out = append(out, v)
		}
	}
	return out
}

// DriftError reports that the persisted document differs from its canonical rendering.
type DriftError struct {
	// Path is the location of the persisted document.
	Path string

	// Missing is true when there is no persisted document at all.
	Missing bool
}

// Error implements the error interface.
func (e *DriftError) Error() string {
	if e.Missing {
		return fmt.Sprintf("backlog %s is missing; run build", e.Path)
	}
	return fmt.Sprintf("backlog %s is not canonical; run build", e.Path)
}

// Is matches any EngineError carrying the drift code.
func (e *DriftError) Is(target error) bool {
	t, ok := target.(*EngineError)
	return ok && t.Code == ErrCodeDrift
}

// IsValidation reports whether err is, or wraps, a ValidationError.
func IsValidation(err error) bool {
	var e *ValidationError
	return errors.As(err, &e)
}

// IsDrift reports whether err is, or wraps, a DriftError.
func IsDrift(err error) bool {
	var e *DriftError
	return errors.As(err, &e)
}
