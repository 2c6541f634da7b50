package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the engine.
type ErrorCode string

// Validation error codes. Validation errors are raised at registration time
// and never reach execution.
const (
	ErrCycleDetected       ErrorCode = "CYCLE_DETECTED"
	ErrDanglingEdge        ErrorCode = "DANGLING_EDGE"
	ErrDuplicateStep       ErrorCode = "DUPLICATE_STEP"
	ErrInvalidStep         ErrorCode = "INVALID_STEP"
	ErrInvalidWorkflow     ErrorCode = "INVALID_WORKFLOW"
	ErrUnknownRequirement  ErrorCode = "UNKNOWN_REQUIREMENT_TYPE"
	ErrInvalidGate         ErrorCode = "INVALID_GATE"
	ErrWorkflowNotFound    ErrorCode = "WORKFLOW_NOT_FOUND"
	ErrGateNotFound        ErrorCode = "GATE_NOT_FOUND"
	ErrExecutionNotFound   ErrorCode = "EXECUTION_NOT_FOUND"
)

// Execution error codes.
const (
	ErrStepFailed       ErrorCode = "STEP_FAILED"
	ErrStepTimeout      ErrorCode = "STEP_TIMEOUT"
	ErrExecutionFailed  ErrorCode = "EXECUTION_FAILED"
	ErrGateFailed       ErrorCode = "GATE_FAILED"
	ErrUpstreamFailed   ErrorCode = "UPSTREAM_FAILED"
	ErrCancelled        ErrorCode = "CANCELLED"
	ErrRegistryDispatch ErrorCode = "REGISTRY_DISPATCH"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
	StepID    string    `json:"step_id,omitempty"`
	GateID    string    `json:"gate_id,omitempty"`
	Cause     error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Errorf creates a new Error with a formatted message.
func Errorf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithStep attaches the failing step id.
func (e *Error) WithStep(stepID string) *Error {
	e.StepID = stepID
	return e
}

// WithGate attaches the failing gate id.
func (e *Error) WithGate(gateID string) *Error {
	e.GateID = gateID
	return e
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsValidation reports whether the error is a registration-time validation
// error rather than a runtime one.
func IsValidation(err error) bool {
	switch GetErrorCode(err) {
	case ErrCycleDetected, ErrDanglingEdge, ErrDuplicateStep, ErrInvalidStep,
		ErrInvalidWorkflow, ErrUnknownRequirement, ErrInvalidGate:
		return true
	}
	return false
}
