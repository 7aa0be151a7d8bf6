package engine

import (
	"errors"
	"fmt"
)

// ErrorClass represents the classification of an error for propagation decisions.
type ErrorClass string

const (
	// ErrorClassConfiguration indicates a setup problem: no terminus registered for a
	// subject, an unsupported capability, or an invalid catalog graph.
	ErrorClassConfiguration ErrorClass = "configuration"

	// ErrorClassRetrieval indicates a terminus failed to find, save or destroy.
	// Examples: transport failures, undecodable payloads, storage errors.
	ErrorClassRetrieval ErrorClass = "retrieval"

	// ErrorClassNotFound indicates a find located nothing for the given key.
	ErrorClassNotFound ErrorClass = "not_found"

	// ErrorClassApply indicates a single resource failed during a transaction.
	// Apply errors are recorded in the report and never propagated.
	ErrorClassApply ErrorClass = "apply"

	// ErrorClassFatal indicates a failure outside any single resource during apply.
	ErrorClassFatal ErrorClass = "fatal"
)

// EngineError represents a classified error with context.
// nolint:revive // EngineError is intentionally named to distinguish from standard errors
type EngineError struct {
	// Class is the error classification.
	Class ErrorClass `json:"class" yaml:"class"`

	// Message is the human-readable error message.
	Message string `json:"message" yaml:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty" yaml:"code,omitempty"`

	// Resource is the resource reference that caused the error, if applicable.
	Resource string `json:"resource,omitempty" yaml:"resource,omitempty"`

	// Operation is the operation being performed when the error occurred.
	Operation string `json:"operation,omitempty" yaml:"operation,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-" yaml:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty" yaml:"details,omitempty"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Class, e.Message)
	switch {
	case e.Resource != "" && e.Operation != "":
		msg = fmt.Sprintf("%s (resource=%s, operation=%s)", msg, e.Resource, e.Operation)
	case e.Resource != "":
		msg = fmt.Sprintf("%s (resource=%s)", msg, e.Resource)
	case e.Operation != "":
		msg = fmt.Sprintf("%s (operation=%s)", msg, e.Operation)
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

// NewConfigurationError creates a new configuration error.
func NewConfigurationError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassConfiguration, Message: message, Err: err}
}

// NewRetrievalError creates a new retrieval error.
func NewRetrievalError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassRetrieval, Message: message, Err: err}
}

// NewNotFoundError creates a new not-found error.
func NewNotFoundError(message string) *EngineError {
	return &EngineError{Class: ErrorClassNotFound, Message: message, Code: ErrCodeNotFound}
}

// NewApplyError creates a new apply error.
func NewApplyError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassApply, Message: message, Err: err}
}

// NewFatalEngineError creates a new fatal engine error.
func NewFatalEngineError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassFatal, Message: message, Err: err}
}

// NewNotSupportedError reports that a terminus does not implement an operation.
func NewNotSupportedError(terminus, operation string) *EngineError {
	return NewConfigurationError(
		fmt.Sprintf("terminus %s does not support %s", terminus, operation), nil,
	).WithCode(ErrCodeNotSupported).WithOperation(operation)
}

// WithResource adds resource context to an error.
func (e *EngineError) WithResource(ref string) *EngineError {
	e.Resource = ref
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

// WithDetail adds a detail field to the error context.
func (e *EngineError) WithDetail(key string, value interface{}) *EngineError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// ClassOf returns the class of the first EngineError in the chain, or "" when there is none.
func ClassOf(err error) ErrorClass {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class
	}
	return ""
}

// IsConfiguration returns true if the error is classified as a configuration error.
func IsConfiguration(err error) bool {
	return ClassOf(err) == ErrorClassConfiguration
}

// IsRetrieval returns true if the error is classified as a retrieval error.
func IsRetrieval(err error) bool {
	return ClassOf(err) == ErrorClassRetrieval
}

// IsNotFound returns true if the error is classified as not found.
func IsNotFound(err error) bool {
	return ClassOf(err) == ErrorClassNotFound
}

// IsApply returns true if the error is classified as an apply error.
func IsApply(err error) bool {
	return ClassOf(err) == ErrorClassApply
}

// IsFatal returns true if the error is classified as a fatal engine error.
func IsFatal(err error) bool {
	return ClassOf(err) == ErrorClassFatal
}

// IsNotSupported returns true if the error reports an unsupported terminus operation.
func IsNotSupported(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassConfiguration && e.Code == ErrCodeNotSupported
	}
	return false
}

// Common error codes.
const (
	ErrCodeValidation         = "VALIDATION_ERROR"
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeNoTerminus         = "NO_TERMINUS"
	ErrCodeNotSupported       = "NOT_SUPPORTED"
	ErrCodeCycle              = "CYCLE"
	ErrCodeUnknownDependency  = "UNKNOWN_DEPENDENCY"
	ErrCodeDuplicateResource  = "DUPLICATE_RESOURCE"
	ErrCodePolicyViolation    = "POLICY_VIOLATION"
	ErrCodeNoHandler          = "NO_HANDLER"
	ErrCodeDependencyFailed   = "DEPENDENCY_FAILED"
	ErrCodeTransport          = "TRANSPORT"
	ErrCodeDecode             = "DECODE"
	ErrCodeStorage            = "STORAGE"
	ErrCodeInvalidTransition  = "INVALID_TRANSITION"
	ErrCodeTransactionReused  = "TRANSACTION_REUSED"
	ErrCodeUnexpectedResponse = "UNEXPECTED_RESPONSE"
)
