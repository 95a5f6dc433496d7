package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Kind groups error codes into the phases that produce them.
type Kind string

const (
	KindInput      Kind = "input"
	KindPlanning   Kind = "planning"
	KindValidation Kind = "validation"
	KindExecution  Kind = "execution"
	KindSynthesis  Kind = "synthesis"
	KindInternal   Kind = "internal"
)

// Code represents a structured error code
type Code string

const (
	// Input errors
	CodeInputEmpty       Code = "INPUT_EMPTY"
	CodeInputUnparseable Code = "INPUT_UNPARSEABLE"

	// Planning errors
	CodePlanningNoTool Code = "PLANNING_NO_TOOL"
	CodePlanningCycle  Code = "PLANNING_CYCLE"

	// Validation errors
	CodeValidationUnknownTool Code = "VALIDATION_UNKNOWN_TOOL"
	CodeValidationPermission  Code = "VALIDATION_PERMISSION"
	CodeValidationRejected    Code = "VALIDATION_REJECTED"

	// Execution errors
	CodeExecutionFailed    Code = "EXECUTION_FAILED"
	CodeExecutionTimeout   Code = "EXECUTION_TIMEOUT"
	CodeExecutionCancelled Code = "EXECUTION_CANCELLED"

	// Synthesis errors
	CodeSynthesisFailed Code = "SYNTHESIS_FAILED"

	// Generic errors
	CodeInternal Code = "INTERNAL"
)

var codeKinds = map[Code]Kind{
	CodeInputEmpty:            KindInput,
	CodeInputUnparseable:      KindInput,
	CodePlanningNoTool:        KindPlanning,
	CodePlanningCycle:         KindPlanning,
	CodeValidationUnknownTool: KindValidation,
	CodeValidationPermission:  KindValidation,
	CodeValidationRejected:    KindValidation,
	CodeExecutionFailed:       KindExecution,
	CodeExecutionTimeout:      KindExecution,
	CodeExecutionCancelled:    KindExecution,
	CodeSynthesisFailed:       KindSynthesis,
	CodeInternal:              KindInternal,
}

// Error represents a structured Sidekick error
type Error struct {
	Code       Code
	Message    string
	Underlying error
	Context    map[string]any
	Retryable  bool
}

// New creates a new structured error
func New(code Code, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Context: make(map[string]any),
	}
}

// Newf creates a new structured error with a formatted message
func Newf(code Code, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap wraps an existing error with Sidekick error context
func Wrap(err error, code Code, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Code:       code,
		Message:    message,
		Underlying: err,
		Context:    make(map[string]any),
	}
}

// WithContext adds context key-value pairs to the error
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// WithRetryable marks the error as retryable
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// Kind returns the phase this error belongs to.
func (e *Error) Kind() Kind {
	if kind, ok := codeKinds[e.Code]; ok {
		return kind
	}
	return KindInternal
}

// Error implements the error interface
func (e *Error) Error() string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("[%s] %s", e.Code, e.Message))

	if len(e.Context) > 0 {
		sb.WriteString(" {")
		first := true
		for k, v := range e.Context {
			if !first {
				sb.WriteString(", ")
			}
			sb.WriteString(fmt.Sprintf("%s: %v", k, v))
			first = false
		}
		sb.WriteString("}")
	}

	if e.Underlying != nil {
		sb.WriteString(fmt.Sprintf(": %v", e.Underlying))
	}

	return sb.String()
}

// Unwrap returns the underlying error for errors.Is/As
func (e *Error) Unwrap() error {
	return e.Underlying
}

// IsCode checks if an error has a specific error code
func IsCode(err error, code Code) bool {
	var se *Error
	if !errors.As(err, &se) {
		return false
	}
	return se.Code == code
}

// IsKind checks if an error belongs to a phase kind, unwrapping as needed.
func IsKind(err error, kind Kind) bool {
	var se *Error
	if !errors.As(err, &se) {
		return false
	}
	return se.Kind() == kind
}

// GetCode extracts the error code from an error
func GetCode(err error) Code {
	if err == nil {
		return ""
	}
	var se *Error
	if !errors.As(err, &se) {
		return CodeInternal
	}
	return se.Code
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	var se *Error
	if !errors.As(err, &se) {
		return false
	}
	return se.Retryable
}

// IsInput reports whether err is an input-phase error.
func IsInput(err error) bool { return IsKind(err, KindInput) }

// IsPlanning reports whether err is a planning-phase error.
func IsPlanning(err error) bool { return IsKind(err, KindPlanning) }

// IsValidation reports whether err is a validation-phase error.
func IsValidation(err error) bool { return IsKind(err, KindValidation) }

// IsExecution reports whether err is an execution-phase error.
func IsExecution(err error) bool { return IsKind(err, KindExecution) }

// IsSynthesis reports whether err is a synthesis-phase error.
func IsSynthesis(err error) bool { return IsKind(err, KindSynthesis) }
