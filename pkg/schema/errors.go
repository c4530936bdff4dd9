package schema

import "fmt"

// Error codes for structured error reporting.
const (
	ErrCodeConfig            = "CONFIG_ERROR"
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeKindNotFound      = "KIND_NOT_FOUND"
	ErrCodeDuplicateTask     = "DUPLICATE_TASK"
	ErrCodeMissingDependency = "MISSING_DEPENDENCY"
	ErrCodeUnknownNode       = "UNKNOWN_NODE"
	ErrCodeCycleDetected     = "CYCLE_DETECTED"
	ErrCodeInvariant         = "INVARIANT_VIOLATION"
	ErrCodeStrategy          = "STRATEGY_ERROR"
	ErrCodeFilter            = "FILTER_ERROR"
	ErrCodeCancelled         = "CANCELLED"
	ErrCodeIndex             = "INDEX_ERROR"
)

// LatticeError is the structured error type for all lattice operations.
type LatticeError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	Label   string         `json:"label,omitempty"`
	Cause   error          `json:"-"`
}

func (e *LatticeError) Error() string {
	if e.Label != "" {
		return fmt.Sprintf("[%s] task %s: %s", e.Code, e.Label, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *LatticeError) Unwrap() error {
	return e.Cause
}

// NewError creates a new LatticeError.
func NewError(code, message string) *LatticeError {
	return &LatticeError{Code: code, Message: message}
}

// NewErrorf creates a new LatticeError with a formatted message.
func NewErrorf(code, format string, args ...any) *LatticeError {
	return &LatticeError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithLabel attaches a task label to the error.
func (e *LatticeError) WithLabel(label string) *LatticeError {
	e.Label = label
	return e
}

// WithCause attaches an underlying cause.
func (e *LatticeError) WithCause(err error) *LatticeError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *LatticeError) WithDetails(details map[string]any) *LatticeError {
	e.Details = details
	return e
}
