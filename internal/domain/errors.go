package domain

import (
	"errors"
	"fmt"
	"time"
)

// Error codes for the §7 failure taxonomy.
const (
	ErrInvalidInput      = "INVALID_INPUT"
	ErrStage1Parse       = "STAGE1_PARSE"
	ErrStage2Parse       = "STAGE2_PARSE"
	ErrTransport         = "TRANSPORT"
	ErrNoCandidate       = "NO_CANDIDATE"
	ErrNoApplicable      = "NO_APPLICABLE"
	ErrInternalRuleError = "INTERNAL_RULE_ERROR"
	ErrInternalServer    = "INTERNAL_SERVER_ERROR"
)

// EngineError is the standardized error carried through the pipeline and
// surfaced on the API.
type EngineError struct {
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	Stage     string    `json:"stage,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id,omitempty"`
	cause     error
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	if e.Stage != "" {
		return fmt.Sprintf("%s [%s]: %s", e.Code, e.Stage, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause for errors.Is/As.
func (e *EngineError) Unwrap() error {
	return e.cause
}

// NewEngineError creates a new EngineError with timestamp.
func NewEngineError(code, stage, message string, cause error) *EngineError {
	return &EngineError{
		Code:      code,
		Message:   message,
		Stage:     stage,
		Timestamp: time.Now().UTC(),
		cause:     cause,
	}
}

// AsEngineError unwraps err to an *EngineError if possible.
func AsEngineError(err error) (*EngineError, bool) {
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee, true
	}
	return nil, false
}

// ValidationError represents input validation errors.
type ValidationError struct {
	Field   string      `json:"field"`
	Message string      `json:"message"`
	Value   interface{} `json:"value"`
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field, message string, value interface{}) *ValidationError {
	return &ValidationError{Field: field, Message: message, Value: value}
}
