package schema

import (
	"errors"
	"fmt"
)

// Error codes for structured error reporting.
const (
	ErrCodeValidation    = "VALIDATION_ERROR"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeConflict      = "CONFLICT"
	ErrCodeInvalidEdit   = "INVALID_EDIT"
	ErrCodeSessionClosed = "SESSION_CLOSED"
	ErrCodeExpression    = "EXPRESSION_ERROR"
	ErrCodeRender        = "RENDER_ERROR"
	ErrCodeStore         = "STORE_ERROR"
)

// ChainError is the structured error returned by every layer above the
// chain model itself.
type ChainError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	Node    *int           `json:"node,omitempty"`
	Cause   error          `json:"-"`
}

func (e *ChainError) Error() string {
	if e.Node != nil {
		return fmt.Sprintf("[%s] node %d: %s", e.Code, *e.Node, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *ChainError) Unwrap() error {
	return e.Cause
}

// NewError creates a new ChainError.
func NewError(code, message string) *ChainError {
	return &ChainError{Code: code, Message: message}
}

// NewErrorf creates a new ChainError with a formatted message.
func NewErrorf(code, format string, args ...any) *ChainError {
	return &ChainError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithNode attaches the array index the error refers to.
func (e *ChainError) WithNode(index int) *ChainError {
	e.Node = &index
	return e
}

// WithCause attaches an underlying cause.
func (e *ChainError) WithCause(err error) *ChainError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *ChainError) WithDetails(details map[string]any) *ChainError {
	e.Details = details
	return e
}

// HasCode reports whether err wraps a ChainError with the given code.
func HasCode(err error, code string) bool {
	var ce *ChainError
	return errors.As(err, &ce) && ce.Code == code
}
