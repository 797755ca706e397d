package apperrors

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrUnauthorized = errors.New("unauthorized")
)

// ValidationError reports malformed input with per-field detail.
type ValidationError struct {
	Fields map[string]string
}

// NewValidationError creates a ValidationError for a single field.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: message}}
}

// Add records another field problem and returns the receiver.
func (e *ValidationError) Add(field, message string) *ValidationError {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	e.Fields[field] = message
	return e
}

// HasErrors reports whether any field problem was recorded.
func (e *ValidationError) HasErrors() bool {
	return e != nil && len(e.Fields) > 0
}

// OrNil returns nil when no field problem was recorded, so callers can
// build up a ValidationError and return it as an error unconditionally.
func (e *ValidationError) OrNil() error {
	if !e.HasErrors() {
		return nil
	}
	return e
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// GenerationError is returned when the vision model could not produce usable annotations.
type GenerationError struct {
	Message   string
	Attempts  int
	Retryable bool
	Cause     error
}

func (e *GenerationError) Error() string {
	msg := e.Message
	if e.Attempts > 0 {
		msg = fmt.Sprintf("%s (after %d attempt(s))", msg, e.Attempts)
	}
	if e.Cause != nil {
		return fmt.Sprintf("generation failed: %s: %v", msg, e.Cause)
	}
	return "generation failed: " + msg
}

func (e *GenerationError) Unwrap() error {
	return e.Cause
}

// IsRetryable lets retry loops honour the provider's classification.
func (e *GenerationError) IsRetryable() bool {
	return e.Retryable
}

// PersistenceError wraps a failed store operation after its transaction rolled back.
type PersistenceError struct {
	Op    string
	Cause error
}

// NewPersistenceError wraps cause unless it is already a domain error the caller should see as-is.
func NewPersistenceError(op string, cause error) error {
	if cause == nil {
		return nil
	}
	if errors.Is(cause, ErrNotFound) || errors.Is(cause, ErrConflict) {
		return cause
	}
	var ve *ValidationError
	if errors.As(cause, &ve) {
		return cause
	}
	return &PersistenceError{Op: op, Cause: cause}
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure during %s: %v", e.Op, e.Cause)
}

func (e *PersistenceError) Unwrap() error {
	return e.Cause
}
