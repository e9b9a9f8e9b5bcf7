package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrInvalidInput is returned for invalid input.
	ErrInvalidInput = errors.New("invalid input")
)

// FieldError describes one rejected input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError is returned before any pipeline step runs when the
// submitted case violates an input invariant.
type ValidationError struct {
	Fields []FieldError `json:"fields"`
}

// Add appends a field error.
func (e *ValidationError) Add(field, message string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: message})
}

// OrNil returns e as an error when it holds at least one field error.
func (e *ValidationError) OrNil() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+" "+f.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Is lets errors.Is(err, ErrInvalidInput) match validation failures.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidInput
}

// PersistenceError is returned when a fully processed case could not be
// written to the case store. Events holds the audit trail that was drained
// for the write so callers can retry or report it.
type PersistenceError struct {
	CaseID string
	Events []AuditEvent
	Err    error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist case %s: %v", e.CaseID, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
