package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Sentinel errors used across all layers.
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrValidation    = errors.New("validation failed")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrForbidden     = errors.New("forbidden")
	ErrBadRequest    = errors.New("bad request")

	ErrDuplicateUniqueFields = errors.New("duplicate unique fields")
	ErrItemNonRemoveable     = errors.New("item non removeable")
	ErrRemovePrevented       = errors.New("remove prevented")
	ErrRemoveUnconfirmed     = errors.New("remove unconfirmed")
)

// FieldError describes a validation error for a specific field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError contains a list of field-level validation errors.
type ValidationError struct {
	Errors []FieldError
}

func (e *ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return fmt.Sprintf("validation: %s: %s", e.Errors[0].Field, e.Errors[0].Message)
	}
	return fmt.Sprintf("validation: %d errors", len(e.Errors))
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// NewValidationError creates a ValidationError for a single field.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Errors: []FieldError{{Field: field, Message: message}},
	}
}

// NewValidationErrors creates a ValidationError from multiple field errors.
func NewValidationErrors(errs []FieldError) *ValidationError {
	return &ValidationError{Errors: errs}
}

// DuplicateError reports a violated uniqueness group.
// Records holds the conflicting documents (persisted or incoming).
// Conflicting holds the indices of the incoming candidates that must be
// dropped for the remaining batch to pass the same check.
type DuplicateError struct {
	Group       []string
	Records     []Document
	Conflicting []int
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("duplicate unique fields: %s (%d records)", strings.Join(e.Group, "&"), len(e.Records))
}

func (e *DuplicateError) Unwrap() error { return ErrDuplicateUniqueFields }

// DependencyError lists, per dependency name, the records blocking a removal.
// Confirmable is true when the removal may proceed after client confirmation.
type DependencyError struct {
	Confirmable  bool
	Dependencies map[string][]Document
}

func (e *DependencyError) Error() string {
	names := make([]string, 0, len(e.Dependencies))
	for name := range e.Dependencies {
		names = append(names, name)
	}
	sort.Strings(names)
	if e.Confirmable {
		return "remove unconfirmed: " + strings.Join(names, ", ")
	}
	return "remove prevented: " + strings.Join(names, ", ")
}

func (e *DependencyError) Unwrap() error {
	if e.Confirmable {
		return ErrRemoveUnconfirmed
	}
	return ErrRemovePrevented
}

// PolicyError is a rejected tenant-scoping rule. It indicates a programming
// error in the caller and is never retried.
type PolicyError struct {
	Collection string
	Reason     string
}

func (e *PolicyError) Error() string {
	return fmt.Sprintf("bad request: %s: %s", e.Collection, e.Reason)
}

func (e *PolicyError) Unwrap() error { return ErrBadRequest }
