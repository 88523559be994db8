package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for common error conditions.
var (
	// ErrNotFound indicates that a requested entity was not found.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates that an entity already exists.
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidInput indicates that the input data is invalid.
	ErrInvalidInput = errors.New("invalid input")

	// ErrSelfMerge indicates a merge where keep and remove are the same record.
	ErrSelfMerge = errors.New("cannot merge author with itself")

	// ErrTombstoned indicates an operation on a soft-deleted author record.
	ErrTombstoned = errors.New("author is tombstoned")

	// ErrServiceUnavailable indicates that an external service is unavailable.
	ErrServiceUnavailable = errors.New("service unavailable")
)

// ValidationError represents a validation error for a specific field.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
}

// Unwrap returns the underlying sentinel error for use with errors.Is.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}

// NotFoundError provides details about a not found entity.
type NotFoundError struct {
	Entity string
	ID     string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Entity, e.ID)
}

// Unwrap returns the underlying sentinel error for use with errors.Is.
func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// MergeError describes why a requested author merge was rejected.
type MergeError struct {
	Keep   string
	Remove string
	Cause  error
}

// Error implements the error interface.
func (e *MergeError) Error() string {
	return fmt.Sprintf("cannot merge %q into %q: %v", e.Remove, e.Keep, e.Cause)
}

// Unwrap returns the underlying cause for use with errors.Is.
func (e *MergeError) Unwrap() error {
	return e.Cause
}

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(entity, id string) *NotFoundError {
	return &NotFoundError{
		Entity: entity,
		ID:     id,
	}
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

// NewMergeError creates a new MergeError.
func NewMergeError(keep, remove string, cause error) *MergeError {
	return &MergeError{
		Keep:   keep,
		Remove: remove,
		Cause:  cause,
	}
}
