package domain

import (
	"errors"
	"fmt"
)

// Common domain errors that can occur while building metric configurations
// and validation results.
var (
	// ErrKeyNotFound indicates that a requested metric or result key does not exist.
	ErrKeyNotFound = errors.New("key not found")

	// ErrTypeMismatch indicates that a value's type doesn't match the expected type.
	ErrTypeMismatch = errors.New("type mismatch")

	// ErrEmptyValue indicates that a required value is empty or nil.
	ErrEmptyValue = errors.New("empty value")

	// ErrInvalidConfiguration indicates that configuration is invalid or incomplete.
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// ErrNotSerializable indicates that a value cannot be encoded as JSON.
	ErrNotSerializable = errors.New("value is not JSON serializable")

	// ErrInvalidResult indicates that a result payload violates its invariants.
	ErrInvalidResult = errors.New("invalid result")

	// ErrUnavailableMetric indicates that a dotted-path metric lookup on a
	// validation result could not be satisfied.
	ErrUnavailableMetric = errors.New("metric unavailable")
)

// InvalidResultError reports a result dict field that failed its invariant
// check at construction time.
type InvalidResultError struct {
	// Field is the offending result key, e.g. "unexpected_count".
	Field string

	// Value is the rejected value.
	Value any

	// Reason explains which bound was violated.
	Reason string
}

// Error implements the error interface for InvalidResultError.
func (e *InvalidResultError) Error() string {
	return fmt.Sprintf("invalid result: field=%s, value=%v, %s", e.Field, e.Value, e.Reason)
}

// Unwrap allows errors.Is(err, ErrInvalidResult).
func (e *InvalidResultError) Unwrap() error { return ErrInvalidResult }

// UnavailableMetricError is returned by GetMetric lookups on results.
type UnavailableMetricError struct {
	MetricName string
}

func (e *UnavailableMetricError) Error() string {
	return fmt.Sprintf("metric %s is not available", e.MetricName)
}

func (e *UnavailableMetricError) Unwrap() error { return ErrUnavailableMetric }

// ValidationError represents an error that occurred during validation.
// It can contain multiple validation failures.
type ValidationError struct {
	// Entity is the name of the entity that failed validation.
	Entity string

	// Errors contains the list of validation error messages.
	Errors []string
}

// Error implements the error interface for ValidationError.
func (e *ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return fmt.Sprintf("validation error for %s: %s", e.Entity, e.Errors[0])
	}
	return fmt.Sprintf("validation errors for %s: %v", e.Entity, e.Errors)
}

// Unwrap allows errors.Is(err, ErrInvalidConfiguration).
func (e *ValidationError) Unwrap() error { return ErrInvalidConfiguration }

// AddError adds a new error message to the validation error.
func (e *ValidationError) AddError(msg string) { e.Errors = append(e.Errors, msg) }

// HasErrors returns true if there are any validation errors.
func (e *ValidationError) HasErrors() bool { return len(e.Errors) > 0 }

// NewValidationError creates a new ValidationError for the given entity.
func NewValidationError(entity string) *ValidationError {
	return &ValidationError{
		Entity: entity,
		Errors: make([]string, 0),
	}
}
