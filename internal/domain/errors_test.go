package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInvalidResultError(t *testing.T) {
	tests := []struct {
		name    string
		field   string
		value   any
		reason  string
		wantMsg string
	}{
		{
			name:    "negative count",
			field:   "unexpected_count",
			value:   -1,
			reason:  "must be non-negative",
			wantMsg: "invalid result: field=unexpected_count, value=-1, must be non-negative",
		},
		{
			name:    "percent out of range",
			field:   "missing_percent",
			value:   120.5,
			reason:  "must be within [0, 100]",
			wantMsg: "invalid result: field=missing_percent, value=120.5, must be within [0, 100]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := &InvalidResultError{Field: tt.field, Value: tt.value, Reason: tt.reason}

			assert.Equal(t, tt.wantMsg, err.Error(), "Error message mismatch")
			assert.True(t, errors.Is(err, ErrInvalidResult), "Should unwrap to ErrInvalidResult")
		})
	}
}

func TestUnavailableMetricError(t *testing.T) {
	err := fmt.Errorf("lookup: %w", &UnavailableMetricError{MetricName: "statistics.nope"})

	var target *UnavailableMetricError
	assert.True(t, errors.As(err, &target), "Should be extractable with errors.As")
	assert.Equal(t, "statistics.nope", target.MetricName)
	assert.True(t, errors.Is(err, ErrUnavailableMetric))
	assert.Equal(t, "lookup: metric statistics.nope is not available", err.Error())
}

func TestValidationError(t *testing.T) {
	t.Run("single error", func(t *testing.T) {
		err := NewValidationError("Suite")
		err.AddError("missing name")

		assert.Equal(t, "validation error for Suite: missing name", err.Error())
		assert.True(t, err.HasErrors(), "Should have errors")
		assert.Len(t, err.Errors, 1, "Should have one error")
		assert.True(t, errors.Is(err, ErrInvalidConfiguration))
	})

	t.Run("multiple errors", func(t *testing.T) {
		err := NewValidationError("Suite")
		err.AddError("missing name")
		err.AddError("unknown expectation type")

		assert.Contains(t, err.Error(), "validation errors for Suite")
		assert.Len(t, err.Errors, 2, "Should have two errors")
	})

	t.Run("no errors", func(t *testing.T) {
		err := NewValidationError("Config")

		assert.False(t, err.HasErrors(), "Should not have errors")
		assert.Empty(t, err.Errors, "Errors slice should be empty")
	})
}

func TestCommonDomainErrors(t *testing.T) {
	tests := []struct {
		err     error
		message string
	}{
		{ErrKeyNotFound, "key not found"},
		{ErrTypeMismatch, "type mismatch"},
		{ErrEmptyValue, "empty value"},
		{ErrInvalidConfiguration, "invalid configuration"},
		{ErrNotSerializable, "value is not JSON serializable"},
		{ErrInvalidResult, "invalid result"},
		{ErrUnavailableMetric, "metric unavailable"},
	}

	for _, tt := range tests {
		t.Run(tt.message, func(t *testing.T) {
			assert.Equal(t, tt.message, tt.err.Error(), "Error message mismatch")
		})
	}
}
