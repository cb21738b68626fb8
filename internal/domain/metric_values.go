package domain

import (
	"fmt"
	"math"
)

// Metrics holds resolved metric values keyed by logical name, as handed to a
// metric provider (its evaluation dependencies) or to an expectation (its
// metric dependencies). It is read-only by convention.
type Metrics map[string]any

// MetricValue fetches name from m and asserts it to T.
// Numeric values are converted between integer and float kinds because
// backends disagree on what a COUNT or SUM returns.
func MetricValue[T any](m Metrics, name string) (T, error) {
	var zero T
	raw, ok := m[name]
	if !ok {
		return zero, fmt.Errorf("metric %s: %w", name, ErrKeyNotFound)
	}
	if v, ok := raw.(T); ok {
		return v, nil
	}
	switch any(zero).(type) {
	case float64:
		if f, ok := ToFloat64(raw); ok {
			return any(f).(T), nil
		}
	case int64:
		if f, ok := ToFloat64(raw); ok && f == math.Trunc(f) {
			return any(int64(f)).(T), nil
		}
	case int:
		if f, ok := ToFloat64(raw); ok && f == math.Trunc(f) {
			return any(int(f)).(T), nil
		}
	}
	return zero, fmt.Errorf("metric %s: expected %T, got %T: %w", name, zero, raw, ErrTypeMismatch)
}

// ToFloat64 converts the numeric kinds a backend may produce to float64.
func ToFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}
