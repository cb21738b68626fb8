// Package domain contains pure, dependency-light value types for metric
// resolution and expectation validation.
package domain

import (
	"encoding/json"
	"fmt"
	"maps"
	"reflect"
	"slices"
)

// Well-known domain kwarg names. Metric providers split a raw parameter bag
// into domain and value kwargs using these names.
const (
	KwargBatchID         = "batch_id"
	KwargColumn          = "column"
	KwargColumnList      = "column_list"
	KwargColumnA         = "column_A"
	KwargColumnB         = "column_B"
	KwargRowCondition    = "row_condition"
	KwargConditionParser = "condition_parser"
	KwargIgnoreRowIf     = "ignore_row_if"
)

// Kwargs is an ordered-insensitive bag of named parameters.
// Two Kwargs with the same keys and values are interchangeable regardless of
// the order in which they were populated.
type Kwargs map[string]any

// Clone returns a deep copy of k so callers can never mutate shared state.
func (k Kwargs) Clone() Kwargs {
	if k == nil {
		return Kwargs{}
	}
	out := make(Kwargs, len(k))
	for key, v := range k {
		out[key] = deepCopyValue(v)
	}
	return out
}

// Keys returns the keys of k in sorted order.
func (k Kwargs) Keys() []string {
	keys := slices.Collect(maps.Keys(k))
	slices.Sort(keys)
	return keys
}

// String returns the value stored under key when it is a string.
func (k Kwargs) String(key string) (string, bool) {
	v, ok := k[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Has reports whether key is present and non-nil.
func (k Kwargs) Has(key string) bool {
	v, ok := k[key]
	return ok && v != nil
}

// Without returns a copy of k with the given keys removed.
func (k Kwargs) Without(keys ...string) Kwargs {
	out := k.Clone()
	for _, key := range keys {
		delete(out, key)
	}
	return out
}

// Only returns a copy of k restricted to the given keys.
func (k Kwargs) Only(keys ...string) Kwargs {
	out := make(Kwargs, len(keys))
	for _, key := range keys {
		if v, ok := k[key]; ok {
			out[key] = deepCopyValue(v)
		}
	}
	return out
}

// Equal reports whether k and other hold the same canonical content.
// Numeric values compare by their JSON form, so int 1 and float64 1 match.
func (k Kwargs) Equal(other Kwargs) bool {
	a, errA := canonicalJSON(map[string]any(k))
	b, errB := canonicalJSON(map[string]any(other))
	if errA != nil || errB != nil {
		return reflect.DeepEqual(k, other)
	}
	return string(a) == string(b)
}

// canonicalJSON encodes v with sorted map keys. encoding/json already sorts
// map keys, so normalizing nil maps is the only extra step.
func canonicalJSON(v any) ([]byte, error) {
	if m, ok := v.(map[string]any); ok && m == nil {
		v = map[string]any{}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotSerializable, err)
	}
	return b, nil
}

// EnsureJSONSerializable returns an error when v cannot be encoded as JSON.
func EnsureJSONSerializable(v any) error {
	_, err := canonicalJSON(v)
	return err
}

// deepCopyValue copies maps and slices recursively; other values are returned
// as-is since they are immutable or opaque handles.
func deepCopyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, inner := range t {
			out[k] = deepCopyValue(inner)
		}
		return out
	case Kwargs:
		return t.Clone()
	case []any:
		out := make([]any, len(t))
		for i, inner := range t {
			out[i] = deepCopyValue(inner)
		}
		return out
	case []string:
		return slices.Clone(t)
	case []float64:
		return slices.Clone(t)
	case []int:
		return slices.Clone(t)
	default:
		return v
	}
}
