package domain

import (
	"fmt"
	"strings"
)

// ExpectationConfiguration is the declarative rule: an expectation type plus
// the kwargs it is evaluated with. It is immutable once constructed.
type ExpectationConfiguration struct {
	expectationType string
	kwargs          Kwargs
	meta            map[string]any
	notes           string
}

// NewExpectationConfiguration validates the type and ensures meta and kwargs
// are JSON serializable.
func NewExpectationConfiguration(
	expectationType string,
	kwargs Kwargs,
	meta map[string]any,
) (ExpectationConfiguration, error) {
	if strings.TrimSpace(expectationType) == "" {
		return ExpectationConfiguration{}, fmt.Errorf("expectation type: %w", ErrEmptyValue)
	}
	if err := EnsureJSONSerializable(map[string]any(kwargs)); err != nil {
		return ExpectationConfiguration{}, fmt.Errorf("expectation %s kwargs: %w", expectationType, err)
	}
	if err := EnsureJSONSerializable(meta); err != nil {
		return ExpectationConfiguration{}, fmt.Errorf("expectation %s meta: %w", expectationType, err)
	}
	return ExpectationConfiguration{
		expectationType: expectationType,
		kwargs:          kwargs.Clone(),
		meta:            Kwargs(meta).Clone(),
	}, nil
}

// WithNotes returns a copy carrying free-form notes.
func (c ExpectationConfiguration) WithNotes(notes string) ExpectationConfiguration {
	c.notes = notes
	return c
}

// WithKwargs returns a copy with kwargs replaced, used after suite
// parameter substitution.
func (c ExpectationConfiguration) WithKwargs(kwargs Kwargs) ExpectationConfiguration {
	c.kwargs = kwargs.Clone()
	return c
}

// Type returns the expectation type, e.g. "expect_table_columns_to_match_set".
func (c ExpectationConfiguration) Type() string { return c.expectationType }

// Kwargs returns a copy of the expectation kwargs.
func (c ExpectationConfiguration) Kwargs() Kwargs { return c.kwargs.Clone() }

// Meta returns a copy of the meta map.
func (c ExpectationConfiguration) Meta() map[string]any { return Kwargs(c.meta).Clone() }

// Notes returns the free-form notes.
func (c ExpectationConfiguration) Notes() string { return c.notes }

// IsEquivalentTo compares by value: equal type and equal kwargs.
func (c ExpectationConfiguration) IsEquivalentTo(other ExpectationConfiguration) bool {
	return c.expectationType == other.expectationType && c.kwargs.Equal(other.kwargs)
}

// ToJSONDict returns the wire form.
func (c ExpectationConfiguration) ToJSONDict() map[string]any {
	out := map[string]any{
		"type":   c.expectationType,
		"kwargs": map[string]any(c.kwargs.Clone()),
		"meta":   map[string]any(Kwargs(c.meta).Clone()),
	}
	if c.notes != "" {
		out["notes"] = c.notes
	}
	return out
}

// ExpectationConfigurationFromMap rebuilds a configuration from its wire form.
func ExpectationConfigurationFromMap(m map[string]any) (ExpectationConfiguration, error) {
	t, _ := m["type"].(string)
	kwargs, _ := m["kwargs"].(map[string]any)
	meta, _ := m["meta"].(map[string]any)
	cfg, err := NewExpectationConfiguration(t, kwargs, meta)
	if err != nil {
		return ExpectationConfiguration{}, err
	}
	if notes, ok := m["notes"].(string); ok {
		cfg = cfg.WithNotes(notes)
	}
	return cfg, nil
}

// ExpectationSuite is a named collection of expectations evaluated together
// against one batch.
type ExpectationSuite struct {
	Name         string
	Expectations []ExpectationConfiguration
	Parameters   map[string]any
	Meta         map[string]any
}
