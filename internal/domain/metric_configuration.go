package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// MetricConfigurationID is the content-derived identity of a metric
// configuration. It is comparable and therefore usable as a map key.
// Each component is a pure function of its input: the metric name, and the
// sha256 of the canonical JSON encoding of the domain and value kwargs.
type MetricConfigurationID struct {
	MetricName     string
	DomainKwargsID string
	ValueKwargsID  string
}

// String renders the id as "name|domain|value" for logs and error messages.
func (id MetricConfigurationID) String() string {
	return id.MetricName + "|" + id.DomainKwargsID + "|" + id.ValueKwargsID
}

// IsZero reports whether id has not been computed.
func (id MetricConfigurationID) IsZero() bool {
	return id == MetricConfigurationID{}
}

// ComputeMetricConfigurationID hashes (name, domain kwargs, value kwargs).
// Key insertion order never affects the result and any change to a key or
// value changes the corresponding component.
func ComputeMetricConfigurationID(
	metricName string,
	domainKwargs, valueKwargs Kwargs,
) (MetricConfigurationID, error) {
	if strings.TrimSpace(metricName) == "" {
		return MetricConfigurationID{}, fmt.Errorf("metric name: %w", ErrEmptyValue)
	}
	domainID, err := kwargsID(domainKwargs)
	if err != nil {
		return MetricConfigurationID{}, fmt.Errorf("metric %s domain kwargs: %w", metricName, err)
	}
	valueID, err := kwargsID(valueKwargs)
	if err != nil {
		return MetricConfigurationID{}, fmt.Errorf("metric %s value kwargs: %w", metricName, err)
	}
	return MetricConfigurationID{
		MetricName:     metricName,
		DomainKwargsID: domainID,
		ValueKwargsID:  valueID,
	}, nil
}

func kwargsID(k Kwargs) (string, error) {
	b, err := canonicalJSON(map[string]any(k))
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// MetricConfiguration identifies a single computable quantity: which metric,
// over what slice of data, computed how. Values are immutable; every
// modifier returns a new configuration with a recomputed id.
type MetricConfiguration struct {
	metricName   string
	domainKwargs Kwargs
	valueKwargs  Kwargs
	id           MetricConfigurationID
}

// NewMetricConfiguration validates the inputs and computes the id eagerly so
// that an invalid configuration can never reach the cache.
func NewMetricConfiguration(metricName string, domainKwargs, valueKwargs Kwargs) (MetricConfiguration, error) {
	d := domainKwargs.Clone()
	v := valueKwargs.Clone()
	id, err := ComputeMetricConfigurationID(metricName, d, v)
	if err != nil {
		return MetricConfiguration{}, err
	}
	return MetricConfiguration{
		metricName:   metricName,
		domainKwargs: d,
		valueKwargs:  v,
		id:           id,
	}, nil
}

// MustMetricConfiguration is NewMetricConfiguration for static declarations
// whose inputs are known to be valid. It panics on error.
func MustMetricConfiguration(metricName string, domainKwargs, valueKwargs Kwargs) MetricConfiguration {
	cfg, err := NewMetricConfiguration(metricName, domainKwargs, valueKwargs)
	if err != nil {
		panic(err)
	}
	return cfg
}

// MetricName returns the dot-segmented metric name.
func (c MetricConfiguration) MetricName() string { return c.metricName }

// DomainKwargs returns a copy of the domain kwargs.
func (c MetricConfiguration) DomainKwargs() Kwargs { return c.domainKwargs.Clone() }

// ValueKwargs returns a copy of the value kwargs.
func (c MetricConfiguration) ValueKwargs() Kwargs { return c.valueKwargs.Clone() }

// ID returns the content identity of the configuration.
func (c MetricConfiguration) ID() MetricConfigurationID { return c.id }

// BatchID returns the batch_id domain kwarg, if set.
func (c MetricConfiguration) BatchID() string {
	s, _ := c.domainKwargs.String(KwargBatchID)
	return s
}

// WithDefaults fills value kwargs that are absent with the provided defaults.
// Explicit values always win. Substituting defaults before hashing keeps a
// defaulted request and an explicit one on the same id.
func (c MetricConfiguration) WithDefaults(defaults Kwargs) (MetricConfiguration, error) {
	if len(defaults) == 0 {
		return c, nil
	}
	merged := c.valueKwargs.Clone()
	for k, v := range defaults {
		if _, ok := merged[k]; !ok {
			merged[k] = deepCopyValue(v)
		}
	}
	return NewMetricConfiguration(c.metricName, c.domainKwargs, merged)
}

// WithDomainKwarg returns a copy with key set to value in the domain kwargs.
func (c MetricConfiguration) WithDomainKwarg(key string, value any) (MetricConfiguration, error) {
	d := c.domainKwargs.Clone()
	d[key] = value
	return NewMetricConfiguration(c.metricName, d, c.valueKwargs)
}

// String returns a compact description used in logs and errors.
func (c MetricConfiguration) String() string {
	col, _ := c.domainKwargs.String(KwargColumn)
	if col != "" {
		return fmt.Sprintf("%s(column=%s)", c.metricName, col)
	}
	return c.metricName
}
