// Package expectations provides the built-in expectations. Each one decodes
// its kwargs into a validated struct, names the metrics it needs and turns
// their values into an outcome.
package expectations

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/ahrav/go-assay/infrastructure/metrics"
	"github.com/ahrav/go-assay/internal/domain"
	"github.com/ahrav/go-assay/internal/ports"
)

// Package-level validator instance for kwargs validation.
var validate = validator.New()

// checker is implemented by kwargs structs with rules struct tags cannot
// express.
type checker interface {
	check() error
}

// builtin is a table-driven ports.Expectation over kwargs struct C.
type builtin[C any] struct {
	typ      string
	defaults func() C
	deps     func(c C) (map[string]domain.MetricConfiguration, error)
	eval     func(c C, m domain.Metrics) (ports.Outcome, error)
}

var _ ports.Expectation = (*builtin[tableColumnsArgs])(nil)

func (b *builtin[C]) Type() string { return b.typ }

// decode overlays the kwargs on the defaults and validates the result.
func (b *builtin[C]) decode(cfg domain.ExpectationConfiguration) (C, error) {
	c := b.defaults()
	data, err := yaml.Marshal(map[string]any(cfg.Kwargs()))
	if err != nil {
		return c, fmt.Errorf("%s: marshal kwargs: %w", b.typ, err)
	}
	if err := yaml.Unmarshal(data, &c); err != nil {
		return c, fmt.Errorf("%s: parse kwargs: %w: %w", b.typ, domain.ErrInvalidConfiguration, err)
	}
	if err := validate.Struct(c); err != nil {
		return c, fmt.Errorf("%s: %w: %w", b.typ, domain.ErrInvalidConfiguration, err)
	}
	if ch, ok := any(&c).(checker); ok {
		if err := ch.check(); err != nil {
			return c, fmt.Errorf("%s: %w", b.typ, err)
		}
	}
	return c, nil
}

func (b *builtin[C]) ValidateConfiguration(cfg domain.ExpectationConfiguration) error {
	_, err := b.decode(cfg)
	return err
}

func (b *builtin[C]) MetricDependencies(
	cfg domain.ExpectationConfiguration,
	_ ports.RuntimeConfiguration,
) (map[string]domain.MetricConfiguration, error) {
	c, err := b.decode(cfg)
	if err != nil {
		return nil, err
	}
	return b.deps(c)
}

func (b *builtin[C]) Validate(
	cfg domain.ExpectationConfiguration,
	m domain.Metrics,
	_ ports.RuntimeConfiguration,
) (ports.Outcome, error) {
	c, err := b.decode(cfg)
	if err != nil {
		return ports.Outcome{}, err
	}
	return b.eval(c, m)
}

// Builtins returns every built-in expectation.
func Builtins() []ports.Expectation {
	return []ports.Expectation{
		tableColumnsToMatchSet(),
		queryResultsToMatchComparison(),
		columnValuesToBeBetween(),
		columnValuesToNotBeNull(),
		columnDistinctValuesToBeInSet(),
		tableRowCountToBeBetween(),
		columnMeanToBeBetween(),
	}
}

// RegisterBuiltins registers every built-in expectation with r.
func RegisterBuiltins(r ports.ExpectationRegistry) {
	for _, e := range Builtins() {
		r.Register(e)
	}
}

// batchArgs are the table domain kwargs shared by every expectation.
type batchArgs struct {
	BatchID         string `yaml:"batch_id,omitempty"`
	RowCondition    string `yaml:"row_condition,omitempty"`
	ConditionParser string `yaml:"condition_parser,omitempty"`
}

func (a batchArgs) kwargs() domain.Kwargs {
	kw := domain.Kwargs{}
	if a.BatchID != "" {
		kw[domain.KwargBatchID] = a.BatchID
	}
	if a.RowCondition != "" {
		kw[domain.KwargRowCondition] = a.RowCondition
	}
	if a.ConditionParser != "" {
		kw[domain.KwargConditionParser] = a.ConditionParser
	}
	return kw
}

// columnArgs are the column domain kwargs.
type columnArgs struct {
	batchArgs `yaml:",inline"`
	Column    string `yaml:"column" validate:"required"`
}

func (a columnArgs) kwargs() domain.Kwargs {
	kw := a.batchArgs.kwargs()
	kw[domain.KwargColumn] = a.Column
	return kw
}

// rangeArgs bound an observed value. At least one bound is required.
type rangeArgs struct {
	MinValue  any  `yaml:"min_value"`
	MaxValue  any  `yaml:"max_value"`
	StrictMin bool `yaml:"strict_min"`
	StrictMax bool `yaml:"strict_max"`
}

func (r *rangeArgs) check() error {
	if r.MinValue == nil && r.MaxValue == nil {
		return fmt.Errorf("min_value or max_value: %w", domain.ErrInvalidConfiguration)
	}
	if r.MinValue != nil && r.MaxValue != nil {
		cmp, err := domain.CompareValues(r.MinValue, r.MaxValue)
		if err != nil {
			return fmt.Errorf("bounds: %w: %w", domain.ErrInvalidConfiguration, err)
		}
		if cmp > 0 {
			return fmt.Errorf("min_value %v above max_value %v: %w", r.MinValue, r.MaxValue, domain.ErrInvalidConfiguration)
		}
	}
	return nil
}

// contains reports whether v lies within the range. A nil v is outside.
func (r rangeArgs) contains(v any) (bool, error) {
	if v == nil {
		return false, nil
	}
	if r.MinValue != nil {
		cmp, err := domain.CompareValues(v, r.MinValue)
		if err != nil {
			return false, err
		}
		if cmp < 0 || (r.StrictMin && cmp == 0) {
			return false, nil
		}
	}
	if r.MaxValue != nil {
		cmp, err := domain.CompareValues(v, r.MaxValue)
		if err != nil {
			return false, err
		}
		if cmp > 0 || (r.StrictMax && cmp == 0) {
			return false, nil
		}
	}
	return true, nil
}

// valueKwargs returns the bounds as metric value kwargs, omitting unset ones.
func (r rangeArgs) valueKwargs() domain.Kwargs {
	kw := domain.Kwargs{metrics.KwargStrictMin: r.StrictMin, metrics.KwargStrictMax: r.StrictMax}
	if r.MinValue != nil {
		kw[metrics.KwargMinValue] = r.MinValue
	}
	if r.MaxValue != nil {
		kw[metrics.KwargMaxValue] = r.MaxValue
	}
	return kw
}

// mostlyArgs is the fraction of rows that must pass.
type mostlyArgs struct {
	Mostly float64 `yaml:"mostly" validate:"gte=0,lte=1"`
}

// passes reports whether unexpected out of total meets mostly. An empty
// domain passes.
func (m mostlyArgs) passes(unexpected, total int64) bool {
	if total == 0 {
		return true
	}
	return float64(total-unexpected)/float64(total) >= m.Mostly
}

func percent(part, total int64) float64 {
	if total == 0 {
		return 0
	}
	return float64(part) / float64(total) * 100
}

// depSet builds a dependency map, stopping at the first invalid entry.
type depSet map[string]domain.MetricConfiguration

func (d depSet) add(name string, domainKwargs, valueKwargs domain.Kwargs) error {
	cfg, err := domain.NewMetricConfiguration(name, domainKwargs, valueKwargs)
	if err != nil {
		return err
	}
	d[name] = cfg
	return nil
}
