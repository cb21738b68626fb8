package expectations

import (
	"github.com/ahrav/go-assay/infrastructure/metrics"
	"github.com/ahrav/go-assay/internal/domain"
	"github.com/ahrav/go-assay/internal/ports"
)

type columnBetweenArgs struct {
	columnArgs `yaml:",inline"`
	rangeArgs  `yaml:",inline"`
	mostlyArgs `yaml:",inline"`
}

// columnValuesToBeBetween requires at least mostly of the non-null values
// to lie in range. Nulls are reported as missing, never as unexpected.
func columnValuesToBeBetween() *builtin[columnBetweenArgs] {
	return &builtin[columnBetweenArgs]{
		typ:      ColumnValuesToBeBetween,
		defaults: func() columnBetweenArgs { return columnBetweenArgs{mostlyArgs: mostlyArgs{Mostly: 1}} },
		deps: func(c columnBetweenArgs) (map[string]domain.MetricConfiguration, error) {
			deps := depSet{}
			if err := deps.add(metrics.ColumnValuesBetweenUnexpected, c.columnArgs.kwargs(), c.valueKwargs()); err != nil {
				return nil, err
			}
			if err := deps.add(metrics.ColumnValuesNonNullCount, c.columnArgs.kwargs(), nil); err != nil {
				return nil, err
			}
			if err := deps.add(metrics.TableRowCount, c.batchArgs.kwargs(), nil); err != nil {
				return nil, err
			}
			return deps, nil
		},
		eval: func(c columnBetweenArgs, m domain.Metrics) (ports.Outcome, error) {
			unexpected, err := domain.MetricValue[int64](m, metrics.ColumnValuesBetweenUnexpected)
			if err != nil {
				return ports.Outcome{}, err
			}
			nonNull, err := domain.MetricValue[int64](m, metrics.ColumnValuesNonNullCount)
			if err != nil {
				return ports.Outcome{}, err
			}
			total, err := domain.MetricValue[int64](m, metrics.TableRowCount)
			if err != nil {
				return ports.Outcome{}, err
			}
			missing := max(total-nonNull, 0)
			return ports.Outcome{
				Success: c.passes(unexpected, nonNull),
				Result: map[string]any{
					"element_count":                 total,
					"missing_count":                 missing,
					"missing_percent":               percent(missing, total),
					"unexpected_count":              unexpected,
					"unexpected_percent":            percent(unexpected, nonNull),
					"unexpected_percent_total":      percent(unexpected, total),
					"unexpected_percent_nonmissing": percent(unexpected, nonNull),
				},
			}, nil
		},
	}
}

type columnNotNullArgs struct {
	columnArgs `yaml:",inline"`
	mostlyArgs `yaml:",inline"`
}

// columnValuesToNotBeNull treats every null as unexpected.
func columnValuesToNotBeNull() *builtin[columnNotNullArgs] {
	return &builtin[columnNotNullArgs]{
		typ:      ColumnValuesToNotBeNull,
		defaults: func() columnNotNullArgs { return columnNotNullArgs{mostlyArgs: mostlyArgs{Mostly: 1}} },
		deps: func(c columnNotNullArgs) (map[string]domain.MetricConfiguration, error) {
			deps := depSet{}
			if err := deps.add(metrics.ColumnValuesNullCount, c.columnArgs.kwargs(), nil); err != nil {
				return nil, err
			}
			if err := deps.add(metrics.TableRowCount, c.batchArgs.kwargs(), nil); err != nil {
				return nil, err
			}
			return deps, nil
		},
		eval: func(c columnNotNullArgs, m domain.Metrics) (ports.Outcome, error) {
			nulls, err := domain.MetricValue[int64](m, metrics.ColumnValuesNullCount)
			if err != nil {
				return ports.Outcome{}, err
			}
			total, err := domain.MetricValue[int64](m, metrics.TableRowCount)
			if err != nil {
				return ports.Outcome{}, err
			}
			return ports.Outcome{
				Success: c.passes(nulls, total),
				Result: map[string]any{
					"element_count":            total,
					"unexpected_count":         nulls,
					"unexpected_percent":       percent(nulls, total),
					"unexpected_percent_total": percent(nulls, total),
				},
			}, nil
		},
	}
}

type distinctInSetArgs struct {
	columnArgs `yaml:",inline"`
	ValueSet   []any `yaml:"value_set" validate:"required"`
}

// columnDistinctValuesToBeInSet fails when any distinct non-null value is
// outside value_set. Numbers match across integer and float kinds.
func columnDistinctValuesToBeInSet() *builtin[distinctInSetArgs] {
	return &builtin[distinctInSetArgs]{
		typ:      ColumnDistinctValuesToBeInSet,
		defaults: func() distinctInSetArgs { return distinctInSetArgs{} },
		deps: func(c distinctInSetArgs) (map[string]domain.MetricConfiguration, error) {
			deps := depSet{}
			return deps, deps.add(metrics.ColumnDistinctValues, c.columnArgs.kwargs(), nil)
		},
		eval: func(c distinctInSetArgs, m domain.Metrics) (ports.Outcome, error) {
			observed, err := domain.MetricValue[[]any](m, metrics.ColumnDistinctValues)
			if err != nil {
				return ports.Outcome{}, err
			}
			var unexpected []any
			for _, v := range observed {
				if !inSet(v, c.ValueSet) {
					unexpected = append(unexpected, v)
				}
			}
			result := map[string]any{"observed_value": observed}
			if len(unexpected) > 0 {
				result["details"] = map[string]any{"unexpected_values": unexpected}
			}
			return ports.Outcome{Success: len(unexpected) == 0, Result: result}, nil
		},
	}
}

func inSet(v any, set []any) bool {
	for _, s := range set {
		if cmp, err := domain.CompareValues(v, s); err == nil && cmp == 0 {
			return true
		}
	}
	return false
}

type columnMeanArgs struct {
	columnArgs `yaml:",inline"`
	rangeArgs  `yaml:",inline"`
}

// columnMeanToBeBetween fails when the column has no mean.
func columnMeanToBeBetween() *builtin[columnMeanArgs] {
	return &builtin[columnMeanArgs]{
		typ:      ColumnMeanToBeBetween,
		defaults: func() columnMeanArgs { return columnMeanArgs{} },
		deps: func(c columnMeanArgs) (map[string]domain.MetricConfiguration, error) {
			deps := depSet{}
			return deps, deps.add(metrics.ColumnMean, c.columnArgs.kwargs(), nil)
		},
		eval: func(c columnMeanArgs, m domain.Metrics) (ports.Outcome, error) {
			mean := m[metrics.ColumnMean]
			ok, err := c.contains(mean)
			if err != nil {
				return ports.Outcome{}, err
			}
			return ports.Outcome{Success: ok, Result: map[string]any{"observed_value": mean}}, nil
		},
	}
}
