package expectations

import (
	"encoding/json"
	"fmt"

	"github.com/ahrav/go-assay/infrastructure/metrics"
	"github.com/ahrav/go-assay/internal/domain"
	"github.com/ahrav/go-assay/internal/ports"
)

type comparisonArgs struct {
	batchArgs                `yaml:",inline"`
	mostlyArgs               `yaml:",inline"`
	BaseQuery                string `yaml:"base_query" validate:"required"`
	ComparisonQuery          string `yaml:"comparison_query" validate:"required"`
	ComparisonDataSourceName string `yaml:"comparison_data_source_name" validate:"required"`
}

// queryResultsToMatchComparison compares the rows of base_query on the batch
// with the rows of comparison_query on another data source as multisets.
// Row order is ignored; column names are not compared.
func queryResultsToMatchComparison() *builtin[comparisonArgs] {
	return &builtin[comparisonArgs]{
		typ:      QueryResultsToMatchComparison,
		defaults: func() comparisonArgs { return comparisonArgs{mostlyArgs: mostlyArgs{Mostly: 1}} },
		deps: func(c comparisonArgs) (map[string]domain.MetricConfiguration, error) {
			deps := depSet{}
			if err := deps.add(metrics.BaseQueryTable, c.kwargs(),
				domain.Kwargs{"base_query": c.BaseQuery}); err != nil {
				return nil, err
			}
			if err := deps.add(metrics.ComparisonQueryDataSourceTable, c.kwargs(), domain.Kwargs{
				"comparison_query":            c.ComparisonQuery,
				"comparison_data_source_name": c.ComparisonDataSourceName,
			}); err != nil {
				return nil, err
			}
			return deps, nil
		},
		eval: func(c comparisonArgs, m domain.Metrics) (ports.Outcome, error) {
			base, err := domain.MetricValue[domain.Table](m, metrics.BaseQueryTable)
			if err != nil {
				return ports.Outcome{}, err
			}
			comparison, err := domain.MetricValue[domain.Table](m, metrics.ComparisonQueryDataSourceTable)
			if err != nil {
				return ports.Outcome{}, err
			}
			cmp, err := compareRows(base, comparison)
			if err != nil {
				return ports.Outcome{}, err
			}

			total := int64(max(base.Len(), comparison.Len()))
			unexpected := total - cmp.matched
			pct := percent(unexpected, total)
			return ports.Outcome{
				Success: 100-pct >= c.Mostly*100,
				Result: map[string]any{
					"unexpected_count":   unexpected,
					"unexpected_percent": pct,
					"details": map[string]any{
						"missing_rows":    cmp.missing,
						"unexpected_rows": cmp.unexpected,
					},
				},
			}, nil
		},
	}
}

type rowComparison struct {
	matched int64
	// missing are comparison rows absent from the base result, unexpected
	// are base rows absent from the comparison result.
	missing, unexpected []any
}

// compareRows matches rows by value. Numbers are compared as float64 so
// that backends returning different numeric kinds still agree.
func compareRows(base, comparison domain.Table) (rowComparison, error) {
	baseCounts, baseFirst, err := rowCounts(base)
	if err != nil {
		return rowComparison{}, err
	}
	cmpCounts, cmpFirst, err := rowCounts(comparison)
	if err != nil {
		return rowComparison{}, err
	}

	out := rowComparison{missing: []any{}, unexpected: []any{}}
	for _, key := range baseFirst.order {
		n := baseCounts[key]
		out.matched += int64(min(n, cmpCounts[key]))
		for range n - min(n, cmpCounts[key]) {
			out.unexpected = append(out.unexpected, baseFirst.rows[key])
		}
	}
	for _, key := range cmpFirst.order {
		n := cmpCounts[key]
		for range n - min(n, baseCounts[key]) {
			out.missing = append(out.missing, cmpFirst.rows[key])
		}
	}
	return out, nil
}

// firstSeen keeps the first record of every distinct row in input order.
type firstSeen struct {
	order []string
	rows  map[string]map[string]any
}

func rowCounts(t domain.Table) (map[string]int, firstSeen, error) {
	counts := make(map[string]int, t.Len())
	seen := firstSeen{rows: make(map[string]map[string]any, t.Len())}
	records := t.Records()
	for i, row := range t.Rows {
		key, err := rowKey(row)
		if err != nil {
			return nil, firstSeen{}, fmt.Errorf("row %d: %w", i, err)
		}
		if counts[key] == 0 {
			seen.order = append(seen.order, key)
			seen.rows[key] = records[i]
		}
		counts[key]++
	}
	return counts, seen, nil
}

func rowKey(row []any) (string, error) {
	norm := make([]any, len(row))
	for i, v := range row {
		switch x := v.(type) {
		case []byte:
			norm[i] = string(x)
		default:
			if f, ok := domain.ToFloat64(v); ok {
				norm[i] = f
			} else {
				norm[i] = v
			}
		}
	}
	b, err := json.Marshal(norm)
	if err != nil {
		return "", fmt.Errorf("row key: %w: %w", domain.ErrNotSerializable, err)
	}
	return string(b), nil
}
