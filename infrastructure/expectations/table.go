package expectations

import (
	"slices"
	"strings"

	"golang.org/x/text/cases"

	"github.com/ahrav/go-assay/infrastructure/metrics"
	"github.com/ahrav/go-assay/internal/domain"
	"github.com/ahrav/go-assay/internal/ports"
)

// Built-in expectation types.
const (
	TableColumnsToMatchSet        = "expect_table_columns_to_match_set"
	TableRowCountToBeBetween      = "expect_table_row_count_to_be_between"
	QueryResultsToMatchComparison = "expect_query_results_to_match_comparison"
	ColumnValuesToBeBetween       = "expect_column_values_to_be_between"
	ColumnValuesToNotBeNull       = "expect_column_values_to_not_be_null"
	ColumnDistinctValuesToBeInSet = "expect_column_distinct_values_to_be_in_set"
	ColumnMeanToBeBetween         = "expect_column_mean_to_be_between"
)

type tableColumnsArgs struct {
	batchArgs  `yaml:",inline"`
	ColumnSet  []string `yaml:"column_set" validate:"required,dive,required"`
	ExactMatch bool     `yaml:"exact_match"`
}

// columnMatcher compares column names. A name written in double quotes
// matches exactly; any other name matches case-insensitively.
type columnMatcher struct {
	fold cases.Caser
}

func newColumnMatcher() columnMatcher { return columnMatcher{fold: cases.Fold()} }

func (m columnMatcher) match(expected, actual string) bool {
	if len(expected) >= 2 && strings.HasPrefix(expected, `"`) && strings.HasSuffix(expected, `"`) {
		return expected[1:len(expected)-1] == actual
	}
	return m.fold.String(expected) == m.fold.String(actual)
}

// missing returns the entries of want with no match in have.
func (m columnMatcher) missing(want, have []string, wantIsExpected bool) []string {
	var out []string
	for _, w := range want {
		found := slices.ContainsFunc(have, func(h string) bool {
			if wantIsExpected {
				return m.match(w, h)
			}
			return m.match(h, w)
		})
		if !found {
			out = append(out, w)
		}
	}
	return out
}

// tableColumnsToMatchSet compares the batch columns with column_set. With
// exact_match false, extra columns are allowed and only missing ones fail.
func tableColumnsToMatchSet() *builtin[tableColumnsArgs] {
	return &builtin[tableColumnsArgs]{
		typ:      TableColumnsToMatchSet,
		defaults: func() tableColumnsArgs { return tableColumnsArgs{ExactMatch: true} },
		deps: func(c tableColumnsArgs) (map[string]domain.MetricConfiguration, error) {
			deps := depSet{}
			return deps, deps.add(metrics.TableColumns, c.batchArgs.kwargs(), nil)
		},
		eval: func(c tableColumnsArgs, m domain.Metrics) (ports.Outcome, error) {
			actual, err := domain.MetricValue[[]string](m, metrics.TableColumns)
			if err != nil {
				return ports.Outcome{}, err
			}
			observed := slices.Clone(actual)
			slices.Sort(observed)

			matcher := newColumnMatcher()
			unexpected := matcher.missing(actual, c.ColumnSet, false)
			missing := matcher.missing(c.ColumnSet, actual, true)
			slices.Sort(unexpected)
			slices.Sort(missing)

			result := map[string]any{"observed_value": observed}
			mismatched := map[string]any{}
			if len(unexpected) > 0 {
				mismatched["unexpected"] = unexpected
			}
			if len(missing) > 0 {
				mismatched["missing"] = missing
			}
			if len(mismatched) > 0 {
				result["details"] = map[string]any{"mismatched": mismatched}
			}

			success := len(missing) == 0
			if c.ExactMatch {
				success = len(mismatched) == 0
			}
			return ports.Outcome{Success: success, Result: result}, nil
		},
	}
}

type rowCountArgs struct {
	batchArgs `yaml:",inline"`
	rangeArgs `yaml:",inline"`
}

// tableRowCountToBeBetween checks the row count of the batch against an
// inclusive range unless strict bounds are requested.
func tableRowCountToBeBetween() *builtin[rowCountArgs] {
	return &builtin[rowCountArgs]{
		typ:      TableRowCountToBeBetween,
		defaults: func() rowCountArgs { return rowCountArgs{} },
		deps: func(c rowCountArgs) (map[string]domain.MetricConfiguration, error) {
			deps := depSet{}
			return deps, deps.add(metrics.TableRowCount, c.batchArgs.kwargs(), nil)
		},
		eval: func(c rowCountArgs, m domain.Metrics) (ports.Outcome, error) {
			n, err := domain.MetricValue[int64](m, metrics.TableRowCount)
			if err != nil {
				return ports.Outcome{}, err
			}
			ok, err := c.contains(n)
			if err != nil {
				return ports.Outcome{}, err
			}
			return ports.Outcome{Success: ok, Result: map[string]any{"observed_value": n}}, nil
		},
	}
}
