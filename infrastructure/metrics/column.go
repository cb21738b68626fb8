package metrics

import (
	"context"
	"fmt"
	"slices"

	"github.com/ahrav/go-assay/internal/domain"
	"github.com/ahrav/go-assay/internal/ports"
)

// columnProvider builds a column metric whose tabular and distributed
// implementations share one fold.
func columnProvider[S any](name string, build func(ports.MetricCall) (columnFold[S], error), sql sqlFunc) *provider {
	return &provider{
		name:        name,
		domainType:  ports.DomainColumn,
		tabular:     foldTabular(build),
		distributed: foldDistributed(build),
		sql:         sql,
	}
}

// extremum keeps the smallest (sign -1) or largest (sign 1) non-null value
// in its original type.
type extremum struct {
	value any
	set   bool
}

func extremumFold(sign int) columnFold[extremum] {
	pick := func(s extremum, v any) (extremum, error) {
		if v == nil {
			return s, nil
		}
		if !s.set {
			return extremum{value: v, set: true}, nil
		}
		cmp, err := domain.CompareValues(v, s.value)
		if err != nil {
			return s, err
		}
		if cmp*sign > 0 {
			s.value = v
		}
		return s, nil
	}
	return columnFold[extremum]{
		zero: func() extremum { return extremum{} },
		step: pick,
		merge: func(a, b extremum) (extremum, error) {
			if !b.set {
				return a, nil
			}
			return pick(a, b.value)
		},
		final: func(s extremum) (any, error) { return s.value, nil },
	}
}

func columnMin() *provider {
	return columnProvider(ColumnMin, fixedFold(extremumFold(-1)),
		sqlAggregate(func(col string) string { return "MIN(" + col + ")" }, identity))
}

func columnMax() *provider {
	return columnProvider(ColumnMax, fixedFold(extremumFold(1)),
		sqlAggregate(func(col string) string { return "MAX(" + col + ")" }, identity))
}

func numeric(v any) (float64, error) {
	f, ok := domain.ToFloat64(v)
	if !ok {
		return 0, fmt.Errorf("non-numeric value %T: %w", v, domain.ErrTypeMismatch)
	}
	return f, nil
}

var sumFold = columnFold[float64]{
	zero: func() float64 { return 0 },
	step: func(s float64, v any) (float64, error) {
		if v == nil {
			return s, nil
		}
		f, err := numeric(v)
		return s + f, err
	},
	merge: func(a, b float64) (float64, error) { return a + b, nil },
	final: func(s float64) (any, error) { return s, nil },
}

// columnSum treats an empty column as summing to zero.
func columnSum() *provider {
	return columnProvider(ColumnSum, fixedFold(sumFold),
		sqlAggregate(func(col string) string { return "SUM(" + col + ")" }, func(v any) (any, error) {
			if v == nil {
				return 0.0, nil
			}
			return numeric(v)
		}))
}

func countFold(null bool) columnFold[int64] {
	return columnFold[int64]{
		zero: func() int64 { return 0 },
		step: func(s int64, v any) (int64, error) {
			if (v == nil) == null {
				s++
			}
			return s, nil
		},
		merge: func(a, b int64) (int64, error) { return a + b, nil },
		final: func(s int64) (any, error) { return s, nil },
	}
}

func columnNonNullCount() *provider {
	return columnProvider(ColumnValuesNonNullCount, fixedFold(countFold(false)),
		sqlAggregate(func(col string) string { return "COUNT(" + col + ")" }, asInt64))
}

func columnNullCount() *provider {
	return columnProvider(ColumnValuesNullCount, fixedFold(countFold(true)),
		sqlAggregate(func(col string) string { return "COUNT(*) - COUNT(" + col + ")" }, asInt64))
}

// columnMean divides column.sum by the non-null count. An all-null or empty
// column has no mean.
func columnMean() *provider {
	mean := func(_ context.Context, call ports.MetricCall) (any, error) {
		sum, err := domain.MetricValue[float64](call.Metrics, ColumnSum)
		if err != nil {
			return nil, err
		}
		n, err := domain.MetricValue[int64](call.Metrics, ColumnValuesNonNullCount)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return nil, nil
		}
		return sum / float64(n), nil
	}
	return &provider{
		name:       ColumnMean,
		domainType: ports.DomainColumn,
		deps: func(cfg domain.MetricConfiguration) (map[string]domain.MetricConfiguration, error) {
			deps := make(map[string]domain.MetricConfiguration, 2)
			for _, name := range []string{ColumnSum, ColumnValuesNonNullCount} {
				dep, err := sameDomain(cfg, name)
				if err != nil {
					return nil, err
				}
				deps[name] = dep
			}
			return deps, nil
		},
		tabular: func(ctx context.Context, _ ports.TabularEngine, call ports.MetricCall) (any, error) {
			return mean(ctx, call)
		},
		sql: func(ctx context.Context, _ ports.SQLEngine, call ports.MetricCall) (any, error) {
			return mean(ctx, call)
		},
		distributed: func(ctx context.Context, _ ports.DistributedEngine, call ports.MetricCall) (any, error) {
			return mean(ctx, call)
		},
	}
}

// distinctKey makes driver byte slices usable as map keys.
func distinctKey(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

// sortedValues orders values with domain.CompareValues, falling back to
// their printed form when kinds are mixed.
func sortedValues(set map[any]struct{}) []any {
	out := make([]any, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	slices.SortFunc(out, func(a, b any) int {
		if c, err := domain.CompareValues(a, b); err == nil {
			return c
		}
		as, bs := fmt.Sprint(a), fmt.Sprint(b)
		switch {
		case as < bs:
			return -1
		case as > bs:
			return 1
		}
		return 0
	})
	return out
}

var distinctFold = columnFold[map[any]struct{}]{
	zero: func() map[any]struct{} { return map[any]struct{}{} },
	step: func(s map[any]struct{}, v any) (map[any]struct{}, error) {
		if v != nil {
			s[distinctKey(v)] = struct{}{}
		}
		return s, nil
	},
	merge: func(a, b map[any]struct{}) (map[any]struct{}, error) {
		for k := range b {
			a[k] = struct{}{}
		}
		return a, nil
	},
	final: func(s map[any]struct{}) (any, error) { return sortedValues(s), nil },
}

// columnDistinctValues returns the sorted non-null distinct values. Frame
// backends read the column with a FrameQuery.
func columnDistinctValues() *provider {
	return frameQueryProvider(ColumnDistinctValues, fixedFold(distinctFold),
		func(ctx context.Context, e ports.SQLEngine, call ports.MetricCall) (any, error) {
			s, err := newSQLSelect(ctx, e, call.DomainKwargs, ports.DomainColumn)
			if err != nil {
				return nil, err
			}
			col := s.column()
			t, err := s.table(ctx, s.text("DISTINCT "+col, col+" IS NOT NULL"))
			if err != nil {
				return nil, err
			}
			set := make(map[any]struct{}, t.Len())
			for _, row := range t.Rows {
				if len(row) > 0 && row[0] != nil {
					set[distinctKey(row[0])] = struct{}{}
				}
			}
			return sortedValues(set), nil
		})
}

// Value kwargs of column_values.between.unexpected_count.
const (
	KwargMinValue  = "min_value"
	KwargMaxValue  = "max_value"
	KwargStrictMin = "strict_min"
	KwargStrictMax = "strict_max"
)

type bounds struct {
	min, max             any
	strictMin, strictMax bool
}

func parseBounds(kw domain.Kwargs) (bounds, error) {
	b := bounds{min: kw[KwargMinValue], max: kw[KwargMaxValue]}
	if b.min == nil && b.max == nil {
		return bounds{}, &ports.MissingParameterError{
			Owner:     ColumnValuesBetweenUnexpected,
			Parameter: KwargMinValue + " or " + KwargMaxValue,
		}
	}
	for key, dst := range map[string]*bool{KwargStrictMin: &b.strictMin, KwargStrictMax: &b.strictMax} {
		if raw, ok := kw[key]; ok && raw != nil {
			v, ok := raw.(bool)
			if !ok {
				return bounds{}, fmt.Errorf("%s %s=%T: %w", ColumnValuesBetweenUnexpected, key, raw, domain.ErrTypeMismatch)
			}
			*dst = v
		}
	}
	if b.min != nil && b.max != nil {
		cmp, err := domain.CompareValues(b.min, b.max)
		if err != nil {
			return bounds{}, err
		}
		if cmp > 0 {
			return bounds{}, fmt.Errorf("%s: min_value %v above max_value %v: %w",
				ColumnValuesBetweenUnexpected, b.min, b.max, domain.ErrInvalidConfiguration)
		}
	}
	return b, nil
}

// within reports whether a non-null v satisfies the bounds.
func (b bounds) within(v any) (bool, error) {
	if b.min != nil {
		cmp, err := domain.CompareValues(v, b.min)
		if err != nil {
			return false, err
		}
		if cmp < 0 || (b.strictMin && cmp == 0) {
			return false, nil
		}
	}
	if b.max != nil {
		cmp, err := domain.CompareValues(v, b.max)
		if err != nil {
			return false, err
		}
		if cmp > 0 || (b.strictMax && cmp == 0) {
			return false, nil
		}
	}
	return true, nil
}

func betweenFold(call ports.MetricCall) (columnFold[int64], error) {
	b, err := parseBounds(call.ValueKwargs)
	if err != nil {
		return columnFold[int64]{}, err
	}
	f := countFold(false)
	f.step = func(s int64, v any) (int64, error) {
		if v == nil {
			return s, nil
		}
		ok, err := b.within(v)
		if err != nil {
			return s, err
		}
		if !ok {
			s++
		}
		return s, nil
	}
	return f, nil
}

func betweenSQL(ctx context.Context, e ports.SQLEngine, call ports.MetricCall) (any, error) {
	b, err := parseBounds(call.ValueKwargs)
	if err != nil {
		return nil, err
	}
	s, err := newSQLSelect(ctx, e, call.DomainKwargs, ports.DomainColumn)
	if err != nil {
		return nil, err
	}
	col := s.column()
	var in []string
	if b.min != nil {
		op := ">="
		if b.strictMin {
			op = ">"
		}
		in = append(in, col+" "+op+" "+s.bind(b.min))
	}
	if b.max != nil {
		op := "<="
		if b.strictMax {
			op = "<"
		}
		in = append(in, col+" "+op+" "+s.bind(b.max))
	}
	inRange := in[0]
	if len(in) == 2 {
		inRange += " AND " + in[1]
	}
	v, err := s.scalar(ctx, "COUNT(*)", col+" IS NOT NULL", "NOT ("+inRange+")")
	if err != nil {
		return nil, err
	}
	return asInt64(v)
}

// columnBetweenUnexpectedCount counts non-null values outside
// [min_value, max_value]. Either bound may be omitted, not both.
func columnBetweenUnexpectedCount() *provider {
	p := columnProvider(ColumnValuesBetweenUnexpected, betweenFold, betweenSQL)
	p.valueKeys = []string{KwargMinValue, KwargMaxValue, KwargStrictMin, KwargStrictMax}
	p.defaults = domain.Kwargs{KwargStrictMin: false, KwargStrictMax: false}
	return p
}
