package metrics

import (
	"context"
	"fmt"
	"strings"

	"github.com/ahrav/go-assay/infrastructure/engines"
	"github.com/ahrav/go-assay/internal/domain"
	"github.com/ahrav/go-assay/internal/ports"
)

// columnFold is an aggregate over the values of one column. The same fold
// runs in one pass over a tabular view and per partition on a distributed
// engine, where partial states are combined with merge.
type columnFold[S any] struct {
	zero  func() S
	step  func(S, any) (S, error)
	merge func(S, S) (S, error)
	final func(S) (any, error)
}

func (f columnFold[S]) over(ctx context.Context, rows ports.RowView, column string) (S, error) {
	state := f.zero()
	for i := range rows.Len() {
		if i%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return state, err
			}
		}
		v, ok := rows.Value(i, column)
		if !ok {
			return state, fmt.Errorf("column %q: %w", column, domain.ErrKeyNotFound)
		}
		var err error
		if state, err = f.step(state, v); err != nil {
			return state, fmt.Errorf("column %q row %d: %w", column, i, err)
		}
	}
	return state, nil
}

// foldTabular returns a tabularFunc evaluating the fold built for each call.
func foldTabular[S any](build func(call ports.MetricCall) (columnFold[S], error)) tabularFunc {
	return func(ctx context.Context, e ports.TabularEngine, call ports.MetricCall) (any, error) {
		f, err := build(call)
		if err != nil {
			return nil, err
		}
		cd, err := e.GetComputeDomain(ctx, call.DomainKwargs, ports.DomainColumn)
		if err != nil {
			return nil, err
		}
		view, err := e.View(cd)
		if err != nil {
			return nil, err
		}
		state, err := f.over(ctx, view, cd.Column())
		if err != nil {
			return nil, err
		}
		return f.final(state)
	}
}

// foldDistributed evaluates the fold per partition and merges the partial
// states in partition order.
func foldDistributed[S any](build func(call ports.MetricCall) (columnFold[S], error)) distributedFunc {
	return func(ctx context.Context, e ports.DistributedEngine, call ports.MetricCall) (any, error) {
		f, err := build(call)
		if err != nil {
			return nil, err
		}
		cd, err := e.GetComputeDomain(ctx, call.DomainKwargs, ports.DomainColumn)
		if err != nil {
			return nil, err
		}
		column := cd.Column()
		partials, err := e.MapPartitions(ctx, cd, func(ctx context.Context, rows ports.RowView) (any, error) {
			return f.over(ctx, rows, column)
		})
		if err != nil {
			return nil, err
		}
		state := f.zero()
		for _, p := range partials {
			if state, err = f.merge(state, p.(S)); err != nil {
				return nil, err
			}
		}
		return f.final(state)
	}
}

// foldFrameQuery evaluates the fold over the domain column projected with a
// FrameQuery. The read goes through ExecuteQuery and so through the query
// middleware of frame engines.
func foldFrameQuery[S any](build func(call ports.MetricCall) (columnFold[S], error)) func(context.Context, ports.ExecutionEngine, ports.MetricCall) (any, error) {
	return func(ctx context.Context, e ports.ExecutionEngine, call ports.MetricCall) (any, error) {
		f, err := build(call)
		if err != nil {
			return nil, err
		}
		spec, err := engines.SplitDomainKwargs(call.DomainKwargs, ports.DomainColumn)
		if err != nil {
			return nil, err
		}
		batchID, _ := spec.Compute.String(domain.KwargBatchID)
		t, err := e.ExecuteQuery(ctx, ports.FrameQuery{
			BatchID:   batchID,
			Columns:   spec.Columns,
			Condition: spec.Condition,
		})
		if err != nil {
			return nil, err
		}
		state := f.zero()
		for i, row := range t.Rows {
			if state, err = f.step(state, row[0]); err != nil {
				return nil, fmt.Errorf("column %q row %d: %w", spec.Columns[0], i, err)
			}
		}
		return f.final(state)
	}
}

// frameQueryProvider is columnProvider with both frame backends reading
// through foldFrameQuery.
func frameQueryProvider[S any](name string, build func(ports.MetricCall) (columnFold[S], error), sql sqlFunc) *provider {
	run := foldFrameQuery(build)
	return &provider{
		name:       name,
		domainType: ports.DomainColumn,
		tabular: func(ctx context.Context, e ports.TabularEngine, call ports.MetricCall) (any, error) {
			return run(ctx, e, call)
		},
		distributed: func(ctx context.Context, e ports.DistributedEngine, call ports.MetricCall) (any, error) {
			return run(ctx, e, call)
		},
		sql: sql,
	}
}

// fixedFold adapts a fold that needs no call parameters.
func fixedFold[S any](f columnFold[S]) func(ports.MetricCall) (columnFold[S], error) {
	return func(ports.MetricCall) (columnFold[S], error) { return f, nil }
}

// sqlSelect composes "SELECT <expr> FROM <selectable> [WHERE ...]" for a
// domain. Extra conditions are ANDed to the domain predicate and take their
// placeholders from bind, which numbers them after the domain's arguments.
type sqlSelect struct {
	engine ports.SQLEngine
	cd     ports.ComputeDomain
	sel    ports.SQLSelectable
	args   []any
}

func newSQLSelect(ctx context.Context, e ports.SQLEngine, kwargs domain.Kwargs, dt ports.DomainType) (*sqlSelect, error) {
	cd, err := e.GetComputeDomain(ctx, kwargs, dt)
	if err != nil {
		return nil, err
	}
	sel, err := e.Selectable(cd)
	if err != nil {
		return nil, err
	}
	return &sqlSelect{engine: e, cd: cd, sel: sel, args: append([]any(nil), sel.Args...)}, nil
}

// column returns the quoted accessor column.
func (s *sqlSelect) column() string {
	return s.engine.Dialect().QuoteIdentifier(s.cd.Column())
}

// bind appends an argument and returns its placeholder.
func (s *sqlSelect) bind(v any) string {
	s.args = append(s.args, v)
	return s.engine.Dialect().Placeholder(len(s.args))
}

func (s *sqlSelect) text(expr string, extra ...string) string {
	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(expr)
	b.WriteString(" FROM ")
	b.WriteString(s.sel.From)
	var conds []string
	if s.sel.Where != "" {
		conds = append(conds, "("+s.sel.Where+")")
	}
	conds = append(conds, extra...)
	if len(conds) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(conds, " AND "))
	}
	return b.String()
}

func (s *sqlSelect) table(ctx context.Context, text string) (domain.Table, error) {
	return s.engine.ExecuteQuery(ctx, ports.SQLQuery{Text: text, Args: s.args})
}

func (s *sqlSelect) scalar(ctx context.Context, expr string, extra ...string) (any, error) {
	t, err := s.table(ctx, s.text(expr, extra...))
	if err != nil {
		return nil, err
	}
	v, ok := t.Scalar()
	if !ok {
		return nil, fmt.Errorf("aggregate %s returned no rows: %w", expr, domain.ErrInvalidResult)
	}
	return v, nil
}

// sqlAggregate computes a single aggregate expression over a column domain.
// post converts the raw driver value.
func sqlAggregate(expr func(col string) string, post func(any) (any, error)) sqlFunc {
	return func(ctx context.Context, e ports.SQLEngine, call ports.MetricCall) (any, error) {
		s, err := newSQLSelect(ctx, e, call.DomainKwargs, ports.DomainColumn)
		if err != nil {
			return nil, err
		}
		v, err := s.scalar(ctx, expr(s.column()))
		if err != nil {
			return nil, err
		}
		return post(v)
	}
}

func asInt64(v any) (any, error) {
	if v == nil {
		return int64(0), nil
	}
	f, ok := domain.ToFloat64(v)
	if !ok {
		return nil, fmt.Errorf("count %T: %w", v, domain.ErrTypeMismatch)
	}
	return int64(f), nil
}

func identity(v any) (any, error) { return v, nil }
