package metrics

import (
	"context"
	"fmt"

	"github.com/ahrav/go-assay/internal/domain"
	"github.com/ahrav/go-assay/internal/ports"
)

func tableRowCount() *provider {
	return &provider{
		name:       TableRowCount,
		domainType: ports.DomainTable,
		tabular: func(ctx context.Context, e ports.TabularEngine, call ports.MetricCall) (any, error) {
			cd, err := e.GetComputeDomain(ctx, call.DomainKwargs, ports.DomainTable)
			if err != nil {
				return nil, err
			}
			view, err := e.View(cd)
			if err != nil {
				return nil, err
			}
			return int64(view.Len()), nil
		},
		sql: func(ctx context.Context, e ports.SQLEngine, call ports.MetricCall) (any, error) {
			s, err := newSQLSelect(ctx, e, call.DomainKwargs, ports.DomainTable)
			if err != nil {
				return nil, err
			}
			v, err := s.scalar(ctx, "COUNT(*)")
			if err != nil {
				return nil, err
			}
			return asInt64(v)
		},
		distributed: func(ctx context.Context, e ports.DistributedEngine, call ports.MetricCall) (any, error) {
			cd, err := e.GetComputeDomain(ctx, call.DomainKwargs, ports.DomainTable)
			if err != nil {
				return nil, err
			}
			lens, err := e.MapPartitions(ctx, cd, func(_ context.Context, rows ports.RowView) (any, error) {
				return int64(rows.Len()), nil
			})
			if err != nil {
				return nil, err
			}
			var n int64
			for _, l := range lens {
				n += l.(int64)
			}
			return n, nil
		},
	}
}

// columnTypes is backend independent: every engine reports its schema.
func columnTypes(ctx context.Context, e ports.ExecutionEngine, call ports.MetricCall) (any, error) {
	cd, err := e.GetComputeDomain(ctx, call.DomainKwargs, ports.DomainTable)
	if err != nil {
		return nil, err
	}
	return e.ColumnTypes(ctx, cd)
}

func tableColumnTypes() *provider {
	return &provider{
		name:       TableColumnTypes,
		domainType: ports.DomainTable,
		tabular: func(ctx context.Context, e ports.TabularEngine, call ports.MetricCall) (any, error) {
			return columnTypes(ctx, e, call)
		},
		sql: func(ctx context.Context, e ports.SQLEngine, call ports.MetricCall) (any, error) {
			return columnTypes(ctx, e, call)
		},
		distributed: func(ctx context.Context, e ports.DistributedEngine, call ports.MetricCall) (any, error) {
			return columnTypes(ctx, e, call)
		},
	}
}

// tableColumns lists column names in schema order from table.column_types.
func tableColumns() *provider {
	names := func(_ context.Context, call ports.MetricCall) (any, error) {
		types, err := domain.MetricValue[[]domain.ColumnType](call.Metrics, TableColumnTypes)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", TableColumns, err)
		}
		out := make([]string, 0, len(types))
		for _, ct := range types {
			out = append(out, ct.Name)
		}
		return out, nil
	}
	return &provider{
		name:       TableColumns,
		domainType: ports.DomainTable,
		deps: func(cfg domain.MetricConfiguration) (map[string]domain.MetricConfiguration, error) {
			dep, err := sameDomain(cfg, TableColumnTypes)
			if err != nil {
				return nil, err
			}
			return map[string]domain.MetricConfiguration{TableColumnTypes: dep}, nil
		},
		tabular: func(ctx context.Context, _ ports.TabularEngine, call ports.MetricCall) (any, error) {
			return names(ctx, call)
		},
		sql: func(ctx context.Context, _ ports.SQLEngine, call ports.MetricCall) (any, error) {
			return names(ctx, call)
		},
		distributed: func(ctx context.Context, _ ports.DistributedEngine, call ports.MetricCall) (any, error) {
			return names(ctx, call)
		},
	}
}
