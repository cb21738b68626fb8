// Package metrics provides the built-in metric providers. Each provider
// carries one implementation per backend; a missing implementation
// reports ports.ErrNotImplemented.
package metrics

import (
	"context"
	"fmt"

	"github.com/ahrav/go-assay/internal/domain"
	"github.com/ahrav/go-assay/internal/ports"
)

// Metric names of the built-in providers.
const (
	TableRowCount                  = "table.row_count"
	TableColumnTypes               = "table.column_types"
	TableColumns                   = "table.columns"
	ColumnMin                      = "column.min"
	ColumnMax                      = "column.max"
	ColumnSum                      = "column.sum"
	ColumnMean                     = "column.mean"
	ColumnDistinctValues           = "column.distinct_values"
	ColumnValuesNonNullCount       = "column_values.nonnull.count"
	ColumnValuesNullCount          = "column_values.null.count"
	ColumnValuesBetweenUnexpected  = "column_values.between.unexpected_count"
	QueryTable                     = "query.table"
	BaseQueryTable                 = "base_query.table"
	QueryDataSourceTable           = "query.data_source_table"
	ComparisonQueryDataSourceTable = "comparison_query.data_source_table"
)

// MaxResultRecords caps the rows a query metric returns.
const MaxResultRecords = 200

type (
	tabularFunc     func(ctx context.Context, e ports.TabularEngine, call ports.MetricCall) (any, error)
	sqlFunc         func(ctx context.Context, e ports.SQLEngine, call ports.MetricCall) (any, error)
	distributedFunc func(ctx context.Context, e ports.DistributedEngine, call ports.MetricCall) (any, error)
	depsFunc        func(cfg domain.MetricConfiguration) (map[string]domain.MetricConfiguration, error)
)

// provider is a table-driven ports.MetricProvider. Nil compute functions
// mean the backend is not supported.
type provider struct {
	name        string
	domainType  ports.DomainType
	valueKeys   []string
	defaults    domain.Kwargs
	deps        depsFunc
	tabular     tabularFunc
	sql         sqlFunc
	distributed distributedFunc
}

var _ ports.MetricProvider = (*provider)(nil)

func (p *provider) Name() string { return p.name }

func (p *provider) DomainType() ports.DomainType { return p.domainType }

// DomainKeys derives the accepted domain kwargs from the domain type.
func (p *provider) DomainKeys() []string {
	keys := []string{domain.KwargBatchID, domain.KwargRowCondition, domain.KwargConditionParser}
	switch p.domainType {
	case ports.DomainColumn:
		keys = append(keys, domain.KwargColumn)
	case ports.DomainColumnPair:
		keys = append(keys, domain.KwargColumnA, domain.KwargColumnB, domain.KwargIgnoreRowIf)
	case ports.DomainMulticolumn:
		keys = append(keys, domain.KwargColumnList, domain.KwargIgnoreRowIf)
	}
	return keys
}

func (p *provider) ValueKeys() []string { return p.valueKeys }

func (p *provider) DefaultValueKwargs() domain.Kwargs { return p.defaults.Clone() }

func (p *provider) Dependencies(cfg domain.MetricConfiguration) (map[string]domain.MetricConfiguration, error) {
	if p.deps == nil {
		return nil, nil
	}
	return p.deps(cfg)
}

func (p *provider) ComputeTabular(ctx context.Context, e ports.TabularEngine, call ports.MetricCall) (any, error) {
	if p.tabular == nil {
		return nil, p.notImplemented(ports.BackendTabular)
	}
	return p.tabular(ctx, e, call)
}

func (p *provider) ComputeSQL(ctx context.Context, e ports.SQLEngine, call ports.MetricCall) (any, error) {
	if p.sql == nil {
		return nil, p.notImplemented(ports.BackendSQL)
	}
	return p.sql(ctx, e, call)
}

func (p *provider) ComputeDistributed(ctx context.Context, e ports.DistributedEngine, call ports.MetricCall) (any, error) {
	if p.distributed == nil {
		return nil, p.notImplemented(ports.BackendDistributed)
	}
	return p.distributed(ctx, e, call)
}

func (p *provider) notImplemented(b ports.Backend) error {
	return fmt.Errorf("metric %s on %s: %w", p.name, b, ports.ErrNotImplemented)
}

// Builtins returns every built-in provider.
func Builtins() []ports.MetricProvider {
	return []ports.MetricProvider{
		tableRowCount(),
		tableColumnTypes(),
		tableColumns(),
		columnMin(),
		columnMax(),
		columnSum(),
		columnMean(),
		columnDistinctValues(),
		columnNonNullCount(),
		columnNullCount(),
		columnBetweenUnexpectedCount(),
		queryTable(QueryTable, "query"),
		queryTable(BaseQueryTable, "base_query"),
		queryDataSourceTable(QueryDataSourceTable, "query", "data_source_name"),
		queryDataSourceTable(ComparisonQueryDataSourceTable, "comparison_query", "comparison_data_source_name"),
	}
}

// RegisterBuiltins registers every built-in provider with r.
func RegisterBuiltins(r ports.MetricRegistry) {
	for _, p := range Builtins() {
		r.Register(p)
	}
}

// sameDomain builds a dependency on name over the domain of cfg.
func sameDomain(cfg domain.MetricConfiguration, name string) (domain.MetricConfiguration, error) {
	return domain.NewMetricConfiguration(name, cfg.DomainKwargs(), nil)
}
