// Package ports defines the core interfaces that form the contract between
// the domain/application layers and the infrastructure layer.
// These interfaces enable dependency inversion and make the system testable.
package ports

import (
	"context"
	"fmt"
	"strings"

	"github.com/ahrav/go-assay/internal/domain"
)

// Backend tags the execution engine variant a metric implementation targets.
// It is the discriminator of the tagged union over engine kinds; metric
// providers expose one compute method per variant and the resolver selects
// among them with a switch on Backend.
type Backend int

const (
	// BackendTabular is an in-memory row store.
	BackendTabular Backend = iota + 1
	// BackendSQL is a relational database reached through a connection pool.
	BackendSQL
	// BackendDistributed is a partitioned columnar frame processed in parallel.
	BackendDistributed
)

// String returns the canonical lower-case backend name.
func (b Backend) String() string {
	switch b {
	case BackendTabular:
		return "tabular"
	case BackendSQL:
		return "sql"
	case BackendDistributed:
		return "distributed"
	default:
		return fmt.Sprintf("backend(%d)", int(b))
	}
}

// ParseBackend maps a configuration string to a Backend.
func ParseBackend(s string) (Backend, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "tabular", "pandas", "memory":
		return BackendTabular, nil
	case "sql", "sqlite", "mysql", "postgres":
		return BackendSQL, nil
	case "distributed", "arrow", "spark":
		return BackendDistributed, nil
	}
	return 0, NewConfigError("engine.kind", fmt.Errorf("unknown backend %q: %w", s, ErrInvalidBackend))
}

// DomainType describes the shape of the data slice a metric operates on.
// It determines which domain kwargs become accessor kwargs.
type DomainType string

const (
	DomainTable       DomainType = "table"
	DomainColumn      DomainType = "column"
	DomainColumnPair  DomainType = "column_pair"
	DomainMulticolumn DomainType = "multicolumn"
)

// ComputeDomain is the result of translating abstract domain kwargs into a
// backend-native selection.
//
// Selectable is the backend handle: a RowView for tabular engines, an
// SQLSelectable for SQL engines, and an engine-private partition set for
// distributed engines. ComputeKwargs are the domain kwargs that shaped the
// selectable (batch, row condition); AccessorKwargs are the ones applied
// afterwards to pull values out of it (column, column pair, column list).
type ComputeDomain struct {
	Selectable     any
	ComputeKwargs  domain.Kwargs
	AccessorKwargs domain.Kwargs
}

// Column returns the "column" accessor kwarg.
func (cd ComputeDomain) Column() string {
	s, _ := cd.AccessorKwargs.String(domain.KwargColumn)
	return s
}

// RowView is read-only, positional access to a slice of rows.
// Implementations must be safe for concurrent readers.
type RowView interface {
	// Len returns the number of rows visible through the view.
	Len() int

	// Columns returns the column names in their natural order.
	Columns() []string

	// Value returns the value at (row, column). The boolean is false when the
	// column does not exist. A nil value with true means SQL NULL.
	Value(row int, column string) (any, bool)
}

// SQLSelectable is the SQL compute domain: a FROM clause and an optional
// WHERE predicate whose placeholders are numbered 1..len(Args) in the
// engine's dialect.
type SQLSelectable struct {
	From  string
	Where string
	Args  []any
}

// Dialect captures the syntax differences between SQL backends that metric
// implementations must respect when composing queries.
type Dialect interface {
	// Name returns the dialect name, e.g. "sqlite", "mysql" or "postgres".
	Name() string

	// QuoteIdentifier quotes a table or column name.
	QuoteIdentifier(name string) string

	// Placeholder returns the bind parameter marker for the n-th argument,
	// counting from 1.
	Placeholder(n int) string

	// NormalizeType maps a native type name onto the common type catalogue
	// in package domain.
	NormalizeType(native string) string
}

// Query is a backend-native operation passed to ExecuteQuery.
type Query interface {
	// Describe returns a short description used in logs, spans and errors.
	Describe() string
}

// SQLQuery is parameterized SQL text. DataSource selects a named secondary
// connection; empty means the engine's primary connection. MaxRows > 0 stops
// reading the result after that many rows.
type SQLQuery struct {
	Text       string
	Args       []any
	DataSource string
	MaxRows    int
}

// Describe implements Query.
func (q SQLQuery) Describe() string {
	if q.DataSource != "" {
		return q.DataSource + ": " + q.Text
	}
	return q.Text
}

// FrameQuery is a projection and filter over a batch for frame backends.
// Empty Columns selects all columns; Limit <= 0 means no limit.
type FrameQuery struct {
	BatchID   string
	Columns   []string
	Condition domain.RowCondition
	Limit     int
}

// Describe implements Query.
func (q FrameQuery) Describe() string {
	cols := "*"
	if len(q.Columns) > 0 {
		cols = strings.Join(q.Columns, ",")
	}
	desc := "select " + cols
	if !q.Condition.IsZero() {
		desc += " where " + q.Condition.Raw
	}
	if q.Limit > 0 {
		desc += fmt.Sprintf(" limit %d", q.Limit)
	}
	return desc
}

// ExecutionEngine owns a connection to a data source and a set of loaded
// batches. All implementations must be safe for concurrent metric
// computations within one run; none of their methods may mutate the
// underlying data.
type ExecutionEngine interface {
	// Backend reports the engine variant.
	Backend() Backend

	// LoadBatch registers data under batchID and makes it the active batch.
	// The data type is engine specific: a frame or CSV path for tabular
	// engines, a table name or query for SQL engines, record batches for
	// distributed engines.
	LoadBatch(ctx context.Context, batchID string, data any) error

	// GetBatch returns the data registered under batchID, or a
	// *BatchNotLoadedError.
	GetBatch(batchID string) (any, error)

	// ActiveBatchID returns the batch used when domain kwargs carry no
	// batch_id. It is empty before the first LoadBatch.
	ActiveBatchID() string

	// SetActiveBatch switches the active batch to an already loaded one.
	SetActiveBatch(batchID string) error

	// GetComputeDomain translates domain kwargs into a backend-native
	// selection for the given domain type. Missing required keys yield a
	// *MissingParameterError; an unknown batch yields a *BatchNotLoadedError.
	GetComputeDomain(ctx context.Context, domainKwargs domain.Kwargs, domainType DomainType) (ComputeDomain, error)

	// ExecuteQuery runs a backend-native query. Backend failures are
	// returned as *ExecutionEngineError.
	ExecuteQuery(ctx context.Context, q Query) (domain.Table, error)

	// ColumnTypes returns the normalized schema of the selectable, keeping
	// the native type in ColumnType.Native.
	ColumnTypes(ctx context.Context, cd ComputeDomain) ([]domain.ColumnType, error)

	// Ping verifies the backend is reachable. A failure here is a
	// resource-level error that aborts the whole run.
	Ping(ctx context.Context) error

	// Close releases the connection or session.
	Close() error
}

// TabularEngine is the in-memory variant.
type TabularEngine interface {
	ExecutionEngine

	// View returns the rows selected by a compute domain.
	View(cd ComputeDomain) (RowView, error)
}

// SQLEngine is the relational variant.
type SQLEngine interface {
	ExecutionEngine

	// Dialect returns the syntax rules of the primary connection.
	Dialect() Dialect

	// Selectable returns the SQL selection of a compute domain.
	Selectable(cd ComputeDomain) (SQLSelectable, error)

	// DataSources lists the named secondary connections available to
	// SQLQuery.DataSource.
	DataSources() []string
}

// PartitionFunc computes a partial result over one partition.
type PartitionFunc func(ctx context.Context, rows RowView) (any, error)

// DistributedEngine is the partitioned-frame variant.
type DistributedEngine interface {
	ExecutionEngine

	// MapPartitions applies fn to every partition selected by cd in
	// parallel and returns the partial results in partition order. The
	// first error cancels the remaining partitions.
	MapPartitions(ctx context.Context, cd ComputeDomain, fn PartitionFunc) ([]any, error)
}
