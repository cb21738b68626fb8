package sqlengine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v4/pgxpool"
	_ "modernc.org/sqlite"

	"github.com/ahrav/go-assay/infrastructure/engines"
	"github.com/ahrav/go-assay/infrastructure/query"
	"github.com/ahrav/go-assay/internal/domain"
	"github.com/ahrav/go-assay/internal/ports"
)

// Batch is the data of a SQL batch: either a table name, optionally
// schema qualified, or a query whose result set is the batch.
type Batch struct {
	Table string
	Query string
}

// conn is one named connection.
type conn struct {
	dialect ports.Dialect
	queryer Queryer
}

// Option configures an Engine.
type Option func(*Engine)

// WithDataSource registers a named secondary connection that queries can
// target through ports.SQLQuery.DataSource.
func WithDataSource(name string, dialect ports.Dialect, q Queryer) Option {
	return func(e *Engine) { e.sources[name] = &conn{dialect: dialect, queryer: q} }
}

// WithQueryMiddleware wraps ExecuteQuery with the given middleware, first
// outermost.
func WithQueryMiddleware(mws ...query.Middleware) Option {
	return func(e *Engine) { e.middleware = append(e.middleware, mws...) }
}

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// Engine is the relational execution engine. Metrics compose SQL against
// the selectable of a compute domain and run it through ExecuteQuery.
type Engine struct {
	primary    *conn
	sources    map[string]*conn
	batches    *engines.Batches[Batch]
	runner     query.Runner
	middleware []query.Middleware
	logger     *slog.Logger

	closeOnce sync.Once
	closeErr  error
	closed    atomic.Bool
}

var _ ports.SQLEngine = (*Engine)(nil)

// New creates an engine over an open primary connection.
func New(dialect ports.Dialect, q Queryer, opts ...Option) *Engine {
	e := &Engine{
		primary: &conn{dialect: dialect, queryer: q},
		sources: make(map[string]*conn),
		batches: engines.NewBatches[Batch](),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.runner = query.Chain(query.RunnerFunc(e.run), e.middleware...)
	return e
}

// Open connects to kind ("sqlite", "mysql" or "postgres") at dsn and
// returns an engine over that connection.
func Open(ctx context.Context, kind, dsn string, opts ...Option) (*Engine, error) {
	dialect, q, err := OpenQueryer(ctx, kind, dsn)
	if err != nil {
		return nil, err
	}
	return New(dialect, q, opts...), nil
}

// OpenQueryer opens a connection for kind without wrapping it in an
// engine. It is used for named data sources.
func OpenQueryer(ctx context.Context, kind, dsn string) (ports.Dialect, Queryer, error) {
	dialect, err := DialectFor(kind)
	if err != nil {
		return nil, nil, ports.NewConfigError("engine.kind", err)
	}
	if dsn == "" {
		return nil, nil, ports.NewConfigError("engine.dsn", ports.ErrConfigNotFound)
	}

	switch dialect.Name() {
	case DialectPostgres:
		pool, err := pgxpool.Connect(ctx, dsn)
		if err != nil {
			return nil, nil, ports.NewExecutionEngineError(ports.BackendSQL, "Open", "", classify(err))
		}
		return dialect, NewPgxQueryer(pool), nil
	default:
		db, err := sql.Open(dialect.Name(), dsn)
		if err != nil {
			return nil, nil, ports.NewExecutionEngineError(ports.BackendSQL, "Open", "", classify(err))
		}
		if dialect.Name() == DialectSQLite {
			// An in-memory database exists per connection.
			db.SetMaxOpenConns(1)
		}
		return dialect, NewDBQueryer(db), nil
	}
}

// Backend implements ports.ExecutionEngine.
func (e *Engine) Backend() ports.Backend { return ports.BackendSQL }

// Dialect implements ports.SQLEngine.
func (e *Engine) Dialect() ports.Dialect { return e.primary.dialect }

// DataSources implements ports.SQLEngine.
func (e *Engine) DataSources() []string {
	names := make([]string, 0, len(e.sources))
	for name := range e.sources {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// LoadBatch registers a table name (string) or a Batch under batchID. The
// relation is probed with an empty select so unknown tables fail here
// rather than inside every metric.
func (e *Engine) LoadBatch(ctx context.Context, batchID string, data any) error {
	var b Batch
	switch d := data.(type) {
	case string:
		b = Batch{Table: d}
	case Batch:
		b = d
	case *Batch:
		if d != nil {
			b = *d
		}
	default:
		return ports.NewExecutionEngineError(ports.BackendSQL, "LoadBatch", "",
			fmt.Errorf("sql batch data %T: %w", data, domain.ErrTypeMismatch))
	}
	if (b.Table == "") == (b.Query == "") {
		return ports.NewExecutionEngineError(ports.BackendSQL, "LoadBatch", "",
			fmt.Errorf("exactly one of table or query is required: %w", domain.ErrInvalidConfiguration))
	}

	probe := "SELECT * FROM " + e.from(b) + " WHERE 1=0"
	if _, err := e.primary.queryer.Query(ctx, 0, probe); err != nil {
		return ports.NewExecutionEngineError(ports.BackendSQL, "LoadBatch", probe, classify(err))
	}
	if err := e.batches.Load(batchID, b); err != nil {
		return err
	}
	e.logger.Debug("batch loaded",
		slog.String("backend", "sql"),
		slog.String("dialect", e.primary.dialect.Name()),
		slog.String("batch_id", batchID),
		slog.String("table", b.Table),
	)
	return nil
}

// GetBatch returns the Batch registered under batchID.
func (e *Engine) GetBatch(batchID string) (any, error) { return e.batches.Get(batchID) }

// ActiveBatchID implements ports.ExecutionEngine.
func (e *Engine) ActiveBatchID() string { return e.batches.Active() }

// SetActiveBatch implements ports.ExecutionEngine.
func (e *Engine) SetActiveBatch(batchID string) error { return e.batches.SetActive(batchID) }

func (e *Engine) from(b Batch) string {
	if b.Query != "" {
		return "(" + strings.TrimRight(strings.TrimSpace(b.Query), ";") + ") AS " + e.primary.dialect.QuoteIdentifier("batch_subquery")
	}
	parts := strings.Split(b.Table, ".")
	for i, p := range parts {
		parts[i] = e.primary.dialect.QuoteIdentifier(p)
	}
	return strings.Join(parts, ".")
}

// GetComputeDomain builds the FROM and WHERE clauses selecting the domain.
// The row condition and ignore_row_if mode become a parameterized WHERE.
func (e *Engine) GetComputeDomain(
	_ context.Context,
	domainKwargs domain.Kwargs,
	domainType ports.DomainType,
) (ports.ComputeDomain, error) {
	spec, err := engines.SplitDomainKwargs(domainKwargs, domainType)
	if err != nil {
		return ports.ComputeDomain{}, err
	}
	id, b, err := e.batches.Resolve(spec.Compute)
	if err != nil {
		return ports.ComputeDomain{}, err
	}
	where, args := e.where(spec)
	spec.Compute[domain.KwargBatchID] = id
	return ports.ComputeDomain{
		Selectable:     ports.SQLSelectable{From: e.from(b), Where: where, Args: args},
		ComputeKwargs:  spec.Compute,
		AccessorKwargs: spec.Accessor,
	}, nil
}

var sqlOps = map[domain.Operator]string{
	domain.OpEq: "=",
	domain.OpNe: "<>",
	domain.OpGt: ">",
	domain.OpGe: ">=",
	domain.OpLt: "<",
	domain.OpLe: "<=",
}

func (e *Engine) where(spec engines.DomainSpec) (string, []any) {
	d := e.primary.dialect
	ph := &placeholders{dialect: d}
	var (
		clauses []string
		args    []any
	)
	for _, p := range spec.Condition.Predicates {
		col := d.QuoteIdentifier(p.Column)
		switch p.Op {
		case domain.OpIsNull:
			clauses = append(clauses, col+" IS NULL")
		case domain.OpIsNotNull:
			clauses = append(clauses, col+" IS NOT NULL")
		default:
			clauses = append(clauses, col+" "+sqlOps[p.Op]+" "+ph.next())
			args = append(args, p.Value)
		}
	}

	if len(spec.Columns) > 1 {
		nulls := make([]string, len(spec.Columns))
		for i, c := range spec.Columns {
			nulls[i] = d.QuoteIdentifier(c) + " IS NULL"
		}
		switch spec.IgnoreRowIf {
		case engines.IgnoreBothMissing, engines.IgnoreAllMissing:
			clauses = append(clauses, "NOT ("+strings.Join(nulls, " AND ")+")")
		case engines.IgnoreEitherMissing, engines.IgnoreAnyMissing:
			clauses = append(clauses, "NOT ("+strings.Join(nulls, " OR ")+")")
		}
	}
	return strings.Join(clauses, " AND "), args
}

// Selectable implements ports.SQLEngine.
func (e *Engine) Selectable(cd ports.ComputeDomain) (ports.SQLSelectable, error) {
	sel, ok := cd.Selectable.(ports.SQLSelectable)
	if !ok {
		return ports.SQLSelectable{}, fmt.Errorf("sql selectable %T: %w", cd.Selectable, domain.ErrTypeMismatch)
	}
	return sel, nil
}

// ExecuteQuery runs a ports.SQLQuery through the configured middleware.
func (e *Engine) ExecuteQuery(ctx context.Context, q ports.Query) (domain.Table, error) {
	return e.runner.Run(ctx, q)
}

func (e *Engine) run(ctx context.Context, q ports.Query) (domain.Table, error) {
	sq, ok := q.(ports.SQLQuery)
	if !ok {
		return domain.Table{}, ports.NewExecutionEngineError(ports.BackendSQL, "ExecuteQuery", q.Describe(),
			fmt.Errorf("%T: %w", q, ports.ErrUnsupportedQuery))
	}
	c := e.primary
	if sq.DataSource != "" {
		c, ok = e.sources[sq.DataSource]
		if !ok {
			return domain.Table{}, ports.NewExecutionEngineError(ports.BackendSQL, "ExecuteQuery", q.Describe(),
				fmt.Errorf("data source %q: %w", sq.DataSource, domain.ErrKeyNotFound))
		}
	}
	if c.dialect.Name() == DialectMySQL {
		if err := ValidateReadOnly(sq.Text); err != nil {
			return domain.Table{}, ports.NewExecutionEngineError(ports.BackendSQL, "ExecuteQuery", q.Describe(), err)
		}
	}
	if e.logger.Enabled(ctx, slog.LevelDebug) {
		e.logger.DebugContext(ctx, "executing query",
			slog.String("dialect", c.dialect.Name()),
			slog.String("data_source", sq.DataSource),
			slog.Any("tables", ReferencedTables(sq.Text)))
	}
	res, err := c.queryer.Query(ctx, sq.MaxRows, sq.Text, sq.Args...)
	if err != nil {
		return domain.Table{}, ports.NewExecutionEngineError(ports.BackendSQL, "ExecuteQuery", q.Describe(), classify(err))
	}
	return res.Table, nil
}

// ColumnTypes reads the result schema of the selectable with an empty
// select.
func (e *Engine) ColumnTypes(ctx context.Context, cd ports.ComputeDomain) ([]domain.ColumnType, error) {
	_, b, err := e.batches.Resolve(cd.ComputeKwargs)
	if err != nil {
		return nil, err
	}
	text := "SELECT * FROM " + e.from(b) + " WHERE 1=0"
	res, err := e.primary.queryer.Query(ctx, 0, text)
	if err != nil {
		return nil, ports.NewExecutionEngineError(ports.BackendSQL, "ColumnTypes", text, classify(err))
	}
	out := make([]domain.ColumnType, len(res.Columns))
	for i, name := range res.Columns {
		native := res.NativeTypes[i]
		out[i] = domain.ColumnType{
			Name:   name,
			Type:   e.primary.dialect.NormalizeType(native),
			Native: native,
			Extras: map[string]any{"native_type": native},
		}
	}
	return out, nil
}

// Ping checks the primary connection and every data source.
func (e *Engine) Ping(ctx context.Context) error {
	if e.closed.Load() {
		return ports.NewExecutionEngineError(ports.BackendSQL, "Ping", "", ports.ErrServiceUnavailable)
	}
	if err := e.primary.queryer.Ping(ctx); err != nil {
		return ports.NewExecutionEngineError(ports.BackendSQL, "Ping", "", pingError(err))
	}
	for _, name := range e.DataSources() {
		if err := e.sources[name].queryer.Ping(ctx); err != nil {
			return ports.NewExecutionEngineError(ports.BackendSQL, "Ping", name, pingError(err))
		}
	}
	return nil
}

// pingError makes sure an unreachable backend is always a resource error.
func pingError(err error) error {
	err = classify(err)
	if ports.IsResourceError(err) {
		return err
	}
	return fmt.Errorf("%w: %w", ports.ErrServiceUnavailable, err)
}

// Close closes every connection.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		e.closed.Store(true)
		errs := []error{e.primary.queryer.Close()}
		for _, c := range e.sources {
			errs = append(errs, c.queryer.Close())
		}
		e.closeErr = errors.Join(errs...)
	})
	return e.closeErr
}
