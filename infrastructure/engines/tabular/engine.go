package tabular

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync/atomic"

	"github.com/ahrav/go-assay/infrastructure/engines"
	"github.com/ahrav/go-assay/infrastructure/query"
	"github.com/ahrav/go-assay/internal/domain"
	"github.com/ahrav/go-assay/internal/ports"
)

// Option configures an Engine.
type Option func(*Engine)

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

// Engine is the in-memory tabular execution engine. Batches are frames
// that are never mutated after loading, so concurrent metric computations
// read them without locking.
type Engine struct {
	batches    *engines.Batches[*Frame]
	runner     query.Runner
	middleware []query.Middleware
	logger     *slog.Logger
	closed     atomic.Bool
}

var _ ports.TabularEngine = (*Engine)(nil)

// NewEngine creates an engine with no batches.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		batches: engines.NewBatches[*Frame](),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.runner = query.Chain(query.RunnerFunc(e.run), e.middleware...)
	return e
}

// Backend implements ports.ExecutionEngine.
func (e *Engine) Backend() ports.Backend { return ports.BackendTabular }

// LoadBatch registers data under batchID. data may be a *Frame, a
// domain.Table, an io.Reader of CSV text or a CSV file path.
func (e *Engine) LoadBatch(_ context.Context, batchID string, data any) error {
	var (
		frame *Frame
		err   error
	)
	switch d := data.(type) {
	case *Frame:
		frame = d
	case domain.Table:
		frame, err = FromTable(d)
	case io.Reader:
		frame, err = ReadCSV(d)
	case string:
		frame, err = LoadCSVFile(d)
	default:
		err = fmt.Errorf("tabular batch data %T: %w", data, domain.ErrTypeMismatch)
	}
	if err != nil {
		return ports.NewExecutionEngineError(ports.BackendTabular, "LoadBatch", "", err)
	}
	if frame == nil {
		return ports.NewExecutionEngineError(ports.BackendTabular, "LoadBatch", "", domain.ErrEmptyValue)
	}
	if err := e.batches.Load(batchID, frame); err != nil {
		return err
	}
	e.logger.Debug("batch loaded",
		slog.String("backend", "tabular"),
		slog.String("batch_id", batchID),
		slog.Int("rows", frame.Len()),
		slog.Int("columns", len(frame.columns)),
	)
	return nil
}

// GetBatch implements ports.ExecutionEngine. It returns the *Frame.
func (e *Engine) GetBatch(batchID string) (any, error) {
	return e.batches.Get(batchID)
}

// ActiveBatchID implements ports.ExecutionEngine.
func (e *Engine) ActiveBatchID() string { return e.batches.Active() }

// SetActiveBatch implements ports.ExecutionEngine.
func (e *Engine) SetActiveBatch(batchID string) error { return e.batches.SetActive(batchID) }

// GetComputeDomain selects the rows of the batch matching the row
// condition and ignore_row_if mode. The selectable is a ports.RowView and
// the compute kwargs always carry the resolved batch_id.
func (e *Engine) GetComputeDomain(
	_ context.Context,
	domainKwargs domain.Kwargs,
	domainType ports.DomainType,
) (ports.ComputeDomain, error) {
	spec, err := engines.SplitDomainKwargs(domainKwargs, domainType)
	if err != nil {
		return ports.ComputeDomain{}, err
	}
	id, frame, err := e.batches.Resolve(spec.Compute)
	if err != nil {
		return ports.ComputeDomain{}, err
	}
	view, err := engines.Filter(frame, spec)
	if err != nil {
		return ports.ComputeDomain{}, err
	}
	spec.Compute[domain.KwargBatchID] = id
	return ports.ComputeDomain{
		Selectable:     view,
		ComputeKwargs:  spec.Compute,
		AccessorKwargs: spec.Accessor,
	}, nil
}

// View implements ports.TabularEngine.
func (e *Engine) View(cd ports.ComputeDomain) (ports.RowView, error) {
	view, ok := cd.Selectable.(ports.RowView)
	if !ok {
		return nil, fmt.Errorf("tabular selectable %T: %w", cd.Selectable, domain.ErrTypeMismatch)
	}
	return view, nil
}

// ExecuteQuery runs a FrameQuery through the configured middleware.
func (e *Engine) ExecuteQuery(ctx context.Context, q ports.Query) (domain.Table, error) {
	return e.runner.Run(ctx, q)
}

func (e *Engine) run(ctx context.Context, q ports.Query) (domain.Table, error) {
	if err := ctx.Err(); err != nil {
		return domain.Table{}, err
	}
	fq, ok := q.(ports.FrameQuery)
	if !ok {
		return domain.Table{}, ports.NewExecutionEngineError(ports.BackendTabular, "ExecuteQuery", q.Describe(),
			fmt.Errorf("%T: %w", q, ports.ErrUnsupportedQuery))
	}
	table, err := e.frameQuery(fq)
	if err != nil {
		return domain.Table{}, ports.NewExecutionEngineError(ports.BackendTabular, "ExecuteQuery", q.Describe(), err)
	}
	return table, nil
}

func (e *Engine) frameQuery(q ports.FrameQuery) (domain.Table, error) {
	_, frame, err := e.batches.Resolve(domain.Kwargs{domain.KwargBatchID: q.BatchID})
	if err != nil {
		return domain.Table{}, err
	}
	view, err := engines.Filter(frame, engines.DomainSpec{Condition: q.Condition})
	if err != nil {
		return domain.Table{}, err
	}
	cols := q.Columns
	if len(cols) == 0 {
		cols = frame.Columns()
	}
	if err := engines.RequireColumns(frame, cols...); err != nil {
		return domain.Table{}, err
	}
	return Project(view, cols, q.Limit), nil
}

// Project copies the given columns of view into a table, stopping after
// limit rows when limit is positive.
func Project(view ports.RowView, columns []string, limit int) domain.Table {
	n := view.Len()
	if limit > 0 && limit < n {
		n = limit
	}
	rows := make([][]any, n)
	for i := range n {
		row := make([]any, len(columns))
		for j, c := range columns {
			row[j], _ = view.Value(i, c)
		}
		rows[i] = row
	}
	return domain.Table{Columns: slices.Clone(columns), Rows: rows}
}

// ColumnTypes returns the schema of the batch behind cd.
func (e *Engine) ColumnTypes(_ context.Context, cd ports.ComputeDomain) ([]domain.ColumnType, error) {
	_, frame, err := e.batches.Resolve(cd.ComputeKwargs)
	if err != nil {
		return nil, err
	}
	return frame.Types(), nil
}

// Ping fails once the engine is closed.
func (e *Engine) Ping(context.Context) error {
	if e.closed.Load() {
		return ports.NewExecutionEngineError(ports.BackendTabular, "Ping", "", ports.ErrServiceUnavailable)
	}
	return nil
}

// Close marks the engine closed. Loaded frames are left to the garbage
// collector.
func (e *Engine) Close() error {
	e.closed.Store(true)
	return nil
}
