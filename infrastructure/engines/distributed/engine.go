package distributed

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"golang.org/x/sync/errgroup"

	"github.com/ahrav/go-assay/infrastructure/engines"
	"github.com/ahrav/go-assay/infrastructure/engines/tabular"
	"github.com/ahrav/go-assay/infrastructure/query"
	"github.com/ahrav/go-assay/internal/domain"
	"github.com/ahrav/go-assay/internal/ports"
)

// DefaultPartitions is the number of record batches a frame or CSV file is
// split into when no partition count is configured.
const DefaultPartitions = 4

// Option configures an Engine.
type Option func(*Engine)

// WithPartitions sets how many record batches loaded frames are split into.
func WithPartitions(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.partitions = n
		}
	}
}

// WithParallelism bounds how many partitions are processed at once.
func WithParallelism(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.parallelism = n
		}
	}
}

// WithAllocator sets the Arrow allocator used to build record batches.
func WithAllocator(mem memory.Allocator) Option {
	return func(e *Engine) {
		if mem != nil {
			e.mem = mem
		}
	}
}

// WithQueryMiddleware wraps ExecuteQuery with the given middleware.
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

// batch is a loaded set of partitions. The engine holds one reference on
// every record until Close.
type batch struct {
	schema *arrow.Schema
	recs   []arrow.Record
	views  []ports.RowView
}

// partitionSet is the selectable of a distributed compute domain: one
// filtered view per partition.
type partitionSet struct {
	views []ports.RowView
}

// Engine is the partitioned-frame execution engine.
type Engine struct {
	batches     *engines.Batches[*batch]
	mem         memory.Allocator
	partitions  int
	parallelism int
	runner      query.Runner
	middleware  []query.Middleware
	logger      *slog.Logger

	closeOnce sync.Once
	closed    atomic.Bool
}

var _ ports.DistributedEngine = (*Engine)(nil)

// NewEngine creates an engine with no batches.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		batches:     engines.NewBatches[*batch](),
		mem:         memory.NewGoAllocator(),
		partitions:  DefaultPartitions,
		parallelism: runtime.GOMAXPROCS(0),
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.runner = query.Chain(query.RunnerFunc(e.run), e.middleware...)
	return e
}

// Backend implements ports.ExecutionEngine.
func (e *Engine) Backend() ports.Backend { return ports.BackendDistributed }

// LoadBatch registers data under batchID. data may be []arrow.Record or a
// single arrow.Record (retained, all with the same schema), or anything the
// tabular engine loads (a *tabular.Frame, an io.Reader of CSV text or a
// CSV path), which is split into the configured number of partitions.
func (e *Engine) LoadBatch(_ context.Context, batchID string, data any) error {
	recs, err := e.toRecords(data)
	if err != nil {
		return ports.NewExecutionEngineError(ports.BackendDistributed, "LoadBatch", "", err)
	}

	b := &batch{schema: recs[0].Schema(), recs: recs}
	for _, r := range recs {
		if !r.Schema().Equal(b.schema) {
			releaseAll(recs)
			return ports.NewExecutionEngineError(ports.BackendDistributed, "LoadBatch", "",
				fmt.Errorf("partitions have different schemas: %w", domain.ErrInvalidConfiguration))
		}
		b.views = append(b.views, newRecordView(r))
	}

	if old, err := e.batches.Get(batchID); err == nil {
		defer releaseAll(old.recs)
	}
	if err := e.batches.Load(batchID, b); err != nil {
		releaseAll(recs)
		return err
	}

	rows := 0
	for _, v := range b.views {
		rows += v.Len()
	}
	e.logger.Debug("batch loaded",
		slog.String("backend", "distributed"),
		slog.String("batch_id", batchID),
		slog.Int("partitions", len(recs)),
		slog.Int("rows", rows),
	)
	return nil
}

func (e *Engine) toRecords(data any) ([]arrow.Record, error) {
	var frame *tabular.Frame
	var err error
	switch d := data.(type) {
	case []arrow.Record:
		if len(d) == 0 {
			return nil, fmt.Errorf("record batches: %w", domain.ErrEmptyValue)
		}
		for _, r := range d {
			r.Retain()
		}
		return append([]arrow.Record(nil), d...), nil
	case arrow.Record:
		d.Retain()
		return []arrow.Record{d}, nil
	case *tabular.Frame:
		frame = d
	case io.Reader:
		frame, err = tabular.ReadCSV(d)
	case string:
		frame, err = tabular.LoadCSVFile(d)
	default:
		return nil, fmt.Errorf("distributed batch data %T: %w", data, domain.ErrTypeMismatch)
	}
	if err != nil {
		return nil, err
	}
	return FrameToRecords(e.mem, frame, e.partitions)
}

// GetBatch returns the []arrow.Record of the batch. The records stay owned
// by the engine.
func (e *Engine) GetBatch(batchID string) (any, error) {
	b, err := e.batches.Get(batchID)
	if err != nil {
		return nil, err
	}
	return b.recs, nil
}

// ActiveBatchID implements ports.ExecutionEngine.
func (e *Engine) ActiveBatchID() string { return e.batches.Active() }

// SetActiveBatch implements ports.ExecutionEngine.
func (e *Engine) SetActiveBatch(batchID string) error { return e.batches.SetActive(batchID) }

// GetComputeDomain filters every partition of the batch. The selectable is
// engine private; use MapPartitions to read it.
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
	set := &partitionSet{views: make([]ports.RowView, len(b.views))}
	for i, v := range b.views {
		fv, err := engines.Filter(v, spec)
		if err != nil {
			return ports.ComputeDomain{}, err
		}
		set.views[i] = fv
	}
	spec.Compute[domain.KwargBatchID] = id
	return ports.ComputeDomain{
		Selectable:     set,
		ComputeKwargs:  spec.Compute,
		AccessorKwargs: spec.Accessor,
	}, nil
}

// MapPartitions applies fn to every partition of cd with bounded
// parallelism. Results keep partition order; the first error cancels the
// remaining partitions.
func (e *Engine) MapPartitions(ctx context.Context, cd ports.ComputeDomain, fn ports.PartitionFunc) ([]any, error) {
	set, ok := cd.Selectable.(*partitionSet)
	if !ok {
		return nil, fmt.Errorf("distributed selectable %T: %w", cd.Selectable, domain.ErrTypeMismatch)
	}

	results := make([]any, len(set.views))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.parallelism)
	for i, view := range set.views {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			r, err := fn(gctx, view)
			if err != nil {
				return fmt.Errorf("partition %d: %w", i, err)
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// ExecuteQuery runs a FrameQuery across all partitions through the
// configured middleware.
func (e *Engine) ExecuteQuery(ctx context.Context, q ports.Query) (domain.Table, error) {
	return e.runner.Run(ctx, q)
}

func (e *Engine) run(ctx context.Context, q ports.Query) (domain.Table, error) {
	fq, ok := q.(ports.FrameQuery)
	if !ok {
		return domain.Table{}, ports.NewExecutionEngineError(ports.BackendDistributed, "ExecuteQuery", q.Describe(),
			fmt.Errorf("%T: %w", q, ports.ErrUnsupportedQuery))
	}
	table, err := e.frameQuery(ctx, fq)
	if err != nil {
		return domain.Table{}, ports.NewExecutionEngineError(ports.BackendDistributed, "ExecuteQuery", q.Describe(), err)
	}
	return table, nil
}

func (e *Engine) frameQuery(ctx context.Context, q ports.FrameQuery) (domain.Table, error) {
	_, b, err := e.batches.Resolve(domain.Kwargs{domain.KwargBatchID: q.BatchID})
	if err != nil {
		return domain.Table{}, err
	}
	cols := q.Columns
	if len(cols) == 0 {
		cols = b.views[0].Columns()
	}

	parts := make([]domain.Table, len(b.views))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.parallelism)
	for i, v := range b.views {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			fv, err := engines.Filter(v, engines.DomainSpec{Condition: q.Condition})
			if err != nil {
				return err
			}
			if err := engines.RequireColumns(v, cols...); err != nil {
				return err
			}
			parts[i] = tabular.Project(fv, cols, q.Limit)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return domain.Table{}, err
	}

	out := domain.Table{Columns: cols}
	for _, p := range parts {
		for _, row := range p.Rows {
			if q.Limit > 0 && len(out.Rows) >= q.Limit {
				return out, nil
			}
			out.Rows = append(out.Rows, row)
		}
	}
	return out, nil
}

// ColumnTypes returns the Arrow schema of the batch behind cd, normalized.
func (e *Engine) ColumnTypes(_ context.Context, cd ports.ComputeDomain) ([]domain.ColumnType, error) {
	_, b, err := e.batches.Resolve(cd.ComputeKwargs)
	if err != nil {
		return nil, err
	}
	out := make([]domain.ColumnType, 0, b.schema.NumFields())
	for _, f := range b.schema.Fields() {
		out = append(out, domain.ColumnType{
			Name:   f.Name,
			Type:   normalizeArrowType(f.Type),
			Native: f.Type,
			Extras: map[string]any{"arrow_type": f.Type.String(), "nullable": f.Nullable},
		})
	}
	return out, nil
}

// Ping fails once the engine is closed.
func (e *Engine) Ping(context.Context) error {
	if e.closed.Load() {
		return ports.NewExecutionEngineError(ports.BackendDistributed, "Ping", "", ports.ErrServiceUnavailable)
	}
	return nil
}

// Close releases every loaded record batch.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		e.closed.Store(true)
		for _, id := range e.batches.IDs() {
			if b, err := e.batches.Get(id); err == nil {
				releaseAll(b.recs)
			}
		}
	})
	return nil
}
