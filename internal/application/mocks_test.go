package application

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ahrav/go-assay/internal/domain"
	"github.com/ahrav/go-assay/internal/ports"
)

// mockEngine is a tabular engine with one active batch and no data. Metric
// providers in these tests compute their values without touching it.
type mockEngine struct {
	backend ports.Backend
	active  string
	pingErr error
}

func newMockEngine() *mockEngine {
	return &mockEngine{backend: ports.BackendTabular, active: "batch-1"}
}

func (e *mockEngine) Backend() ports.Backend { return e.backend }

func (e *mockEngine) LoadBatch(_ context.Context, batchID string, _ any) error {
	e.active = batchID
	return nil
}

func (e *mockEngine) GetBatch(batchID string) (any, error) {
	if batchID != e.active {
		return nil, &ports.BatchNotLoadedError{BatchID: batchID}
	}
	return struct{}{}, nil
}

func (e *mockEngine) ActiveBatchID() string { return e.active }

func (e *mockEngine) SetActiveBatch(batchID string) error {
	_, err := e.GetBatch(batchID)
	return err
}

func (e *mockEngine) GetComputeDomain(_ context.Context, k domain.Kwargs, _ ports.DomainType) (ports.ComputeDomain, error) {
	return ports.ComputeDomain{ComputeKwargs: k}, nil
}

func (e *mockEngine) ExecuteQuery(context.Context, ports.Query) (domain.Table, error) {
	return domain.Table{}, nil
}

func (e *mockEngine) ColumnTypes(context.Context, ports.ComputeDomain) ([]domain.ColumnType, error) {
	return nil, nil
}

func (e *mockEngine) Ping(context.Context) error { return e.pingErr }

func (e *mockEngine) Close() error { return nil }

func (e *mockEngine) View(ports.ComputeDomain) (ports.RowView, error) { return nil, nil }

// mockSQLEngine reports the SQL backend so that providers without a SQL
// implementation can be exercised.
type mockSQLEngine struct {
	*mockEngine
}

func newMockSQLEngine() *mockSQLEngine {
	e := newMockEngine()
	e.backend = ports.BackendSQL
	return &mockSQLEngine{mockEngine: e}
}

func (e *mockSQLEngine) Dialect() ports.Dialect { return nil }

func (e *mockSQLEngine) Selectable(ports.ComputeDomain) (ports.SQLSelectable, error) {
	return ports.SQLSelectable{From: "t"}, nil
}

func (e *mockSQLEngine) DataSources() []string { return nil }

// mockProvider is a metric provider whose dependencies and value are
// supplied by the test. It counts computations and records the order in
// which metrics were computed through a shared log.
type mockProvider struct {
	name     string
	deps     func(cfg domain.MetricConfiguration) map[string]domain.MetricConfiguration
	compute  func(ctx context.Context, call ports.MetricCall) (any, error)
	defaults domain.Kwargs
	delay    time.Duration
	log      *computeLog

	calls atomic.Int64
}

func (p *mockProvider) Name() string { return p.name }
func (p *mockProvider) DomainType() ports.DomainType { return ports.DomainColumn }
func (p *mockProvider) DomainKeys() []string { return []string{domain.KwargBatchID, domain.KwargColumn} }
func (p *mockProvider) ValueKeys() []string { return nil }
func (p *mockProvider) DefaultValueKwargs() domain.Kwargs { return p.defaults }

func (p *mockProvider) Dependencies(cfg domain.MetricConfiguration) (map[string]domain.MetricConfiguration, error) {
	if p.deps == nil {
		return nil, nil
	}
	return p.deps(cfg), nil
}

func (p *mockProvider) ComputeTabular(ctx context.Context, _ ports.TabularEngine, call ports.MetricCall) (any, error) {
	p.calls.Add(1)
	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if p.log != nil {
		p.log.add(p.name)
	}
	if p.compute == nil {
		return 1, nil
	}
	return p.compute(ctx, call)
}

func (p *mockProvider) ComputeSQL(context.Context, ports.SQLEngine, ports.MetricCall) (any, error) {
	return nil, ports.ErrNotImplemented
}

func (p *mockProvider) ComputeDistributed(context.Context, ports.DistributedEngine, ports.MetricCall) (any, error) {
	return nil, ports.ErrNotImplemented
}

type computeLog struct {
	mu    sync.Mutex
	order []string
}

func (l *computeLog) add(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.order = append(l.order, name)
}

func (l *computeLog) index(name string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, n := range l.order {
		if n == name {
			return i
		}
	}
	return -1
}

// mockExpectation requires the metrics returned by deps and succeeds when
// check does.
type mockExpectation struct {
	typ      string
	deps     func(cfg domain.ExpectationConfiguration) map[string]domain.MetricConfiguration
	check    func(metrics domain.Metrics) (ports.Outcome, error)
	validate func(cfg domain.ExpectationConfiguration) error
}

func (e *mockExpectation) Type() string { return e.typ }

func (e *mockExpectation) ValidateConfiguration(cfg domain.ExpectationConfiguration) error {
	if e.validate != nil {
		return e.validate(cfg)
	}
	return nil
}

func (e *mockExpectation) MetricDependencies(
	cfg domain.ExpectationConfiguration,
	_ ports.RuntimeConfiguration,
) (map[string]domain.MetricConfiguration, error) {
	if e.deps == nil {
		return nil, nil
	}
	return e.deps(cfg), nil
}

func (e *mockExpectation) Validate(
	_ domain.ExpectationConfiguration,
	metrics domain.Metrics,
	_ ports.RuntimeConfiguration,
) (ports.Outcome, error) {
	if e.check == nil {
		return ports.Outcome{Success: true, Result: map[string]any{}}, nil
	}
	return e.check(metrics)
}

// mockObserver records terminal states in order.
type mockObserver struct {
	mu       sync.Mutex
	started  int
	states   []string
	finished int
	runErr   error
}

func (o *mockObserver) RunStarted(ctx context.Context, _ string, _ int) context.Context {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.started++
	return ctx
}

func (o *mockObserver) ExpectationFinished(_ context.Context, typ, state string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.states = append(o.states, typ+":"+state)
}

func (o *mockObserver) RunFinished(_ context.Context, _ *domain.ExpectationSuiteValidationResult, _ time.Duration, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.finished++
	o.runErr = err
}

func columnMetric(name, column string) domain.MetricConfiguration {
	return domain.MustMetricConfiguration(name, domain.Kwargs{domain.KwargColumn: column}, nil)
}
