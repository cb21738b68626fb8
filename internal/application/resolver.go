package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/ahrav/go-assay/internal/domain"
	"github.com/ahrav/go-assay/internal/ports"
)

const tracerName = "github.com/ahrav/go-assay/internal/application"

// DefaultConcurrency is the number of metrics computed in parallel within
// one dependency level when no limit is configured.
const DefaultConcurrency = 4

// ResolverOption configures a MetricResolver.
type ResolverOption func(*MetricResolver)

// WithConcurrency bounds how many independent metrics are computed at once.
// A value of 1 computes metrics strictly one after another.
func WithConcurrency(n int) ResolverOption {
	return func(r *MetricResolver) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

// WithResolverLogger sets the structured logger.
func WithResolverLogger(logger *slog.Logger) ResolverOption {
	return func(r *MetricResolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithTracer replaces the global OpenTelemetry tracer.
func WithTracer(tracer trace.Tracer) ResolverOption {
	return func(r *MetricResolver) {
		if tracer != nil {
			r.tracer = tracer
		}
	}
}

// MetricResolver computes metric configurations against one execution
// engine, honouring their dependencies. A resolver owns the metric cache of
// a single validation run: create a new one for every run.
type MetricResolver struct {
	registry ports.MetricRegistry
	engine   ports.ExecutionEngine
	cache    *RunCache

	concurrency  int
	logger       *slog.Logger
	tracer       trace.Tracer
	computations atomic.Int64
}

// NewMetricResolver creates a resolver with an empty run cache.
func NewMetricResolver(
	registry ports.MetricRegistry,
	engine ports.ExecutionEngine,
	opts ...ResolverOption,
) *MetricResolver {
	r := &MetricResolver{
		registry:    registry,
		engine:      engine,
		cache:       NewRunCache(),
		concurrency: DefaultConcurrency,
		logger:      slog.Default(),
		tracer:      otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ComputationCount returns how many provider computations this resolver has
// invoked. Cache hits are not counted.
func (r *MetricResolver) ComputationCount() int64 { return r.computations.Load() }

// Cache returns the run cache.
func (r *MetricResolver) Cache() *RunCache { return r.cache }

// Resolution holds the outcome of one Resolve call: a value or an error per
// configuration in the transitive closure of the request.
type Resolution struct {
	mu sync.RWMutex
	// aliases maps each requested id to the id it resolved to once
	// defaults and the active batch were applied.
	aliases map[domain.MetricConfigurationID]domain.MetricConfigurationID
	values  map[domain.MetricConfigurationID]any
	errs    map[domain.MetricConfigurationID]error
}

func newResolution() *Resolution {
	return &Resolution{
		aliases: make(map[domain.MetricConfigurationID]domain.MetricConfigurationID),
		values:  make(map[domain.MetricConfigurationID]any),
		errs:    make(map[domain.MetricConfigurationID]error),
	}
}

func (res *Resolution) set(id domain.MetricConfigurationID, v any, err error) {
	res.mu.Lock()
	defer res.mu.Unlock()

	if err != nil {
		res.errs[id] = err
		return
	}
	res.values[id] = v
}

func (res *Resolution) alias(requested, resolved domain.MetricConfigurationID) {
	res.mu.Lock()
	defer res.mu.Unlock()

	res.aliases[requested] = resolved
}

// Value returns the computed value stored under a resolved id.
func (res *Resolution) Value(id domain.MetricConfigurationID) (any, bool) {
	res.mu.RLock()
	defer res.mu.RUnlock()

	v, ok := res.values[id]
	return v, ok
}

// Err returns the error recorded for a resolved id, or nil.
func (res *Resolution) Err(id domain.MetricConfigurationID) error {
	res.mu.RLock()
	defer res.mu.RUnlock()

	return res.errs[id]
}

// Get returns the outcome of a configuration as it was passed to Resolve.
func (res *Resolution) Get(cfg domain.MetricConfiguration) (any, error) {
	res.mu.RLock()
	defer res.mu.RUnlock()

	id, ok := res.aliases[cfg.ID()]
	if !ok {
		return nil, fmt.Errorf("metric %s was not requested: %w", cfg, domain.ErrKeyNotFound)
	}
	if err, failed := res.errs[id]; failed {
		return nil, err
	}
	v, ok := res.values[id]
	if !ok {
		return nil, fmt.Errorf("metric %s was not computed: %w", cfg, domain.ErrKeyNotFound)
	}
	return v, nil
}

// Collect gathers the values of deps keyed by their logical names. It
// returns the first error in name order when any dependency failed.
func (res *Resolution) Collect(deps map[string]domain.MetricConfiguration) (domain.Metrics, error) {
	names := make([]string, 0, len(deps))
	for name := range deps {
		names = append(names, name)
	}
	slices.Sort(names)

	out := make(domain.Metrics, len(deps))
	for _, name := range names {
		v, err := res.Get(deps[name])
		if err != nil {
			return nil, err
		}
		out[name] = v
	}
	return out, nil
}

// planNode is one configuration in the transitive closure.
type planNode struct {
	cfg      domain.MetricConfiguration
	provider ports.MetricProvider
	// deps maps the provider's logical dependency names to resolved ids.
	deps map[string]domain.MetricConfigurationID
	// err is a configuration error found while expanding the node.
	err error
}

type plan struct {
	graph *Graph
	nodes map[domain.MetricConfigurationID]*planNode
}

// Resolve computes every requested configuration and its transitive
// dependencies, each distinct id at most once per resolver.
//
// Failures of individual metrics are recorded in the Resolution rather
// than returned: dependents of a failed metric receive a
// *ports.DependencyFailedError naming the root failure, and unrelated
// metrics continue. The returned error is non-nil only when the run must
// stop altogether, i.e. ctx is done or the backend is unreachable.
func (r *MetricResolver) Resolve(ctx context.Context, configs []domain.MetricConfiguration) (*Resolution, error) {
	ctx, span := r.tracer.Start(ctx, "MetricResolver.Resolve")
	defer span.End()

	res := newResolution()
	p := &plan{graph: NewGraph(), nodes: make(map[domain.MetricConfigurationID]*planNode)}
	for _, cfg := range configs {
		id := r.expand(cfg, p)
		res.alias(cfg.ID(), id)
	}

	levels, err := p.graph.Levels()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return res, fmt.Errorf("ordering metric dependencies: %w", err)
	}
	span.SetAttributes(
		attribute.Int("metrics.requested", len(configs)),
		attribute.Int("metrics.closure", p.graph.Len()),
		attribute.Int("metrics.levels", len(levels)),
	)

	sem := semaphore.NewWeighted(int64(r.concurrency))
	for i, level := range levels {
		if err := ctx.Err(); err != nil {
			r.failRemaining(levels[i:], res, err)
			span.SetStatus(codes.Error, "resolution cancelled")
			return res, fmt.Errorf("resolving metrics: %w", err)
		}

		g, gctx := errgroup.WithContext(ctx)
		for _, cfg := range level {
			node := p.nodes[cfg.ID()]
			g.Go(func() error {
				return r.resolveNode(gctx, sem, node, res)
			})
		}
		if err := g.Wait(); err != nil {
			r.failRemaining(levels[i+1:], res, err)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return res, fmt.Errorf("resolving metrics: %w", err)
		}
	}

	if err := ctx.Err(); err != nil {
		span.SetStatus(codes.Error, "resolution cancelled")
		return res, fmt.Errorf("resolving metrics: %w", err)
	}

	span.SetAttributes(attribute.Int64("metrics.computed", r.computations.Load()))
	span.SetStatus(codes.Ok, "")
	return res, nil
}

// expand adds cfg and its transitive dependencies to the plan and returns
// the resolved id of cfg. Configuration problems are recorded on the node
// so that only the affected metrics and their dependents fail.
func (r *MetricResolver) expand(cfg domain.MetricConfiguration, p *plan) domain.MetricConfigurationID {
	provider, lookupErr := r.registry.Resolve(cfg.MetricName())
	resolved, err := r.prepare(cfg, provider)
	if err != nil {
		resolved = cfg
		lookupErr = errors.Join(lookupErr, err)
	}

	id := resolved.ID()
	if _, exists := p.nodes[id]; exists {
		return id
	}

	node := &planNode{cfg: resolved, provider: provider, deps: map[string]domain.MetricConfigurationID{}, err: lookupErr}
	p.nodes[id] = node
	if err := p.graph.AddNode(resolved); err != nil {
		node.err = err
		return id
	}
	if node.err != nil {
		return id
	}

	deps, err := provider.Dependencies(resolved)
	if err != nil {
		node.err = fmt.Errorf("dependencies of %s: %w", resolved, err)
		return id
	}

	names := make([]string, 0, len(deps))
	for name := range deps {
		names = append(names, name)
	}
	slices.Sort(names)

	for _, name := range names {
		depID := r.expand(deps[name], p)
		if err := p.graph.AddEdge(depID, id); err != nil {
			node.err = err
			return id
		}
		node.deps[name] = depID
	}
	return id
}

// prepare substitutes the provider's default value kwargs and fills in the
// active batch, so that a defaulted request and an explicit one share an id.
func (r *MetricResolver) prepare(cfg domain.MetricConfiguration, provider ports.MetricProvider) (domain.MetricConfiguration, error) {
	var err error
	if provider != nil {
		if cfg, err = cfg.WithDefaults(provider.DefaultValueKwargs()); err != nil {
			return domain.MetricConfiguration{}, err
		}
	}
	if cfg.BatchID() == "" {
		if active := r.engine.ActiveBatchID(); active != "" {
			return cfg.WithDomainKwarg(domain.KwargBatchID, active)
		}
	}
	return cfg, nil
}

// resolveNode computes one node once its dependencies are settled. It only
// returns an error for resource-level failures, which abort the run.
func (r *MetricResolver) resolveNode(
	ctx context.Context,
	sem *semaphore.Weighted,
	node *planNode,
	res *Resolution,
) error {
	id := node.cfg.ID()

	if node.err != nil {
		res.set(id, nil, node.err)
		r.logger.Warn("metric configuration invalid",
			slog.String("metric", node.cfg.String()),
			slog.Any("error", node.err))
		return nil
	}

	metrics := make(domain.Metrics, len(node.deps))
	for name, depID := range node.deps {
		if depErr := res.Err(depID); depErr != nil {
			res.set(id, nil, dependencyFailed(node.cfg.MetricName(), depID.MetricName, depErr))
			return nil
		}
		v, _ := res.Value(depID)
		metrics[name] = v
	}

	if err := sem.Acquire(ctx, 1); err != nil {
		res.set(id, nil, err)
		return nil
	}
	defer sem.Release(1)

	start := time.Now()
	value, hit, err := r.cache.GetOrCompute(id, func() (any, error) {
		return r.compute(ctx, node, metrics)
	})
	res.set(id, value, err)

	switch {
	case err == nil:
		r.logger.Debug("metric computed",
			slog.String("metric", node.cfg.String()),
			slog.Bool("cached", hit),
			slog.Duration("duration", time.Since(start)))
	case ports.IsResourceError(err):
		return err
	default:
		r.logger.Warn("metric failed",
			slog.String("metric", node.cfg.String()),
			slog.Any("error", err))
	}
	return nil
}

// compute dispatches to the provider implementation matching the engine's
// backend, converting panics into errors.
func (r *MetricResolver) compute(ctx context.Context, node *planNode, metrics domain.Metrics) (value any, err error) {
	r.computations.Add(1)

	ctx, span := r.tracer.Start(ctx, "metric.compute", trace.WithAttributes(
		attribute.String("metric.name", node.cfg.MetricName()),
		attribute.String("metric.backend", r.engine.Backend().String()),
	))
	defer span.End()

	defer func() {
		if perr := recoverAsError(recover()); perr != nil {
			value, err = nil, perr
		}
		if err != nil {
			if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
				err = &ports.MetricComputationError{
					MetricName:      node.cfg.MetricName(),
					ConfigurationID: node.cfg.ID().String(),
					Err:             err,
				}
			}
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	call := ports.MetricCall{
		Configuration: node.cfg,
		DomainKwargs:  node.cfg.DomainKwargs(),
		ValueKwargs:   node.cfg.ValueKwargs(),
		Metrics:       metrics,
	}

	switch backend := r.engine.Backend(); backend {
	case ports.BackendTabular:
		eng, ok := r.engine.(ports.TabularEngine)
		if !ok {
			return nil, engineMismatch(r.engine, backend)
		}
		return node.provider.ComputeTabular(ctx, eng, call)
	case ports.BackendSQL:
		eng, ok := r.engine.(ports.SQLEngine)
		if !ok {
			return nil, engineMismatch(r.engine, backend)
		}
		return node.provider.ComputeSQL(ctx, eng, call)
	case ports.BackendDistributed:
		eng, ok := r.engine.(ports.DistributedEngine)
		if !ok {
			return nil, engineMismatch(r.engine, backend)
		}
		return node.provider.ComputeDistributed(ctx, eng, call)
	default:
		return nil, fmt.Errorf("backend %s: %w", backend, ports.ErrInvalidBackend)
	}
}

// failRemaining records err for every node in levels that has no outcome.
func (r *MetricResolver) failRemaining(levels [][]domain.MetricConfiguration, res *Resolution, err error) {
	for _, level := range levels {
		for _, cfg := range level {
			if _, ok := res.Value(cfg.ID()); ok || res.Err(cfg.ID()) != nil {
				continue
			}
			res.set(cfg.ID(), nil, err)
		}
	}
}

// dependencyFailed attributes a failure to its root metric: if the failed
// dependency itself only failed because of an upstream metric, that
// upstream metric is named instead.
func dependencyFailed(metric, failedDep string, depErr error) error {
	var upstream *ports.DependencyFailedError
	if errors.As(depErr, &upstream) {
		return &ports.DependencyFailedError{MetricName: metric, FailedMetric: upstream.FailedMetric, Err: upstream.Err}
	}
	return &ports.DependencyFailedError{MetricName: metric, FailedMetric: failedDep, Err: depErr}
}

func engineMismatch(engine ports.ExecutionEngine, backend ports.Backend) error {
	return fmt.Errorf("engine %T reports backend %s but does not implement it: %w", engine, backend, ports.ErrInvalidBackend)
}
