package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ahrav/go-assay/internal/domain"
	"github.com/ahrav/go-assay/internal/ports"
)

// Expectation evaluation states. An expectation moves from pending through
// computing-metrics and validating to one of the three terminal states.
const (
	StatePending          = "pending"
	StateComputingMetrics = "computing-metrics"
	StateValidating       = "validating"
	StateSucceeded        = "succeeded"
	StateFailed           = "failed"
	StateErrored          = "errored"
)

// parameterKey marks a kwarg value to be replaced by a suite parameter.
const parameterKey = "$PARAMETER"

// ValidatorOption configures a Validator.
type ValidatorOption func(*Validator)

// WithObserver registers a run observer for lifecycle callbacks.
func WithObserver(observer ports.RunObserver) ValidatorOption {
	return func(v *Validator) { v.observer = observer }
}

// WithValidatorLogger sets the structured logger.
func WithValidatorLogger(logger *slog.Logger) ValidatorOption {
	return func(v *Validator) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// WithMetricConcurrency bounds parallel metric computation within a run.
func WithMetricConcurrency(n int) ValidatorOption {
	return func(v *Validator) { v.concurrency = n }
}

// WithIDGenerator replaces the uuid v7 generator used for result ids.
func WithIDGenerator(gen func() (string, error)) ValidatorOption {
	return func(v *Validator) { v.newID = gen }
}

// Validator evaluates expectation suites against an execution engine.
// A Validator holds no per-run state and may run suites concurrently; each
// Validate call gets its own resolver and metric cache.
type Validator struct {
	metrics      ports.MetricRegistry
	expectations ports.ExpectationRegistry
	observer     ports.RunObserver
	logger       *slog.Logger
	concurrency  int
	newID        func() (string, error)
}

// NewValidator creates a validator over the given registries.
func NewValidator(
	metrics ports.MetricRegistry,
	expectations ports.ExpectationRegistry,
	opts ...ValidatorOption,
) *Validator {
	v := &Validator{
		metrics:      metrics,
		expectations: expectations,
		logger:       slog.Default(),
		concurrency:  DefaultConcurrency,
		newID:        newResultID,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

func newResultID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// evaluation tracks one expectation through the run.
type evaluation struct {
	cfg         domain.ExpectationConfiguration
	expectation ports.Expectation
	deps        map[string]domain.MetricConfiguration
	state       string
	started     time.Time
	result      *domain.ExpectationValidationResult
}

// Validate runs every expectation of suite against the engine's active
// batch and folds the outcomes into a suite result.
//
// Per-expectation problems never escape: metric failures, validation
// errors and panics produce errored results and the run continues. When
// ctx is done mid-run no further queries are issued, expectations whose
// metrics were already computed are still evaluated, the rest are errored,
// and the partial result is returned together with the context error. A
// nil result means evaluation was impossible altogether: the backend
// cannot be reached, or CatchExceptions is false and an expectation errored.
func (v *Validator) Validate(
	ctx context.Context,
	engine ports.ExecutionEngine,
	suite domain.ExpectationSuite,
	runtime ports.RuntimeConfiguration,
) (result *domain.ExpectationSuiteValidationResult, err error) {
	start := time.Now()
	if v.observer != nil {
		ctx = v.observer.RunStarted(ctx, suite.Name, len(suite.Expectations))
		defer func() { v.observer.RunFinished(ctx, result, time.Since(start), err) }()
	}

	v.logger.Info("validation run started",
		slog.String("suite", suite.Name),
		slog.Int("expectations", len(suite.Expectations)),
		slog.String("backend", engine.Backend().String()))

	if err := engine.Ping(ctx); err != nil {
		return nil, fmt.Errorf("validating suite %s: backend unreachable: %w", suite.Name, err)
	}

	evals := make([]*evaluation, len(suite.Expectations))
	var requests []domain.MetricConfiguration
	for i, cfg := range suite.Expectations {
		ev := &evaluation{cfg: cfg, state: StatePending, started: time.Now()}
		evals[i] = ev
		if err := v.prepare(ev, suite.Parameters, runtime); err != nil {
			if abort := v.fail(ctx, ev, err, runtime); abort != nil {
				return nil, abort
			}
			continue
		}
		ev.state = StateComputingMetrics
		for _, dep := range ev.deps {
			requests = append(requests, dep)
		}
	}

	resolver := NewMetricResolver(v.metrics, engine,
		WithConcurrency(v.concurrency),
		WithResolverLogger(v.logger))
	resolution, resolveErr := resolver.Resolve(ctx, requests)
	if resolveErr != nil && !isCancellation(resolveErr) {
		return nil, fmt.Errorf("validating suite %s: %w", suite.Name, resolveErr)
	}

	results := make([]*domain.ExpectationValidationResult, 0, len(evals))
	success := true
	for _, ev := range evals {
		if ev.state == StateComputingMetrics {
			if abort := v.evaluate(ctx, ev, resolution, runtime); abort != nil {
				return nil, abort
			}
		}
		if !ev.result.Succeeded() {
			success = false
		}
		results = append(results, ev.result)
	}

	id, err := v.newID()
	if err != nil {
		return nil, fmt.Errorf("generating result id: %w", err)
	}
	result, err = domain.NewExpectationSuiteValidationResult(domain.SuiteValidationResultParams{
		Success:         success,
		Results:         results,
		SuiteName:       suite.Name,
		SuiteParameters: suite.Parameters,
		Meta: map[string]any{
			"run_time":               start.UTC().Format(time.RFC3339Nano),
			"validation_time_ms":     time.Since(start).Milliseconds(),
			"backend":                engine.Backend().String(),
			"result_format":          string(runtime.ResultFormat),
			"metrics_computed":       resolver.ComputationCount(),
			"expectation_suite_meta": suite.Meta,
		},
		BatchID: engine.ActiveBatchID(),
		ID:      id,
	})
	if err != nil {
		return nil, err
	}

	stats := result.Statistics()
	v.logger.Info("validation run finished",
		slog.String("suite", suite.Name),
		slog.Bool("success", success),
		slog.Int("evaluated", stats.EvaluatedExpectations),
		slog.Int("successful", stats.SuccessfulExpectations),
		slog.Duration("duration", time.Since(start)))
	if resolveErr != nil {
		return result, fmt.Errorf("validating suite %s: %w", suite.Name, resolveErr)
	}
	return result, nil
}

// prepare substitutes suite parameters, validates the kwargs and collects
// the metric dependencies of one expectation.
func (v *Validator) prepare(ev *evaluation, params map[string]any, runtime ports.RuntimeConfiguration) error {
	kwargs, err := substituteParameters(ev.cfg.Type(), ev.cfg.Kwargs(), params)
	if err != nil {
		return err
	}
	ev.cfg = ev.cfg.WithKwargs(kwargs)

	expectation, err := v.expectations.Resolve(ev.cfg.Type())
	if err != nil {
		return err
	}
	ev.expectation = expectation

	if err := expectation.ValidateConfiguration(ev.cfg); err != nil {
		return err
	}

	deps, err := expectation.MetricDependencies(ev.cfg, runtime)
	if err != nil {
		return err
	}
	ev.deps = deps
	return nil
}

// evaluate gathers the resolved metrics of one expectation and runs its
// validation logic.
func (v *Validator) evaluate(
	ctx context.Context,
	ev *evaluation,
	resolution *Resolution,
	runtime ports.RuntimeConfiguration,
) error {
	metrics, err := resolution.Collect(ev.deps)
	if err != nil {
		return v.fail(ctx, ev, err, runtime)
	}

	ev.state = StateValidating
	outcome, err := safeValidate(ev.expectation, ev.cfg, metrics, runtime)
	if err != nil {
		return v.fail(ctx, ev, err, runtime)
	}

	cfg := ev.cfg
	r, err := domain.NewExpectationValidationResult(domain.ExpectationValidationResultParams{
		Success:           domain.Bool(outcome.Success),
		ExpectationConfig: &cfg,
		Result:            formatResult(outcome.Result, runtime.ResultFormat),
	})
	if err != nil {
		return v.fail(ctx, ev, fmt.Errorf("expectation %s produced an invalid result: %w", cfg.Type(), err), runtime)
	}

	ev.result = r
	ev.state = StateFailed
	if outcome.Success {
		ev.state = StateSucceeded
	}
	v.finish(ctx, ev, nil)
	return nil
}

// fail records an errored result for ev. It returns a non-nil error when
// the run must stop: exceptions are not being caught, or the failure is a
// resource-level one.
func (v *Validator) fail(
	ctx context.Context,
	ev *evaluation,
	cause error,
	runtime ports.RuntimeConfiguration,
) error {
	cfg := ev.cfg
	info := domain.NewExceptionInfo(cause, tracebackOf(cause))
	r, err := domain.NewExpectationValidationResult(domain.ExpectationValidationResultParams{
		Success:           domain.Bool(false),
		ExpectationConfig: &cfg,
		ExceptionInfo:     &info,
	})
	if err != nil {
		return err
	}
	ev.result = r
	ev.state = StateErrored
	v.finish(ctx, ev, cause)

	if ports.IsResourceError(cause) {
		return fmt.Errorf("expectation %s: %w", cfg.Type(), cause)
	}
	if !runtime.CatchExceptions && !isCancellation(cause) {
		return fmt.Errorf("expectation %s: %w", cfg.Type(), cause)
	}
	return nil
}

func (v *Validator) finish(ctx context.Context, ev *evaluation, cause error) {
	elapsed := time.Since(ev.started)
	if v.observer != nil {
		v.observer.ExpectationFinished(ctx, ev.cfg.Type(), ev.state, elapsed)
	}
	if cause != nil {
		v.logger.Warn("expectation errored",
			slog.String("expectation_type", ev.cfg.Type()),
			slog.Any("error", cause))
		return
	}
	v.logger.Info("expectation evaluated",
		slog.String("expectation_type", ev.cfg.Type()),
		slog.String("state", ev.state),
		slog.Duration("duration", elapsed))
}

// safeValidate runs the expectation's validation logic, turning a panic
// into an error.
func safeValidate(
	e ports.Expectation,
	cfg domain.ExpectationConfiguration,
	metrics domain.Metrics,
	runtime ports.RuntimeConfiguration,
) (outcome ports.Outcome, err error) {
	defer func() {
		if perr := recoverAsError(recover()); perr != nil {
			outcome, err = ports.Outcome{}, perr
		}
	}()
	return e.Validate(cfg, metrics, runtime)
}

// Result keys dropped by the reduced result formats.
var (
	completeOnlyKeys = []string{"unexpected_list", "unexpected_index_list"}
	summaryOnlyKeys  = []string{"partial_unexpected_counts"}
)

// formatResult trims a result payload to the requested format.
// BOOLEAN_ONLY keeps nothing beyond success; BASIC and SUMMARY drop the
// unbounded per-row lists; BASIC also drops the value counts.
func formatResult(result map[string]any, format ports.ResultFormat) map[string]any {
	switch format {
	case ports.ResultFormatBooleanOnly:
		return map[string]any{}
	case ports.ResultFormatComplete:
		return result
	}
	out := domain.Kwargs(result).Without(completeOnlyKeys...)
	if format != ports.ResultFormatSummary {
		out = out.Without(summaryOnlyKeys...)
	}
	return out
}

// substituteParameters replaces every {"$PARAMETER": name} value in kwargs,
// at any depth, with the named suite parameter.
func substituteParameters(owner string, kwargs domain.Kwargs, params map[string]any) (domain.Kwargs, error) {
	out := make(domain.Kwargs, len(kwargs))
	for k, val := range kwargs {
		sub, err := substituteValue(owner, val, params)
		if err != nil {
			return nil, err
		}
		out[k] = sub
	}
	return out, nil
}

func substituteValue(owner string, val any, params map[string]any) (any, error) {
	switch t := val.(type) {
	case map[string]any:
		if name, ok := t[parameterKey].(string); ok && len(t) == 1 {
			p, found := params[name]
			if !found {
				return nil, &ports.MissingParameterError{Owner: owner, Parameter: name}
			}
			return p, nil
		}
		out := make(map[string]any, len(t))
		for k, inner := range t {
			sub, err := substituteValue(owner, inner, params)
			if err != nil {
				return nil, err
			}
			out[k] = sub
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, inner := range t {
			sub, err := substituteValue(owner, inner, params)
			if err != nil {
				return nil, err
			}
			out[i] = sub
		}
		return out, nil
	default:
		return val, nil
	}
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// IsAbort reports whether err returned from Validate came from a
// resource-level failure rather than from configuration.
func IsAbort(err error) bool {
	return ports.IsResourceError(err) || isCancellation(err)
}
