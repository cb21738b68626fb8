package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-assay/internal/domain"
	"github.com/ahrav/go-assay/internal/ports"
)

func expConfig(t *testing.T, typ string, kwargs domain.Kwargs) domain.ExpectationConfiguration {
	t.Helper()
	cfg, err := domain.NewExpectationConfiguration(typ, kwargs, nil)
	require.NoError(t, err)
	return cfg
}

// meanOf reads the column kwarg of an expectation and requests column.mean
// over it.
func meanOf(cfg domain.ExpectationConfiguration) map[string]domain.MetricConfiguration {
	col, _ := cfg.Kwargs().String(domain.KwargColumn)
	return map[string]domain.MetricConfiguration{"mean": columnMetric("column.mean", col)}
}

func meanAbove(threshold float64) func(domain.Metrics) (ports.Outcome, error) {
	return func(m domain.Metrics) (ports.Outcome, error) {
		mean, err := domain.MetricValue[float64](m, "mean")
		if err != nil {
			return ports.Outcome{}, err
		}
		return ports.Outcome{
			Success: mean > threshold,
			Result:  map[string]any{"observed_value": mean, "unexpected_list": []any{1, 2}, "partial_unexpected_counts": []any{}},
		}, nil
	}
}

type validatorFixture struct {
	metrics      *DefaultMetricRegistry
	expectations *DefaultExpectationRegistry
	observer     *mockObserver
	validator    *Validator
}

func newValidatorFixture(t *testing.T) *validatorFixture {
	t.Helper()
	metrics, _ := meanRegistry(nil)
	metrics.Register(&mockProvider{
		name:    "column.broken",
		compute: func(context.Context, ports.MetricCall) (any, error) { return nil, errors.New("column not found") },
	})

	expectations := NewDefaultExpectationRegistry(nil)
	expectations.Register(&mockExpectation{typ: "expect_mean_above_5", deps: meanOf, check: meanAbove(5)})
	expectations.Register(&mockExpectation{typ: "expect_mean_above_50", deps: meanOf, check: meanAbove(50)})
	expectations.Register(&mockExpectation{
		typ: "expect_broken",
		deps: func(domain.ExpectationConfiguration) map[string]domain.MetricConfiguration {
			return map[string]domain.MetricConfiguration{"v": columnMetric("column.broken", "x")}
		},
	})
	expectations.Register(&mockExpectation{
		typ:  "expect_panics",
		deps: meanOf,
		check: func(domain.Metrics) (ports.Outcome, error) {
			panic("validation exploded")
		},
	})
	expectations.Register(&mockExpectation{
		typ: "expect_min_set",
		validate: func(cfg domain.ExpectationConfiguration) error {
			if !cfg.Kwargs().Has("min_value") {
				return &ports.MissingParameterError{Owner: cfg.Type(), Parameter: "min_value"}
			}
			return nil
		},
	})

	observer := &mockObserver{}
	fx := &validatorFixture{metrics: metrics, expectations: expectations, observer: observer}
	fx.validator = NewValidator(metrics, expectations,
		WithObserver(observer),
		WithIDGenerator(func() (string, error) { return "run-1", nil }))
	return fx
}

func TestValidator_PartialFailureYieldsErroredResult(t *testing.T) {
	fx := newValidatorFixture(t)
	suite := domain.ExpectationSuite{
		Name: "orders",
		Expectations: []domain.ExpectationConfiguration{
			expConfig(t, "expect_mean_above_5", domain.Kwargs{"column": "price"}),
			expConfig(t, "expect_mean_above_50", domain.Kwargs{"column": "price"}),
			expConfig(t, "expect_broken", nil),
		},
		Meta: map[string]any{"owner": "data-eng"},
	}

	result, err := fx.validator.Validate(context.Background(), newMockEngine(), suite, ports.DefaultRuntimeConfiguration())
	require.NoError(t, err)
	require.Len(t, result.Results(), 3)

	assert.False(t, result.Success())
	assert.Equal(t, "orders", result.SuiteName())
	assert.Equal(t, "batch-1", result.BatchID())
	assert.Equal(t, "run-1", result.ID())

	passed, failed, errored := result.Results()[0], result.Results()[1], result.Results()[2]
	assert.True(t, passed.Succeeded())
	assert.False(t, failed.Succeeded())
	assert.False(t, failed.Errored())
	require.True(t, errored.Errored())
	require.NotNil(t, errored.ExceptionInfo().ExceptionMessage)
	assert.Contains(t, *errored.ExceptionInfo().ExceptionMessage, "column not found")
	require.NotNil(t, errored.ExceptionInfo().ExceptionTraceback)
	assert.Contains(t, *errored.ExceptionInfo().ExceptionTraceback, "MetricComputationError")

	stats := result.Statistics()
	assert.Equal(t, 3, stats.EvaluatedExpectations)
	assert.Equal(t, 1, stats.SuccessfulExpectations)
	assert.Equal(t, 2, stats.UnsuccessfulExpectations)
	require.NotNil(t, stats.SuccessPercent)
	assert.InDelta(t, 33.333, *stats.SuccessPercent, 0.01)

	meta := result.Meta()
	assert.Equal(t, "tabular", meta["backend"])
	assert.Equal(t, "BASIC", meta["result_format"])
	assert.Equal(t, int64(4), meta["metrics_computed"], "mean, sum, count and broken, each once")
	assert.Equal(t, map[string]any{"owner": "data-eng"}, meta["expectation_suite_meta"])

	assert.Equal(t, []string{
		"expect_mean_above_5:" + StateSucceeded,
		"expect_mean_above_50:" + StateFailed,
		"expect_broken:" + StateErrored,
	}, fx.observer.states)
	assert.Equal(t, 1, fx.observer.started)
	assert.Equal(t, 1, fx.observer.finished)
	assert.NoError(t, fx.observer.runErr)
}

func TestValidator_SubstitutesParameters(t *testing.T) {
	fx := newValidatorFixture(t)

	t.Run("parameter present", func(t *testing.T) {
		suite := domain.ExpectationSuite{
			Name:       "params",
			Parameters: map[string]any{"floor": 3},
			Expectations: []domain.ExpectationConfiguration{
				expConfig(t, "expect_min_set", domain.Kwargs{
					"min_value": map[string]any{"$PARAMETER": "floor"},
					"nested":    []any{map[string]any{"$PARAMETER": "floor"}},
				}),
			},
		}

		result, err := fx.validator.Validate(context.Background(), newMockEngine(), suite, ports.DefaultRuntimeConfiguration())
		require.NoError(t, err)
		require.True(t, result.Success())

		kwargs := result.Results()[0].ExpectationConfig().Kwargs()
		assert.Equal(t, 3, kwargs["min_value"])
		assert.Equal(t, []any{3}, kwargs["nested"])
		assert.Equal(t, map[string]any{"floor": 3}, result.SuiteParameters())
	})

	t.Run("parameter missing", func(t *testing.T) {
		suite := domain.ExpectationSuite{
			Name: "params",
			Expectations: []domain.ExpectationConfiguration{
				expConfig(t, "expect_min_set", domain.Kwargs{"min_value": map[string]any{"$PARAMETER": "floor"}}),
			},
		}

		result, err := fx.validator.Validate(context.Background(), newMockEngine(), suite, ports.DefaultRuntimeConfiguration())
		require.NoError(t, err)

		r := result.Results()[0]
		require.True(t, r.Errored())
		assert.Contains(t, *r.ExceptionInfo().ExceptionMessage, `missing required parameter "floor"`)
	})
}

func TestValidator_ConfigurationErrorsAreErroredResults(t *testing.T) {
	fx := newValidatorFixture(t)
	suite := domain.ExpectationSuite{
		Name: "config",
		Expectations: []domain.ExpectationConfiguration{
			expConfig(t, "expect_min_set", nil),
			expConfig(t, "expect_mean_abve_5", domain.Kwargs{"column": "price"}),
			expConfig(t, "expect_mean_above_5", domain.Kwargs{"column": "price"}),
		},
	}

	result, err := fx.validator.Validate(context.Background(), newMockEngine(), suite, ports.DefaultRuntimeConfiguration())
	require.NoError(t, err)
	require.Len(t, result.Results(), 3)

	assert.True(t, result.Results()[0].Errored())
	assert.True(t, result.Results()[1].Errored())
	assert.Contains(t, *result.Results()[1].ExceptionInfo().ExceptionMessage, `did you mean "expect_mean_above_5"`)
	assert.True(t, result.Results()[2].Succeeded())
}

func TestValidator_RecoversValidationPanic(t *testing.T) {
	fx := newValidatorFixture(t)
	suite := domain.ExpectationSuite{
		Name:         "panics",
		Expectations: []domain.ExpectationConfiguration{expConfig(t, "expect_panics", domain.Kwargs{"column": "price"})},
	}

	result, err := fx.validator.Validate(context.Background(), newMockEngine(), suite, ports.DefaultRuntimeConfiguration())
	require.NoError(t, err)

	r := result.Results()[0]
	require.True(t, r.Errored())
	assert.Equal(t, "panic: validation exploded", *r.ExceptionInfo().ExceptionMessage)
	assert.Contains(t, *r.ExceptionInfo().ExceptionTraceback, "goroutine")
}

func TestValidator_CatchExceptionsFalseAborts(t *testing.T) {
	fx := newValidatorFixture(t)
	suite := domain.ExpectationSuite{
		Name: "strict",
		Expectations: []domain.ExpectationConfiguration{
			expConfig(t, "expect_mean_above_5", domain.Kwargs{"column": "price"}),
			expConfig(t, "expect_broken", nil),
		},
	}
	runtime := ports.RuntimeConfiguration{ResultFormat: ports.ResultFormatBasic, CatchExceptions: false}

	result, err := fx.validator.Validate(context.Background(), newMockEngine(), suite, runtime)
	require.Error(t, err)
	assert.Nil(t, result)
	assert.Contains(t, err.Error(), "expect_broken")
	assert.ErrorContains(t, fx.observer.runErr, "column not found")
}

func TestValidator_PingFailureAborts(t *testing.T) {
	fx := newValidatorFixture(t)
	engine := newMockEngine()
	engine.pingErr = ports.NewExecutionEngineError(ports.BackendTabular, "Ping", "", ports.ErrServiceUnavailable)
	suite := domain.ExpectationSuite{
		Name:         "down",
		Expectations: []domain.ExpectationConfiguration{expConfig(t, "expect_mean_above_5", domain.Kwargs{"column": "price"})},
	}

	result, err := fx.validator.Validate(context.Background(), engine, suite, ports.DefaultRuntimeConfiguration())
	require.Error(t, err)
	assert.Nil(t, result)
	assert.True(t, IsAbort(err))
	assert.Empty(t, fx.observer.states)
	assert.Equal(t, 1, fx.observer.finished)
}

func TestValidator_CancelledContext(t *testing.T) {
	fx := newValidatorFixture(t)
	suite := domain.ExpectationSuite{
		Name:         "cancelled",
		Expectations: []domain.ExpectationConfiguration{expConfig(t, "expect_mean_above_5", domain.Kwargs{"column": "price"})},
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := fx.validator.Validate(ctx, newMockEngine(), suite, ports.DefaultRuntimeConfiguration())
	require.ErrorIs(t, err, context.Canceled)
	assert.True(t, IsAbort(err))
	require.NotNil(t, result)
	require.Len(t, result.Results(), 1)
	assert.False(t, result.Success())
	errored := result.Results()[0]
	require.True(t, errored.Errored())
	assert.Contains(t, *errored.ExceptionInfo().ExceptionMessage, "context canceled")
	assert.Equal(t, []string{"expect_mean_above_5:" + StateErrored}, fx.observer.states)
	assert.ErrorIs(t, fx.observer.runErr, context.Canceled)
}

func TestValidator_DeadlineKeepsComputedMetrics(t *testing.T) {
	metrics := NewDefaultMetricRegistry(nil)
	fast := &mockProvider{name: "column.fast"}
	slow := &mockProvider{name: "column.slow", delay: 2 * time.Second}
	metrics.Register(fast)
	metrics.Register(slow)

	expectations := NewDefaultExpectationRegistry(nil)
	for _, name := range []string{"fast", "slow"} {
		expectations.Register(&mockExpectation{
			typ: "expect_" + name,
			deps: func(domain.ExpectationConfiguration) map[string]domain.MetricConfiguration {
				return map[string]domain.MetricConfiguration{"v": columnMetric("column."+name, "a")}
			},
		})
	}
	validator := NewValidator(metrics, expectations, WithIDGenerator(func() (string, error) { return "run-1", nil }))
	suite := domain.ExpectationSuite{
		Name: "deadline",
		Expectations: []domain.ExpectationConfiguration{
			expConfig(t, "expect_fast", nil),
			expConfig(t, "expect_slow", nil),
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	start := time.Now()
	result, err := validator.Validate(ctx, newMockEngine(), suite, ports.DefaultRuntimeConfiguration())

	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
	require.NotNil(t, result)
	require.Len(t, result.Results(), 2)

	kept, timedOut := result.Results()[0], result.Results()[1]
	assert.True(t, kept.Succeeded())
	assert.False(t, kept.Errored())
	require.True(t, timedOut.Errored())
	assert.Contains(t, *timedOut.ExceptionInfo().ExceptionMessage, "deadline exceeded")
	assert.False(t, result.Success())
	assert.Equal(t, 1, result.Statistics().SuccessfulExpectations)
	assert.Equal(t, int64(1), fast.calls.Load())
}

func TestValidator_CancellationIgnoresCatchExceptions(t *testing.T) {
	fx := newValidatorFixture(t)
	suite := domain.ExpectationSuite{
		Name:         "cancelled",
		Expectations: []domain.ExpectationConfiguration{expConfig(t, "expect_mean_above_5", domain.Kwargs{"column": "price"})},
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	runtime := ports.RuntimeConfiguration{ResultFormat: ports.ResultFormatBasic, CatchExceptions: false}

	result, err := fx.validator.Validate(ctx, newMockEngine(), suite, runtime)
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, result)
	assert.True(t, result.Results()[0].Errored())
}

func TestValidator_EmptySuite(t *testing.T) {
	fx := newValidatorFixture(t)

	result, err := fx.validator.Validate(context.Background(), newMockEngine(), domain.ExpectationSuite{Name: "empty"}, ports.DefaultRuntimeConfiguration())
	require.NoError(t, err)
	assert.True(t, result.Success())
	assert.Equal(t, 0, result.Statistics().EvaluatedExpectations)
	assert.Nil(t, result.Statistics().SuccessPercent)
}

func TestValidator_ResultFormat(t *testing.T) {
	tests := []struct {
		format   ports.ResultFormat
		wantKeys []string
	}{
		{format: ports.ResultFormatBooleanOnly, wantKeys: []string{}},
		{format: ports.ResultFormatBasic, wantKeys: []string{"observed_value"}},
		{format: ports.ResultFormatSummary, wantKeys: []string{"observed_value", "partial_unexpected_counts"}},
		{format: ports.ResultFormatComplete, wantKeys: []string{"observed_value", "partial_unexpected_counts", "unexpected_list"}},
	}

	for _, tt := range tests {
		t.Run(string(tt.format), func(t *testing.T) {
			fx := newValidatorFixture(t)
			suite := domain.ExpectationSuite{
				Name:         "format",
				Expectations: []domain.ExpectationConfiguration{expConfig(t, "expect_mean_above_5", domain.Kwargs{"column": "price"})},
			}
			runtime := ports.RuntimeConfiguration{ResultFormat: tt.format, CatchExceptions: true}

			result, err := fx.validator.Validate(context.Background(), newMockEngine(), suite, runtime)
			require.NoError(t, err)

			r := result.Results()[0]
			assert.True(t, r.Succeeded())
			assert.ElementsMatch(t, tt.wantKeys, domain.Kwargs(r.Result()).Keys())
		})
	}
}

func TestFormatResult_DoesNotMutateInput(t *testing.T) {
	in := map[string]any{"observed_value": 1, "unexpected_list": []any{1}}

	out := formatResult(in, ports.ResultFormatBasic)

	assert.NotContains(t, out, "unexpected_list")
	assert.Contains(t, in, "unexpected_list")
}
