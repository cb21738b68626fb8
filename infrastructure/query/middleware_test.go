package query

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"golang.org/x/time/rate"

	"github.com/ahrav/go-assay/internal/domain"
	"github.com/ahrav/go-assay/internal/ports"
)

func TestChain_OrderIsOutermostFirst(t *testing.T) {
	var order []string
	tag := func(name string) Middleware {
		return func(next Runner) Runner {
			return RunnerFunc(func(ctx context.Context, q ports.Query) (domain.Table, error) {
				order = append(order, name)
				return next.Run(ctx, q)
			})
		}
	}

	runner := Chain(newMockRunner(), tag("outer"), nil, tag("inner"))
	_, err := runner.Run(context.Background(), testQuery)
	require.NoError(t, err)
	assert.Equal(t, []string{"outer", "inner"}, order)
}

func TestRetryMiddleware_SuccessOnFirstAttempt(t *testing.T) {
	mock := newMockRunner()
	wrapped := RetryMiddleware(3, 10*time.Millisecond, time.Second)(mock)

	table, err := wrapped.Run(context.Background(), testQuery)

	require.NoError(t, err)
	assert.Equal(t, 2, table.Len())
	assert.Equal(t, 1, mock.GetCallCount(), "should only call once on success")
}

func TestRetryMiddleware_RetriesTransientErrors(t *testing.T) {
	mock := newMockRunner()
	mock.FailUntilAttempt = 2
	wrapped := RetryMiddleware(3, time.Millisecond, 10*time.Millisecond)(mock)

	table, err := wrapped.Run(context.Background(), testQuery)

	require.NoError(t, err, "query should eventually succeed")
	assert.Equal(t, 2, table.Len())
	assert.Equal(t, 3, mock.GetCallCount(), "should retry until success")
}

func TestRetryMiddleware_FailsAfterMaxRetries(t *testing.T) {
	mock := newMockRunner()
	mock.Error = ports.NewExecutionEngineError(ports.BackendSQL, "ExecuteQuery", "SELECT 1", ports.ErrServiceUnavailable)
	wrapped := RetryMiddleware(2, time.Millisecond, 10*time.Millisecond)(mock)

	_, err := wrapped.Run(context.Background(), testQuery)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "query failed after 3 attempts")
	assert.ErrorIs(t, err, ports.ErrServiceUnavailable)
	assert.Equal(t, 3, mock.GetCallCount(), "should attempt max retries + 1")
}

func TestRetryMiddleware_DoesNotRetry(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{name: "sql error", err: ports.NewExecutionEngineError(ports.BackendSQL, "ExecuteQuery", "SELEC 1", errors.New("syntax error"))},
		{name: "open circuit", err: ErrCircuitOpen},
		{name: "configuration error", err: &ports.MissingParameterError{Owner: "query.table", Parameter: "query"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := newMockRunner()
			mock.Error = tt.err
			wrapped := RetryMiddleware(3, time.Millisecond, 10*time.Millisecond)(mock)

			_, err := wrapped.Run(context.Background(), testQuery)

			assert.ErrorIs(t, err, tt.err)
			assert.Equal(t, 1, mock.GetCallCount())
		})
	}
}

func TestRetryMiddleware_RespectsCancellation(t *testing.T) {
	mock := newMockRunner()
	mock.Error = ports.ErrConnectionLost
	wrapped := RetryMiddleware(5, time.Second, time.Second)(mock)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := wrapped.Run(ctx, testQuery)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 500*time.Millisecond, "backoff must stop when the context ends")
	assert.Equal(t, 1, mock.GetCallCount())
}

func TestRetryMiddleware_DelayIsBounded(t *testing.T) {
	r := &retryRunner{baseDelay: 100 * time.Millisecond, maxDelay: 300 * time.Millisecond}
	for attempt := -1; attempt < 40; attempt++ {
		d := r.calculateDelay(attempt)
		assert.GreaterOrEqual(t, d, 75*time.Millisecond)
		assert.LessOrEqual(t, d, 300*time.Millisecond)
	}
}

func TestCircuitBreaker_OpensAfterMaxFailures(t *testing.T) {
	mock := newMockRunner()
	mock.Error = ports.ErrConnectionLost
	wrapped := CircuitBreakerMiddleware(2, time.Hour)(mock)
	ctx := context.Background()

	_, err1 := wrapped.Run(ctx, testQuery)
	_, err2 := wrapped.Run(ctx, testQuery)
	assert.ErrorIs(t, err1, ports.ErrConnectionLost)
	assert.ErrorIs(t, err2, ports.ErrConnectionLost)

	_, err3 := wrapped.Run(ctx, testQuery)
	assert.ErrorIs(t, err3, ErrCircuitOpen)
	assert.Equal(t, 2, mock.GetCallCount(), "open circuit must not reach the backend")
}

func TestCircuitBreaker_IgnoresNonTransientErrors(t *testing.T) {
	mock := newMockRunner()
	mock.Error = errors.New("no such table: orders")
	wrapped := CircuitBreakerMiddleware(1, time.Hour)(mock)

	for range 3 {
		_, err := wrapped.Run(context.Background(), testQuery)
		assert.EqualError(t, err, "no such table: orders")
	}
	assert.Equal(t, 3, mock.GetCallCount())
}

func TestCircuitBreaker_HalfOpenRecovery(t *testing.T) {
	now := time.Unix(0, 0)
	cb := NewCircuitBreaker(1, time.Minute)
	cb.now = func() time.Time { return now }

	err := cb.Call(func() error { return ports.ErrServiceUnavailable })
	assert.ErrorIs(t, err, ports.ErrServiceUnavailable)
	assert.Equal(t, StateOpen, cb.GetState())

	assert.ErrorIs(t, cb.Call(func() error { return nil }), ErrCircuitOpen)

	now = now.Add(2 * time.Minute)
	err = cb.Call(func() error { return ports.ErrServiceUnavailable })
	assert.ErrorIs(t, err, ports.ErrServiceUnavailable)
	assert.Equal(t, StateOpen, cb.GetState(), "failed probe reopens the circuit")

	now = now.Add(2 * time.Minute)
	require.NoError(t, cb.Call(func() error { return nil }))
	assert.Equal(t, StateClosed, cb.GetState(), "successful probe closes the circuit")
}

func TestCircuitBreaker_ConcurrentCalls(t *testing.T) {
	cb := NewCircuitBreaker(1000, time.Second)
	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = cb.Call(func() error {
				if i%2 == 0 {
					return ports.ErrTimeout
				}
				return nil
			})
		}()
	}
	wg.Wait()
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestCircuitBreaker_RecordsMetrics(t *testing.T) {
	mock := newMockRunner()
	mock.Error = ports.ErrConnectionLost
	metrics := newMockMetricsCollector()
	wrapped := CircuitBreakerMiddlewareWithMetrics(1, time.Hour, metrics)(mock)

	_, _ = wrapped.Run(context.Background(), testQuery)
	_, _ = wrapped.Run(context.Background(), testQuery)

	assert.Equal(t, 1.0, metrics.counters["query_circuit_breaker_calls_total:failure"])
	assert.Equal(t, 1.0, metrics.counters["query_circuit_breaker_calls_total:rejected"])
	assert.Equal(t, float64(StateOpen), metrics.gauges["query_circuit_breaker_state"])
}

func TestRateLimitMiddleware(t *testing.T) {
	mock := newMockRunner()
	wrapped := RateLimitMiddleware(rate.Limit(1), 1)(mock)

	_, err := wrapped.Run(context.Background(), testQuery)
	require.NoError(t, err, "the first query uses the burst token")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = wrapped.Run(ctx, testQuery)

	require.Error(t, err)
	assert.ErrorIs(t, err, ports.ErrRateLimited)
	assert.Equal(t, 1, mock.GetCallCount())
}

func TestRateLimitMiddleware_SharedBucket(t *testing.T) {
	mw := RateLimitMiddleware(rate.Limit(1), 1)
	a, b := mw(newMockRunner()), mw(newMockRunner())

	_, err := a.Run(context.Background(), testQuery)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = b.Run(ctx, testQuery)
	assert.ErrorIs(t, err, ports.ErrRateLimited, "runners wrapped by one middleware share a bucket")
}

func TestTimeoutMiddleware(t *testing.T) {
	t.Run("query deadline maps to ErrTimeout", func(t *testing.T) {
		mock := newMockRunner()
		mock.Delay = time.Second
		wrapped := TimeoutMiddleware(10 * time.Millisecond)(mock)

		_, err := wrapped.Run(context.Background(), testQuery)

		assert.ErrorIs(t, err, ports.ErrTimeout)
		assert.True(t, ports.IsRetryable(err))
	})

	t.Run("caller cancellation is passed through", func(t *testing.T) {
		mock := newMockRunner()
		mock.Delay = time.Second
		wrapped := TimeoutMiddleware(time.Minute)(mock)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := wrapped.Run(ctx, testQuery)

		assert.ErrorIs(t, err, context.Canceled)
		assert.False(t, ports.IsRetryable(err))
	})

	t.Run("fast query succeeds with a deadline set", func(t *testing.T) {
		mock := newMockRunner()
		wrapped := TimeoutMiddleware(time.Minute)(mock)

		_, err := wrapped.Run(context.Background(), testQuery)
		require.NoError(t, err)
		_, ok := mock.lastCtx.Deadline()
		assert.True(t, ok)
	})

	t.Run("zero timeout is a no-op", func(t *testing.T) {
		mock := newMockRunner()
		assert.Same(t, mock, TimeoutMiddleware(0)(mock))
	})
}

func TestMetricsMiddleware(t *testing.T) {
	t.Run("records successful queries", func(t *testing.T) {
		mock := newMockRunner()
		metrics := newMockMetricsCollector()
		wrapped := MetricsMiddleware(metrics, "sqlite")(mock)

		_, err := wrapped.Run(context.Background(), testQuery)
		require.NoError(t, err)

		assert.Equal(t, 1.0, metrics.counters["query_requests_total:success"])
		assert.Len(t, metrics.histograms["query_latency_seconds:success"], 1)
		assert.Equal(t, []float64{2}, metrics.histograms["query_rows"])
	})

	t.Run("labels failures by class", func(t *testing.T) {
		tests := []struct {
			err  error
			want string
		}{
			{err: ErrCircuitOpen, want: "circuit_open"},
			{err: ports.ErrRateLimited, want: "rate_limited"},
			{err: ports.ErrTimeout, want: "timeout"},
			{err: context.Canceled, want: "canceled"},
			{err: errors.New("boom"), want: "error"},
		}
		for _, tt := range tests {
			mock := newMockRunner()
			mock.Error = tt.err
			metrics := newMockMetricsCollector()

			_, _ = MetricsMiddleware(metrics, "mysql")(mock).Run(context.Background(), testQuery)

			assert.Equal(t, 1.0, metrics.counters["query_requests_total:"+tt.want], tt.want)
			assert.Empty(t, metrics.histograms["query_rows"])
		}
	})

	t.Run("nil collector is a no-op", func(t *testing.T) {
		mock := newMockRunner()
		assert.Same(t, mock, MetricsMiddleware(nil, "sqlite")(mock))
	})
}

func TestTracingMiddleware(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	tracer := provider.Tracer("test")

	ok := newMockRunner()
	_, err := TracingMiddlewareWithTracer("assay", tracer)(ok).Run(context.Background(),
		ports.SQLQuery{Text: "SELECT 1", DataSource: "legacy"})
	require.NoError(t, err)

	failing := newMockRunner()
	failing.Error = errors.New("service error")
	_, err = TracingMiddlewareWithTracer("assay", tracer)(failing).Run(context.Background(), testQuery)
	require.EqualError(t, err, "service error")

	spans := recorder.Ended()
	require.Len(t, spans, 2)

	assert.Equal(t, "query.run", spans[0].Name())
	assert.Equal(t, codes.Ok, spans[0].Status().Code)
	attrs := map[string]any{}
	for _, kv := range spans[0].Attributes() {
		attrs[string(kv.Key)] = kv.Value.AsInterface()
	}
	assert.Equal(t, "legacy: SELECT 1", attrs["db.statement"])
	assert.Equal(t, "legacy", attrs["db.data_source"])
	assert.Equal(t, int64(2), attrs["db.rows"])

	assert.Equal(t, codes.Error, spans[1].Status().Code)
	assert.Equal(t, "service error", spans[1].Status().Description)
	require.NotEmpty(t, spans[1].Events(), "errors are recorded as span events")
}
