package query

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ahrav/go-assay/internal/domain"
	"github.com/ahrav/go-assay/internal/ports"
)

// ErrCircuitOpen indicates that the circuit breaker rejected a query
// without sending it to the backend.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreakerState represents the current state of a circuit breaker.
type CircuitBreakerState int

// Circuit breaker states.
const (
	// StateClosed lets every query through.
	StateClosed CircuitBreakerState = iota

	// StateOpen rejects every query until the cooldown expires.
	StateOpen

	// StateHalfOpen lets one probe query through after the cooldown.
	StateHalfOpen
)

// String returns the state name used as a metric label.
func (s CircuitBreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	}
	return "unknown"
}

// CircuitBreaker opens after maxFailures consecutive backend failures and
// probes recovery after cooldownDuration.
//
// Only retryable backend failures count toward opening the circuit. Other
// errors, such as a syntax error or a missing table, are treated like
// successes.
type CircuitBreaker struct {
	mu               sync.RWMutex
	state            CircuitBreakerState
	failureCount     int
	maxFailures      int
	cooldownDuration time.Duration
	lastFailure      time.Time
	now              func() time.Time
}

// NewCircuitBreaker creates a closed circuit breaker.
func NewCircuitBreaker(maxFailures int, cooldownDuration time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		state:            StateClosed,
		maxFailures:      maxFailures,
		cooldownDuration: cooldownDuration,
		now:              time.Now,
	}
}

// Call executes fn through the circuit breaker. If the circuit is open it
// returns ErrCircuitOpen immediately.
func (cb *CircuitBreaker) Call(fn func() error) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.lastFailure) < cb.cooldownDuration {
			return ErrCircuitOpen
		}
		cb.state = StateHalfOpen
		fallthrough
	case StateHalfOpen:
		err := fn()
		if countsAsFailure(err) {
			cb.failureCount++
			cb.lastFailure = cb.now()
			cb.state = StateOpen
			return err
		}
		cb.failureCount = 0
		cb.state = StateClosed
		return err
	case StateClosed:
		err := fn()
		if countsAsFailure(err) {
			cb.failureCount++
			cb.lastFailure = cb.now()
			if cb.failureCount >= cb.maxFailures {
				cb.state = StateOpen
			}
			return err
		}
		cb.failureCount = 0
		return err
	}
	return nil
}

// GetState returns the current circuit breaker state.
func (cb *CircuitBreaker) GetState() CircuitBreakerState {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

func countsAsFailure(err error) bool {
	return err != nil && ports.IsRetryable(err)
}

// circuitBreakerRunner guards a Runner with a shared CircuitBreaker.
type circuitBreakerRunner struct {
	next      Runner
	cb        *CircuitBreaker
	collector ports.MetricsCollector
}

// CircuitBreakerMiddleware creates middleware that opens after maxFailures
// consecutive backend failures and stays open for cooldown.
func CircuitBreakerMiddleware(maxFailures int, cooldown time.Duration) Middleware {
	return CircuitBreakerMiddlewareWithMetrics(maxFailures, cooldown, nil)
}

// CircuitBreakerMiddlewareWithMetrics is CircuitBreakerMiddleware reporting
// state, trips and outcomes to collector.
func CircuitBreakerMiddlewareWithMetrics(
	maxFailures int,
	cooldown time.Duration,
	collector ports.MetricsCollector,
) Middleware {
	cb := NewCircuitBreaker(maxFailures, cooldown)
	return func(next Runner) Runner {
		return &circuitBreakerRunner{next: next, cb: cb, collector: collector}
	}
}

// Run executes q through the circuit breaker.
func (c *circuitBreakerRunner) Run(ctx context.Context, q ports.Query) (domain.Table, error) {
	var table domain.Table
	err := c.cb.Call(func() error {
		var err error
		table, err = c.next.Run(ctx, q)
		return err
	})

	if c.collector != nil {
		outcome := "success"
		switch {
		case errors.Is(err, ErrCircuitOpen):
			outcome = "rejected"
		case err != nil:
			outcome = "failure"
		}
		state := c.cb.GetState()
		c.collector.RecordCounter("query_circuit_breaker_calls_total", 1, map[string]string{"outcome": outcome})
		c.collector.RecordGauge("query_circuit_breaker_state", float64(state), map[string]string{"state": state.String()})
	}

	return table, err
}
