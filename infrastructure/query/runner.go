// Package query provides the middleware chain wrapped around every backend
// query an execution engine runs.
//
// Engines hand their raw query function to Chain together with the
// configured middleware:
//
//	runner := query.Chain(query.RunnerFunc(e.run),
//	    query.TracingMiddleware("assay.sql"),
//	    query.MetricsMiddleware(collector, "sqlite"),
//	    query.RetryMiddleware(2, 200*time.Millisecond, 5*time.Second),
//	    query.CircuitBreakerMiddleware(5, 30*time.Second),
//	    query.RateLimitMiddleware(20, 40),
//	    query.TimeoutMiddleware(30*time.Second),
//	)
//
// The first middleware is the outermost.
package query

import (
	"context"

	"github.com/ahrav/go-assay/internal/domain"
	"github.com/ahrav/go-assay/internal/ports"
)

// Runner executes a backend-native query.
type Runner interface {
	Run(ctx context.Context, q ports.Query) (domain.Table, error)
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, q ports.Query) (domain.Table, error)

// Run implements Runner.
func (f RunnerFunc) Run(ctx context.Context, q ports.Query) (domain.Table, error) {
	return f(ctx, q)
}

// Middleware wraps a Runner to add cross-cutting behaviour.
type Middleware func(Runner) Runner

// Chain wraps core with mws so that mws[0] sees each query first.
func Chain(core Runner, mws ...Middleware) Runner {
	for i := len(mws) - 1; i >= 0; i-- {
		if mws[i] != nil {
			core = mws[i](core)
		}
	}
	return core
}
