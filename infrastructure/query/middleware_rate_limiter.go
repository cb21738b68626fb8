package query

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/ahrav/go-assay/internal/domain"
	"github.com/ahrav/go-assay/internal/ports"
)

// rateLimitedRunner paces queries with a token bucket.
type rateLimitedRunner struct {
	next    Runner
	limiter *rate.Limiter
}

// RateLimitMiddleware creates middleware allowing limit queries per second
// with bursts of up to burst queries. Every runner wrapped by the returned
// middleware shares one bucket.
func RateLimitMiddleware(limit rate.Limit, burst int) Middleware {
	limiter := rate.NewLimiter(limit, burst)

	return func(next Runner) Runner {
		return &rateLimitedRunner{
			next:    next,
			limiter: limiter,
		}
	}
}

// Run waits for a token and then forwards q. A context that ends while
// waiting yields ErrRateLimited wrapping the context error.
func (r *rateLimitedRunner) Run(ctx context.Context, q ports.Query) (domain.Table, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return domain.Table{}, fmt.Errorf("%w: %w", ports.ErrRateLimited, err)
	}
	return r.next.Run(ctx, q)
}
