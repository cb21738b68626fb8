package query

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ahrav/go-assay/internal/domain"
	"github.com/ahrav/go-assay/internal/ports"
)

// timeoutRunner bounds each query with its own deadline.
type timeoutRunner struct {
	next    Runner
	timeout time.Duration
}

// TimeoutMiddleware creates middleware that cancels a query after timeout.
// A query that hits this deadline, rather than the caller's, fails with
// ports.ErrTimeout so the retry middleware can try it again.
func TimeoutMiddleware(timeout time.Duration) Middleware {
	return func(next Runner) Runner {
		if timeout <= 0 {
			return next
		}
		return &timeoutRunner{
			next:    next,
			timeout: timeout,
		}
	}
}

// Run executes q under the per-query deadline.
func (t *timeoutRunner) Run(ctx context.Context, q ports.Query) (domain.Table, error) {
	qctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	table, err := t.next.Run(qctx, q)
	if err != nil && ctx.Err() == nil && errors.Is(qctx.Err(), context.DeadlineExceeded) {
		return domain.Table{}, fmt.Errorf("query exceeded %s: %w", t.timeout, ports.ErrTimeout)
	}
	return table, err
}
