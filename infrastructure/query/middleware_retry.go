package query

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/ahrav/go-assay/internal/domain"
	"github.com/ahrav/go-assay/internal/ports"
)

// retryRunner retries transient backend failures with exponential backoff.
type retryRunner struct {
	next       Runner
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

// RetryMiddleware creates middleware that retries queries failing with a
// retryable error (see ports.IsRetryable). SQL errors, configuration
// errors and an open circuit are returned immediately.
func RetryMiddleware(maxRetries int, baseDelay, maxDelay time.Duration) Middleware {
	return func(next Runner) Runner {
		return &retryRunner{
			next:       next,
			maxRetries: maxRetries,
			baseDelay:  baseDelay,
			maxDelay:   maxDelay,
		}
	}
}

// Run executes q, retrying transient failures.
func (r *retryRunner) Run(ctx context.Context, q ports.Query) (domain.Table, error) {
	var lastErr error

	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		table, err := r.next.Run(ctx, q)
		if err == nil {
			return table, nil
		}

		lastErr = err

		if errors.Is(err, ErrCircuitOpen) || ctx.Err() != nil || !ports.IsRetryable(err) {
			return domain.Table{}, err
		}

		if attempt == r.maxRetries {
			break
		}

		select {
		case <-ctx.Done():
			return domain.Table{}, ctx.Err()
		case <-time.After(r.calculateDelay(attempt)):
		}
	}

	return domain.Table{}, fmt.Errorf("query failed after %d attempts: %w", r.maxRetries+1, lastErr)
}

func (r *retryRunner) calculateDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 30 {
		attempt = 30
	}
	// #nosec G115 - attempt is bounded between 0 and 30
	multiplier := 1 << uint(attempt)
	delay := time.Duration(float64(r.baseDelay) * float64(multiplier))

	// Jitter of ±25%.
	// #nosec G404 - Using weak RNG is acceptable for jitter calculation
	jitter := time.Duration(rand.Float64() * float64(delay) * 0.5)
	delay = delay + jitter - (delay / 4)

	if delay > r.maxDelay {
		delay = r.maxDelay
	}

	return delay
}
