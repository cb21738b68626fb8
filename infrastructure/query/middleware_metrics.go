package query

import (
	"context"
	"errors"
	"time"

	"github.com/ahrav/go-assay/internal/domain"
	"github.com/ahrav/go-assay/internal/ports"
)

// metricsRunner records latency, outcome and row counts of each query.
type metricsRunner struct {
	next      Runner
	collector ports.MetricsCollector
	backend   string
}

// MetricsMiddleware creates middleware that reports query metrics to
// collector labelled with backend.
func MetricsMiddleware(collector ports.MetricsCollector, backend string) Middleware {
	return func(next Runner) Runner {
		if collector == nil {
			return next
		}
		return &metricsRunner{
			next:      next,
			collector: collector,
			backend:   backend,
		}
	}
}

// Run executes q and records its metrics.
func (m *metricsRunner) Run(ctx context.Context, q ports.Query) (domain.Table, error) {
	start := time.Now()
	table, err := m.next.Run(ctx, q)

	labels := map[string]string{
		"backend": m.backend,
		"status":  status(ctx, err),
	}

	m.collector.RecordHistogram("query_latency_seconds", time.Since(start).Seconds(), labels)
	m.collector.RecordCounter("query_requests_total", 1, labels)
	if err == nil {
		m.collector.RecordHistogram("query_rows", float64(table.Len()), map[string]string{"backend": m.backend})
	}

	return table, err
}

func status(ctx context.Context, err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrCircuitOpen):
		return "circuit_open"
	case errors.Is(err, ports.ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ports.ErrTimeout), errors.Is(ctx.Err(), context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	}
	return "error"
}
