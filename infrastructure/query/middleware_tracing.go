package query

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/go-assay/internal/domain"
	"github.com/ahrav/go-assay/internal/ports"
)

const tracerName = "github.com/ahrav/go-assay/infrastructure/query"

// tracedRunner wraps each query in a span.
type tracedRunner struct {
	next        Runner
	serviceName string
	tracer      trace.Tracer
}

// TracingMiddleware creates middleware that starts a "query.run" span per
// query using the global tracer provider.
func TracingMiddleware(serviceName string) Middleware {
	return TracingMiddlewareWithTracer(serviceName, otel.Tracer(tracerName))
}

// TracingMiddlewareWithTracer is TracingMiddleware with an explicit tracer.
func TracingMiddlewareWithTracer(serviceName string, tracer trace.Tracer) Middleware {
	return func(next Runner) Runner {
		return &tracedRunner{
			next:        next,
			serviceName: serviceName,
			tracer:      tracer,
		}
	}
}

// Run executes q inside a span.
func (t *tracedRunner) Run(ctx context.Context, q ports.Query) (domain.Table, error) {
	ctx, span := t.tracer.Start(ctx, "query.run",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("service.name", t.serviceName),
			attribute.String("db.statement", q.Describe()),
		),
	)
	defer span.End()

	if sq, ok := q.(ports.SQLQuery); ok && sq.DataSource != "" {
		span.SetAttributes(attribute.String("db.data_source", sq.DataSource))
	}

	table, err := t.next.Run(ctx, q)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return table, err
	}

	span.SetAttributes(attribute.Int("db.rows", table.Len()))
	span.SetStatus(codes.Ok, "")
	return table, nil
}
