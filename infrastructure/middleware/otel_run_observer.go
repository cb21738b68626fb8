package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/go-assay/internal/domain"
	"github.com/ahrav/go-assay/internal/ports"
)

var _ ports.RunObserver = (*OTelRunObserver)(nil)

const tracerName = "github.com/ahrav/go-assay/validator"

type runKey struct{}

// runState is what RunStarted hands to the later callbacks through the
// context.
type runState struct {
	suite string
	span  trace.Span
}

// OTelRunObserver traces suite validation runs with OpenTelemetry and
// reports counters and latencies through a MetricsCollector. One span covers
// a run; each expectation adds an event to it.
type OTelRunObserver struct {
	metrics ports.MetricsCollector
	tracer  trace.Tracer
}

// NewOTelRunObserver creates an observer using the global tracer provider.
// metrics may be nil.
func NewOTelRunObserver(metrics ports.MetricsCollector) *OTelRunObserver {
	return &OTelRunObserver{metrics: metrics, tracer: otel.Tracer(tracerName)}
}

// WithTracerProvider returns a copy of o that starts spans from tp.
func (o *OTelRunObserver) WithTracerProvider(tp trace.TracerProvider) *OTelRunObserver {
	cp := *o
	cp.tracer = tp.Tracer(tracerName)
	return &cp
}

// RunStarted implements ports.RunObserver.
func (o *OTelRunObserver) RunStarted(ctx context.Context, suiteName string, expectations int) context.Context {
	ctx, span := o.tracer.Start(ctx, "Validator.Validate", trace.WithAttributes(
		attribute.String("suite.name", suiteName),
		attribute.Int("suite.expectations", expectations),
	))
	return context.WithValue(ctx, runKey{}, &runState{suite: suiteName, span: span})
}

// ExpectationFinished implements ports.RunObserver.
func (o *OTelRunObserver) ExpectationFinished(
	ctx context.Context,
	expectationType, state string,
	elapsed time.Duration,
) {
	if run, ok := ctx.Value(runKey{}).(*runState); ok {
		run.span.AddEvent("expectation.finished", trace.WithAttributes(
			attribute.String("expectation.type", expectationType),
			attribute.String("expectation.state", state),
			attribute.Int64("expectation.elapsed_ms", elapsed.Milliseconds()),
		))
	}
	if o.metrics == nil {
		return
	}
	labels := map[string]string{"expectation_type": expectationType, "state": state}
	o.metrics.RecordCounter("expectations_total", 1, labels)
	o.metrics.RecordLatency("expectation_validation", elapsed, labels)
}

// RunFinished implements ports.RunObserver. result is nil when err aborted
// the run.
func (o *OTelRunObserver) RunFinished(
	ctx context.Context,
	result *domain.ExpectationSuiteValidationResult,
	elapsed time.Duration,
	err error,
) {
	run, ok := ctx.Value(runKey{}).(*runState)
	if !ok {
		run = &runState{span: trace.SpanFromContext(ctx)}
	}
	defer run.span.End()

	status := runStatus(result, err)
	if result != nil {
		stats := result.Statistics()
		run.span.SetAttributes(
			attribute.Int("suite.evaluated_expectations", stats.EvaluatedExpectations),
			attribute.Int("suite.successful_expectations", stats.SuccessfulExpectations),
			attribute.Int("suite.unsuccessful_expectations", stats.UnsuccessfulExpectations),
			attribute.Bool("suite.success", result.Success()),
		)
		if stats.SuccessPercent != nil {
			run.span.SetAttributes(attribute.Float64("suite.success_percent", *stats.SuccessPercent))
		}
	}

	if o.metrics != nil {
		labels := map[string]string{"suite": run.suite, "status": status}
		o.metrics.RecordCounter("validation_runs_total", 1, labels)
		o.metrics.RecordLatency("suite_validation", elapsed, labels)
		if result != nil && result.Statistics().SuccessPercent != nil {
			o.metrics.RecordGauge("suite_success_percent", *result.Statistics().SuccessPercent,
				map[string]string{"suite": run.suite})
		}
	}

	switch status {
	case "error":
		run.span.RecordError(err)
		run.span.SetStatus(codes.Error, err.Error())
	case "failed":
		run.span.SetStatus(codes.Error, "suite validation failed")
	default:
		run.span.SetStatus(codes.Ok, "suite validation succeeded")
	}
}

func runStatus(result *domain.ExpectationSuiteValidationResult, err error) string {
	switch {
	case err != nil:
		return "error"
	case result == nil || !result.Success():
		return "failed"
	default:
		return "succeeded"
	}
}
