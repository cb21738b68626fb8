package ports

import (
	"context"
	"time"

	"github.com/ahrav/go-assay/internal/domain"
)

// MetricsCollector defines the interface for collecting operational metrics.
// Implementations should integrate with observability platforms like
// Prometheus, OpenTelemetry, or custom monitoring solutions.
type MetricsCollector interface {
	// RecordLatency records the execution time of an operation.
	// The labels map provides additional context for the metric.
	RecordLatency(operation string, duration time.Duration, labels map[string]string)

	// RecordCounter increments a counter metric.
	// This is useful for tracking events like cache hits, query retries and
	// expectation outcomes.
	RecordCounter(metric string, value float64, labels map[string]string)

	// RecordGauge sets the current value of a gauge metric, such as the
	// success percent of the last suite run.
	RecordGauge(metric string, value float64, labels map[string]string)

	// RecordHistogram records a value in a histogram, such as rows returned
	// per query.
	RecordHistogram(metric string, value float64, labels map[string]string)
}

// RunObserver receives lifecycle callbacks from the validator.
// Implementations keep per-run state in the returned context rather than in
// the observer, so one observer can serve concurrent runs.
type RunObserver interface {
	// RunStarted is called before the first expectation is evaluated. The
	// returned context is passed to every later callback for the run.
	RunStarted(ctx context.Context, suiteName string, expectations int) context.Context

	// ExpectationFinished is called once per expectation with its terminal
	// state: "succeeded", "failed" or "errored".
	ExpectationFinished(ctx context.Context, expectationType, state string, elapsed time.Duration)

	// RunFinished is called with the suite result, or with the error that
	// aborted the run.
	RunFinished(
		ctx context.Context,
		result *domain.ExpectationSuiteValidationResult,
		elapsed time.Duration,
		err error,
	)
}

// ResultStore persists suite results in their JSON wire form.
type ResultStore interface {
	// Put stores result and returns the key it can be retrieved with and
	// the URL recorded as the result's result_url.
	Put(ctx context.Context, result *domain.ExpectationSuiteValidationResult) (key, url string, err error)

	// Get reconstructs a stored result.
	Get(ctx context.Context, key string) (*domain.ExpectationSuiteValidationResult, error)
}

// Uploader copies a stored artifact to remote object storage.
type Uploader interface {
	// Enabled reports whether uploads are configured.
	Enabled() bool

	// UploadFile uploads the local file under objectName and returns its
	// remote URL.
	UploadFile(ctx context.Context, localPath, objectName string) (string, error)
}
