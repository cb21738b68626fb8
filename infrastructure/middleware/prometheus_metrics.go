// Package middleware provides cross-cutting concerns for validation runs:
// a Prometheus metrics collector and an OpenTelemetry run observer.
package middleware

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ahrav/go-assay/internal/ports"
)

const namespace = "assay"

// PrometheusMetrics implements the MetricsCollector interface using Prometheus.
// Query middleware and the run observer report through it; names it does not
// know land in generic per-metric vectors.
type PrometheusMetrics struct {
	queryLatency  *prometheus.HistogramVec
	queryRows     *prometheus.HistogramVec
	queryRequests *prometheus.CounterVec
	breakerCalls  *prometheus.CounterVec
	expectations  *prometheus.CounterVec
	runs          *prometheus.CounterVec
	suiteSuccess  *prometheus.GaugeVec

	operationLatency *prometheus.HistogramVec
	counters         *prometheus.CounterVec
	gauges           *prometheus.GaugeVec
	histograms       *prometheus.HistogramVec
}

// NewPrometheusMetrics creates the collector and registers its vectors with
// reg. A nil reg uses the global Prometheus registry.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &PrometheusMetrics{
		// Query runner metrics.
		queryLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "query_latency_seconds",
				Help:      "Latency of backend queries issued by metric computations.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"backend", "status"},
		),
		queryRows: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "query_rows",
				Help:      "Rows returned per backend query.",
				Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
			},
			[]string{"backend"},
		),
		queryRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "query_requests_total",
				Help:      "Backend queries by outcome.",
			},
			[]string{"backend", "status"},
		),
		breakerCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "query_circuit_breaker_calls_total",
				Help:      "Calls seen by the query circuit breaker by outcome.",
			},
			[]string{"outcome"},
		),

		// Validation run metrics.
		expectations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "expectations_total",
				Help:      "Evaluated expectations by type and terminal state.",
			},
			[]string{"expectation_type", "state"},
		),
		runs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "validation_runs_total",
				Help:      "Suite validation runs by outcome.",
			},
			[]string{"suite", "status"},
		),
		suiteSuccess: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "suite_success_percent",
				Help:      "Success percent of the last run of each suite.",
			},
			[]string{"suite"},
		),

		// Fallbacks for names without a dedicated vector.
		operationLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "operation_duration_seconds",
				Help:      "Duration of validation operations.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation", "scope"},
		),
		counters: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_total",
				Help:      "Counted events without a dedicated metric.",
			},
			[]string{"metric"},
		),
		gauges: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "state",
				Help:      "Current values of state gauges.",
			},
			[]string{"metric"},
		),
		histograms: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "observations",
				Help:      "Observed values without a dedicated histogram.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"metric"},
		),
	}
}

func label(labels map[string]string, key string) string {
	if v := labels[key]; v != "" {
		return v
	}
	return "unknown"
}

// RecordLatency records an operation duration. The scope label is the suite
// or expectation type the operation belongs to.
func (pm *PrometheusMetrics) RecordLatency(operation string, duration time.Duration, labels map[string]string) {
	scope := labels["suite"]
	if scope == "" {
		scope = labels["expectation_type"]
	}
	if scope == "" {
		scope = "unknown"
	}
	pm.operationLatency.WithLabelValues(operation, scope).Observe(duration.Seconds())
}

// RecordCounter implements the MetricsCollector interface by incrementing
// Prometheus counters.
func (pm *PrometheusMetrics) RecordCounter(metric string, value float64, labels map[string]string) {
	switch metric {
	case "query_requests_total":
		pm.queryRequests.WithLabelValues(label(labels, "backend"), label(labels, "status")).Add(value)
	case "query_circuit_breaker_calls_total":
		pm.breakerCalls.WithLabelValues(label(labels, "outcome")).Add(value)
	case "expectations_total":
		pm.expectations.WithLabelValues(label(labels, "expectation_type"), label(labels, "state")).Add(value)
	case "validation_runs_total":
		pm.runs.WithLabelValues(label(labels, "suite"), label(labels, "status")).Add(value)
	default:
		pm.counters.WithLabelValues(metric).Add(value)
	}
}

// RecordGauge implements the MetricsCollector interface by setting
// Prometheus gauge values.
func (pm *PrometheusMetrics) RecordGauge(metric string, value float64, labels map[string]string) {
	switch metric {
	case "suite_success_percent":
		pm.suiteSuccess.WithLabelValues(label(labels, "suite")).Set(value)
	default:
		pm.gauges.WithLabelValues(metric).Set(value)
	}
}

// RecordHistogram implements the MetricsCollector interface by recording
// values in a Prometheus histogram.
func (pm *PrometheusMetrics) RecordHistogram(metric string, value float64, labels map[string]string) {
	switch metric {
	case "query_latency_seconds":
		pm.queryLatency.WithLabelValues(label(labels, "backend"), label(labels, "status")).Observe(value)
	case "query_rows":
		pm.queryRows.WithLabelValues(label(labels, "backend")).Observe(value)
	default:
		pm.histograms.WithLabelValues(metric).Observe(value)
	}
}

// Compile-time verification that PrometheusMetrics implements MetricsCollector.
var _ ports.MetricsCollector = (*PrometheusMetrics)(nil)
