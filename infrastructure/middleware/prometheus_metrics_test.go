package middleware

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMetrics(t *testing.T) (*PrometheusMetrics, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return NewPrometheusMetrics(reg), reg
}

func TestPrometheusMetrics_RecordCounter(t *testing.T) {
	tests := []struct {
		name   string
		metric string
		labels map[string]string
		read   func(pm *PrometheusMetrics) prometheus.Collector
	}{
		{
			name:   "query requests",
			metric: "query_requests_total",
			labels: map[string]string{"backend": "sqlite", "status": "ok"},
			read: func(pm *PrometheusMetrics) prometheus.Collector {
				return pm.queryRequests.WithLabelValues("sqlite", "ok")
			},
		},
		{
			name:   "missing labels default to unknown",
			metric: "query_requests_total",
			labels: nil,
			read: func(pm *PrometheusMetrics) prometheus.Collector {
				return pm.queryRequests.WithLabelValues("unknown", "unknown")
			},
		},
		{
			name:   "breaker calls",
			metric: "query_circuit_breaker_calls_total",
			labels: map[string]string{"outcome": "rejected"},
			read: func(pm *PrometheusMetrics) prometheus.Collector {
				return pm.breakerCalls.WithLabelValues("rejected")
			},
		},
		{
			name:   "expectations",
			metric: "expectations_total",
			labels: map[string]string{"expectation_type": "expect_table_row_count_to_be_between", "state": "failed"},
			read: func(pm *PrometheusMetrics) prometheus.Collector {
				return pm.expectations.WithLabelValues("expect_table_row_count_to_be_between", "failed")
			},
		},
		{
			name:   "runs",
			metric: "validation_runs_total",
			labels: map[string]string{"suite": "orders", "status": "succeeded"},
			read: func(pm *PrometheusMetrics) prometheus.Collector {
				return pm.runs.WithLabelValues("orders", "succeeded")
			},
		},
		{
			name:   "unrouted name",
			metric: "something_else",
			read: func(pm *PrometheusMetrics) prometheus.Collector {
				return pm.counters.WithLabelValues("something_else")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pm, _ := newTestMetrics(t)
			pm.RecordCounter(tt.metric, 1, tt.labels)
			pm.RecordCounter(tt.metric, 2, tt.labels)
			assert.Equal(t, 3.0, testutil.ToFloat64(tt.read(pm)))
		})
	}
}

func TestPrometheusMetrics_RecordGauge(t *testing.T) {
	pm, _ := newTestMetrics(t)

	pm.RecordGauge("suite_success_percent", 80, map[string]string{"suite": "orders"})
	pm.RecordGauge("suite_success_percent", 50, map[string]string{"suite": "orders"})
	pm.RecordGauge("query_circuit_breaker_state", 2, map[string]string{"state": "open"})

	assert.Equal(t, 50.0, testutil.ToFloat64(pm.suiteSuccess.WithLabelValues("orders")))
	assert.Equal(t, 2.0, testutil.ToFloat64(pm.gauges.WithLabelValues("query_circuit_breaker_state")))
}

func TestPrometheusMetrics_Histograms(t *testing.T) {
	pm, reg := newTestMetrics(t)

	pm.RecordHistogram("query_latency_seconds", 0.2, map[string]string{"backend": "postgres", "status": "ok"})
	pm.RecordHistogram("query_rows", 12, map[string]string{"backend": "postgres"})
	pm.RecordHistogram("other", 1, nil)
	pm.RecordLatency("suite_validation", 150*time.Millisecond, map[string]string{"suite": "orders"})
	pm.RecordLatency("expectation_validation", time.Millisecond, map[string]string{"expectation_type": "t"})
	pm.RecordLatency("bare", time.Millisecond, nil)

	count, err := testutil.GatherAndCount(reg,
		"assay_query_latency_seconds",
		"assay_query_rows",
		"assay_observations",
		"assay_operation_duration_seconds",
	)
	require.NoError(t, err)
	// One series each for the three histograms plus three latency scopes.
	assert.Equal(t, 6, count)
}

func TestNewPrometheusMetrics_SeparateRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		NewPrometheusMetrics(prometheus.NewRegistry())
		NewPrometheusMetrics(prometheus.NewRegistry())
	})
	assert.Equal(t, "unknown", label(map[string]string{"backend": ""}, "backend"))
}
