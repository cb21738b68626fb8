package query

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ahrav/go-assay/internal/domain"
	"github.com/ahrav/go-assay/internal/ports"
)

// mockRunner returns a fixed table, optionally failing the first
// FailUntilAttempt calls or every call when Error is set.
type mockRunner struct {
	mu               sync.Mutex
	calls            int
	Error            error
	FailUntilAttempt int
	Delay            time.Duration
	Table            domain.Table
	lastCtx          context.Context
}

func newMockRunner() *mockRunner {
	return &mockRunner{
		Table: domain.Table{Columns: []string{"n"}, Rows: [][]any{{int64(1)}, {int64(2)}}},
	}
}

func (m *mockRunner) Run(ctx context.Context, _ ports.Query) (domain.Table, error) {
	m.mu.Lock()
	m.calls++
	call := m.calls
	m.lastCtx = ctx
	m.mu.Unlock()

	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-ctx.Done():
			return domain.Table{}, ctx.Err()
		}
	}
	if m.Error != nil {
		return domain.Table{}, m.Error
	}
	if call <= m.FailUntilAttempt {
		return domain.Table{}, fmt.Errorf("attempt %d: %w", call, ports.ErrConnectionLost)
	}
	return m.Table, nil
}

func (m *mockRunner) GetCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// mockMetricsCollector stores the last value per metric name and status.
type mockMetricsCollector struct {
	mu         sync.Mutex
	counters   map[string]float64
	histograms map[string][]float64
	gauges     map[string]float64
}

func newMockMetricsCollector() *mockMetricsCollector {
	return &mockMetricsCollector{
		counters:   make(map[string]float64),
		histograms: make(map[string][]float64),
		gauges:     make(map[string]float64),
	}
}

func key(metric string, labels map[string]string) string {
	if s, ok := labels["status"]; ok {
		return metric + ":" + s
	}
	if s, ok := labels["outcome"]; ok {
		return metric + ":" + s
	}
	return metric
}

func (m *mockMetricsCollector) RecordLatency(operation string, d time.Duration, labels map[string]string) {
	m.RecordHistogram(operation, d.Seconds(), labels)
}

func (m *mockMetricsCollector) RecordCounter(metric string, value float64, labels map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[key(metric, labels)] += value
}

func (m *mockMetricsCollector) RecordGauge(metric string, value float64, labels map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gauges[metric] = value
}

func (m *mockMetricsCollector) RecordHistogram(metric string, value float64, labels map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key(metric, labels)
	m.histograms[k] = append(m.histograms[k], value)
}

var testQuery = ports.SQLQuery{Text: "SELECT 1"}
