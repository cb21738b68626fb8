package ports

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Common errors that can occur during metric resolution and backend
// interactions.
var (
	// ErrNotImplemented signals that a metric has no implementation for the
	// engine's backend. It is not a computation failure.
	ErrNotImplemented = errors.New("not implemented for backend")

	// ErrUnregisteredMetric indicates that no provider is registered under
	// the requested metric name.
	ErrUnregisteredMetric = errors.New("unregistered metric")

	// ErrUnregisteredExpectation indicates an unknown expectation type.
	ErrUnregisteredExpectation = errors.New("unregistered expectation")

	// ErrCyclicDependency indicates that metric dependencies form a cycle.
	ErrCyclicDependency = errors.New("cyclic metric dependency")

	// ErrMissingParameter indicates that a required kwarg or suite
	// parameter is absent.
	ErrMissingParameter = errors.New("missing required parameter")

	// ErrBatchNotLoaded indicates that a batch id is not loaded into the
	// engine.
	ErrBatchNotLoaded = errors.New("batch not loaded")

	// ErrDependencyFailed indicates that an upstream metric failed.
	ErrDependencyFailed = errors.New("dependency failed")

	// ErrUnsupportedQuery indicates a query variant the engine cannot run.
	ErrUnsupportedQuery = errors.New("unsupported query")

	// ErrInvalidBackend indicates an unknown engine kind.
	ErrInvalidBackend = errors.New("invalid backend")

	// ErrServiceUnavailable indicates that the backend is unavailable.
	ErrServiceUnavailable = errors.New("service unavailable")

	// ErrConnectionLost indicates that an established connection dropped.
	ErrConnectionLost = errors.New("connection lost")

	// ErrTimeout indicates that an operation timed out.
	ErrTimeout = errors.New("operation timed out")

	// ErrRateLimited indicates that the query rate limiter rejected a call.
	ErrRateLimited = errors.New("rate limited")

	// ErrConfigNotFound indicates that required configuration is missing.
	ErrConfigNotFound = errors.New("configuration not found")
)

// ExecutionEngineError wraps a backend failure in a backend-agnostic error
// carrying the original message.
type ExecutionEngineError struct {
	// Backend is the engine variant that failed.
	Backend Backend

	// Operation is the engine method, e.g. "ExecuteQuery".
	Operation string

	// Query describes the query being run, if any.
	Query string

	// Err is the underlying driver or engine error.
	Err error
}

// Error implements the error interface for ExecutionEngineError.
func (e *ExecutionEngineError) Error() string {
	msg := fmt.Sprintf("execution engine error: backend=%s, operation=%s", e.Backend, e.Operation)
	if e.Query != "" {
		msg += fmt.Sprintf(", query=%q", truncate(e.Query, 200))
	}
	return msg + fmt.Sprintf(", err=%v", e.Err)
}

// Unwrap returns the underlying error.
func (e *ExecutionEngineError) Unwrap() error { return e.Err }

// IsRetryable returns true if the error is transient and the query can be
// retried. Only connectivity and timeout failures qualify; SQL errors and
// configuration problems do not.
func (e *ExecutionEngineError) IsRetryable() bool {
	return errors.Is(e.Err, ErrServiceUnavailable) ||
		errors.Is(e.Err, ErrConnectionLost) ||
		errors.Is(e.Err, ErrTimeout)
}

// NewExecutionEngineError creates a new ExecutionEngineError.
func NewExecutionEngineError(backend Backend, operation, query string, err error) *ExecutionEngineError {
	return &ExecutionEngineError{
		Backend:   backend,
		Operation: operation,
		Query:     query,
		Err:       err,
	}
}

// IsRetryable reports whether err is worth retrying. Context cancellation
// is never retryable.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var engErr *ExecutionEngineError
	if errors.As(err, &engErr) {
		return engErr.IsRetryable()
	}
	return errors.Is(err, ErrServiceUnavailable) ||
		errors.Is(err, ErrConnectionLost) ||
		errors.Is(err, ErrTimeout)
}

// IsResourceError reports whether err means the backend cannot be reached
// at all, which aborts a whole run rather than a single metric.
func IsResourceError(err error) bool {
	return errors.Is(err, ErrServiceUnavailable) || errors.Is(err, ErrConnectionLost)
}

// UnregisteredMetricError reports a metric name with no provider.
type UnregisteredMetricError struct {
	// MetricName is the requested name.
	MetricName string

	// Suggestion is the closest registered name, if one is near enough.
	Suggestion string
}

// Error implements the error interface for UnregisteredMetricError.
func (e *UnregisteredMetricError) Error() string {
	msg := fmt.Sprintf("metric %q is not registered", e.MetricName)
	if e.Suggestion != "" {
		msg += fmt.Sprintf(" (did you mean %q?)", e.Suggestion)
	}
	return msg
}

// Unwrap allows errors.Is(err, ErrUnregisteredMetric).
func (e *UnregisteredMetricError) Unwrap() error { return ErrUnregisteredMetric }

// UnregisteredExpectationError reports an unknown expectation type.
type UnregisteredExpectationError struct {
	ExpectationType string
	Suggestion      string
}

func (e *UnregisteredExpectationError) Error() string {
	msg := fmt.Sprintf("expectation %q is not registered", e.ExpectationType)
	if e.Suggestion != "" {
		msg += fmt.Sprintf(" (did you mean %q?)", e.Suggestion)
	}
	return msg
}

func (e *UnregisteredExpectationError) Unwrap() error { return ErrUnregisteredExpectation }

// CyclicDependencyError reports a dependency cycle. Cycle lists the metric
// names along the cycle, starting and ending with the same name.
type CyclicDependencyError struct {
	Cycle []string
}

// Error implements the error interface for CyclicDependencyError.
func (e *CyclicDependencyError) Error() string {
	return "cyclic metric dependency: " + strings.Join(e.Cycle, " -> ")
}

// Unwrap allows errors.Is(err, ErrCyclicDependency).
func (e *CyclicDependencyError) Unwrap() error { return ErrCyclicDependency }

// MissingParameterError reports a required kwarg absent from a metric or
// expectation configuration.
type MissingParameterError struct {
	// Owner is the metric or expectation that requires the parameter.
	Owner string

	// Parameter is the missing kwarg name.
	Parameter string
}

// Error implements the error interface for MissingParameterError.
func (e *MissingParameterError) Error() string {
	return fmt.Sprintf("%s: missing required parameter %q", e.Owner, e.Parameter)
}

// Unwrap allows errors.Is(err, ErrMissingParameter).
func (e *MissingParameterError) Unwrap() error { return ErrMissingParameter }

// BatchNotLoadedError reports a batch id unknown to the engine.
type BatchNotLoadedError struct {
	BatchID string
}

func (e *BatchNotLoadedError) Error() string {
	if e.BatchID == "" {
		return "no active batch loaded"
	}
	return fmt.Sprintf("batch %q is not loaded", e.BatchID)
}

func (e *BatchNotLoadedError) Unwrap() error { return ErrBatchNotLoaded }

// MetricComputationError attributes a failure to one metric configuration.
type MetricComputationError struct {
	// MetricName is the failed metric.
	MetricName string

	// ConfigurationID is the string form of the configuration id.
	ConfigurationID string

	// Err is the underlying failure.
	Err error
}

// Error implements the error interface for MetricComputationError.
func (e *MetricComputationError) Error() string {
	return fmt.Sprintf("metric %s failed: %v", e.MetricName, e.Err)
}

// Unwrap returns the underlying error.
func (e *MetricComputationError) Unwrap() error { return e.Err }

// DependencyFailedError is recorded for a metric that was not computed
// because one of its dependencies failed. FailedMetric names the root cause.
type DependencyFailedError struct {
	MetricName   string
	FailedMetric string
	Err          error
}

// Error implements the error interface for DependencyFailedError.
func (e *DependencyFailedError) Error() string {
	return fmt.Sprintf("metric %s not computed: dependency %s failed: %v", e.MetricName, e.FailedMetric, e.Err)
}

// Unwrap exposes both the sentinel and the root cause to errors.Is.
func (e *DependencyFailedError) Unwrap() []error { return []error{ErrDependencyFailed, e.Err} }

// ConfigError represents an error from configuration operations.
type ConfigError struct {
	// ConfigKey is the configuration key that was involved in the failed
	// operation.
	ConfigKey string

	// Err is the underlying error that caused the configuration operation
	// to fail.
	Err error
}

// Error implements the error interface for ConfigError.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error: key=%s, err=%v", e.ConfigKey, e.Err)
}

// Unwrap returns the underlying error.
func (e *ConfigError) Unwrap() error { return e.Err }

// NewConfigError creates a new ConfigError with the given details.
func NewConfigError(key string, err error) *ConfigError {
	return &ConfigError{
		ConfigKey: key,
		Err:       err,
	}
}

// IsConfigurationError reports whether err belongs to the configuration
// class: fatal for the affected metric or expectation and never retried.
func IsConfigurationError(err error) bool {
	var cfgErr *ConfigError
	return errors.As(err, &cfgErr) ||
		errors.Is(err, ErrUnregisteredMetric) ||
		errors.Is(err, ErrUnregisteredExpectation) ||
		errors.Is(err, ErrCyclicDependency) ||
		errors.Is(err, ErrMissingParameter) ||
		errors.Is(err, ErrBatchNotLoaded)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
