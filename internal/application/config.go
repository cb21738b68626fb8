package application

import (
	"time"
)

// SuiteConfig defines an expectation suite as written in YAML and serves as
// the entry point for declaring validation rules.
// Use SuiteConfig when rules are maintained as files next to the data they
// describe rather than built in code.
type SuiteConfig struct {
	// Name identifies the suite in results and stored artifacts.
	Name string `yaml:"name" validate:"required,min=1,max=255"`
	// Meta is free-form metadata copied into the suite result.
	Meta map[string]any `yaml:"meta"`
	// Parameters are substituted into expectation kwargs written as
	// {$PARAMETER: name}.
	Parameters map[string]any `yaml:"parameters"`
	// Expectations lists the rules in evaluation order.
	Expectations []ExpectationConfig `yaml:"expectations" validate:"required,min=1,dive"`
}

// ExpectationConfig is a single rule within a suite.
type ExpectationConfig struct {
	// Type names a registered expectation, e.g.
	// "expect_column_values_to_be_between".
	Type string `yaml:"type" validate:"required,expectationtype"`
	// Kwargs are passed to the expectation unchanged apart from parameter
	// substitution. Their schema is owned by the expectation.
	Kwargs map[string]any `yaml:"kwargs"`
	// Meta is copied into the expectation configuration.
	Meta map[string]any `yaml:"meta"`
	// Notes are free-form text kept with the configuration.
	Notes string `yaml:"notes" validate:"max=4000"`
}

// RunConfig defines how a suite is run: which backend holds the batch,
// how queries are executed and where results go.
type RunConfig struct {
	// Engine selects and connects the execution backend.
	Engine EngineConfig `yaml:"engine" validate:"required"`
	// Concurrency bounds parallel metric computation.
	Concurrency int `yaml:"concurrency" validate:"min=1,max=256"`
	// Timeout bounds the whole run. Zero disables the run deadline.
	Timeout time.Duration `yaml:"timeout" validate:"min=0"`
	// ResultFormat is one of BOOLEAN_ONLY, BASIC, SUMMARY or COMPLETE.
	ResultFormat string `yaml:"result_format" validate:"resultformat"`
	// CatchExceptions records errored expectations and continues when
	// true; when false the first errored expectation aborts the run.
	// Defaults to true.
	CatchExceptions *bool `yaml:"catch_exceptions"`
	// Query configures the query middleware chain.
	Query QueryConfig `yaml:"query"`
	// Store configures result persistence.
	Store StoreConfig `yaml:"store"`
	// MetricsAddr, when set, serves Prometheus metrics on this address.
	MetricsAddr string `yaml:"metrics_addr" validate:"omitempty,hostname_port"`
}

// EngineConfig describes the execution backend and the batch to load.
type EngineConfig struct {
	// Kind selects the backend.
	Kind string `yaml:"kind" validate:"required,backendkind"`
	// DSN is the connection string for SQL backends.
	DSN string `yaml:"dsn"`
	// BatchID names the loaded batch. Defaults to the table name or CSV
	// file name.
	BatchID string `yaml:"batch_id" validate:"omitempty,max=255"`
	// Table is the SQL table holding the batch.
	Table string `yaml:"table"`
	// Query is a SQL query whose result set is the batch; it is used
	// instead of Table when set.
	Query string `yaml:"query"`
	// CSVPath is the file loaded by tabular and distributed backends.
	CSVPath string `yaml:"csv_path"`
	// Partitions is the number of record batches the distributed
	// backend splits a CSV file into.
	Partitions int `yaml:"partitions" validate:"min=0,max=4096"`
	// DataSources are secondary SQL connections addressable by name from
	// comparison queries.
	DataSources map[string]DataSourceConfig `yaml:"data_sources" validate:"dive"`
}

// DataSourceConfig is a named secondary SQL connection.
type DataSourceConfig struct {
	Kind string `yaml:"kind" validate:"required,oneof=sqlite mysql postgres"`
	DSN  string `yaml:"dsn" validate:"required"`
}

// QueryConfig tunes the middleware wrapped around every backend query.
type QueryConfig struct {
	// Timeout bounds a single query.
	Timeout time.Duration `yaml:"timeout" validate:"min=0"`
	// MaxRetries is the number of retries after the first attempt for
	// transient backend errors. Defaults to DefaultMaxRetries.
	MaxRetries *int `yaml:"max_retries" validate:"omitempty,min=0,max=10"`
	// BaseDelay and MaxDelay bound the exponential backoff.
	BaseDelay time.Duration `yaml:"base_delay" validate:"min=0"`
	MaxDelay  time.Duration `yaml:"max_delay" validate:"min=0"`
	// RateLimit is the sustained queries per second; zero disables
	// rate limiting.
	RateLimit float64 `yaml:"rate_limit" validate:"min=0"`
	// Burst is the rate limiter bucket size.
	Burst int `yaml:"burst" validate:"min=0"`
	// BreakerFailures consecutive failures open the circuit breaker;
	// zero disables it.
	BreakerFailures int `yaml:"breaker_failures" validate:"min=0"`
	// BreakerCooldown is how long the breaker stays open.
	BreakerCooldown time.Duration `yaml:"breaker_cooldown" validate:"min=0"`
}

// StoreConfig selects where suite results are written.
type StoreConfig struct {
	// Kind is "local", "s3" or "gcs". Empty disables persistence.
	Kind string `yaml:"kind" validate:"omitempty,oneof=local s3 gcs"`
	// Dir is the local directory results are written to before upload.
	Dir string `yaml:"dir"`
	// Bucket and Prefix locate uploaded objects.
	Bucket string `yaml:"bucket" validate:"required_if=Kind s3,required_if=Kind gcs"`
	Prefix string `yaml:"prefix"`
	// Region, Endpoint and the static credentials configure S3.
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint" validate:"omitempty,url"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	SessionToken    string `yaml:"session_token"`
	UsePathStyle    bool   `yaml:"use_path_style"`
	// CredentialsFile is a GCS service account key file.
	CredentialsFile string `yaml:"credentials_file"`
}

// Run configuration defaults.
const (
	DefaultQueryTimeout    = 30 * time.Second
	DefaultMaxRetries      = 2
	DefaultBaseDelay       = 200 * time.Millisecond
	DefaultMaxDelay        = 5 * time.Second
	DefaultBreakerCooldown = 30 * time.Second
	DefaultStoreDir        = "results"
	DefaultPartitions      = 4
)

// applyDefaults fills every unset field with its default.
func (c *RunConfig) applyDefaults() {
	if c.Concurrency == 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.ResultFormat == "" {
		c.ResultFormat = "BASIC"
	}
	if c.CatchExceptions == nil {
		catch := true
		c.CatchExceptions = &catch
	}
	if c.Query.Timeout == 0 {
		c.Query.Timeout = DefaultQueryTimeout
	}
	if c.Query.MaxRetries == nil {
		retries := DefaultMaxRetries
		c.Query.MaxRetries = &retries
	}
	if c.Query.BaseDelay == 0 {
		c.Query.BaseDelay = DefaultBaseDelay
	}
	if c.Query.MaxDelay == 0 {
		c.Query.MaxDelay = DefaultMaxDelay
	}
	if c.Query.BreakerFailures > 0 && c.Query.BreakerCooldown == 0 {
		c.Query.BreakerCooldown = DefaultBreakerCooldown
	}
	if c.Query.RateLimit > 0 && c.Query.Burst == 0 {
		c.Query.Burst = 1
	}
	if c.Store.Kind != "" && c.Store.Dir == "" {
		c.Store.Dir = DefaultStoreDir
	}
	if c.Engine.Partitions == 0 {
		c.Engine.Partitions = DefaultPartitions
	}
}
