package ports

import (
	"fmt"
	"strings"

	"github.com/ahrav/go-assay/internal/domain"
)

// ResultFormat controls how much of an expectation's result payload is kept.
type ResultFormat string

const (
	ResultFormatBooleanOnly ResultFormat = "BOOLEAN_ONLY"
	ResultFormatBasic       ResultFormat = "BASIC"
	ResultFormatSummary     ResultFormat = "SUMMARY"
	ResultFormatComplete    ResultFormat = "COMPLETE"
)

// ResultFormats lists every supported format.
var ResultFormats = []ResultFormat{
	ResultFormatBooleanOnly,
	ResultFormatBasic,
	ResultFormatSummary,
	ResultFormatComplete,
}

// ParseResultFormat accepts any casing; empty means BASIC.
func ParseResultFormat(s string) (ResultFormat, error) {
	if strings.TrimSpace(s) == "" {
		return ResultFormatBasic, nil
	}
	f := ResultFormat(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range ResultFormats {
		if f == known {
			return f, nil
		}
	}
	return "", fmt.Errorf("result format %q: %w", s, domain.ErrInvalidConfiguration)
}

// RuntimeConfiguration holds per-run evaluation options.
type RuntimeConfiguration struct {
	// ResultFormat trims result payloads; BOOLEAN_ONLY keeps only success.
	ResultFormat ResultFormat

	// CatchExceptions records errors as errored results when true. When
	// false the first errored expectation aborts the run.
	CatchExceptions bool
}

// DefaultRuntimeConfiguration returns BASIC results with exceptions caught.
func DefaultRuntimeConfiguration() RuntimeConfiguration {
	return RuntimeConfiguration{ResultFormat: ResultFormatBasic, CatchExceptions: true}
}

// Outcome is what an expectation's validation logic returns.
type Outcome struct {
	Success bool
	Result  map[string]any
}

// Expectation turns computed metric values into a success judgement.
// Implementations must be stateless and safe for concurrent use.
type Expectation interface {
	// Type returns the expectation name, e.g. "expect_column_values_to_be_between".
	Type() string

	// ValidateConfiguration checks the kwargs before any metric is computed.
	ValidateConfiguration(cfg domain.ExpectationConfiguration) error

	// MetricDependencies returns the metrics the expectation needs keyed by
	// the names Validate will read. Domain kwargs may omit batch_id; the
	// resolver fills in the active batch.
	MetricDependencies(
		cfg domain.ExpectationConfiguration,
		runtime RuntimeConfiguration,
	) (map[string]domain.MetricConfiguration, error)

	// Validate evaluates the expectation. metrics holds exactly the keys
	// returned by MetricDependencies.
	Validate(
		cfg domain.ExpectationConfiguration,
		metrics domain.Metrics,
		runtime RuntimeConfiguration,
	) (Outcome, error)
}

// ExpectationRegistry maps expectation types to implementations.
type ExpectationRegistry interface {
	Register(expectation Expectation)
	Resolve(expectationType string) (Expectation, error)
	Types() []string
}
