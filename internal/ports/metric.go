package ports

import (
	"context"

	"github.com/ahrav/go-assay/internal/domain"
)

// MetricCall carries the inputs of one metric computation.
type MetricCall struct {
	// Configuration is the fully resolved configuration, defaults applied
	// and batch_id filled in.
	Configuration domain.MetricConfiguration

	// DomainKwargs and ValueKwargs are copies of the configuration's kwargs.
	DomainKwargs domain.Kwargs
	ValueKwargs  domain.Kwargs

	// Metrics holds the resolved evaluation dependencies keyed by the
	// logical names returned from MetricProvider.Dependencies.
	Metrics domain.Metrics
}

// MetricProvider defines a named, parameterized quantity and its per-backend
// implementations. Providers are registered once at startup and must be
// stateless and safe for concurrent use.
//
// A provider that has no implementation for a backend returns
// ErrNotImplemented from the corresponding Compute method. That signal is
// distinct from a computation failure and is reported as such.
type MetricProvider interface {
	// Name returns the dot-segmented metric name, e.g. "column.mean".
	Name() string

	// DomainType returns the shape of data the metric operates on.
	DomainType() DomainType

	// DomainKeys and ValueKeys list the kwarg names the provider accepts,
	// used to split a raw parameter bag into domain and value kwargs.
	DomainKeys() []string
	ValueKeys() []string

	// DefaultValueKwargs returns the defaults substituted into value
	// kwargs before the configuration id is computed.
	DefaultValueKwargs() domain.Kwargs

	// Dependencies returns the metrics that must be resolved before this
	// one, keyed by logical name. It may return nil.
	Dependencies(cfg domain.MetricConfiguration) (map[string]domain.MetricConfiguration, error)

	// ComputeTabular computes the metric on an in-memory engine.
	ComputeTabular(ctx context.Context, engine TabularEngine, call MetricCall) (any, error)

	// ComputeSQL computes the metric on a relational engine.
	ComputeSQL(ctx context.Context, engine SQLEngine, call MetricCall) (any, error)

	// ComputeDistributed computes the metric on a partitioned engine.
	ComputeDistributed(ctx context.Context, engine DistributedEngine, call MetricCall) (any, error)
}

// MetricRegistry maps metric names to providers. Registration happens during
// startup; Resolve must be safe for concurrent use afterwards.
type MetricRegistry interface {
	// Register adds or replaces the provider under its name. A later
	// registration of the same name wins.
	Register(provider MetricProvider)

	// Resolve returns the provider for name or an *UnregisteredMetricError.
	Resolve(name string) (MetricProvider, error)

	// Names returns the registered metric names, sorted.
	Names() []string
}
