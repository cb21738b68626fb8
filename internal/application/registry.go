package application

import (
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/agnivade/levenshtein"

	"github.com/ahrav/go-assay/internal/ports"
)

// Verify interface compliance at compile time.
var (
	_ ports.MetricRegistry      = (*DefaultMetricRegistry)(nil)
	_ ports.ExpectationRegistry = (*DefaultExpectationRegistry)(nil)
)

// maxSuggestionDistance bounds how far a misspelled name may be from a
// registered one before no suggestion is offered.
const maxSuggestionDistance = 3

// DefaultMetricRegistry implements the MetricRegistry interface with a
// name-keyed provider map. Providers are registered during startup and the
// registry is read-only while validation runs, so lookups take a read lock.
type DefaultMetricRegistry struct {
	// providers maps metric names to their providers.
	providers map[string]ports.MetricProvider
	// mu protects concurrent access to the providers map.
	mu     sync.RWMutex
	logger *slog.Logger
}

// NewDefaultMetricRegistry creates an empty metric registry. Built-in
// providers are added by the metrics package's RegisterBuiltins.
func NewDefaultMetricRegistry(logger *slog.Logger) *DefaultMetricRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &DefaultMetricRegistry{
		providers: make(map[string]ports.MetricProvider),
		logger:    logger,
	}
}

// Register adds provider under its name. Registering a name that already
// exists replaces the earlier provider, which lets a caller override a
// built-in with a specialised implementation.
func (r *DefaultMetricRegistry) Register(provider ports.MetricProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := provider.Name()
	if _, exists := r.providers[name]; exists {
		r.logger.Debug("overriding metric provider", slog.String("metric", name))
	}
	r.providers[name] = provider
}

// Resolve returns the provider registered under name.
// It returns an *ports.UnregisteredMetricError, with the closest registered
// name as a suggestion, when none exists.
func (r *DefaultMetricRegistry) Resolve(name string) (ports.MetricProvider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if p, ok := r.providers[name]; ok {
		return p, nil
	}
	return nil, &ports.UnregisteredMetricError{
		MetricName: name,
		Suggestion: closestName(name, maps.Keys(r.providers)),
	}
}

// Names returns the registered metric names in sorted order.
func (r *DefaultMetricRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return slices.Sorted(maps.Keys(r.providers))
}

// DefaultExpectationRegistry maps expectation types to implementations.
type DefaultExpectationRegistry struct {
	expectations map[string]ports.Expectation
	mu           sync.RWMutex
	logger       *slog.Logger
}

// NewDefaultExpectationRegistry creates an empty expectation registry.
func NewDefaultExpectationRegistry(logger *slog.Logger) *DefaultExpectationRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &DefaultExpectationRegistry{
		expectations: make(map[string]ports.Expectation),
		logger:       logger,
	}
}

// Register adds or replaces the expectation under its type.
func (r *DefaultExpectationRegistry) Register(expectation ports.Expectation) {
	r.mu.Lock()
	defer r.mu.Unlock()

	typ := expectation.Type()
	if _, exists := r.expectations[typ]; exists {
		r.logger.Debug("overriding expectation", slog.String("expectation_type", typ))
	}
	r.expectations[typ] = expectation
}

// Resolve returns the expectation registered under expectationType.
func (r *DefaultExpectationRegistry) Resolve(expectationType string) (ports.Expectation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if e, ok := r.expectations[expectationType]; ok {
		return e, nil
	}
	return nil, &ports.UnregisteredExpectationError{
		ExpectationType: expectationType,
		Suggestion:      closestName(expectationType, maps.Keys(r.expectations)),
	}
}

// Types returns the registered expectation types in sorted order.
func (r *DefaultExpectationRegistry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return slices.Sorted(maps.Keys(r.expectations))
}

// closestName returns the candidate with the smallest edit distance to name,
// or "" when nothing is within maxSuggestionDistance. Ties go to the
// lexically smaller candidate so suggestions are stable.
func closestName(name string, candidates func(yield func(string) bool)) string {
	best, bestDist := "", maxSuggestionDistance+1
	target := strings.ToLower(name)
	for _, c := range slices.Sorted(candidates) {
		d := levenshtein.ComputeDistance(target, strings.ToLower(c))
		if d < bestDist {
			best, bestDist = c, d
		}
	}
	return best
}
