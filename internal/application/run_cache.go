package application

import (
	"context"
	"errors"
	"sync"

	"github.com/ahrav/go-assay/internal/domain"
)

// cacheEntry holds one computed metric value or its error.
// Its mutex serialises computation of a single id so that concurrent
// requests for unrelated ids never wait on each other.
type cacheEntry struct {
	mu    sync.Mutex
	done  bool
	value any
	err   error
}

// RunCache is the metric cache of a single validation run, keyed by
// configuration id. At most one computation happens per id; later requests
// observe the stored value or error.
type RunCache struct {
	mu      sync.Mutex
	entries map[domain.MetricConfigurationID]*cacheEntry
}

// NewRunCache creates an empty run cache.
func NewRunCache() *RunCache {
	return &RunCache{entries: make(map[domain.MetricConfigurationID]*cacheEntry)}
}

func (c *RunCache) entry(id domain.MetricConfigurationID) *cacheEntry {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[id]
	if !ok {
		e = &cacheEntry{}
		c.entries[id] = e
	}
	return e
}

// GetOrCompute returns the cached result for id, calling compute if there is
// none. hit reports whether the result came from the cache.
//
// Errors caused by context cancellation or deadline are returned but not
// stored: the metric was never evaluated, so a later run with a fresh
// context may still compute it.
func (c *RunCache) GetOrCompute(
	id domain.MetricConfigurationID,
	compute func() (any, error),
) (value any, hit bool, err error) {
	e := c.entry(id)

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.done {
		return e.value, true, e.err
	}

	value, err = compute()
	if err != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		return nil, false, err
	}
	e.value, e.err, e.done = value, err, true
	return value, false, err
}

// Get returns the stored result for id without computing anything.
func (c *RunCache) Get(id domain.MetricConfigurationID) (value any, ok bool, err error) {
	c.mu.Lock()
	e, exists := c.entries[id]
	c.mu.Unlock()
	if !exists {
		return nil, false, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.done {
		return nil, false, nil
	}
	return e.value, true, e.err
}

// Len returns the number of completed entries.
func (c *RunCache) Len() int {
	c.mu.Lock()
	entries := make([]*cacheEntry, 0, len(c.entries))
	for _, e := range c.entries {
		entries = append(entries, e)
	}
	c.mu.Unlock()

	n := 0
	for _, e := range entries {
		e.mu.Lock()
		if e.done {
			n++
		}
		e.mu.Unlock()
	}
	return n
}
