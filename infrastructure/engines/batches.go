// Package engines holds the bookkeeping shared by every execution engine:
// the batch table, the split of domain kwargs into compute and accessor
// kwargs, and zero-copy filtered row views.
package engines

import (
	"fmt"
	"strings"
	"sync"

	"github.com/ahrav/go-assay/internal/domain"
	"github.com/ahrav/go-assay/internal/ports"
)

// Batches maps batch ids to engine-specific batch data and tracks the
// active batch. It is safe for concurrent use.
type Batches[T any] struct {
	mu     sync.RWMutex
	data   map[string]T
	active string
}

// NewBatches creates an empty batch table.
func NewBatches[T any]() *Batches[T] {
	return &Batches[T]{data: make(map[string]T)}
}

// Load registers data under id and makes it the active batch. Loading an
// id twice replaces the earlier data.
func (b *Batches[T]) Load(id string, data T) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("batch id: %w", domain.ErrEmptyValue)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data[id] = data
	b.active = id
	return nil
}

// Get returns the data registered under id.
func (b *Batches[T]) Get(id string) (T, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	d, ok := b.data[id]
	if !ok {
		var zero T
		return zero, &ports.BatchNotLoadedError{BatchID: id}
	}
	return d, nil
}

// Active returns the active batch id, empty before the first Load.
func (b *Batches[T]) Active() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.active
}

// SetActive switches to an already loaded batch.
func (b *Batches[T]) SetActive(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.data[id]; !ok {
		return &ports.BatchNotLoadedError{BatchID: id}
	}
	b.active = id
	return nil
}

// Resolve returns the batch named by the batch_id kwarg, falling back to
// the active batch when the kwarg is absent.
func (b *Batches[T]) Resolve(kwargs domain.Kwargs) (string, T, error) {
	id, _ := kwargs.String(domain.KwargBatchID)
	if id == "" {
		id = b.Active()
	}
	if id == "" {
		var zero T
		return "", zero, &ports.BatchNotLoadedError{}
	}
	d, err := b.Get(id)
	return id, d, err
}

// IDs returns the loaded batch ids in no particular order.
func (b *Batches[T]) IDs() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ids := make([]string, 0, len(b.data))
	for id := range b.data {
		ids = append(ids, id)
	}
	return ids
}
