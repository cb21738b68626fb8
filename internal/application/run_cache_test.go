package application

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunCache_ComputesOncePerID(t *testing.T) {
	cache := NewRunCache()
	id := metric("column.mean").ID()

	var calls, hits atomic.Int64
	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, hit, err := cache.GetOrCompute(id, func() (any, error) {
				calls.Add(1)
				return 42.0, nil
			})
			assert.NoError(t, err)
			assert.Equal(t, 42.0, v)
			if hit {
				hits.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), calls.Load())
	assert.Equal(t, int64(49), hits.Load())
	assert.Equal(t, 1, cache.Len())
}

func TestRunCache_StoresErrors(t *testing.T) {
	cache := NewRunCache()
	id := metric("column.mean").ID()
	boom := errors.New("boom")

	_, hit, err := cache.GetOrCompute(id, func() (any, error) { return nil, boom })
	require.ErrorIs(t, err, boom)
	assert.False(t, hit)

	_, hit, err = cache.GetOrCompute(id, func() (any, error) {
		t.Fatal("failed computation must not be retried within a run")
		return nil, nil
	})
	require.ErrorIs(t, err, boom)
	assert.True(t, hit)

	_, ok, err := cache.Get(id)
	assert.True(t, ok)
	assert.ErrorIs(t, err, boom)
}

func TestRunCache_DoesNotStoreContextErrors(t *testing.T) {
	tests := []struct {
		name   string
		ctxErr error
	}{
		{name: "canceled", ctxErr: context.Canceled},
		{name: "deadline exceeded", ctxErr: context.DeadlineExceeded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cache := NewRunCache()
			id := metric("column.mean").ID()

			_, _, err := cache.GetOrCompute(id, func() (any, error) { return nil, tt.ctxErr })
			require.ErrorIs(t, err, tt.ctxErr)
			assert.Equal(t, 0, cache.Len())

			v, hit, err := cache.GetOrCompute(id, func() (any, error) { return 7, nil })
			require.NoError(t, err)
			assert.False(t, hit)
			assert.Equal(t, 7, v)
		})
	}
}

func TestRunCache_GetMissing(t *testing.T) {
	cache := NewRunCache()

	v, ok, err := cache.Get(metric("column.mean").ID())
	assert.Nil(t, v)
	assert.False(t, ok)
	assert.NoError(t, err)
}
