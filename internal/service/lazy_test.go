package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLazyHandle_InitializesOnce(t *testing.T) {
	var inits atomic.Int32
	h := newLazyHandle(func(ctx context.Context) (*int, error) {
		inits.Add(1)
		time.Sleep(10 * time.Millisecond)
		v := 42
		return &v, nil
	})

	var wg sync.WaitGroup
	results := make([]*int, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := h.Get(context.Background())
			assert.NoError(t, err)
			results[i] = v
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), inits.Load())
	for _, v := range results {
		assert.Same(t, results[0], v)
	}
}

func TestLazyHandle_RetriesAfterFailure(t *testing.T) {
	calls := 0
	h := newLazyHandle(func(ctx context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", errors.New("dial failed")
		}
		return "client", nil
	})

	_, err := h.Get(context.Background())
	require.Error(t, err)

	v, err := h.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "client", v)

	_, _ = h.Get(context.Background())
	assert.Equal(t, 2, calls)
}
