package service

import (
	"context"
	"sync"
)

// lazyHandle builds an expensive client on first use. Concurrent first
// callers block on the same initialization; a failed init is retried by the
// next caller.
type lazyHandle[T any] struct {
	mu    sync.Mutex
	init  func(ctx context.Context) (T, error)
	value T
	ready bool
}

func newLazyHandle[T any](init func(ctx context.Context) (T, error)) *lazyHandle[T] {
	return &lazyHandle[T]{init: init}
}

// Get returns the cached value, initializing it if needed.
func (h *lazyHandle[T]) Get(ctx context.Context) (T, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.ready {
		return h.value, nil
	}
	v, err := h.init(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	h.value, h.ready = v, true
	return v, nil
}
