package db

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/singleflight"
)

var ErrStoreClosed = errors.New("db: store closed")

// handle is a lazily opened connection shared by every request. Concurrent
// first use performs a single open; a failed open is not cached, so the next
// call tries again.
type handle[T any] struct {
	open     func(context.Context) (T, error)
	shutdown func(context.Context, T) error

	group  singleflight.Group
	mu     sync.RWMutex
	value  T
	ready  bool
	closed bool
}

func newHandle[T any](open func(context.Context) (T, error), shutdown func(context.Context, T) error) *handle[T] {
	return &handle[T]{open: open, shutdown: shutdown}
}

func (h *handle[T]) get(ctx context.Context) (T, error) {
	var zero T

	h.mu.RLock()
	value, ready, closed := h.value, h.ready, h.closed
	h.mu.RUnlock()
	if closed {
		return zero, ErrStoreClosed
	}
	if ready {
		return value, nil
	}

	// The shared open outlives any single caller; each caller still honours
	// its own deadline while waiting.
	openCtx := context.WithoutCancel(ctx)
	ch := h.group.DoChan("open", func() (interface{}, error) {
		h.mu.RLock()
		if h.ready {
			v := h.value
			h.mu.RUnlock()
			return v, nil
		}
		h.mu.RUnlock()

		v, err := h.open(openCtx)
		if err != nil {
			return nil, err
		}

		h.mu.Lock()
		defer h.mu.Unlock()
		if h.closed {
			if h.shutdown != nil {
				_ = h.shutdown(openCtx, v)
			}
			return nil, ErrStoreClosed
		}
		h.value, h.ready = v, true
		return v, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		return res.Val.(T), nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func (h *handle[T]) close(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	if !h.ready {
		return nil
	}

	value := h.value
	var zero T
	h.value, h.ready = zero, false
	if h.shutdown == nil {
		return nil
	}
	return h.shutdown(ctx, value)
}
