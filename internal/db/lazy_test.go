package db

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeConn struct{ id int32 }

func TestHandleOpensOnceUnderConcurrentUse(t *testing.T) {
	var opens atomic.Int32
	release := make(chan struct{})

	h := newHandle(func(ctx context.Context) (*fakeConn, error) {
		n := opens.Add(1)
		<-release
		return &fakeConn{id: n}, nil
	}, nil)

	const callers = 16
	var wg sync.WaitGroup
	results := make([]*fakeConn, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conn, err := h.get(context.Background())
			if err != nil {
				t.Errorf("get returned error: %v", err)
				return
			}
			results[i] = conn
		}(i)
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := opens.Load(); got != 1 {
		t.Fatalf("expected one open, got %d", got)
	}
	for i, conn := range results {
		if conn == nil || conn != results[0] {
			t.Fatalf("caller %d got a different handle", i)
		}
	}

	if _, err := h.get(context.Background()); err != nil {
		t.Fatalf("cached get returned error: %v", err)
	}
	if got := opens.Load(); got != 1 {
		t.Fatalf("expected cached handle to be reused, got %d opens", got)
	}
}

func TestHandleRetriesAfterFailedOpen(t *testing.T) {
	var opens atomic.Int32
	dialErr := errors.New("connection refused")

	h := newHandle(func(ctx context.Context) (*fakeConn, error) {
		if opens.Add(1) == 1 {
			return nil, dialErr
		}
		return &fakeConn{id: 2}, nil
	}, nil)

	if _, err := h.get(context.Background()); !errors.Is(err, dialErr) {
		t.Fatalf("expected dial error, got %v", err)
	}

	conn, err := h.get(context.Background())
	if err != nil {
		t.Fatalf("expected second get to reconnect, got %v", err)
	}
	if conn.id != 2 || opens.Load() != 2 {
		t.Fatalf("expected a second open, got conn %d after %d opens", conn.id, opens.Load())
	}
}

func TestHandleCallerDeadlineWhileOpening(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	h := newHandle(func(ctx context.Context) (*fakeConn, error) {
		<-release
		return &fakeConn{}, nil
	}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := h.get(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestHandleClose(t *testing.T) {
	var shutdowns atomic.Int32
	h := newHandle(func(ctx context.Context) (*fakeConn, error) {
		return &fakeConn{}, nil
	}, func(ctx context.Context, c *fakeConn) error {
		shutdowns.Add(1)
		return nil
	})

	if _, err := h.get(context.Background()); err != nil {
		t.Fatalf("get returned error: %v", err)
	}
	if err := h.close(context.Background()); err != nil {
		t.Fatalf("close returned error: %v", err)
	}
	if shutdowns.Load() != 1 {
		t.Fatalf("expected one shutdown, got %d", shutdowns.Load())
	}
	if _, err := h.get(context.Background()); !errors.Is(err, ErrStoreClosed) {
		t.Fatalf("expected ErrStoreClosed after close, got %v", err)
	}
}
