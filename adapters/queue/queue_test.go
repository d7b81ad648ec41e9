package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/artpar/billgate/adapters/clock"
	"github.com/artpar/billgate/ports"
)

func newTestQueue(opts Options) *Memory {
	return NewMemory(opts, clock.Real{}, zerolog.Nop())
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestMemory_DeliversImmediately(t *testing.T) {
	q := newTestQueue(Options{Workers: 2})
	defer q.Close()

	var delivered int64
	q.Handle("ping", func(ctx context.Context, job ports.Job) error {
		atomic.AddInt64(&delivered, 1)
		return nil
	})
	q.Start()

	for i := 0; i < 5; i++ {
		if err := q.Enqueue(context.Background(), ports.Job{Type: "ping"}, time.Now()); err != nil {
			t.Fatalf("Enqueue error: %v", err)
		}
	}

	waitFor(t, 2*time.Second, func() bool { return atomic.LoadInt64(&delivered) == 5 })
}

func TestMemory_HonorsNotBefore(t *testing.T) {
	q := newTestQueue(Options{Workers: 1})
	defer q.Close()

	var deliveredAt atomic.Value
	q.Handle("later", func(ctx context.Context, job ports.Job) error {
		deliveredAt.Store(time.Now())
		return nil
	})
	q.Start()

	enqueued := time.Now()
	if err := q.Enqueue(context.Background(), ports.Job{Type: "later"}, enqueued.Add(100*time.Millisecond)); err != nil {
		t.Fatalf("Enqueue error: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool { return deliveredAt.Load() != nil })

	if got := deliveredAt.Load().(time.Time); got.Sub(enqueued) < 90*time.Millisecond {
		t.Errorf("delivered after %v, want at least ~100ms", got.Sub(enqueued))
	}
}

func TestMemory_RetriesWithBackoff(t *testing.T) {
	q := newTestQueue(Options{Workers: 1, MaxAttempts: 3, BaseBackoff: 10 * time.Millisecond})
	defer q.Close()

	var mu sync.Mutex
	var attempts []int
	q.Handle("flaky", func(ctx context.Context, job ports.Job) error {
		mu.Lock()
		attempts = append(attempts, job.Attempt)
		mu.Unlock()
		if job.Attempt < 2 {
			return errors.New("transient")
		}
		return nil
	})
	q.Start()

	if err := q.Enqueue(context.Background(), ports.Job{Type: "flaky"}, time.Now()); err != nil {
		t.Fatalf("Enqueue error: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(attempts) == 3
	})

	mu.Lock()
	defer mu.Unlock()
	for i, a := range attempts {
		if a != i {
			t.Errorf("attempt %d delivered with Attempt=%d", i, a)
		}
	}
}

func TestMemory_DropsAfterMaxAttempts(t *testing.T) {
	q := newTestQueue(Options{Workers: 1, MaxAttempts: 2, BaseBackoff: 5 * time.Millisecond})
	defer q.Close()

	var delivered int64
	q.Handle("doomed", func(ctx context.Context, job ports.Job) error {
		atomic.AddInt64(&delivered, 1)
		return errors.New("always fails")
	})
	q.Start()

	if err := q.Enqueue(context.Background(), ports.Job{Type: "doomed"}, time.Now()); err != nil {
		t.Fatalf("Enqueue error: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool { return atomic.LoadInt64(&delivered) == 2 })

	// Give it a moment to prove no further deliveries happen.
	time.Sleep(50 * time.Millisecond)
	if got := atomic.LoadInt64(&delivered); got != 2 {
		t.Errorf("delivered %d times, want exactly 2", got)
	}
}

func TestMemory_EnqueueAfterClose(t *testing.T) {
	q := newTestQueue(Options{})
	q.Start()
	if err := q.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}
	if err := q.Enqueue(context.Background(), ports.Job{Type: "x"}, time.Now()); err == nil {
		t.Error("expected error enqueueing on closed queue")
	}
}
