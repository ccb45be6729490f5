package taskqueue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// waitFor polls cond until it returns true or the deadline passes.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal(msg)
}

func TestConcurrencyBound(t *testing.T) {
	const concurrency = 2
	const total = 6

	q := New(concurrency)
	release := make(chan struct{})
	var running, peak int32
	var wg sync.WaitGroup

	for i := 0; i < total; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = q.Do(context.Background(), func(context.Context) error {
				n := atomic.AddInt32(&running, 1)
				for {
					p := atomic.LoadInt32(&peak)
					if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
						break
					}
				}
				<-release
				atomic.AddInt32(&running, -1)
				return nil
			})
		}()
	}

	waitFor(t, func() bool { return atomic.LoadInt32(&running) == concurrency }, "first tasks never started")
	waitFor(t, func() bool { return q.Waiting() == total-concurrency }, "remaining tasks never queued")

	close(release)
	wg.Wait()

	if got := atomic.LoadInt32(&peak); got != concurrency {
		t.Fatalf("expected at most %d concurrent tasks, observed peak %d", concurrency, got)
	}
	if q.Running() != 0 {
		t.Fatalf("expected 0 running after completion, got %d", q.Running())
	}
}

func TestFIFOAdmissionOrder(t *testing.T) {
	q := New(1)
	block := make(chan struct{})

	// Occupy the single slot.
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = q.Do(context.Background(), func(context.Context) error {
			<-block
			return nil
		})
	}()
	waitFor(t, func() bool { return q.Running() == 1 }, "holder never started")

	var mu sync.Mutex
	var started []int

	// Enqueue waiters one at a time so their arrival order is known.
	for i := 0; i < 5; i++ {
		i := i
		before := q.Waiting()
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = q.Do(context.Background(), func(context.Context) error {
				mu.Lock()
				started = append(started, i)
				mu.Unlock()
				return nil
			})
		}()
		waitFor(t, func() bool { return q.Waiting() == before+1 }, "waiter never queued")
	}

	close(block)
	wg.Wait()

	for i, got := range started {
		if got != i {
			t.Fatalf("expected FIFO admission order, got %v", started)
		}
	}
}

func TestErrorStillReleasesSlot(t *testing.T) {
	q := New(1)
	wantErr := errors.New("boom")

	if err := q.Do(context.Background(), func(context.Context) error { return wantErr }); !errors.Is(err, wantErr) {
		t.Fatalf("expected %v, got %v", wantErr, err)
	}
	if q.Running() != 0 {
		t.Fatalf("slot not released after error, running=%d", q.Running())
	}

	// The slot must be reusable.
	if err := q.Do(context.Background(), func(context.Context) error { return nil }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCancelWhileWaiting(t *testing.T) {
	q := New(1)
	block := make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = q.Do(context.Background(), func(context.Context) error {
			<-block
			return nil
		})
	}()
	waitFor(t, func() bool { return q.Running() == 1 }, "holder never started")

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- q.Do(ctx, func(context.Context) error { return nil })
	}()
	waitFor(t, func() bool { return q.Waiting() == 1 }, "waiter never queued")

	cancel()
	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled waiter never returned")
	}
	if q.Waiting() != 0 {
		t.Fatalf("cancelled waiter still queued, waiting=%d", q.Waiting())
	}

	close(block)
	wg.Wait()
}

func TestConcurrencyFlooredAtOne(t *testing.T) {
	q := New(0)
	if err := q.Do(context.Background(), func(context.Context) error { return nil }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
