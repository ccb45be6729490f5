// Package taskqueue bounds the number of concurrently running operations.
// Callers beyond the limit wait in strict arrival (FIFO) order.
package taskqueue

import (
	"container/list"
	"context"
	"sync"
)

// Queue admits at most concurrency operations at a time. A freed slot is
// handed directly to the head waiter rather than decremented and re-raced,
// so admission order is exactly arrival order.
type Queue struct {
	mu          sync.Mutex
	concurrency int
	running     int
	waiters     list.List // of chan struct{}, closed on grant
}

// New creates a Queue with the given concurrency, floored at 1.
func New(concurrency int) *Queue {
	if concurrency < 1 {
		concurrency = 1
	}
	q := &Queue{concurrency: concurrency}
	q.waiters.Init()
	return q
}

// Do runs fn once a slot is available, releasing the slot when fn returns.
// Waiting is aborted if ctx is cancelled first.
func (q *Queue) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := q.acquire(ctx); err != nil {
		return err
	}
	defer q.release()
	return fn(ctx)
}

// Running reports how many operations currently hold a slot.
func (q *Queue) Running() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.running
}

// Waiting reports how many callers are queued for a slot.
func (q *Queue) Waiting() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.waiters.Len()
}

func (q *Queue) acquire(ctx context.Context) error {
	q.mu.Lock()
	// A free slot may only be taken directly when nobody is already
	// queued, otherwise a late arrival would jump the line.
	if q.running < q.concurrency && q.waiters.Len() == 0 {
		q.running++
		q.mu.Unlock()
		return nil
	}
	ch := make(chan struct{})
	elem := q.waiters.PushBack(ch)
	q.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		q.mu.Lock()
		select {
		case <-ch:
			// Granted concurrently with cancellation: the slot is
			// already counted for us, pass it on.
			q.releaseLocked()
		default:
			q.waiters.Remove(elem)
		}
		q.mu.Unlock()
		return ctx.Err()
	}
}

func (q *Queue) release() {
	q.mu.Lock()
	q.releaseLocked()
	q.mu.Unlock()
}

// releaseLocked frees the caller's slot. If anyone is waiting the slot is
// transferred to the head waiter and running stays unchanged. Must be called
// with q.mu held.
func (q *Queue) releaseLocked() {
	if elem := q.waiters.Front(); elem != nil {
		q.waiters.Remove(elem)
		close(elem.Value.(chan struct{}))
		return
	}
	if q.running > 0 {
		q.running--
	}
}
