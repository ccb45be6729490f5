// Package dedupe collapses concurrent computations that share a key into a
// single execution whose outcome every caller observes.
package dedupe

import (
	"context"
	"sync"
)

type call[T any] struct {
	done chan struct{}
	val  T
	err  error
}

// Group tracks at most one in-flight computation per key. It is safe for
// concurrent use.
type Group[T any] struct {
	mu       sync.Mutex
	inflight map[string]*call[T]
}

// NewGroup creates an empty Group.
func NewGroup[T any]() *Group[T] {
	return &Group[T]{inflight: make(map[string]*call[T])}
}

// Do returns the result of fn for key. If another caller is already running
// fn for the same key, Do waits for that computation and returns its outcome
// (shared=true) instead of starting a new one. The in-flight registration is
// removed the instant the computation settles, success or failure, so a
// later call with the same key starts fresh.
//
// A waiting caller that is cancelled detaches with ctx.Err(); the owning
// computation keeps running for the remaining waiters.
func (g *Group[T]) Do(ctx context.Context, key string, fn func() (T, error)) (val T, shared bool, err error) {
	g.mu.Lock()
	if c, ok := g.inflight[key]; ok {
		g.mu.Unlock()
		select {
		case <-c.done:
			return c.val, true, c.err
		case <-ctx.Done():
			var zero T
			return zero, true, ctx.Err()
		}
	}
	c := &call[T]{done: make(chan struct{})}
	g.inflight[key] = c
	g.mu.Unlock()

	defer func() {
		g.mu.Lock()
		delete(g.inflight, key)
		g.mu.Unlock()
		close(c.done)
	}()

	c.val, c.err = fn()
	return c.val, false, c.err
}

// Inflight reports the number of pending computations.
func (g *Group[T]) Inflight() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.inflight)
}
