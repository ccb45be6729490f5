// Package retry wraps an operation with bounded retry and exponential
// backoff plus jitter.
package retry

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// maxJitter is the upper bound of the uniform random delay added to each
// backoff sleep so concurrent callers retrying in lockstep spread out.
const maxJitter = 75 * time.Millisecond

// ErrNoAttempts is returned when Do is invoked with attempts < 1 and the
// operation was never run.
var ErrNoAttempts = errors.New("retry: no attempts made")

// Policy retries an operation up to a fixed number of attempts, sleeping
// base*2^i plus jitter between attempt i and i+1. The zero delay between
// final failure and return means the last error is propagated immediately.
type Policy struct {
	Attempts  int
	BaseDelay time.Duration

	// sleep and jitter are injectable for deterministic tests.
	sleep  func(ctx context.Context, d time.Duration) error
	jitter func() time.Duration
}

// New creates a Policy. Attempts and baseDelay are floored at 1 and 0
// respectively.
func New(attempts int, baseDelay time.Duration) *Policy {
	if attempts < 1 {
		attempts = 1
	}
	if baseDelay < 0 {
		baseDelay = 0
	}
	return &Policy{
		Attempts:  attempts,
		BaseDelay: baseDelay,
		sleep:     sleepCtx,
		jitter:    func() time.Duration { return time.Duration(rand.Int63n(int64(maxJitter))) },
	}
}

// Do runs fn until it succeeds or Attempts tries have failed, returning the
// last observed error. Backoff sleeps are interrupted by ctx cancellation,
// in which case the context error is returned.
func (p *Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	lastErr := ErrNoAttempts
	for i := 0; i < p.Attempts; i++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if i >= p.Attempts-1 {
			break
		}
		delay := p.BaseDelay*(1<<uint(i)) + p.jitter()
		if err := p.sleep(ctx, delay); err != nil {
			return err
		}
	}
	return lastErr
}

// sleepCtx blocks for d or until ctx is done, whichever is first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
