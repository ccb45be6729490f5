package budget

import (
	"sync"
	"testing"
	"time"
)

// fakeClock is a controllable time source for deterministic tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock {
	return &fakeClock{now: t}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestTracker(limit int, clock *fakeClock) *Tracker {
	tr := New(limit)
	tr.now = clock.Now
	return tr
}

func TestCeilingWithinHour(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC))
	tr := newTestTracker(3, clock)

	for i := 0; i < 3; i++ {
		if !tr.CanConsume("tenant-a") {
			t.Fatalf("request %d should be admitted", i+1)
		}
		tr.Consume("tenant-a", 10, 20)
	}
	if tr.CanConsume("tenant-a") {
		t.Fatal("4th request should be rejected")
	}
}

func TestBucketRollsToNextHour(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 3, 14, 10, 59, 0, 0, time.UTC))
	tr := newTestTracker(2, clock)

	tr.Consume("t", 1, 1)
	tr.Consume("t", 1, 1)
	if tr.CanConsume("t") {
		t.Fatal("should be rejected at ceiling")
	}

	// A new calendar hour gets a fresh, zeroed bucket even seconds later.
	clock.Advance(time.Minute)
	if !tr.CanConsume("t") {
		t.Fatal("should be admitted in the next hour bucket")
	}
	if got := tr.Usage("t"); got.Requests != 0 {
		t.Fatalf("expected zeroed bucket after hour roll, got %+v", got)
	}
}

func TestTenantsIsolated(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC))
	tr := newTestTracker(1, clock)

	tr.Consume("a", 0, 0)
	if tr.CanConsume("a") {
		t.Fatal("tenant a should be at ceiling")
	}
	if !tr.CanConsume("b") {
		t.Fatal("tenant b should have its own bucket")
	}
}

func TestTokenEstimatesAccumulate(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC))
	tr := newTestTracker(10, clock)

	tr.Consume("t", 100, 650)
	tr.Consume("t", 50, 650)
	// Negative estimates are dropped, not subtracted.
	tr.Consume("t", -5, -1)

	got := tr.Usage("t")
	if got.Requests != 3 {
		t.Errorf("expected 3 requests, got %d", got.Requests)
	}
	if got.EstTokensIn != 150 {
		t.Errorf("expected 150 tokens in, got %d", got.EstTokensIn)
	}
	if got.EstTokensOut != 1300 {
		t.Errorf("expected 1300 tokens out, got %d", got.EstTokensOut)
	}
}

func TestTryConsumeAtomic(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC))
	tr := newTestTracker(5, clock)

	// 20 goroutines race for 5 slots; exactly 5 must win.
	var wg sync.WaitGroup
	results := make(chan bool, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- tr.TryConsume("t", 1, 1)
		}()
	}
	wg.Wait()
	close(results)

	admitted := 0
	for ok := range results {
		if ok {
			admitted++
		}
	}
	if admitted != 5 {
		t.Fatalf("expected exactly 5 admissions, got %d", admitted)
	}
	if got := tr.Usage("t"); got.Requests != 5 {
		t.Fatalf("expected 5 recorded requests, got %d", got.Requests)
	}
}

func TestLimitFlooredAtOne(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC))
	tr := newTestTracker(0, clock)

	if !tr.TryConsume("t", 0, 0) {
		t.Fatal("floored limit should admit one request")
	}
	if tr.TryConsume("t", 0, 0) {
		t.Fatal("second request should be rejected")
	}
}
