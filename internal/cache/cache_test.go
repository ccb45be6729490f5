package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

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

func newTestCache[T any](ttl time.Duration, max int, clock *fakeClock) *Cache[T] {
	c := New[T](ttl, max)
	c.now = clock.Now
	return c
}

func TestSetThenGet(t *testing.T) {
	clock := newFakeClock(time.Now())
	c := newTestCache[string](time.Minute, 10, clock)

	c.Set("k", "v")
	got, ok := c.Get("k")
	if !ok || got != "v" {
		t.Fatalf("expected hit with %q, got %q (ok=%v)", "v", got, ok)
	}
}

func TestMissOnUnknownKey(t *testing.T) {
	clock := newFakeClock(time.Now())
	c := newTestCache[string](time.Minute, 10, clock)

	if _, ok := c.Get("absent"); ok {
		t.Fatal("expected miss for unknown key")
	}
}

func TestExpiryPurgesEntry(t *testing.T) {
	clock := newFakeClock(time.Now())
	c := newTestCache[int](time.Minute, 10, clock)

	c.Set("k", 42)
	clock.Advance(time.Minute + time.Second)

	if _, ok := c.Get("k"); ok {
		t.Fatal("expected miss after TTL elapsed")
	}
	// The lazy purge means the expired entry no longer counts.
	if c.Len() != 0 {
		t.Fatalf("expected 0 entries after purge, got %d", c.Len())
	}
}

func TestEntryVisibleUntilExpiry(t *testing.T) {
	clock := newFakeClock(time.Now())
	c := newTestCache[int](time.Minute, 10, clock)

	c.Set("k", 1)
	clock.Advance(59 * time.Second)
	if _, ok := c.Get("k"); !ok {
		t.Fatal("entry should still be visible before expiry")
	}
}

func TestCapacityEvictsOldestInserted(t *testing.T) {
	clock := newFakeClock(time.Now())
	c := newTestCache[int](time.Hour, 3, clock)

	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("c", 3)

	// Reading "a" must not protect it: eviction is insertion-order, not LRU.
	if _, ok := c.Get("a"); !ok {
		t.Fatal("expected hit on a")
	}

	c.Set("d", 4)

	if _, ok := c.Get("a"); ok {
		t.Fatal("expected oldest-inserted entry a to be evicted")
	}
	for _, k := range []string{"b", "c", "d"} {
		if _, ok := c.Get(k); !ok {
			t.Fatalf("expected %q to survive eviction", k)
		}
	}
}

func TestOverwriteKeepsInsertionPosition(t *testing.T) {
	clock := newFakeClock(time.Now())
	c := newTestCache[int](time.Hour, 2, clock)

	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("a", 10) // overwrite, a stays oldest

	if got, _ := c.Get("a"); got != 10 {
		t.Fatalf("expected overwritten value 10, got %d", got)
	}

	c.Set("c", 3)
	if _, ok := c.Get("a"); ok {
		t.Fatal("expected a (oldest insertion) to be evicted, not b")
	}
	if _, ok := c.Get("b"); !ok {
		t.Fatal("expected b to survive")
	}
}

func TestEvictionNeverExceedsCapacity(t *testing.T) {
	clock := newFakeClock(time.Now())
	c := newTestCache[int](time.Hour, 5, clock)

	for i := 0; i < 50; i++ {
		c.Set(fmt.Sprintf("k%d", i), i)
		if c.Len() > 5 {
			t.Fatalf("cache grew past capacity: %d entries", c.Len())
		}
	}
}
