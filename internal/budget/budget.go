// Package budget tracks per-tenant request and estimated token usage within
// fixed UTC calendar-hour windows and rejects tenants that reach their
// hourly request ceiling.
//
// Buckets for past hours are never pruned; memory grows with tenant x hour
// cardinality over the life of the process.
package budget

import (
	"fmt"
	"sync"
	"time"
)

// Usage is the running totals for one (tenant, hour) bucket.
type Usage struct {
	Requests     int   `json:"requests"`
	EstTokensIn  int64 `json:"estTokensIn"`
	EstTokensOut int64 `json:"estTokensOut"`
}

// Tracker counts usage per tenant per calendar hour. It is safe for
// concurrent use.
type Tracker struct {
	mu                          sync.Mutex
	buckets                     map[string]*Usage
	maxRequestsPerTenantPerHour int
	now                         func() time.Time // injectable clock for testing
}

// New creates a Tracker with the given hourly request ceiling, floored at 1.
func New(maxRequestsPerTenantPerHour int) *Tracker {
	if maxRequestsPerTenantPerHour < 1 {
		maxRequestsPerTenantPerHour = 1
	}
	return &Tracker{
		buckets:                     make(map[string]*Usage),
		maxRequestsPerTenantPerHour: maxRequestsPerTenantPerHour,
		now:                         time.Now,
	}
}

// bucketKey derives the key for tenantID's current bucket. The window is a
// fixed calendar hour in UTC, not a sliding one: bursts straddling an hour
// boundary land in two independent budgets.
func (t *Tracker) bucketKey(tenantID string) string {
	now := t.now().UTC()
	return fmt.Sprintf("%s:%d-%d-%d-%d", tenantID, now.Year(), int(now.Month()), now.Day(), now.Hour())
}

// CanConsume reports whether tenantID is below its ceiling for the current
// hour.
func (t *Tracker) CanConsume(tenantID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.canConsumeLocked(tenantID)
}

func (t *Tracker) canConsumeLocked(tenantID string) bool {
	b, ok := t.buckets[t.bucketKey(tenantID)]
	if !ok {
		return true
	}
	return b.Requests < t.maxRequestsPerTenantPerHour
}

// Consume records one request plus truncated non-negative token estimates
// against tenantID's current bucket. Callers must check CanConsume first;
// Consume itself never rejects.
func (t *Tracker) Consume(tenantID string, estTokensIn, estTokensOut int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.consumeLocked(tenantID, estTokensIn, estTokensOut)
}

func (t *Tracker) consumeLocked(tenantID string, estTokensIn, estTokensOut int64) {
	key := t.bucketKey(tenantID)
	b, ok := t.buckets[key]
	if !ok {
		b = &Usage{}
		t.buckets[key] = b
	}
	b.Requests++
	if estTokensIn > 0 {
		b.EstTokensIn += estTokensIn
	}
	if estTokensOut > 0 {
		b.EstTokensOut += estTokensOut
	}
}

// TryConsume performs the admission check and the consumption as one atomic
// region, returning false (and recording nothing) when the ceiling is
// reached. This is the entry point concurrent callers must use: a separate
// CanConsume/Consume pair can interleave with another goroutine between the
// check and the increment.
func (t *Tracker) TryConsume(tenantID string, estTokensIn, estTokensOut int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.canConsumeLocked(tenantID) {
		return false
	}
	t.consumeLocked(tenantID, estTokensIn, estTokensOut)
	return true
}

// Usage returns a copy of tenantID's current-hour bucket, zeroed if the
// tenant has no usage this hour.
func (t *Tracker) Usage(tenantID string) Usage {
	t.mu.Lock()
	defer t.mu.Unlock()
	if b, ok := t.buckets[t.bucketKey(tenantID)]; ok {
		return *b
	}
	return Usage{}
}
