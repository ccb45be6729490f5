// Package gateway mediates all application calls to the upstream LLM
// provider: it bounds outbound concurrency, deduplicates identical
// in-flight requests, caches results, enforces per-tenant hourly budgets
// and retries transient upstream failures.
package gateway

import (
	"context"
	"strings"
	"time"

	"github.com/obrasoft/aigateway/internal/budget"
	"github.com/obrasoft/aigateway/internal/cache"
	"github.com/obrasoft/aigateway/internal/config"
	"github.com/obrasoft/aigateway/internal/dedupe"
	"github.com/obrasoft/aigateway/internal/retry"
	"github.com/obrasoft/aigateway/internal/taskqueue"
	"github.com/obrasoft/aigateway/internal/upstream"
)

// defaultTenant attributes requests with no usable tenant id so every
// request lands in some budget bucket.
const defaultTenant = "default"

// Result-array caps bound downstream rendering cost.
const (
	maxScopeTasks     = 12
	maxScopeChecklist = 24
	maxScopeProcess   = 30
	maxPriceOptions   = 12
)

// UpstreamClient is the provider surface the gateway calls. Satisfied by
// *upstream.Client; tests substitute mocks.
type UpstreamClient interface {
	ChatCompletion(ctx context.Context, body any) (map[string]any, error)
	Responses(ctx context.Context, body any) (map[string]any, error)
}

// Recorder is an optional metrics sink.
type Recorder interface {
	IncRequest(operation, outcome string)
	IncCacheHit(operation string)
	IncCacheMiss(operation string)
	IncDedupeShared(operation string)
	IncBudgetRejection(operation string)
	IncUpstreamRetry(operation string)
	IncUpstreamError(operation, errorType string)
	ObserveUpstreamDuration(operation string, seconds float64)
}

// Gateway orchestrates the request pipeline for both operations. Construct
// one per process and share it; all state (caches, budget buckets, inflight
// registrations, queue counters) is in-memory and process-lifetime only.
type Gateway struct {
	cfg        config.AIConfig
	model      string
	priceModel string

	client       UpstreamClient
	queue        *taskqueue.Queue
	retry        *retry.Policy
	scopeCache   *cache.Cache[ScopeResult]
	priceCache   *cache.Cache[PriceLookupResult]
	scopeFlights *dedupe.Group[ScopeResult]
	priceFlights *dedupe.Group[PriceLookupResult]
	budget       *budget.Tracker

	metrics Recorder
	now     func() time.Time
}

// New creates a Gateway from the loaded configuration and an upstream
// client.
func New(cfg *config.Config, client UpstreamClient) *Gateway {
	return &Gateway{
		cfg:          cfg.AI,
		model:        cfg.Upstream.Model,
		priceModel:   cfg.Upstream.PriceModel,
		client:       client,
		queue:        taskqueue.New(cfg.AI.QueueConcurrency),
		retry:        retry.New(cfg.AI.RetryAttempts, cfg.AI.RetryBaseDelay),
		scopeCache:   cache.New[ScopeResult](cfg.AI.CacheTTL, cfg.AI.CacheMaxEntries),
		priceCache:   cache.New[PriceLookupResult](cfg.AI.CacheTTL, cfg.AI.CacheMaxEntries),
		scopeFlights: dedupe.NewGroup[ScopeResult](),
		priceFlights: dedupe.NewGroup[PriceLookupResult](),
		budget:       budget.New(cfg.AI.MaxRequestsPerTenantPerHour),
		now:          time.Now,
	}
}

// SetMetrics attaches an optional metrics recorder.
func (g *Gateway) SetMetrics(m Recorder) {
	g.metrics = m
}

// CostSaver reports whether cost-saver mode is active.
func (g *Gateway) CostSaver() bool {
	return g.cfg.CostSaver
}

// QueueStats reports how many upstream calls are running and waiting.
func (g *Gateway) QueueStats() (running, waiting int) {
	return g.queue.Running(), g.queue.Waiting()
}

// TenantUsage returns the current-hour usage bucket for a tenant. The raw
// id is normalized the same way the request pipeline normalizes it.
func (g *Gateway) TenantUsage(tenantID string) budget.Usage {
	return g.budget.Usage(tenantOrDefault(tenantID))
}

func tenantOrDefault(raw string) string {
	if t := strings.TrimSpace(raw); t != "" {
		return t
	}
	return defaultTenant
}

// spend admits and records one request for tenantID as a single atomic
// step. promptChars drives a crude input estimate (four characters per
// token); the output estimate is the configured ceiling, pessimistically.
func (g *Gateway) spend(operation, tenantID string, promptChars, maxOutTokens int) error {
	estIn := int64((promptChars + 3) / 4)
	if !g.budget.TryConsume(tenantID, estIn, int64(maxOutTokens)) {
		if g.metrics != nil {
			g.metrics.IncBudgetRejection(operation)
		}
		return ErrBudgetExceeded
	}
	return nil
}

// callUpstream runs fn through the bounded queue inside the retry policy,
// so each retry attempt re-queues behind current traffic. fn performs one
// provider call and returns its decoded payload.
func (g *Gateway) callUpstream(ctx context.Context, operation string, fn func(ctx context.Context) (map[string]any, error)) (map[string]any, error) {
	var payload map[string]any
	attempt := 0
	err := g.retry.Do(ctx, func(ctx context.Context) error {
		if attempt > 0 && g.metrics != nil {
			g.metrics.IncUpstreamRetry(operation)
		}
		attempt++
		return g.queue.Do(ctx, func(ctx context.Context) error {
			start := g.now()
			p, err := fn(ctx)
			if g.metrics != nil {
				g.metrics.ObserveUpstreamDuration(operation, g.now().Sub(start).Seconds())
				if err != nil {
					g.metrics.IncUpstreamError(operation, upstream.Classify(err))
				}
			}
			if err != nil {
				return err
			}
			payload = p
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return payload, nil
}

func (g *Gateway) record(operation, outcome string) {
	if g.metrics != nil {
		g.metrics.IncRequest(operation, outcome)
	}
}

func (g *Gateway) cacheHit(operation string) {
	if g.metrics != nil {
		g.metrics.IncCacheHit(operation)
	}
}

func (g *Gateway) cacheMiss(operation string) {
	if g.metrics != nil {
		g.metrics.IncCacheMiss(operation)
	}
}

func (g *Gateway) dedupeShared(operation string) {
	if g.metrics != nil {
		g.metrics.IncDedupeShared(operation)
	}
}
