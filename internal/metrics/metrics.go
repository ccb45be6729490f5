package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics holds all Prometheus metric collectors for the AI gateway.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics.
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// AI operation metrics.
	AIRequestsTotal   *prometheus.CounterVec
	CacheHitsTotal    *prometheus.CounterVec
	CacheMissesTotal  *prometheus.CounterVec
	DedupeSharedTotal *prometheus.CounterVec

	// Budget metrics.
	BudgetRejectionsTotal *prometheus.CounterVec

	// Upstream metrics.
	UpstreamDuration     *prometheus.HistogramVec
	UpstreamRetriesTotal *prometheus.CounterVec
	UpstreamErrorsTotal  *prometheus.CounterVec

	// Queue metrics.
	QueueRunning prometheus.Gauge
	QueueWaiting prometheus.Gauge

	// Server lifecycle.
	ServerStartTime prometheus.Gauge
}

// New creates and registers all Prometheus metrics on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,

		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aigateway_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path_pattern", "status_code"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "aigateway_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path_pattern"}),

		AIRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aigateway_ai_requests_total",
			Help: "Total number of AI operation requests by outcome.",
		}, []string{"operation", "outcome"}),

		CacheHitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aigateway_cache_hits_total",
			Help: "Total number of result cache hits.",
		}, []string{"operation"}),

		CacheMissesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aigateway_cache_misses_total",
			Help: "Total number of result cache misses.",
		}, []string{"operation"}),

		DedupeSharedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aigateway_dedupe_shared_total",
			Help: "Total number of requests that shared an in-flight upstream call.",
		}, []string{"operation"}),

		BudgetRejectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aigateway_budget_rejections_total",
			Help: "Total number of requests rejected by the per-tenant budget.",
		}, []string{"operation"}),

		UpstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "aigateway_upstream_duration_seconds",
			Help:    "Upstream provider call duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),

		UpstreamRetriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aigateway_upstream_retries_total",
			Help: "Total number of upstream call retry attempts.",
		}, []string{"operation"}),

		UpstreamErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aigateway_upstream_errors_total",
			Help: "Total number of upstream call errors by error type.",
		}, []string{"operation", "error_type"}),

		QueueRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "aigateway_queue_running",
			Help: "Number of upstream calls currently executing.",
		}),

		QueueWaiting: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "aigateway_queue_waiting",
			Help: "Number of upstream calls waiting for a concurrency slot.",
		}),

		ServerStartTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "aigateway_server_start_time_seconds",
			Help: "Unix timestamp when the server started.",
		}),
	}

	// Register all metrics.
	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.AIRequestsTotal,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.DedupeSharedTotal,
		m.BudgetRejectionsTotal,
		m.UpstreamDuration,
		m.UpstreamRetriesTotal,
		m.UpstreamErrorsTotal,
		m.QueueRunning,
		m.QueueWaiting,
		m.ServerStartTime,
	)

	// Set server start time.
	m.ServerStartTime.Set(float64(time.Now().Unix()))

	// Register Go runtime and process collectors.
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return m
}

// Registry returns the private Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// IncHTTPRequest increments the HTTP request counter.
func (m *Metrics) IncHTTPRequest(method, pathPattern string, statusCode int) {
	m.HTTPRequestsTotal.WithLabelValues(method, pathPattern, fmt.Sprintf("%d", statusCode)).Inc()
}

// ObserveHTTPDuration records an HTTP request duration.
func (m *Metrics) ObserveHTTPDuration(method, pathPattern string, seconds float64) {
	m.HTTPRequestDuration.WithLabelValues(method, pathPattern).Observe(seconds)
}

// IncRequest increments the AI operation counter for the given outcome.
func (m *Metrics) IncRequest(operation, outcome string) {
	m.AIRequestsTotal.WithLabelValues(operation, outcome).Inc()
}

// IncCacheHit increments the cache hit counter.
func (m *Metrics) IncCacheHit(operation string) {
	m.CacheHitsTotal.WithLabelValues(operation).Inc()
}

// IncCacheMiss increments the cache miss counter.
func (m *Metrics) IncCacheMiss(operation string) {
	m.CacheMissesTotal.WithLabelValues(operation).Inc()
}

// IncDedupeShared increments the shared in-flight counter.
func (m *Metrics) IncDedupeShared(operation string) {
	m.DedupeSharedTotal.WithLabelValues(operation).Inc()
}

// IncBudgetRejection increments the budget rejection counter.
func (m *Metrics) IncBudgetRejection(operation string) {
	m.BudgetRejectionsTotal.WithLabelValues(operation).Inc()
}

// ObserveUpstreamDuration records an upstream provider call duration.
func (m *Metrics) ObserveUpstreamDuration(operation string, seconds float64) {
	m.UpstreamDuration.WithLabelValues(operation).Observe(seconds)
}

// IncUpstreamRetry increments the retry attempt counter.
func (m *Metrics) IncUpstreamRetry(operation string) {
	m.UpstreamRetriesTotal.WithLabelValues(operation).Inc()
}

// IncUpstreamError increments the upstream error counter with error type
// classification.
func (m *Metrics) IncUpstreamError(operation, errorType string) {
	m.UpstreamErrorsTotal.WithLabelValues(operation, errorType).Inc()
}

// SetQueueDepth updates the queue gauges.
func (m *Metrics) SetQueueDepth(running, waiting int) {
	m.QueueRunning.Set(float64(running))
	m.QueueWaiting.Set(float64(waiting))
}
