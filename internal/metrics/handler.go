package metrics

import (
	"encoding/json"
	"math"
	"net/http"
	"sort"
	"time"

	dto "github.com/prometheus/client_model/go"
)

// Summary is the JSON response for the metrics endpoint.
type Summary struct {
	Mode     string          `json:"mode"`
	HTTP     httpSummary     `json:"http"`
	AI       aiSummary       `json:"ai"`
	Cache    cacheInfo       `json:"cache"`
	Budget   budgetInfo      `json:"budget"`
	Queue    queueInfo       `json:"queue"`
	Upstream upstreamSummary `json:"upstream"`
	Server   serverInfo      `json:"server"`
}

type httpSummary struct {
	TotalRequests float64 `json:"totalRequests"`
	ErrorRate     float64 `json:"errorRate"`
	P50Latency    float64 `json:"p50Latency"`
	P95Latency    float64 `json:"p95Latency"`
	P99Latency    float64 `json:"p99Latency"`
}

type aiSummary struct {
	TotalRequests float64 `json:"totalRequests"`
	Succeeded     float64 `json:"succeeded"`
	DedupeShared  float64 `json:"dedupeShared"`
}

type cacheInfo struct {
	Hits    float64 `json:"hits"`
	Misses  float64 `json:"misses"`
	HitRate float64 `json:"hitRate"`
}

type budgetInfo struct {
	Rejections float64 `json:"rejections"`
}

type queueInfo struct {
	Running float64 `json:"running"`
	Waiting float64 `json:"waiting"`
}

type upstreamSummary struct {
	P50Duration float64 `json:"p50Duration"`
	P95Duration float64 `json:"p95Duration"`
	Retries     float64 `json:"retries"`
	Errors      float64 `json:"errors"`
}

type serverInfo struct {
	StartTime     float64 `json:"startTime"`
	UptimeSeconds float64 `json:"uptimeSeconds"`
}

// Handler returns an http.HandlerFunc that serves live metrics in JSON format.
func (m *Metrics) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m.handleLive(w)
	}
}

func (m *Metrics) handleLive(w http.ResponseWriter) {
	families, err := m.registry.Gather()
	if err != nil {
		http.Error(w, "failed to gather metrics", http.StatusInternalServerError)
		return
	}

	fam := make(map[string]*dto.MetricFamily, len(families))
	for _, f := range families {
		fam[f.GetName()] = f
	}

	hits := sumCounter(fam["aigateway_cache_hits_total"])
	misses := sumCounter(fam["aigateway_cache_misses_total"])
	var hitRate float64
	if hits+misses > 0 {
		hitRate = hits / (hits + misses)
	}

	summary := Summary{
		Mode: "live",
		HTTP: httpSummary{
			TotalRequests: sumCounter(fam["aigateway_http_requests_total"]),
			ErrorRate:     computeErrorRate(fam["aigateway_http_requests_total"]),
			P50Latency:    histogramPercentile(fam["aigateway_http_request_duration_seconds"], 0.50),
			P95Latency:    histogramPercentile(fam["aigateway_http_request_duration_seconds"], 0.95),
			P99Latency:    histogramPercentile(fam["aigateway_http_request_duration_seconds"], 0.99),
		},
		AI: aiSummary{
			TotalRequests: sumCounter(fam["aigateway_ai_requests_total"]),
			Succeeded:     counterWithLabel(fam["aigateway_ai_requests_total"], "outcome", "ok"),
			DedupeShared:  sumCounter(fam["aigateway_dedupe_shared_total"]),
		},
		Cache: cacheInfo{
			Hits:    hits,
			Misses:  misses,
			HitRate: hitRate,
		},
		Budget: budgetInfo{
			Rejections: sumCounter(fam["aigateway_budget_rejections_total"]),
		},
		Queue: queueInfo{
			Running: gaugeValue(fam["aigateway_queue_running"]),
			Waiting: gaugeValue(fam["aigateway_queue_waiting"]),
		},
		Upstream: upstreamSummary{
			P50Duration: histogramPercentile(fam["aigateway_upstream_duration_seconds"], 0.50),
			P95Duration: histogramPercentile(fam["aigateway_upstream_duration_seconds"], 0.95),
			Retries:     sumCounter(fam["aigateway_upstream_retries_total"]),
			Errors:      sumCounter(fam["aigateway_upstream_errors_total"]),
		},
		Server: serverInfo{
			StartTime:     gaugeValue(fam["aigateway_server_start_time_seconds"]),
			UptimeSeconds: float64(time.Now().Unix()) - gaugeValue(fam["aigateway_server_start_time_seconds"]),
		},
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache, no-store")
	_ = json.NewEncoder(w).Encode(summary)
}

// --- Prometheus metric helpers ---

func sumCounter(f *dto.MetricFamily) float64 {
	if f == nil {
		return 0
	}
	var total float64
	for _, m := range f.GetMetric() {
		if m.GetCounter() != nil {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}

func gaugeValue(f *dto.MetricFamily) float64 {
	if f == nil {
		return 0
	}
	ms := f.GetMetric()
	if len(ms) == 0 {
		return 0
	}
	if ms[0].GetGauge() != nil {
		return ms[0].GetGauge().GetValue()
	}
	return 0
}

func counterWithLabel(f *dto.MetricFamily, labelName, labelValue string) float64 {
	if f == nil {
		return 0
	}
	var total float64
	for _, m := range f.GetMetric() {
		for _, lp := range m.GetLabel() {
			if lp.GetName() == labelName && lp.GetValue() == labelValue {
				if m.GetCounter() != nil {
					total += m.GetCounter().GetValue()
				}
			}
		}
	}
	return total
}

func computeErrorRate(f *dto.MetricFamily) float64 {
	if f == nil {
		return 0
	}
	var total, errors float64
	for _, m := range f.GetMetric() {
		if m.GetCounter() == nil {
			continue
		}
		v := m.GetCounter().GetValue()
		total += v
		for _, lp := range m.GetLabel() {
			if lp.GetName() == "status_code" {
				code := lp.GetValue()
				if len(code) > 0 && code[0] >= '4' {
					errors += v
				}
			}
		}
	}
	if total == 0 {
		return 0
	}
	return errors / total
}

// histogramPercentile computes a percentile from aggregated histogram buckets
// using linear interpolation.
func histogramPercentile(f *dto.MetricFamily, q float64) float64 {
	if f == nil {
		return 0
	}

	// Aggregate all histogram metrics in the family.
	type bucket struct {
		upperBound      float64
		cumulativeCount uint64
	}
	var totalCount uint64
	bucketMap := make(map[float64]uint64)

	for _, m := range f.GetMetric() {
		h := m.GetHistogram()
		if h == nil {
			continue
		}
		totalCount += h.GetSampleCount()
		for _, b := range h.GetBucket() {
			bucketMap[b.GetUpperBound()] += b.GetCumulativeCount()
		}
	}

	if totalCount == 0 {
		return 0
	}

	buckets := make([]bucket, 0, len(bucketMap))
	for ub, count := range bucketMap {
		buckets = append(buckets, bucket{upperBound: ub, cumulativeCount: count})
	}
	sort.Slice(buckets, func(i, j int) bool {
		return buckets[i].upperBound < buckets[j].upperBound
	})

	rank := q * float64(totalCount)

	var prevBound float64
	var prevCount uint64
	for _, b := range buckets {
		if math.IsInf(b.upperBound, 1) {
			break
		}
		if float64(b.cumulativeCount) >= rank {
			// Linear interpolation within this bucket.
			bucketCount := b.cumulativeCount - prevCount
			if bucketCount == 0 {
				return b.upperBound
			}
			fraction := (rank - float64(prevCount)) / float64(bucketCount)
			return prevBound + fraction*(b.upperBound-prevBound)
		}
		prevBound = b.upperBound
		prevCount = b.cumulativeCount
	}

	// If we didn't find it, return the last finite bucket upper bound.
	if len(buckets) > 0 {
		for i := len(buckets) - 1; i >= 0; i-- {
			if !math.IsInf(buckets[i].upperBound, 1) {
				return buckets[i].upperBound
			}
		}
	}
	return 0
}
