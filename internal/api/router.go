package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/obrasoft/aigateway/internal/gateway"
	"github.com/obrasoft/aigateway/internal/metrics"
)

// RouterDeps holds all dependencies for the API router.
type RouterDeps struct {
	Gateway *gateway.Gateway
	Metrics *metrics.Metrics
}

// NewRouter builds the chi router with all routes and middleware.
func NewRouter(deps RouterDeps) http.Handler {
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chimw.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(slogRequestLogger)
	if deps.Metrics != nil {
		r.Use(httpMetricsMiddleware(deps.Metrics, deps.Gateway))
	}

	ai := newAIHandler(deps.Gateway)

	// Health check.
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":    "ok",
			"costSaver": deps.Gateway.CostSaver(),
		})
	})

	// AI operations.
	r.Route("/api/ai", func(ar chi.Router) {
		ar.Post("/scope", ai.GenerateScope)
		ar.Post("/material-prices", ai.LookupMaterialPrices)
		ar.Get("/usage", ai.GetUsage)
	})

	// Metrics summary.
	if deps.Metrics != nil {
		r.Get("/metrics", deps.Metrics.Handler())
	}

	return r
}

// slogRequestLogger is a simple structured logging middleware using slog.
func slogRequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		slog.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"bytes", ww.BytesWritten(),
			"request_id", RequestIDFromContext(r.Context()),
		)
	})
}

// httpMetricsMiddleware records request counters and latency, and refreshes
// the queue gauges so scrapes see the current depth.
func httpMetricsMiddleware(m *metrics.Metrics, gw *gateway.Gateway) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			pattern := chi.RouteContext(r.Context()).RoutePattern()
			if pattern == "" {
				pattern = "unmatched"
			}
			m.IncHTTPRequest(r.Method, pattern, ww.Status())
			m.ObserveHTTPDuration(r.Method, pattern, time.Since(start).Seconds())

			running, waiting := gw.QueueStats()
			m.SetQueueDepth(running, waiting)
		})
	}
}
