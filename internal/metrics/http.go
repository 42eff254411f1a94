// ABOUTME: HTTP middleware and handlers for the metrics collector
// ABOUTME: Serves Prometheus exposition plus JSON variants for dashboards

package metrics

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// statusRecorder captures the response status for the sample.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush forwards to the underlying writer so SSE streaming keeps working
// behind the middleware.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Middleware records a sample for every completed request.
func (c *Collector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		c.Record(Sample{
			Method:         r.Method,
			Path:           r.URL.Path,
			StatusCode:     rec.status,
			ResponseTimeMs: float64(time.Since(start).Microseconds()) / 1000,
			Timestamp:      start,
		})
	})
}

// Handler serves the Prometheus exposition format for this collector's registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// HandleSummary serves GET /metrics/summary.
func (c *Collector) HandleSummary(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, c.Summary())
}

// HandleRequests serves GET /metrics/requests?limit=N.
func (c *Collector) HandleRequests(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			http.Error(w, `{"error":"invalid limit"}`, http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	samples := c.Recent(limit)
	if samples == nil {
		samples = []Sample{}
	}
	writeJSON(w, map[string]any{
		"count":    len(samples),
		"requests": samples,
	})
}

// HandlePerformance serves GET /metrics/performance.
func (c *Collector) HandlePerformance(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, c.Performance())
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
