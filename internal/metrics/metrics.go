// ABOUTME: In-memory request metrics collector with a bounded sample ring buffer
// ABOUTME: Exposes Prometheus counters/histograms and JSON summaries for dashboards

package metrics

import (
	"log/slog"
	"runtime"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricPrefix = "mcph_"

// Sample captures the outcome of a single completed HTTP request.
type Sample struct {
	Method         string    `json:"method"`
	Path           string    `json:"path"`
	StatusCode     int       `json:"status_code"`
	ResponseTimeMs float64   `json:"response_time_ms"`
	Timestamp      time.Time `json:"timestamp"`
	Tool           string    `json:"tool,omitempty"`
}

// Collector aggregates request samples. Samples live in a bounded ring
// buffer (oldest evicted); running counters are never evicted.
type Collector struct {
	mu sync.Mutex

	samples []Sample // ring buffer
	next    int      // next write position
	filled  bool     // true once the ring has wrapped

	totalRequests int64
	totalErrors   int64
	byStatus      map[int]int64
	byMethod      map[string]int64

	startedAt time.Time
	logger    *slog.Logger

	registry        *prometheus.Registry
	requestsTotal   prometheus.Counter
	errorsTotal     prometheus.Counter
	duration        prometheus.Histogram
	requestsByCode  *prometheus.CounterVec
	memoryUsage     prometheus.GaugeFunc
	uptimeSeconds   prometheus.GaugeFunc
}

// NewCollector creates a collector holding at most maxSamples samples.
// The Prometheus registry is owned by the collector, not global, so tests
// get fresh instances.
func NewCollector(maxSamples int, logger *slog.Logger) *Collector {
	if maxSamples <= 0 {
		maxSamples = 1000
	}
	if logger == nil {
		logger = slog.Default()
	}

	c := &Collector{
		samples:   make([]Sample, maxSamples),
		byStatus:  make(map[int]int64),
		byMethod:  make(map[string]int64),
		startedAt: time.Now(),
		logger:    logger.With("component", "metrics"),
		registry:  prometheus.NewRegistry(),
	}

	c.requestsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: metricPrefix + "requests_total",
		Help: "Total number of HTTP requests handled",
	})
	c.errorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: metricPrefix + "request_errors_total",
		Help: "Total number of HTTP requests that resulted in a 4xx or 5xx status",
	})
	c.duration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    metricPrefix + "request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	})
	c.requestsByCode = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: metricPrefix + "requests_by_status_total",
		Help: "HTTP requests partitioned by status code",
	}, []string{"status_code"})
	c.memoryUsage = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: metricPrefix + "memory_usage_bytes",
		Help: "Current heap allocation in bytes",
	}, func() float64 {
		var m runtime.MemStats
		runtime.ReadMemStats(&m)
		return float64(m.HeapAlloc)
	})
	c.uptimeSeconds = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: metricPrefix + "uptime_seconds",
		Help: "Seconds since the collector was created",
	}, func() float64 {
		return time.Since(c.startedAt).Seconds()
	})

	c.registry.MustRegister(c.requestsTotal, c.errorsTotal, c.duration, c.requestsByCode, c.memoryUsage, c.uptimeSeconds)

	return c
}

// Registry returns the Prometheus registry for the scrape endpoint.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Record appends a sample and updates all running counters.
func (c *Collector) Record(sample Sample) {
	if sample.Timestamp.IsZero() {
		sample.Timestamp = time.Now()
	}

	c.mu.Lock()
	c.samples[c.next] = sample
	c.next++
	if c.next == len(c.samples) {
		c.next = 0
		c.filled = true
	}

	c.totalRequests++
	if sample.StatusCode >= 400 {
		c.totalErrors++
	}
	c.byStatus[sample.StatusCode]++
	c.byMethod[sample.Method]++
	c.mu.Unlock()

	c.requestsTotal.Inc()
	if sample.StatusCode >= 400 {
		c.errorsTotal.Inc()
	}
	c.duration.Observe(sample.ResponseTimeMs / 1000)
	c.requestsByCode.WithLabelValues(strconv.Itoa(sample.StatusCode)).Inc()
}

// Summary is the aggregate view served by /metrics/summary.
type Summary struct {
	TotalRequests int64            `json:"total_requests"`
	TotalErrors   int64            `json:"total_errors"`
	ErrorRate     float64          `json:"error_rate"`
	ByStatus      map[string]int64 `json:"by_status"`
	ByMethod      map[string]int64 `json:"by_method"`
	UptimeSeconds float64          `json:"uptime_seconds"`
}

// Summary returns the running aggregate counters.
func (c *Collector) Summary() Summary {
	c.mu.Lock()
	defer c.mu.Unlock()

	byStatus := make(map[string]int64, len(c.byStatus))
	for code, count := range c.byStatus {
		byStatus[strconv.Itoa(code)] = count
	}
	byMethod := make(map[string]int64, len(c.byMethod))
	for method, count := range c.byMethod {
		byMethod[method] = count
	}

	var errorRate float64
	if c.totalRequests > 0 {
		errorRate = float64(c.totalErrors) / float64(c.totalRequests)
	}

	return Summary{
		TotalRequests: c.totalRequests,
		TotalErrors:   c.totalErrors,
		ErrorRate:     errorRate,
		ByStatus:      byStatus,
		ByMethod:      byMethod,
		UptimeSeconds: time.Since(c.startedAt).Seconds(),
	}
}

// Recent returns up to limit samples, newest first.
func (c *Collector) Recent(limit int) []Sample {
	c.mu.Lock()
	defer c.mu.Unlock()

	size := c.next
	if c.filled {
		size = len(c.samples)
	}
	if limit <= 0 || limit > size {
		limit = size
	}

	out := make([]Sample, 0, limit)
	for i := 0; i < limit; i++ {
		idx := c.next - 1 - i
		if idx < 0 {
			idx += len(c.samples)
		}
		out = append(out, c.samples[idx])
	}
	return out
}

// Performance is the latency view served by /metrics/performance.
type Performance struct {
	SampleCount   int     `json:"sample_count"`
	AvgMs         float64 `json:"avg_ms"`
	P50Ms         float64 `json:"p50_ms"`
	P95Ms         float64 `json:"p95_ms"`
	P99Ms         float64 `json:"p99_ms"`
	MaxMs         float64 `json:"max_ms"`
	MemoryBytes   uint64  `json:"memory_bytes"`
	UptimeSeconds float64 `json:"uptime_seconds"`
}

// Performance computes latency percentiles over the buffered samples.
func (c *Collector) Performance() Performance {
	c.mu.Lock()
	size := c.next
	if c.filled {
		size = len(c.samples)
	}
	durations := make([]float64, 0, size)
	var sum float64
	for i := 0; i < size; i++ {
		d := c.samples[i].ResponseTimeMs
		durations = append(durations, d)
		sum += d
	}
	c.mu.Unlock()

	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	perf := Performance{
		SampleCount:   len(durations),
		MemoryBytes:   m.HeapAlloc,
		UptimeSeconds: time.Since(c.startedAt).Seconds(),
	}
	if len(durations) == 0 {
		return perf
	}

	sort.Float64s(durations)
	perf.AvgMs = sum / float64(len(durations))
	perf.P50Ms = percentile(durations, 0.50)
	perf.P95Ms = percentile(durations, 0.95)
	perf.P99Ms = percentile(durations, 0.99)
	perf.MaxMs = durations[len(durations)-1]
	return perf
}

// percentile returns the value at quantile q from sorted values.
func percentile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(q * float64(len(sorted)-1))
	return sorted[idx]
}
