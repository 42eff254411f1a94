// ABOUTME: Liveness and readiness checking with parallel dependency probes
// ABOUTME: Aggregates per-dependency results into healthy/degraded/unhealthy

package health

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// probeTimeout bounds each individual dependency probe.
const probeTimeout = 3 * time.Second

// Status values for probes and the aggregate.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// Probe checks one downstream dependency. It must respect ctx cancellation.
type Probe struct {
	Name  string
	Check func(ctx context.Context) error
}

// ProbeResult is the outcome of one dependency probe.
type ProbeResult struct {
	Name           string `json:"name"`
	Status         string `json:"status"`
	ResponseTimeMs int64  `json:"response_time_ms"`
	Error          string `json:"error,omitempty"`
}

// Report is the aggregate readiness report.
type Report struct {
	Status       string        `json:"status"`
	CheckedAt    time.Time     `json:"checked_at"`
	Dependencies []ProbeResult `json:"dependencies"`
}

// Checker runs readiness probes against downstream dependencies.
type Checker struct {
	probes []Probe
	logger *slog.Logger
}

func NewChecker(logger *slog.Logger, probes ...Probe) *Checker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Checker{probes: probes, logger: logger.With("component", "health")}
}

// Check probes every dependency in parallel, each with its own timeout, so
// one slow dependency never delays the others. All unhealthy yields
// unhealthy; a mix yields degraded to avoid flapping load balancers while
// partially functional.
func (c *Checker) Check(ctx context.Context) *Report {
	results := make([]ProbeResult, len(c.probes))

	g, gctx := errgroup.WithContext(ctx)
	for i, probe := range c.probes {
		i, probe := i, probe
		g.Go(func() error {
			results[i] = c.runProbe(gctx, probe)
			return nil
		})
	}
	// Probes record their own failures and never return errors.
	_ = g.Wait()

	report := &Report{
		Status:       aggregate(results),
		CheckedAt:    time.Now(),
		Dependencies: results,
	}
	if report.Status != StatusHealthy {
		c.logger.Warn("readiness degraded", "status", report.Status)
	}
	return report
}

func (c *Checker) runProbe(ctx context.Context, probe Probe) ProbeResult {
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	start := time.Now()
	err := probe.Check(probeCtx)
	elapsed := time.Since(start).Milliseconds()

	result := ProbeResult{
		Name:           probe.Name,
		Status:         StatusHealthy,
		ResponseTimeMs: elapsed,
	}
	if err != nil {
		result.Status = StatusUnhealthy
		result.Error = err.Error()
		c.logger.Warn("dependency probe failed", "dependency", probe.Name, "error", err)
	}
	return result
}

func aggregate(results []ProbeResult) string {
	if len(results) == 0 {
		return StatusHealthy
	}
	healthy := 0
	for _, r := range results {
		if r.Status == StatusHealthy {
			healthy++
		}
	}
	switch healthy {
	case len(results):
		return StatusHealthy
	case 0:
		return StatusUnhealthy
	default:
		return StatusDegraded
	}
}
