// ABOUTME: HTTP handlers for liveness and readiness endpoints
// ABOUTME: Readiness maps healthy/degraded to 200 and unhealthy to 503

package health

import (
	"encoding/json"
	"net/http"
)

// HandleLiveness always answers 200: the process is up.
func HandleLiveness(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// HandleReadiness runs the dependency probes and writes the full report.
// Degraded still answers 200 so load balancers keep routing while the
// service is partially functional.
func (c *Checker) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	report := c.Check(r.Context())

	status := http.StatusOK
	if report.Status == StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(report); err != nil {
		c.logger.Warn("failed to write readiness report", "error", err)
	}
}
