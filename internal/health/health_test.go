// ABOUTME: Tests for readiness aggregation and probe isolation
// ABOUTME: Verifies parallel probes, timeouts, and HTTP status mapping

package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func healthyProbe(name string) Probe {
	return Probe{Name: name, Check: func(ctx context.Context) error { return nil }}
}

func failingProbe(name string) Probe {
	return Probe{Name: name, Check: func(ctx context.Context) error { return errors.New("connection refused") }}
}

func TestAllHealthy(t *testing.T) {
	c := NewChecker(nil, healthyProbe("database"), healthyProbe("blob"))
	report := c.Check(context.Background())

	assert.Equal(t, StatusHealthy, report.Status)
	require.Len(t, report.Dependencies, 2)
	for _, dep := range report.Dependencies {
		assert.Equal(t, StatusHealthy, dep.Status)
		assert.Empty(t, dep.Error)
	}
}

func TestAllUnhealthy(t *testing.T) {
	c := NewChecker(nil, failingProbe("database"), failingProbe("blob"))
	report := c.Check(context.Background())

	assert.Equal(t, StatusUnhealthy, report.Status)
	assert.Equal(t, "connection refused", report.Dependencies[0].Error)
}

func TestMixedIsDegraded(t *testing.T) {
	c := NewChecker(nil, healthyProbe("database"), failingProbe("blob"))
	report := c.Check(context.Background())
	assert.Equal(t, StatusDegraded, report.Status)
}

func TestNoProbesIsHealthy(t *testing.T) {
	c := NewChecker(nil)
	report := c.Check(context.Background())
	assert.Equal(t, StatusHealthy, report.Status)
}

func TestSlowProbeDoesNotBlockOthers(t *testing.T) {
	slow := Probe{Name: "slow", Check: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}}
	c := NewChecker(nil, slow, healthyProbe("fast"))

	start := time.Now()
	report := c.Check(context.Background())
	elapsed := time.Since(start)

	// The slow probe is cut off by its own timeout; the fast one is fine.
	assert.Less(t, elapsed, probeTimeout+time.Second)
	assert.Equal(t, StatusDegraded, report.Status)

	byName := map[string]ProbeResult{}
	for _, dep := range report.Dependencies {
		byName[dep.Name] = dep
	}
	assert.Equal(t, StatusUnhealthy, byName["slow"].Status)
	assert.Equal(t, StatusHealthy, byName["fast"].Status)
}

func TestHandleLiveness(t *testing.T) {
	rec := httptest.NewRecorder()
	HandleLiveness(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleReadinessStatusCodes(t *testing.T) {
	tests := []struct {
		name       string
		probes     []Probe
		wantStatus int
		wantState  string
	}{
		{"healthy", []Probe{healthyProbe("db")}, http.StatusOK, StatusHealthy},
		{"degraded", []Probe{healthyProbe("db"), failingProbe("blob")}, http.StatusOK, StatusDegraded},
		{"unhealthy", []Probe{failingProbe("db")}, http.StatusServiceUnavailable, StatusUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewChecker(nil, tt.probes...)
			rec := httptest.NewRecorder()
			c.HandleReadiness(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

			assert.Equal(t, tt.wantStatus, rec.Code)
			var report Report
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
			assert.Equal(t, tt.wantState, report.Status)
		})
	}
}
