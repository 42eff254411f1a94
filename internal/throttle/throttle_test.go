// ABOUTME: Tests for the fixed-window throttle guard and its HTTP middleware
// ABOUTME: Covers window exhaustion, reset-to-1, sweeping, and 429 responses

package throttle

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGuard(t *testing.T) *Guard {
	t.Helper()
	g := NewGuard(0, nil) // no background sweep in tests
	t.Cleanup(g.Close)
	return g
}

func TestCheck_ExactlyMaxAllowed(t *testing.T) {
	g := newTestGuard(t)

	const max = 5
	allowed := 0
	limited := 0
	for i := 0; i < 8; i++ {
		res := g.Check("1.2.3.4", max, time.Minute)
		if res.Limited {
			limited++
		} else {
			allowed++
		}
	}

	assert.Equal(t, max, allowed)
	assert.Equal(t, 3, limited)
}

func TestCheck_RemainingCountsDown(t *testing.T) {
	g := newTestGuard(t)

	res := g.Check("a", 3, time.Minute)
	assert.False(t, res.Limited)
	assert.Equal(t, 2, res.Remaining)

	res = g.Check("a", 3, time.Minute)
	assert.Equal(t, 1, res.Remaining)

	res = g.Check("a", 3, time.Minute)
	assert.Equal(t, 0, res.Remaining)

	res = g.Check("a", 3, time.Minute)
	assert.True(t, res.Limited)
	assert.Equal(t, 0, res.Remaining)
}

func TestCheck_WindowReset(t *testing.T) {
	g := newTestGuard(t)

	// Exhaust a very short window.
	for i := 0; i < 3; i++ {
		g.Check("b", 2, 20*time.Millisecond)
	}
	res := g.Check("b", 2, 20*time.Millisecond)
	require.True(t, res.Limited)

	time.Sleep(30 * time.Millisecond)

	// Window elapsed: the triggering request is allowed and counts as 1.
	res = g.Check("b", 2, 20*time.Millisecond)
	assert.False(t, res.Limited)
	assert.Equal(t, 1, res.Remaining)
}

func TestCheck_IndependentIdentifiers(t *testing.T) {
	g := newTestGuard(t)

	for i := 0; i < 5; i++ {
		g.Check("c1", 2, time.Minute)
	}
	res := g.Check("c2", 2, time.Minute)
	assert.False(t, res.Limited)
}

func TestCheck_ConcurrentSameIdentifier(t *testing.T) {
	g := newTestGuard(t)

	const max = 50
	var allowed int64
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !g.Check("burst", max, time.Minute).Limited {
				atomic.AddInt64(&allowed, 1)
			}
		}()
	}
	wg.Wait()

	// The increment is atomic per identifier: exactly max succeed.
	assert.EqualValues(t, max, allowed)
}

func TestSweep_RemovesElapsedWindows(t *testing.T) {
	g := newTestGuard(t)

	g.Check("old", 5, 10*time.Millisecond)
	g.Check("fresh", 5, time.Minute)
	require.Equal(t, 2, g.Size())

	time.Sleep(20 * time.Millisecond)
	g.sweep(time.Now())

	assert.Equal(t, 1, g.Size())
}

func TestMiddleware_Headers(t *testing.T) {
	g := newTestGuard(t)

	handler := g.Middleware(2, time.Minute)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/mcp", nil)
	req.RemoteAddr = "10.0.0.1:5555"

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "1", rec.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, rec.Header().Get("X-RateLimit-Reset"))

	handler.ServeHTTP(httptest.NewRecorder(), req)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, rec.Body.String(), "rate limit exceeded")
}

func TestMiddleware_ForwardedFor(t *testing.T) {
	g := newTestGuard(t)

	var calls int
	handler := g.Middleware(1, time.Minute)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))

	// Two different forwarded clients behind the same proxy address.
	req1 := httptest.NewRequest(http.MethodGet, "/mcp", nil)
	req1.RemoteAddr = "10.0.0.1:5555"
	req1.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")

	req2 := httptest.NewRequest(http.MethodGet, "/mcp", nil)
	req2.RemoteAddr = "10.0.0.1:5555"
	req2.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")

	handler.ServeHTTP(httptest.NewRecorder(), req1)
	handler.ServeHTTP(httptest.NewRecorder(), req2)

	assert.Equal(t, 2, calls)
}
