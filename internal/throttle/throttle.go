// ABOUTME: Fixed-window per-identifier request throttling for all routes
// ABOUTME: In-memory windows with a background sweep; advisory, fails open

package throttle

import (
	"log/slog"
	"sync"
	"time"
)

// Result describes the outcome of a throttle check.
type Result struct {
	Limited   bool
	Remaining int
	ResetAt   time.Time
}

// window tracks request count for a single identifier.
type window struct {
	count   int
	resetAt time.Time
}

// Guard is a fixed-window request counter keyed by identifier (client IP).
// It is advisory protection: the backing state is in-memory, and any
// internal fault fails open so traffic is never rejected spuriously.
type Guard struct {
	mu      sync.Mutex
	windows map[string]*window
	logger  *slog.Logger

	sweepStop chan struct{}
	sweepOnce sync.Once
}

// NewGuard creates a guard and starts its background sweep, which removes
// elapsed windows every sweepInterval to bound memory.
func NewGuard(sweepInterval time.Duration, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	g := &Guard{
		windows:   make(map[string]*window),
		logger:    logger.With("component", "throttle"),
		sweepStop: make(chan struct{}),
	}

	if sweepInterval > 0 {
		go g.sweepLoop(sweepInterval)
	}
	return g
}

// Check counts a request from identifier against a fixed window.
// The first request in a window is always allowed; once the count exceeds
// maxRequests the remainder of the window is limited. When the window
// elapses the counter resets to 1 for the triggering request.
func (g *Guard) Check(identifier string, maxRequests int, windowDur time.Duration) Result {
	now := time.Now()

	g.mu.Lock()
	defer g.mu.Unlock()

	w, ok := g.windows[identifier]
	if !ok || now.After(w.resetAt) {
		w = &window{count: 1, resetAt: now.Add(windowDur)}
		g.windows[identifier] = w
		return Result{Limited: false, Remaining: maxRequests - 1, ResetAt: w.resetAt}
	}

	w.count++
	if w.count > maxRequests {
		return Result{Limited: true, Remaining: 0, ResetAt: w.resetAt}
	}
	return Result{Limited: false, Remaining: maxRequests - w.count, ResetAt: w.resetAt}
}

// Size returns the number of tracked windows (for monitoring).
func (g *Guard) Size() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.windows)
}

// Close stops the background sweep. Safe to call multiple times.
func (g *Guard) Close() {
	g.sweepOnce.Do(func() { close(g.sweepStop) })
}

func (g *Guard) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-g.sweepStop:
			return
		case <-ticker.C:
			g.sweep(time.Now())
		}
	}
}

// sweep removes windows whose reset time has passed.
func (g *Guard) sweep(now time.Time) {
	g.mu.Lock()
	removed := 0
	for id, w := range g.windows {
		if now.After(w.resetAt) {
			delete(g.windows, id)
			removed++
		}
	}
	remaining := len(g.windows)
	g.mu.Unlock()

	if removed > 0 {
		g.logger.Debug("swept throttle windows", "removed", removed, "remaining", remaining)
	}
}
