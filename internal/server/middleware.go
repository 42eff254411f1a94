// ABOUTME: HTTP middleware: request logging, timeout enforcement, security headers
// ABOUTME: The timeout enforcer discards handler output after the deadline fires

package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// requestLogger logs one line per completed request.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	logger = logger.With("component", "http")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			lw := &loggedWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(lw, r)
			logger.Info("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", lw.status,
				"duration_ms", time.Since(start).Milliseconds(),
			)
		})
	}
}

// loggedWriter captures the status code for the request log. Flush must
// pass through for the SSE stream.
type loggedWriter struct {
	http.ResponseWriter
	status int
}

func (l *loggedWriter) WriteHeader(code int) {
	l.status = code
	l.ResponseWriter.WriteHeader(code)
}

func (l *loggedWriter) Flush() {
	if f, ok := l.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// securityHeaders sets baseline response headers on every route.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")
		next.ServeHTTP(w, r)
	})
}

// guardedWriter serializes writes and drops anything written after the
// timeout response has gone out.
type guardedWriter struct {
	mu       sync.Mutex
	w        http.ResponseWriter
	sent     bool // headers written by the handler
	timedOut bool // timeout response already written
}

func (g *guardedWriter) Header() http.Header {
	return g.w.Header()
}

func (g *guardedWriter) WriteHeader(code int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.timedOut {
		return
	}
	g.sent = true
	g.w.WriteHeader(code)
}

func (g *guardedWriter) Write(b []byte) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.timedOut {
		// The handler lost the race; its output is discarded.
		return len(b), nil
	}
	g.sent = true
	return g.w.Write(b)
}

func (g *guardedWriter) Flush() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.timedOut {
		return
	}
	if f, ok := g.w.(http.Flusher); ok {
		f.Flush()
	}
}

// writeTimeout writes the timeout error if the handler has not started its
// response yet. Returns true if the timeout response was written.
func (g *guardedWriter) writeTimeout(timeout time.Duration) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.sent {
		// Headers are out; too late to replace the response, but the
		// detached handler must still stop reaching the real writer.
		g.timedOut = true
		return false
	}
	g.timedOut = true
	g.w.Header().Set("Content-Type", "application/json")
	g.w.WriteHeader(http.StatusRequestTimeout)
	fmt.Fprintf(g.w, `{"jsonrpc":"2.0","id":null,"error":{"code":-32000,"message":"request timed out after %s"}}`+"\n", timeout)
	return true
}

// timeoutEnforcer races each handler against a timer. If the timer fires
// first, a timeout error goes out (only if headers were not already sent),
// the handler's context is cancelled, and its eventual output is discarded.
// Never applied to streaming routes.
func timeoutEnforcer(timeout time.Duration, logger *slog.Logger) func(http.Handler) http.Handler {
	logger = logger.With("component", "http")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()

			gw := &guardedWriter{w: w}
			done := make(chan struct{})

			go func() {
				defer close(done)
				defer func() {
					if rec := recover(); rec != nil {
						logger.Error("handler panicked", "path", r.URL.Path, "panic", rec)
						gw.panicResponse()
					}
				}()
				next.ServeHTTP(gw, r.WithContext(ctx))
			}()

			select {
			case <-done:
			case <-ctx.Done():
				if gw.writeTimeout(timeout) {
					logger.Warn("request timed out", "method", r.Method, "path", r.URL.Path, "timeout", timeout)
				}
				// The handler keeps running until it notices the cancelled
				// context; its writes are dropped by the guard.
			}
		})
	}
}

// panicResponse writes a generic 500 unless the response already started.
func (g *guardedWriter) panicResponse() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.sent || g.timedOut {
		return
	}
	g.sent = true
	g.w.Header().Set("Content-Type", "application/json")
	g.w.WriteHeader(http.StatusInternalServerError)
	fmt.Fprint(g.w, `{"error":"internal server error"}`+"\n")
}
