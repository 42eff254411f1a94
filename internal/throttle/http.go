// ABOUTME: HTTP middleware applying the throttle guard per client IP
// ABOUTME: Rejected requests get 429 with X-RateLimit-* headers and a reset timestamp

package throttle

import (
	"net"
	"net/http"
	"strconv"
	"time"
)

// Middleware limits each client IP to maxRequests per window.
// Rate-limit rejections are expected traffic shaping, not application
// errors, so they are not logged beyond the metrics layer.
func (g *Guard) Middleware(maxRequests int, window time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identifier := clientIP(r)
			result := g.Check(identifier, maxRequests, window)

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(maxRequests))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))

			if result.Limited {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				w.Write([]byte(`{"error":"rate limit exceeded","reset_at":"` + result.ResetAt.UTC().Format(time.RFC3339) + `"}`))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// clientIP extracts the caller identifier, preferring X-Forwarded-For when
// the gateway sits behind a proxy.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		// First hop is the original client
		for i := 0; i < len(fwd); i++ {
			if fwd[i] == ',' {
				return fwd[:i]
			}
		}
		return fwd
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
