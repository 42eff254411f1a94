// ABOUTME: HTTP middleware that resolves bearer credentials on requests
// ABOUTME: Invalid credentials are rejected; missing credentials pass as anonymous

package auth

import (
	"log/slog"
	"net/http"
	"strings"
)

// extractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and an error message (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

// clientIP returns the caller address for log lines, preferring the first
// X-Forwarded-For hop.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if idx := strings.IndexByte(fwd, ','); idx >= 0 {
			return strings.TrimSpace(fwd[:idx])
		}
		return strings.TrimSpace(fwd)
	}
	return r.RemoteAddr
}

// Middleware resolves the request's bearer credential and attaches an auth
// Context. Requests without a credential continue anonymously; whether an
// anonymous caller may invoke a given operation is decided downstream.
// A credential that is present but invalid is rejected with 401.
func Middleware(authenticator *Authenticator, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "auth")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, errMsg := extractBearerToken(r.Header.Get("Authorization"))
			if errMsg != "" {
				// No usable credential: proceed anonymously.
				next.ServeHTTP(w, r.WithContext(WithAuth(r.Context(), AnonymousContext())))
				return
			}

			authCtx, err := authenticator.Resolve(r.Context(), token)
			if err != nil {
				logger.Warn("credential rejected", "remote", clientIP(r), "error", err)
				w.Header().Set("Content-Type", "application/json")
				http.Error(w, `{"error":"invalid credential"}`, http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithAuth(r.Context(), authCtx)))
		})
	}
}

// RequireAuth creates a middleware that rejects anonymous requests.
// Must be used after Middleware.
func RequireAuth() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authCtx := FromContext(r.Context())
			if authCtx == nil || authCtx.Anonymous() {
				w.Header().Set("Content-Type", "application/json")
				http.Error(w, `{"error":"authentication required"}`, http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
