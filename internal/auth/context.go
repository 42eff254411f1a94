// ABOUTME: Authentication context for tracking identity through request handlers
// ABOUTME: Provides WithAuth/FromContext for propagating auth info via context

package auth

import (
	"context"
)

// Method is how a caller authenticated.
type Method string

const (
	MethodAPIKey     Method = "api_key"
	MethodOAuthToken Method = "oauth_token"
	MethodAnonymous  Method = "anonymous"
)

// AnonymousCallerID is the caller ID assigned to unauthenticated requests.
const AnonymousCallerID = "anonymous"

// Context holds the resolved identity for a single request.
// It is derived per-request from a credential and never persisted beyond
// the request's lifetime.
type Context struct {
	CallerID   string
	AuthMethod Method
	Scopes     []string
	ClientName string
}

// Anonymous returns true for unauthenticated callers.
func (c *Context) Anonymous() bool {
	return c.AuthMethod == MethodAnonymous
}

// HasScope reports whether the caller holds the given scope.
// An empty scope list grants nothing.
func (c *Context) HasScope(scope string) bool {
	for _, s := range c.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// AnonymousContext returns the context used for unauthenticated requests.
func AnonymousContext() *Context {
	return &Context{
		CallerID:   AnonymousCallerID,
		AuthMethod: MethodAnonymous,
	}
}

// authContextKey is the key type for storing Context in context.Context.
type authContextKey struct{}

// WithAuth returns a new context with the auth Context attached.
func WithAuth(ctx context.Context, auth *Context) context.Context {
	return context.WithValue(ctx, authContextKey{}, auth)
}

// FromContext retrieves the auth Context, returning nil if not present.
func FromContext(ctx context.Context) *Context {
	val := ctx.Value(authContextKey{})
	if val == nil {
		return nil
	}
	auth, ok := val.(*Context)
	if !ok {
		return nil
	}
	return auth
}

// MustFromContext retrieves the auth Context, panicking if not present.
func MustFromContext(ctx context.Context) *Context {
	auth := FromContext(ctx)
	if auth == nil {
		panic("auth: Context not found in context")
	}
	return auth
}
