// ABOUTME: Package documentation for credential resolution and authorization
// ABOUTME: Covers API keys, OAuth exchange tokens, and anonymous access

// Package auth resolves caller credentials to an authorization context.
//
// # Credential Resolution
//
// A bearer credential is resolved in priority order:
//
//  1. API key: the credential is hashed with SHA-256 and looked up in the
//     key store. Active, unexpired keys yield an API key context. Successful
//     resolutions are cached for a configurable TTL, and the key's last-used
//     timestamp is updated with a cooldown to bound write traffic.
//  2. OAuth exchange token: the credential is verified as a signed JWT
//     issued by the OAuth broker.
//
// Requests without any credential proceed as the anonymous caller; each
// operation decides whether anonymous access is allowed.
//
// # Context Propagation
//
// The resolved Context travels on the request's context.Context via
// WithAuth and FromContext, the same pattern used across request handlers.
package auth
