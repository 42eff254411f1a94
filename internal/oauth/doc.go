// ABOUTME: Package documentation for the OAuth session broker
// ABOUTME: Covers the authorization-code grant and its storage split

// Package oauth implements the authorization-code grant for MCP clients.
//
// # Flow
//
// A client begins at /auth/authorize, which validates the request against
// the durably registered client record and redirects to the upstream
// identity provider. The provider calls back to /auth/callback, where the
// broker resolves the caller's identity through a pluggable Exchanger,
// mints a one-time authorization code, and redirects the client to its
// registered redirect URI. The client then posts the code to /auth/token
// with its client secret to receive a bearer access token; the secret is
// checked against the bcrypt hash recorded at registration.
//
// # Storage Split
//
// Registered clients are durable rows in the store. Pending authorization
// codes live only in memory with a configurable TTL (five minutes by
// default): losing them on restart
// just means the client re-authorizes. Code consumption is atomic, so a
// given code exchanges at most once even under concurrent requests.
package oauth
