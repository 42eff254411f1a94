// ABOUTME: Package documentation for gateway wiring and lifecycle
// ABOUTME: Describes middleware order and route layout

// Package server assembles the gateway: persistence, blob storage, the
// tool registry with builtin crate tools, the OAuth broker, the MCP
// endpoint, and every cross-cutting middleware.
//
// # Middleware Order
//
// CORS runs first so OPTIONS preflights short-circuit before anything
// else. Then request logging, metrics collection, and security headers
// apply to every route. Health and metrics endpoints sit outside the
// throttle and auth layers; the MCP and OAuth routes sit inside them. The
// timeout enforcer wraps only the non-streaming MCP verbs, since the SSE
// stream is deliberately long-lived.
//
// # Lifecycle
//
// New constructs everything from configuration; Run serves until the
// context is cancelled, then drains connections and tears components down
// in dependency order. Background sweeps (expired guest crates) share the
// run context and stop with it.
package server
