// ABOUTME: Package documentation for the tool registry
// ABOUTME: Describes registration, validation, and usage accounting

// Package tools implements the invokable tool registry exposed over MCP.
//
// Tools are registered with a name, description, JSON Schema for their
// arguments, and a handler. Schemas are compiled at registration time;
// arguments are validated before the handler runs, and validation failures
// carry a structured issue list for the protocol layer to surface.
//
// Each successful invocation by an authenticated caller increments that
// caller's per-tool usage counter, read by operators for quota decisions.
// Tools marked AllowAnonymous are reachable without a credential; everything
// else rejects the anonymous caller before validation.
package tools
