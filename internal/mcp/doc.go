// ABOUTME: Package documentation for the MCP protocol server
// ABOUTME: Describes the two transports and their session semantics

// Package mcp implements the Model Context Protocol over HTTP.
//
// # Transports
//
// Stateless: each POST /mcp carries one JSON-RPC envelope and receives one
// response body. Nothing survives the request.
//
// Streaming: GET /mcp opens a Server-Sent-Events stream. The server
// immediately emits a comment frame, then an endpoint event naming the POST
// target with the new sessionId, then heartbeats on a fixed interval.
// POSTs carrying that sessionId are dispatched synchronously, but their
// results travel as stream frames with monotonically increasing event IDs;
// the POST body itself stays empty. DELETE with the session header tears
// the stream down; client disconnects tear it down implicitly.
//
// # Methods
//
// Both transports dispatch initialize, tools/list, and tools/call. Unknown
// methods and unknown tools produce -32601; schema-invalid arguments
// produce -32602 with a structured issue list; handler failures produce
// -32603 without leaking internals. Envelopes without an id are
// notifications and never produce a response.
package mcp
