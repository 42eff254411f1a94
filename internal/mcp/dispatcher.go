// ABOUTME: JSON-RPC method dispatcher for the MCP protocol surface
// ABOUTME: Handles initialize, tools/list, and tools/call for both transports

package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ravediamond/mcph-gateway/internal/tools"
)

// Supported MCP protocol versions
var supportedProtocolVersions = map[string]bool{
	"2025-03-26": true,
	"2025-06-18": true,
}

// latestProtocolVersion is the version advertised in initialize responses
const latestProtocolVersion = "2025-06-18"

// ServerInfo identifies this server in the initialize handshake.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// InitializeResult is the result for initialize.
type InitializeResult struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities"`
	ServerInfo      ServerInfo     `json:"serverInfo"`
}

// ListToolsResult is the result for tools/list.
type ListToolsResult struct {
	Tools []tools.Definition `json:"tools"`
}

// CallToolParams are the params for tools/call.
type CallToolParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// Dispatcher routes a single JSON-RPC envelope to its method handler.
// It holds no per-request state, so one instance serves both the stateless
// and streaming transports concurrently.
type Dispatcher struct {
	registry *tools.Registry
	info     ServerInfo
	logger   *slog.Logger
}

func NewDispatcher(registry *tools.Registry, info ServerInfo, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		registry: registry,
		info:     info,
		logger:   logger.With("component", "mcp"),
	}
}

// Dispatch handles one request envelope and returns the response envelope.
// Notifications return nil: they are acknowledged at the transport level
// and produce no response. A tools.ErrAnonymousForbidden error means the
// caller lacked credentials for the tool; the transport rejects those with
// an HTTP status rather than a JSON-RPC envelope.
func (d *Dispatcher) Dispatch(ctx context.Context, req *JSONRPCRequest) (*JSONRPCResponse, error) {
	if req.IsNotification() {
		d.logger.Debug("notification accepted", "method", req.Method)
		return nil, nil
	}

	switch req.Method {
	case "initialize":
		return d.handleInitialize(req), nil
	case "tools/list":
		return d.handleToolsList(req), nil
	case "tools/call":
		return d.handleToolsCall(ctx, req)
	default:
		return errorResponse(req.ID, JSONRPCMethodNotFound, "Method not found: "+req.Method, nil), nil
	}
}

func (d *Dispatcher) handleInitialize(req *JSONRPCRequest) *JSONRPCResponse {
	return resultResponse(req.ID, InitializeResult{
		ProtocolVersion: latestProtocolVersion,
		Capabilities: map[string]any{
			"tools":     map[string]any{"listChanged": false},
			"resources": map[string]any{},
			"prompts":   map[string]any{},
			"logging":   map[string]any{},
			"roots":     map[string]any{},
			"sampling":  map[string]any{},
		},
		ServerInfo: d.info,
	})
}

func (d *Dispatcher) handleToolsList(req *JSONRPCRequest) *JSONRPCResponse {
	defs := d.registry.List()
	d.logger.Debug("tools/list", "count", len(defs))
	return resultResponse(req.ID, ListToolsResult{Tools: defs})
}

func (d *Dispatcher) handleToolsCall(ctx context.Context, req *JSONRPCRequest) (*JSONRPCResponse, error) {
	var params CallToolParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return errorResponse(req.ID, JSONRPCInvalidParams, "Invalid params", nil), nil
		}
	}
	if params.Name == "" {
		return errorResponse(req.ID, JSONRPCInvalidParams, "Invalid params", []string{"tool name is required"}), nil
	}

	result, err := d.registry.Invoke(ctx, params.Name, params.Arguments)
	if err != nil {
		if errors.Is(err, tools.ErrAnonymousForbidden) {
			d.logger.Warn("anonymous call to restricted tool", "tool", params.Name)
			return nil, fmt.Errorf("tool %s: %w", params.Name, err)
		}
		return d.toolCallError(req.ID, params.Name, err), nil
	}

	d.logger.Debug("tools/call complete", "tool", params.Name, "is_error", result.IsError)
	return resultResponse(req.ID, result), nil
}

// toolCallError maps registry errors onto JSON-RPC error envelopes without
// leaking handler internals.
func (d *Dispatcher) toolCallError(id json.RawMessage, toolName string, err error) *JSONRPCResponse {
	var verr *tools.ValidationError

	switch {
	case errors.Is(err, tools.ErrToolNotFound):
		return errorResponse(id, JSONRPCMethodNotFound, "Tool not found: "+toolName, nil)
	case errors.As(err, &verr):
		return errorResponse(id, JSONRPCInvalidParams, "Invalid params", verr.Issues)
	case errors.Is(err, context.DeadlineExceeded):
		d.logger.Warn("tool execution timed out", "tool", toolName)
		return errorResponse(id, JSONRPCInternalError, "tool execution timed out", nil)
	case errors.Is(err, context.Canceled):
		return errorResponse(id, JSONRPCInternalError, "request cancelled", nil)
	default:
		d.logger.Error("tool execution failed", "tool", toolName, "error", fmt.Sprintf("%v", err))
		return errorResponse(id, JSONRPCInternalError, "Internal error", nil)
	}
}
