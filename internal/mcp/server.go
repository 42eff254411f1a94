// ABOUTME: MCP HTTP endpoint with stateless and SSE streaming transports
// ABOUTME: POST dispatches envelopes; GET opens a stream; DELETE ends a session

package mcp

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/ravediamond/mcph-gateway/internal/auth"
	"github.com/ravediamond/mcph-gateway/internal/tools"
)

// MaxRequestBodySize is the maximum allowed size for request bodies (1MB).
const MaxRequestBodySize = 1 << 20

// DefaultHeartbeatInterval keeps idle SSE streams alive through proxies.
const DefaultHeartbeatInterval = 15 * time.Second

// Config holds configuration for the MCP server.
type Config struct {
	Registry          *tools.Registry
	Logger            *slog.Logger
	ServerName        string
	ServerVersion     string
	HeartbeatInterval time.Duration
}

// Server exposes the MCP protocol over HTTP. A POST without a sessionId is
// a self-contained stateless exchange; GET establishes an SSE stream whose
// responses are delivered as stream frames for subsequent POSTs carrying
// that stream's sessionId.
type Server struct {
	dispatcher *Dispatcher
	sessions   *sessionTable
	logger     *slog.Logger
	heartbeat  time.Duration
}

// NewServer creates an MCP server with the given configuration.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Registry == nil {
		return nil, errors.New("registry is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	heartbeat := cfg.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeatInterval
	}

	info := ServerInfo{Name: cfg.ServerName, Version: cfg.ServerVersion}
	if info.Name == "" {
		info.Name = "mcph-gateway"
	}

	return &Server{
		dispatcher: NewDispatcher(cfg.Registry, info, logger),
		sessions:   newSessionTable(),
		logger:     logger.With("component", "mcp"),
		heartbeat:  heartbeat,
	}, nil
}

// Close tears down all streaming sessions.
func (s *Server) Close() {
	s.sessions.closeAll()
}

// SessionCount returns the number of live streaming sessions.
func (s *Server) SessionCount() int {
	return s.sessions.count()
}

// ServeHTTP is the single MCP endpoint supporting POST, GET, and DELETE.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	echoProtocolVersion(w, r)

	switch r.Method {
	case http.MethodPost:
		s.handlePost(w, r)
	case http.MethodGet:
		s.handleStream(w, r)
	case http.MethodDelete:
		s.handleDelete(w, r)
	default:
		w.Header().Set("Allow", "GET, POST, DELETE")
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
	}
}

// handlePost routes to the stateless or streaming variant based on the
// sessionId query parameter.
func (s *Server) handlePost(w http.ResponseWriter, r *http.Request) {
	req, ok := s.readEnvelope(w, r)
	if !ok {
		return
	}

	if sessionID := r.URL.Query().Get("sessionId"); sessionID != "" {
		s.dispatchToStream(w, r, sessionID, req)
		return
	}
	s.dispatchStateless(w, r, req)
}

// dispatchStateless handles one envelope and writes one response body.
func (s *Server) dispatchStateless(w http.ResponseWriter, r *http.Request, req *JSONRPCRequest) {
	resp, err := s.dispatcher.Dispatch(r.Context(), req)
	if err != nil {
		writeAuthRequired(w)
		return
	}
	if resp == nil {
		// Notification: acknowledged, no body.
		w.WriteHeader(http.StatusOK)
		return
	}
	writeEnvelope(w, s.logger, resp)
}

// dispatchToStream handles one envelope for an established stream. The
// result travels as a stream frame, not as this POST's body.
func (s *Server) dispatchToStream(w http.ResponseWriter, r *http.Request, sessionID string, req *JSONRPCRequest) {
	sess, ok := s.sessions.get(sessionID)
	if !ok {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Mcp-Session-Id", sess.id)

	resp, err := s.dispatcher.Dispatch(r.Context(), req)
	if err != nil {
		writeAuthRequired(w)
		return
	}
	if resp == nil {
		w.WriteHeader(http.StatusOK)
		return
	}

	data, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error("failed to marshal stream response", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if !sess.sendMessage(data) {
		http.Error(w, "session closed", http.StatusGone)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// handleStream establishes an SSE session and owns its write loop until the
// client disconnects.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	ownerID := auth.AnonymousCallerID
	if authCtx := auth.FromContext(r.Context()); authCtx != nil {
		ownerID = authCtx.CallerID
	}

	sess := newSession(ownerID)
	s.sessions.add(sess)
	defer s.sessions.remove(sess.id)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Mcp-Session-Id", sess.id)
	w.WriteHeader(http.StatusOK)

	// Initial comment frame reaches the client immediately, then the
	// endpoint event tells it where to POST.
	fmt.Fprint(w, ": mcph-gateway stream open\n\n")
	fmt.Fprintf(w, "event: endpoint\ndata: %s?sessionId=%s\n\n", r.URL.Path, sess.id)
	flusher.Flush()

	s.logger.Info("stream session opened", "session_id", sess.id, "caller_id", ownerID)

	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			s.logger.Info("stream session closed", "session_id", sess.id)
			return
		case <-sess.done:
			// Terminated via DELETE or server shutdown.
			s.logger.Info("stream session terminated", "session_id", sess.id)
			return
		case frame := <-sess.frames:
			if _, err := w.Write(frame); err != nil {
				s.logger.Debug("stream write failed", "session_id", sess.id, "error", err)
				return
			}
			flusher.Flush()
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": heartbeat\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// handleDelete terminates a streaming session. Only the caller that opened
// the stream may terminate it.
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	sessionID := r.Header.Get("Mcp-Session-Id")
	if sessionID == "" {
		sessionID = r.URL.Query().Get("sessionId")
	}
	if sessionID == "" {
		http.Error(w, "missing session id", http.StatusBadRequest)
		return
	}

	sess, ok := s.sessions.get(sessionID)
	if !ok {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	callerID := auth.AnonymousCallerID
	if authCtx := auth.FromContext(r.Context()); authCtx != nil {
		callerID = authCtx.CallerID
	}
	if sess.ownerID != callerID {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	s.sessions.remove(sessionID)
	w.WriteHeader(http.StatusNoContent)
}

// readEnvelope parses and validates the JSON-RPC envelope. Transport-level
// failures (non-JSON bodies, oversize payloads) get HTTP status codes, not
// JSON-RPC errors.
func (s *Server) readEnvelope(w http.ResponseWriter, r *http.Request) (*JSONRPCRequest, bool) {
	body, err := io.ReadAll(io.LimitReader(r.Body, MaxRequestBodySize+1))
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return nil, false
	}
	if int64(len(body)) > MaxRequestBodySize {
		http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
		return nil, false
	}

	var req JSONRPCRequest
	if err := json.Unmarshal(body, &req); err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		writeBody(w, s.logger, errorResponse(nil, JSONRPCParseError, "Parse error", nil))
		return nil, false
	}
	if req.JSONRPC != "2.0" {
		writeEnvelope(w, s.logger, errorResponse(req.ID, JSONRPCInvalidRequest, "invalid JSON-RPC version", nil))
		return nil, false
	}
	return &req, true
}

// echoProtocolVersion reflects the negotiated protocol version header.
func echoProtocolVersion(w http.ResponseWriter, r *http.Request) {
	version := r.Header.Get("MCP-Protocol-Version")
	if version == "" || !supportedProtocolVersions[version] {
		version = latestProtocolVersion
	}
	w.Header().Set("MCP-Protocol-Version", version)
}

// writeAuthRequired rejects an anonymous call to a restricted tool at the
// transport level, matching the auth middleware's 401 shape.
func writeAuthRequired(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", "Bearer")
	http.Error(w, `{"error":"authentication required"}`, http.StatusUnauthorized)
}

func writeEnvelope(w http.ResponseWriter, logger *slog.Logger, resp *JSONRPCResponse) {
	w.Header().Set("Content-Type", "application/json")
	writeBody(w, logger, resp)
}

func writeBody(w http.ResponseWriter, logger *slog.Logger, resp *JSONRPCResponse) {
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logger.Warn("failed to encode JSON-RPC response", "error", err)
	}
}
