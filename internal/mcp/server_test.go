// ABOUTME: Tests for the MCP endpoint over both transports
// ABOUTME: Exercises dispatch, error codes, SSE framing, and session teardown

package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ravediamond/mcph-gateway/internal/auth"
	"github.com/ravediamond/mcph-gateway/internal/tools"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	registry := tools.NewRegistry(nil, nil)
	require.NoError(t, registry.Register(tools.Definition{
		Name:        "echo",
		Description: "echoes its message",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"message": map[string]any{"type": "string"},
			},
			"required": []string{"message"},
		},
		AllowAnonymous: true,
	}, func(ctx context.Context, args map[string]any) (*tools.Result, error) {
		msg, _ := args["message"].(string)
		return tools.TextResult(msg), nil
	}))
	require.NoError(t, registry.Register(tools.Definition{
		Name:           "failing",
		AllowAnonymous: true,
	}, func(ctx context.Context, args map[string]any) (*tools.Result, error) {
		return nil, errors.New("secret database password leaked")
	}))
	require.NoError(t, registry.Register(tools.Definition{
		Name: "restricted",
	}, func(ctx context.Context, args map[string]any) (*tools.Result, error) {
		return tools.TextResult("ok"), nil
	}))

	srv, err := NewServer(Config{
		Registry:          registry,
		ServerName:        "mcph-gateway",
		ServerVersion:     "1.0.0",
		HeartbeatInterval: 50 * time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(srv.Close)
	return srv
}

func postEnvelope(t *testing.T, srv *Server, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) *JSONRPCResponse {
	t.Helper()
	var resp JSONRPCResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return &resp
}

func TestStatelessInitialize(t *testing.T) {
	srv := newTestServer(t)
	rec := postEnvelope(t, srv, `{"jsonrpc":"2.0","id":1,"method":"initialize"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, latestProtocolVersion, rec.Header().Get("MCP-Protocol-Version"))

	resp := decodeResponse(t, rec)
	require.Nil(t, resp.Error)

	result, err := json.Marshal(resp.Result)
	require.NoError(t, err)
	var init InitializeResult
	require.NoError(t, json.Unmarshal(result, &init))
	assert.Equal(t, latestProtocolVersion, init.ProtocolVersion)
	assert.Equal(t, "mcph-gateway", init.ServerInfo.Name)
	assert.Contains(t, init.Capabilities, "tools")
	assert.Contains(t, init.Capabilities, "resources")
}

func TestStatelessEchoesKnownProtocolVersion(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/mcp",
		strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"initialize"}`))
	req.Header.Set("MCP-Protocol-Version", "2025-03-26")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, "2025-03-26", rec.Header().Get("MCP-Protocol-Version"))
}

func TestStatelessToolsList(t *testing.T) {
	srv := newTestServer(t)
	rec := postEnvelope(t, srv, `{"jsonrpc":"2.0","id":2,"method":"tools/list"}`)

	resp := decodeResponse(t, rec)
	require.Nil(t, resp.Error)
	result, _ := json.Marshal(resp.Result)
	var list ListToolsResult
	require.NoError(t, json.Unmarshal(result, &list))
	require.Len(t, list.Tools, 2)
	assert.Equal(t, "echo", list.Tools[0].Name)
}

func TestStatelessToolsCall(t *testing.T) {
	srv := newTestServer(t)
	rec := postEnvelope(t, srv,
		`{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"echo","arguments":{"message":"hi"}}}`)

	resp := decodeResponse(t, rec)
	require.Nil(t, resp.Error)
	result, _ := json.Marshal(resp.Result)
	var callResult tools.Result
	require.NoError(t, json.Unmarshal(result, &callResult))
	require.Len(t, callResult.Content, 1)
	assert.Equal(t, "hi", callResult.Content[0].Text)
}

func TestStatelessUnknownMethod(t *testing.T) {
	srv := newTestServer(t)
	rec := postEnvelope(t, srv, `{"jsonrpc":"2.0","id":4,"method":"resources/list"}`)

	resp := decodeResponse(t, rec)
	require.NotNil(t, resp.Error)
	assert.Equal(t, JSONRPCMethodNotFound, resp.Error.Code)
	assert.Equal(t, "Method not found: resources/list", resp.Error.Message)
}

func TestStatelessUnknownTool(t *testing.T) {
	srv := newTestServer(t)
	rec := postEnvelope(t, srv,
		`{"jsonrpc":"2.0","id":5,"method":"tools/call","params":{"name":"missing","arguments":{}}}`)

	resp := decodeResponse(t, rec)
	require.NotNil(t, resp.Error)
	assert.Equal(t, JSONRPCMethodNotFound, resp.Error.Code)
	assert.Equal(t, "Tool not found: missing", resp.Error.Message)
}

func TestStatelessInvalidArguments(t *testing.T) {
	srv := newTestServer(t)
	rec := postEnvelope(t, srv,
		`{"jsonrpc":"2.0","id":6,"method":"tools/call","params":{"name":"echo","arguments":{"message":7}}}`)

	resp := decodeResponse(t, rec)
	require.NotNil(t, resp.Error)
	assert.Equal(t, JSONRPCInvalidParams, resp.Error.Code)
	assert.Equal(t, "Invalid params", resp.Error.Message)
	assert.NotNil(t, resp.Error.Data, "validation issues are attached as data")
}

func TestStatelessHandlerErrorDoesNotLeak(t *testing.T) {
	srv := newTestServer(t)
	rec := postEnvelope(t, srv,
		`{"jsonrpc":"2.0","id":7,"method":"tools/call","params":{"name":"failing","arguments":{}}}`)

	resp := decodeResponse(t, rec)
	require.NotNil(t, resp.Error)
	assert.Equal(t, JSONRPCInternalError, resp.Error.Code)
	assert.Equal(t, "Internal error", resp.Error.Message)
	assert.NotContains(t, rec.Body.String(), "password")
}

func TestStatelessRestrictedToolRequiresAuth(t *testing.T) {
	srv := newTestServer(t)
	body := `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"restricted","arguments":{}}}`

	// Anonymous callers are rejected at the transport level, not with a
	// JSON-RPC error envelope.
	rec := postEnvelope(t, srv, body)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "authentication required")
	assert.Equal(t, "Bearer", rec.Header().Get("WWW-Authenticate"))
	assert.NotContains(t, rec.Body.String(), "jsonrpc")

	// The same call with a resolved identity succeeds.
	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(body))
	req = req.WithContext(auth.WithAuth(req.Context(), &auth.Context{
		CallerID:   "user-1",
		AuthMethod: auth.MethodAPIKey,
	}))
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	resp := decodeResponse(t, rec)
	assert.Nil(t, resp.Error)
}

func TestStatelessNotificationEmptyAck(t *testing.T) {
	srv := newTestServer(t)
	rec := postEnvelope(t, srv, `{"jsonrpc":"2.0","method":"notifications/initialized"}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.String())
}

func TestStatelessMalformedJSON(t *testing.T) {
	srv := newTestServer(t)
	rec := postEnvelope(t, srv, `{not json`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeResponse(t, rec)
	require.NotNil(t, resp.Error)
	assert.Equal(t, JSONRPCParseError, resp.Error.Code)
}

func TestStatelessOversizeBody(t *testing.T) {
	srv := newTestServer(t)
	big := `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"pad":"` +
		strings.Repeat("x", MaxRequestBodySize) + `"}}`
	rec := postEnvelope(t, srv, big)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestStreamUnknownSession(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/mcp?sessionId=nope",
		strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"initialize"}`))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// streamClient wraps a live SSE connection for assertions.
type streamClient struct {
	t       *testing.T
	resp    *http.Response
	scanner *bufio.Scanner
}

func openStream(t *testing.T, baseURL string) *streamClient {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, baseURL+"/mcp", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	require.NotEmpty(t, resp.Header.Get("Mcp-Session-Id"))

	return &streamClient{t: t, resp: resp, scanner: bufio.NewScanner(resp.Body)}
}

// nextFrame reads lines until a blank frame separator and returns the frame.
func (c *streamClient) nextFrame() []string {
	c.t.Helper()
	var lines []string
	for c.scanner.Scan() {
		line := c.scanner.Text()
		if line == "" {
			if len(lines) > 0 {
				return lines
			}
			continue
		}
		lines = append(lines, line)
	}
	c.t.Fatalf("stream ended while waiting for frame: %v", c.scanner.Err())
	return nil
}

func (c *streamClient) sessionID() string {
	return c.resp.Header.Get("Mcp-Session-Id")
}

func TestStreamLifecycle(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)

	client := openStream(t, ts.URL)

	// First frame is the open comment, second the endpoint event.
	frame := client.nextFrame()
	assert.True(t, strings.HasPrefix(frame[0], ":"), "first frame is a comment")

	frame = client.nextFrame()
	require.Len(t, frame, 2)
	assert.Equal(t, "event: endpoint", frame[0])
	assert.Contains(t, frame[1], "sessionId="+client.sessionID())

	// A request POSTed to the session answers on the stream, not the POST.
	body := `{"jsonrpc":"2.0","id":10,"method":"tools/call","params":{"name":"echo","arguments":{"message":"over-the-stream"}}}`
	resp, err := http.Post(ts.URL+"/mcp?sessionId="+client.sessionID(), "application/json", bytes.NewReader([]byte(body)))
	require.NoError(t, err)
	postBody, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, strings.TrimSpace(string(postBody)), "stream POST carries no response body")
	assert.Equal(t, client.sessionID(), resp.Header.Get("Mcp-Session-Id"))

	// Read frames until the message arrives (heartbeats may interleave).
	var messageFrame []string
	for i := 0; i < 10; i++ {
		frame = client.nextFrame()
		if strings.HasPrefix(frame[0], ":") {
			continue
		}
		messageFrame = frame
		break
	}
	require.NotNil(t, messageFrame)
	assert.Equal(t, "id: 1", messageFrame[0])
	assert.Equal(t, "event: message", messageFrame[1])
	assert.Contains(t, messageFrame[2], "over-the-stream")
}

func TestStreamNotificationProducesNoFrame(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)

	client := openStream(t, ts.URL)
	client.nextFrame() // comment
	client.nextFrame() // endpoint

	// Notification: 200 ack, no stream frame, no event ID consumed.
	resp, err := http.Post(ts.URL+"/mcp?sessionId="+client.sessionID(), "application/json",
		strings.NewReader(`{"jsonrpc":"2.0","method":"notifications/initialized"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// The next real request gets event ID 1, proving the notification
	// emitted nothing.
	resp, err = http.Post(ts.URL+"/mcp?sessionId="+client.sessionID(), "application/json",
		strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`))
	require.NoError(t, err)
	resp.Body.Close()

	for i := 0; i < 10; i++ {
		frame := client.nextFrame()
		if strings.HasPrefix(frame[0], ":") {
			continue
		}
		assert.Equal(t, "id: 1", frame[0])
		return
	}
	t.Fatal("no message frame received")
}

func TestStreamHeartbeat(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)

	client := openStream(t, ts.URL)
	client.nextFrame() // comment
	client.nextFrame() // endpoint

	frame := client.nextFrame()
	assert.True(t, strings.HasPrefix(frame[0], ": heartbeat"))
}

func TestStreamDeleteTerminates(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv)
	defer ts.Close()

	client := openStream(t, ts.URL)
	client.nextFrame()
	client.nextFrame()
	require.Equal(t, 1, srv.SessionCount())

	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/mcp", nil)
	require.NoError(t, err)
	req.Header.Set("Mcp-Session-Id", client.sessionID())
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	// Session is gone: further POSTs fail 404.
	assert.Eventually(t, func() bool { return srv.SessionCount() == 0 }, time.Second, 10*time.Millisecond)
	postResp, err := http.Post(ts.URL+"/mcp?sessionId="+client.sessionID(), "application/json",
		strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`))
	require.NoError(t, err)
	postResp.Body.Close()
	assert.Equal(t, http.StatusNotFound, postResp.StatusCode)
}

func TestStreamDeleteWrongOwnerForbidden(t *testing.T) {
	srv := newTestServer(t)

	// Establish a stream owned by an authenticated caller.
	sess := newSession("user-1")
	srv.sessions.add(sess)

	req := httptest.NewRequest(http.MethodDelete, "/mcp", nil)
	req.Header.Set("Mcp-Session-Id", sess.id)
	req = req.WithContext(auth.WithAuth(req.Context(), &auth.Context{
		CallerID:   "user-2",
		AuthMethod: auth.MethodAPIKey,
	}))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestSessionFrameIDsStrictlyIncrease(t *testing.T) {
	sess := newSession("owner-1")
	defer sess.close()

	const senders = 8
	const perSender = 25
	total := senders * perSender

	got := make([]int64, 0, total)
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for i := 0; i < total; i++ {
			frame := <-sess.frames
			var id int64
			if _, err := fmt.Sscanf(string(frame), "id: %d", &id); err != nil {
				t.Errorf("unparseable frame %q: %v", frame, err)
				return
			}
			got = append(got, id)
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < senders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perSender; j++ {
				sess.sendMessage([]byte(`{"jsonrpc":"2.0","id":1,"result":{}}`))
			}
		}()
	}
	wg.Wait()
	<-drained

	require.Len(t, got, total)
	for i := 1; i < len(got); i++ {
		require.Greater(t, got[i], got[i-1], "frame %d out of order", i)
	}
}

func TestStreamDisconnectReleasesSession(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv)
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/mcp", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return srv.SessionCount() == 1 }, time.Second, 10*time.Millisecond)

	cancel()
	resp.Body.Close()

	assert.Eventually(t, func() bool { return srv.SessionCount() == 0 }, time.Second, 10*time.Millisecond)
}
