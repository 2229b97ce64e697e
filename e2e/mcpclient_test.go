package e2e

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"
)

// mcpSession is a minimal MCP streamable-HTTP client: just enough of the
// initialize/tools-call lifecycle to drive run_code/ancillary tool calls
// against the coordinator's real /mcp(/anonymous) endpoint (spec §4.H,
// §6.1). The server is configured with StreamableHTTPOptions{JSONResponse:
// true}, so every response here is a single JSON-RPC object, never SSE.
type mcpSession struct {
	url       string
	bearer    string
	client    *http.Client
	sessionID string
}

type jsonrpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type jsonrpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *jsonrpcError   `json:"error"`
}

// dialMCP performs the initialize/notifications-initialized handshake
// against baseURL+path?query, authenticating per spec §4.H (legacy actorId
// query param when bearer is empty, bearer JWT otherwise).
func dialMCP(t *testing.T, baseURL, path string, query url.Values, bearer string) *mcpSession {
	t.Helper()
	s := &mcpSession{url: baseURL + path + "?" + query.Encode(), bearer: bearer, client: httpClient()}

	initResult := s.request(t, 1, "initialize", map[string]any{
		"protocolVersion": "2025-03-26",
		"capabilities":    map[string]any{},
		"clientInfo":      map[string]any{"name": "coordinator-e2e", "version": "0.0.0"},
	})
	require.NotEmpty(t, initResult, "initialize must return a result")
	require.NotEmpty(t, s.sessionID, "server must assign an Mcp-Session-Id")

	s.notify(t, "notifications/initialized", map[string]any{})
	return s
}

func (s *mcpSession) request(t *testing.T, id int, method string, params any) json.RawMessage {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0", "id": id, "method": method, "params": params,
	})
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, s.url, bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	if s.bearer != "" {
		req.Header.Set("Authorization", "Bearer "+s.bearer)
	}
	if s.sessionID != "" {
		req.Header.Set("Mcp-Session-Id", s.sessionID)
	}

	resp, err := s.client.Do(req)
	require.NoError(t, err, "%s request", method)
	defer resp.Body.Close()

	if id := resp.Header.Get("Mcp-Session-Id"); id != "" {
		s.sessionID = id
	}

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode, "%s: unexpected status, body: %s", method, raw)

	var rpc jsonrpcResponse
	require.NoError(t, json.Unmarshal(raw, &rpc), "%s: decode JSON-RPC response: %s", method, raw)
	require.Nil(t, rpc.Error, "%s: server returned JSON-RPC error: %+v", method, rpc.Error)
	return rpc.Result
}

func (s *mcpSession) notify(t *testing.T, method string, params any) {
	t.Helper()
	body, err := json.Marshal(map[string]any{"jsonrpc": "2.0", "method": method, "params": params})
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, s.url, bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	if s.bearer != "" {
		req.Header.Set("Authorization", "Bearer "+s.bearer)
	}
	if s.sessionID != "" {
		req.Header.Set("Mcp-Session-Id", s.sessionID)
	}

	resp, err := s.client.Do(req)
	require.NoError(t, err, "notify %s", method)
	defer resp.Body.Close()
	require.Less(t, resp.StatusCode, 300, "notify %s: unexpected status", method)
}

// toolCallResult is the subset of a tools/call response this suite checks:
// the rendered text block and the top-level isError flag (spec §4.H).
type toolCallResult struct {
	Text    string
	IsError bool
}

func (s *mcpSession) callTool(t *testing.T, name string, args map[string]any) toolCallResult {
	t.Helper()
	raw := s.request(t, 2, "tools/call", map[string]any{"name": name, "arguments": args})

	var decoded struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		IsError bool `json:"isError"`
	}
	require.NoError(t, json.Unmarshal(raw, &decoded), "decode tools/call result: %s", raw)
	require.NotEmpty(t, decoded.Content, "tools/call %s returned no content", name)
	return toolCallResult{Text: decoded.Content[0].Text, IsError: decoded.IsError}
}

func unauthorizedRequest(t *testing.T, baseURL, path string, query url.Values, bearer string) *http.Response {
	t.Helper()
	u := baseURL + path + "?" + query.Encode()
	body := `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-03-26","capabilities":{},"clientInfo":{"name":"coordinator-e2e","version":"0.0.0"}}}`
	req, err := http.NewRequest(http.MethodPost, u, bytes.NewReader([]byte(body)))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := httpClient().Do(req)
	require.NoError(t, err)
	return resp
}

func fmtQuery(pairs ...string) url.Values {
	v := url.Values{}
	for i := 0; i+1 < len(pairs); i += 2 {
		v.Set(pairs[i], pairs[i+1])
	}
	return v
}
