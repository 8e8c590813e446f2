package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/intelligencedev/coremem/internal/config"
	"github.com/intelligencedev/coremem/internal/tools"
)

func testRegistry() *tools.Registry {
	r := tools.NewRegistry()
	r.Register(tools.Tool{
		Name:        "get_memory_context",
		Description: "test",
		InputSchema: map[string]any{"type": "object"},
		Handler: func(ctx context.Context, args json.RawMessage) (any, error) {
			return map[string]any{"ok": true}, nil
		},
	})
	r.Register(tools.Tool{
		Name:        "add_conversation",
		Description: "test",
		InputSchema: map[string]any{"type": "object"},
		Handler: func(ctx context.Context, args json.RawMessage) (any, error) {
			return map[string]any{"ok": true}, nil
		},
	})
	return r
}

func TestHandle_InitializeReturnsProtocolVersion(t *testing.T) {
	h := NewHandler(testRegistry())
	resp := h.Handle(context.Background(), Request{JSONRPC: "2.0", ID: json.RawMessage("1"), Method: "initialize"})
	m, ok := resp.Result.(map[string]any)
	require.True(t, ok)
	require.Equal(t, protocolVersion, m["protocolVersion"])
}

func TestHandle_ToolsListIncludesRegisteredNames(t *testing.T) {
	h := NewHandler(testRegistry())
	resp := h.Handle(context.Background(), Request{JSONRPC: "2.0", ID: json.RawMessage("2"), Method: "tools/list"})
	m := resp.Result.(map[string]any)
	list := m["tools"].([]tools.Descriptor)
	names := make([]string, 0, len(list))
	for _, d := range list {
		names = append(names, d.Name)
	}
	require.Contains(t, names, "get_memory_context")
	require.Contains(t, names, "add_conversation")
}

func TestHandle_UnknownMethodReturnsMethodNotFound(t *testing.T) {
	h := NewHandler(testRegistry())
	resp := h.Handle(context.Background(), Request{JSONRPC: "2.0", ID: json.RawMessage("3"), Method: "bogus"})
	require.NotNil(t, resp.Error)
	require.Equal(t, CodeMethodNotFound, resp.Error.Code)
}

func TestStdioServer_HandlesTwoLinesSequentially(t *testing.T) {
	h := NewHandler(testRegistry())
	s := NewStdioServer(h, nil)

	input := strings.NewReader(
		`{"jsonrpc":"2.0","id":1,"method":"initialize"}` + "\n" +
			`{"jsonrpc":"2.0","id":2,"method":"tools/list"}` + "\n",
	)
	var out strings.Builder
	require.NoError(t, s.Serve(context.Background(), input, &out))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)

	var first map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	result := first["result"].(map[string]any)
	require.Equal(t, protocolVersion, result["protocolVersion"])
}

func TestHTTPServer_RequiresAuthWhenConfigured(t *testing.T) {
	h := NewHandler(testRegistry())
	cfg := config.TransportConfig{RequireAuth: true, APIKey: "secret"}
	srv := NewHTTPServer(h, cfg, nil)
	ts := httptest.NewServer(srv)
	defer ts.Close()

	resp, err := http.Get(ts.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHTTPServer_AcceptsValidAPIKeyHeader(t *testing.T) {
	h := NewHandler(testRegistry())
	cfg := config.TransportConfig{RequireAuth: true, APIKey: "secret"}
	srv := NewHTTPServer(h, cfg, nil)
	ts := httptest.NewServer(srv)
	defer ts.Close()

	req, _ := http.NewRequest(http.MethodGet, ts.URL, nil)
	req.Header.Set("X-API-Key", "secret")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
}
