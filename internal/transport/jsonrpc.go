// Package transport implements C9: a JSON-RPC 2.0 core shared by the
// stdio and HTTP/SSE transports, dispatching initialize / tools/list /
// tools/call against a tools.Registry. Grounded on the teacher's
// mux-based HTTP server pattern (internal/httpapi, since rewritten) for
// the HTTP variant's routing style, and on the MCP protocol shape named
// in spec §4.9 for the envelope itself.
package transport

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/intelligencedev/coremem/internal/tools"
)

const protocolVersion = "2024-11-05"

// Request is a JSON-RPC 2.0 request envelope.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response is a JSON-RPC 2.0 response envelope. Exactly one of Result/Error
// is populated.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is the JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// Handler dispatches JSON-RPC requests against a tool registry.
type Handler struct {
	Registry *tools.Registry
}

// NewHandler builds a Handler bound to registry.
func NewHandler(registry *tools.Registry) *Handler {
	return &Handler{Registry: registry}
}

// IsNotification reports whether req carries no id (a JSON-RPC
// notification — no response body is sent).
func (req Request) IsNotification() bool {
	return len(req.ID) == 0 || string(req.ID) == "null"
}

// Handle dispatches a single JSON-RPC request and returns the response to
// write. Callers must check req.IsNotification() first and skip writing a
// response body for notifications (spec §4.9). A panic during dispatch is
// recovered and returned as a -32603 error.
func (h *Handler) Handle(ctx context.Context, req Request) (resp Response) {
	resp = Response{JSONRPC: "2.0", ID: req.ID}
	defer func() {
		if rec := recover(); rec != nil {
			resp = Response{JSONRPC: "2.0", ID: req.ID, Error: &RPCError{Code: CodeInternalError, Message: fmt.Sprintf("internal error: %v", rec)}}
		}
	}()

	switch req.Method {
	case "initialize":
		resp.Result = map[string]any{
			"protocolVersion": protocolVersion,
			"serverInfo":      map[string]any{"name": "coremem", "version": "1.0.0"},
			"capabilities":    map[string]any{"tools": map[string]any{}},
		}
	case "notifications/initialized":
		// No response body; HTTP transport maps this to 202.
	case "tools/list":
		resp.Result = map[string]any{"tools": h.Registry.List()}
	case "tools/listWithTemplates":
		resp.Result = map[string]any{"tools": h.Registry.ListWithTemplates()}
	case "tools/essential":
		resp.Result = map[string]any{"tools": h.Registry.EssentialTools()}
	case "tools/call":
		result, err := h.handleToolsCall(ctx, req.Params)
		if err != nil {
			resp.Error = &RPCError{Code: CodeInternalError, Message: err.Error()}
		} else {
			resp.Result = result
		}
	default:
		resp.Error = &RPCError{Code: CodeMethodNotFound, Message: "method not found: " + req.Method}
	}

	return resp
}

type toolsCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// handleToolsCall executes a tools/call request and maps the result to
// the {content:[{type:"text", text: ...}]} shape spec §4.9 names.
func (h *Handler) handleToolsCall(ctx context.Context, params json.RawMessage) (any, error) {
	var p toolsCallParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, err
	}
	if p.Arguments == nil {
		p.Arguments = json.RawMessage("{}")
	}

	result, err := h.Registry.Execute(ctx, p.Name, p.Arguments)
	if err != nil {
		return nil, err
	}

	text, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"content": []map[string]any{
			{"type": "text", "text": string(text)},
		},
	}, nil
}

// ParseError builds a -32700 response for a request that failed to parse,
// per spec §4.9's stdio parse-error contract (id is always null).
func ParseError(detail string) Response {
	return Response{
		JSONRPC: "2.0",
		ID:      json.RawMessage("null"),
		Error:   &RPCError{Code: CodeParseError, Message: "parse error: " + detail},
	}
}
