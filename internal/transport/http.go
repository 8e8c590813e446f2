package transport

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/intelligencedev/coremem/internal/config"
	"github.com/intelligencedev/coremem/internal/logctx"
)

// HTTPServer exposes the MCP JSON-RPC core over a single HTTP endpoint,
// per spec §4.9's HTTP variant: GET for discovery, POST for RPC calls,
// every response framed as a single Server-Sent-Events message, permissive
// CORS, and header-based API-key auth.
type HTTPServer struct {
	handler *Handler
	cfg     config.TransportConfig
	ctx     *logctx.Context
	mux     *http.ServeMux
}

// NewHTTPServer builds an HTTPServer bound to handler and cfg.
func NewHTTPServer(handler *Handler, cfg config.TransportConfig, appCtx *logctx.Context) *HTTPServer {
	s := &HTTPServer{handler: handler, cfg: cfg, ctx: appCtx, mux: http.NewServeMux()}
	s.mux.HandleFunc("/", s.serveMCP)
	return s
}

// ServeHTTP satisfies http.Handler.
func (s *HTTPServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *HTTPServer) serveMCP(w http.ResponseWriter, r *http.Request) {
	applyCORS(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if s.cfg.RequireAuth && !s.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.serveDiscovery(w)
	case http.MethodPost:
		s.servePost(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// serveDiscovery answers a bare GET with the server's tool list, so MCP
// clients can discover capabilities without an initialize round-trip.
func (s *HTTPServer) serveDiscovery(w http.ResponseWriter) {
	writeSSE(w, map[string]any{"tools": s.handler.Registry.List()})
}

func (s *HTTPServer) servePost(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		writeSSEResponse(w, ParseError(err.Error()))
		return
	}

	if req.Method == "notifications/initialized" {
		w.WriteHeader(http.StatusAccepted)
		return
	}

	resp := s.handler.Handle(r.Context(), req)
	if req.IsNotification() {
		w.WriteHeader(http.StatusAccepted)
		return
	}
	writeSSEResponse(w, resp)
}

// authorized checks the three header forms spec §4.9 names:
// MCP-API-Key, X-API-Key, and Authorization: Bearer <key>.
func (s *HTTPServer) authorized(r *http.Request) bool {
	if s.cfg.APIKey == "" {
		return false
	}
	if key := r.Header.Get("MCP-API-Key"); key == s.cfg.APIKey {
		return true
	}
	if key := r.Header.Get("X-API-Key"); key == s.cfg.APIKey {
		return true
	}
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		if strings.TrimPrefix(auth, "Bearer ") == s.cfg.APIKey {
			return true
		}
	}
	return false
}

func applyCORS(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "Content-Type, MCP-API-Key, X-API-Key, Authorization")
}

// writeSSEResponse frames a Response as a single SSE message, per spec
// §4.9: "event: message\ndata: <json>\n\n" even for single-shot responses.
func writeSSEResponse(w http.ResponseWriter, resp Response) {
	b, err := json.Marshal(resp)
	if err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
		return
	}
	writeSSEFrame(w, b)
}

func writeSSE(w http.ResponseWriter, payload any) {
	b, err := json.Marshal(payload)
	if err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
		return
	}
	writeSSEFrame(w, b)
}

func writeSSEFrame(w http.ResponseWriter, data []byte) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	var frame bytes.Buffer
	frame.WriteString("event: message\n")
	frame.WriteString("data: ")
	frame.Write(data)
	frame.WriteString("\n\n")
	fmt.Fprint(w, frame.String())
}
