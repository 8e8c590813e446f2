package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"io"

	"github.com/intelligencedev/coremem/internal/logctx"
)

// StdioServer reads one JSON-RPC request per line from in and writes one
// JSON-RPC response per line to out, per spec §4.9's STDIO variant.
type StdioServer struct {
	handler *Handler
	ctx     *logctx.Context
}

// NewStdioServer builds a StdioServer bound to handler.
func NewStdioServer(handler *Handler, appCtx *logctx.Context) *StdioServer {
	return &StdioServer{handler: handler, ctx: appCtx}
}

// Serve runs the read-dispatch-write loop until in is exhausted or ctx is
// cancelled. Parse errors produce a -32700 response with id=null rather
// than terminating the loop.
func (s *StdioServer) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	writer := bufio.NewWriter(out)
	defer writer.Flush()

	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		line := scanner.Bytes()
		if len(bytesTrimSpace(line)) == 0 {
			continue
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			if writeErr := writeLine(writer, ParseError(err.Error())); writeErr != nil {
				return writeErr
			}
			continue
		}

		resp := s.handler.Handle(ctx, req)
		if req.IsNotification() {
			continue
		}
		if err := writeLine(writer, resp); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func writeLine(w *bufio.Writer, resp Response) error {
	b, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	if _, err := w.Write(b); err != nil {
		return err
	}
	if err := w.WriteByte('\n'); err != nil {
		return err
	}
	return w.Flush()
}

func bytesTrimSpace(b []byte) []byte {
	start := 0
	for start < len(b) && isSpace(b[start]) {
		start++
	}
	end := len(b)
	for end > start && isSpace(b[end-1]) {
		end--
	}
	return b[start:end]
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\r' || c == '\n'
}
