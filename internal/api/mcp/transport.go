// StdioTransport wires an MCP Server to an MCP client via line-delimited
// JSON-RPC 2.0 over stdin / stdout.
//
// Protocol rules (must be followed exactly):
//   - Each JSON-RPC request arrives as a single newline-terminated line on
//     stdin.
//   - Each JSON-RPC response is written as a single newline-terminated line to
//     stdout. Notifications get no response line.
//   - ALL diagnostic output (logging, errors) MUST go to stderr only.  Any
//     stray bytes on stdout will corrupt the protocol framing.

package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/log"
)

// DefaultMaxMessageSize bounds a single request line.
const DefaultMaxMessageSize = 4 * 1024 * 1024

// requestHandler is the part of *Server the transport drives.
type requestHandler interface {
	HandleRequest(ctx context.Context, requestJSON []byte) ([]byte, error)
}

// StdioTransport reads line-delimited JSON-RPC 2.0 requests from an io.Reader
// and writes responses to an io.Writer. Requests are handled one at a time in
// arrival order.
type StdioTransport struct {
	handler requestHandler
	in      *bufio.Reader
	out     io.Writer
	maxSize int
	logger  *log.Logger
}

// TransportOption configures a StdioTransport.
type TransportOption func(*StdioTransport)

// WithTransportLogger sets the transport logger. l must not write to the
// transport's output stream.
func WithTransportLogger(l *log.Logger) TransportOption {
	return func(t *StdioTransport) {
		if l != nil {
			t.logger = l
		}
	}
}

// WithMaxMessageSize sets the largest request line accepted. Longer lines are
// answered with an invalid-request error and skipped.
func WithMaxMessageSize(n int) TransportOption {
	return func(t *StdioTransport) {
		if n > 0 {
			t.maxSize = n
		}
	}
}

// NewStdioTransport constructs a StdioTransport that reads from in and writes
// to out. Without WithTransportLogger, logs go to stderr.
//
//	t := mcp.NewStdioTransport(srv, os.Stdin, os.Stdout)
//	t.Serve(ctx)
func NewStdioTransport(srv *Server, in io.Reader, out io.Writer, opts ...TransportOption) *StdioTransport {
	t := &StdioTransport{
		handler: srv,
		in:      bufio.NewReader(in),
		out:     out,
		maxSize: DefaultMaxMessageSize,
		logger:  log.NewWithOptions(os.Stderr, log.Options{Prefix: "memorycore-mcp", ReportTimestamp: true}),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Serve processes requests until the input is exhausted or ctx is done.
// A clean EOF returns nil.
func (t *StdioTransport) Serve(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			t.logger.Info("context cancelled, shutting down")
			return err
		}

		line, tooLarge, err := readLine(t.in, t.maxSize)
		if err != nil {
			if errors.Is(err, io.EOF) {
				t.logger.Info("stdin closed, shutting down")
				return nil
			}
			t.logger.Error("stdin read error", "err", err)
			return fmt.Errorf("read request: %w", err)
		}

		if tooLarge {
			t.logger.Warn("request exceeds size limit", "limit", t.maxSize)
			msg := fmt.Sprintf("request exceeds %d bytes", t.maxSize)
			if err := t.write(errorFrame(nil, ErrCodeInvalidRequest, msg)); err != nil {
				return err
			}
			continue
		}
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}

		resp, err := t.handler.HandleRequest(ctx, line)
		if err != nil {
			t.logger.Error("handler error", "err", err)
			resp = errorFrame(requestID(line), ErrCodeInternalError, err.Error())
		}
		if isNotification(line) {
			continue
		}
		if err := t.write(resp); err != nil {
			return err
		}
	}
}

func (t *StdioTransport) write(resp []byte) error {
	if _, err := fmt.Fprintf(t.out, "%s\n", resp); err != nil {
		t.logger.Error("write error", "err", err)
		return fmt.Errorf("write response: %w", err)
	}
	return nil
}

// readLine returns the next line without its terminator. When the line is
// longer than limit the rest of it is consumed and tooLarge is set.
func readLine(r *bufio.Reader, limit int) (line []byte, tooLarge bool, err error) {
	for {
		chunk, isPrefix, rerr := r.ReadLine()
		if rerr != nil {
			return nil, false, rerr
		}
		if !tooLarge {
			if len(line)+len(chunk) > limit {
				tooLarge = true
				line = nil
			} else {
				line = append(line, chunk...)
			}
		}
		if !isPrefix {
			return line, tooLarge, nil
		}
	}
}

// isNotification reports whether raw is an id-less notifications/* message,
// which must not be answered.
func isNotification(raw []byte) bool {
	var msg struct {
		Method string          `json:"method"`
		ID     json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(raw, &msg); err != nil {
		return false
	}
	return msg.ID == nil && strings.HasPrefix(msg.Method, "notifications/")
}

func requestID(raw []byte) interface{} {
	var partial struct {
		ID interface{} `json:"id"`
	}
	_ = json.Unmarshal(raw, &partial)
	return partial.ID
}

// errorFrame builds a JSON-RPC error response. It never fails so the client
// always receives a frame.
func errorFrame(id interface{}, code int, message string) []byte {
	data, err := json.Marshal(JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &JSONRPCError{Code: code, Message: message},
	})
	if err != nil {
		return []byte(`{"jsonrpc":"2.0","id":null,"error":{"code":-32603,"message":"internal error"}}`)
	}
	return data
}
