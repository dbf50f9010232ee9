// cmd/memorycore-mcp is the entry point for the memorycore MCP (Model Context
// Protocol) server.
//
// Startup sequence:
//  1. Load configuration ($MEMORYCORE_CONFIG, then MEMORYCORE_* overrides).
//  2. Wire the storage backend and embedding provider into the manager.
//  3. Create the MCP server around the manager.
//  4. Serve JSON-RPC 2.0 requests from stdin, writing responses to stdout.
//
// CRITICAL: ALL logging MUST go to stderr.  Any bytes written to stdout that
// are not valid JSON-RPC 2.0 response frames will corrupt the protocol.
package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"

	"github.com/scrypster/memorycore/internal/api/mcp"
	"github.com/scrypster/memorycore/internal/config"
	"github.com/scrypster/memorycore/internal/engine"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

// newServer wires the manager from cfg and wraps it in an MCP server. The
// caller closes the returned components.
func newServer(ctx context.Context, cfg *config.Config, logger *log.Logger) (*mcp.Server, *engine.Components, error) {
	c, err := engine.Build(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	srv := mcp.NewServer(c.Manager,
		mcp.WithLogger(logger.WithPrefix("mcp")),
		mcp.WithDefaultTenant(cfg.TenantID),
		mcp.WithVersion(version),
	)
	return srv, c, nil
}

// serve runs the stdio transport until in is exhausted or ctx is done.
func serve(ctx context.Context, srv *mcp.Server, in io.Reader, out io.Writer, logger *log.Logger) error {
	transport := mcp.NewStdioTransport(srv, in, out, mcp.WithTransportLogger(logger.WithPrefix("stdio")))
	logger.Info("ready, serving JSON-RPC 2.0 on stdin/stdout", "session_id", srv.SessionID())
	return transport.Serve(ctx)
}

func main() {
	// Send the default logger to stderr so that incidental log calls never
	// pollute the stdout JSON-RPC stream.
	log.SetOutput(os.Stderr)

	cfg, err := config.Load("")
	if err != nil {
		log.Fatal("failed to load config", "error", err)
	}
	logger := cfg.NewLogger(os.Stderr).WithPrefix("memorycore-mcp")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, c, err := newServer(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to start memory manager", "error", err)
	}
	defer func() {
		if err := c.Manager.Close(); err != nil {
			logger.Error("manager close error", "error", err)
		}
	}()

	if err := serve(ctx, srv, os.Stdin, os.Stdout, logger); err != nil {
		// cancellation or a fatal stdin/stdout problem; informational only
		logger.Info("transport stopped", "error", err)
	}
}
