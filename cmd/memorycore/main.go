// cmd/memorycore is the command-line front end for the memory manager.
// Every subcommand loads configuration (file, then MEMORYCORE_* environment
// overrides), wires the configured storage backend and embedding provider,
// runs one operation and prints the result as JSON on stdout. Logs go to
// stderr.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
