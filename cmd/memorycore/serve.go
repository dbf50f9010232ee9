package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/scrypster/memorycore/internal/api/ws"
	"github.com/scrypster/memorycore/internal/events"
	"github.com/scrypster/memorycore/internal/notify"
	"github.com/scrypster/memorycore/pkg/types"
)

const shutdownTimeout = 5 * time.Second

func (a *app) serveCmd() *cobra.Command {
	var (
		addr string
		opts serveOptions
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Stream memory lifecycle events over WebSocket",
		Long: `serve exposes /events (WebSocket, optional ?tenant= filter) and /health.
Events written by other memorycore processes sharing the storage path are
picked up from the events directory and forwarded to connected clients.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := a.open(cmd.Context()); err != nil {
				return err
			}
			if addr == "" {
				addr = a.cfg.Server.EventsAddr
			}
			if addr == "" {
				return errors.New("no listen address: set server.events_addr or --addr")
			}

			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("failed to listen on %s: %w", addr, err)
			}
			return a.serve(cmd.Context(), ln, opts)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default server.events_addr)")
	cmd.Flags().StringSliceVar(&opts.origins, "allow-origin", nil, "extra browser origin host patterns to accept")
	cmd.Flags().DurationVar(&opts.backupInterval, "backup-interval", 0, "take sqlite backups at this interval; 0 disables")
	return cmd
}

type serveOptions struct {
	origins        []string
	backupInterval time.Duration
}

// serve runs the event stream on ln until ctx is done. a.open must have
// succeeded.
func (a *app) serve(ctx context.Context, ln net.Listener, opts serveOptions) error {
	c := a.components
	logger := a.logger.WithPrefix("serve")

	if opts.backupInterval > 0 {
		svc, err := a.backupService(opts.backupInterval)
		if err != nil {
			return err
		}
		go func() {
			if err := svc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("backup schedule stopped", "error", err)
			}
		}()
	}

	hub := ws.NewHub(ws.WithLogger(a.logger.WithPrefix("ws")), ws.WithOriginPatterns(opts.origins...))
	go hub.Run()
	defer hub.Stop()

	if c.Events != nil {
		// file events from every process, this one included
		watcher := notify.NewEventWatcher(c.Events.Dir(), hub.Broadcast, a.logger.WithPrefix("notify"))
		if err := watcher.Start(); err != nil {
			return fmt.Errorf("failed to watch %s: %w", c.Events.Dir(), err)
		}
		defer watcher.Stop()
	} else {
		c.Bus.Subscribe(events.Wildcard, hub.Handle)
	}

	mux := http.NewServeMux()
	mux.Handle("/events", hub)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		report := c.Manager.Health(r.Context())
		w.Header().Set("Content-Type", "application/json")
		if report.Status == types.HealthUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(report)
	})

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	logger.Info("serving lifecycle events", "addr", ln.Addr().String())

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	hub.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
