package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kanzleidev/portaltracker/internal/config"
	"github.com/kanzleidev/portaltracker/internal/daemon"
	"github.com/kanzleidev/portaltracker/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the tracker server (foreground)",
	Long: `Start the tracker in foreground mode.

The server will:
  1. Reconcile startup state between the remote store and the local cache
  2. Serve the row operation endpoints and the WebSocket status feed
  3. Watch the spool directory for dropped edit files (if configured)
  4. Push mutations to the remote store with debounced upserts`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := config.Load()

		t, localCache, err := buildTracker(cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer localCache.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		t.Coordinator.Bootstrap(ctx)
		cancel()

		srv := server.NewServer(t, &server.Config{
			Port:   cfg.ListenPort,
			Logger: newLogger("[server] ", cfg),
		})
		t.WireBroadcasts(srv)

		if err := srv.Start(); err != nil {
			fmt.Fprintf(os.Stderr, "Error starting server: %v\n", err)
			os.Exit(1)
		}

		var spool *daemon.Daemon
		if cfg.SpoolDir != "" {
			spool, err = daemon.New(t.Coordinator, cfg.SpoolDir, &daemon.Config{
				Logger: newLogger("[daemon] ", cfg),
			})
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error creating spool daemon: %v\n", err)
				os.Exit(1)
			}
			if err := spool.Start(); err != nil {
				fmt.Fprintf(os.Stderr, "Error starting spool daemon: %v\n", err)
				os.Exit(1)
			}
		}

		fmt.Printf("Tracker listening on %s (sync: %s)\n", srv.Addr(), t.Status())

		// Wait for shutdown signal
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		fmt.Println("\nShutting down...")

		if spool != nil {
			if err := spool.Stop(); err != nil {
				fmt.Fprintf(os.Stderr, "Error stopping spool daemon: %v\n", err)
			}
		}
		if err := srv.Stop(); err != nil {
			fmt.Fprintf(os.Stderr, "Error stopping server: %v\n", err)
		}

		// Push any still-debouncing edits before exit.
		flushCtx, flushCancel := context.WithTimeout(context.Background(), 30*time.Second)
		t.Coordinator.Flush(flushCtx)
		flushCancel()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
