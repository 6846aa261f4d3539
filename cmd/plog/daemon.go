package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hudacode/prayerlog/internal/bus"
	"github.com/hudacode/prayerlog/internal/logging"
	"github.com/hudacode/prayerlog/internal/merge"
	"github.com/hudacode/prayerlog/internal/remote"
	"github.com/hudacode/prayerlog/internal/ui"
)

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: "sync",
	Short:   "Start the background sync daemon (foreground)",
	Long: `Run the sync daemon in foreground mode.

The daemon keeps the local cache converged with the server:
  1. Reconciles on startup if the server is reachable
  2. Subscribes to the server's WebSocket feed and reconciles on change
  3. Reconciles on a timer, and immediately when the server comes back
     after an outage

Server outages are expected and silent; the daemon keeps probing and
picks up where it left off. For production use, run it under a process
manager.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()

		logger := logging.New("[daemon] ", logging.Options{
			File:       cfg.LogFile,
			MaxSizeMB:  cfg.LogMaxSizeMB,
			MaxBackups: cfg.LogMaxBackups,
		})

		c := openCache(cfg)
		defer c.Close()

		client, prober := newRemote(cfg)
		engine := merge.NewEngine(c, client, prober, logger)

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		reconcile := func(reason string) {
			converged, err := engine.Reconcile(ctx)
			if err != nil {
				logger.Printf("Reconcile failed (%s): %v", reason, err)
				return
			}
			logger.Printf("Reconciled (%s): %d records", reason, len(converged))
		}

		fmt.Printf("%s Sync daemon started\n", ui.RenderAccent("🚀"))
		fmt.Printf("   Server: %s\n", client.BaseURL())
		fmt.Printf("   Cache:  %s\n", cfg.CachePath)
		fmt.Printf("   Every:  %v\n", cfg.SyncInterval)
		fmt.Println("\nPress Ctrl+C to stop")

		reconcile("startup")

		// Change notifications trigger an immediate reconcile; the event
		// payload is only a hint, the reconcile re-reads everything.
		sub := remote.NewSubscriber(client, func(msg bus.Message) {
			switch msg.Type {
			case bus.MessageTypeAttendanceUpdated, bus.MessageTypeAttendanceDeleted:
				reconcile("server event " + string(msg.Type))
			}
		}, logger)

		go func() {
			for ctx.Err() == nil {
				if err := sub.Run(ctx); err != nil {
					logger.Printf("Subscription lost: %v", err)
				}
				if ctx.Err() != nil {
					return
				}
				// Back off until the next availability window before
				// dialing again.
				select {
				case <-ctx.Done():
					return
				case <-time.After(cfg.SyncInterval):
				}
			}
		}()

		ticker := time.NewTicker(cfg.SyncInterval)
		defer ticker.Stop()

		wasAvailable := prober.IsAvailable(ctx)
		for {
			select {
			case <-ctx.Done():
				fmt.Println("\nSync daemon stopped")
				return
			case <-ticker.C:
				available := prober.IsAvailable(ctx)
				switch {
				case available && !wasAvailable:
					logger.Printf("Server reachable again")
					reconcile("reconnect")
				case available:
					reconcile("periodic")
				}
				wasAvailable = available
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(daemonCmd)
}
