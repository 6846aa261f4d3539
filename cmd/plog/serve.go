package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hudacode/prayerlog/internal/logging"
	"github.com/hudacode/prayerlog/internal/server"
	"github.com/hudacode/prayerlog/internal/ui"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	GroupID: "server",
	Short:   "Start the shared attendance server (foreground)",
	Long: `Start the attendance server in foreground mode.

The server keeps the canonical record set in a JSON store file and
broadcasts changes to connected WebSocket clients, so every device on
the network converges on the same state.

WebSocket messages include:
- attendance_updated: record created or updated
- attendance_deleted: record deleted, or all records cleared
- class_updated / class_deleted: roster changes
- student_updated / student_deleted: roster changes

Example usage:
  plog serve                     # Listen on the configured address
  plog serve --addr :9000        # Listen on a custom address
  plog serve --seed roster.yaml  # Load classes/students on startup

Connect with a WebSocket client:
  ws://localhost:8080/ws`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()

		if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
			cfg.ServerAddr = addr
		}
		if dataFile, _ := cmd.Flags().GetString("data"); dataFile != "" {
			cfg.DataFile = dataFile
		}
		seedPath, _ := cmd.Flags().GetString("seed")

		logger := logging.New("[server] ", logging.Options{
			File:       cfg.LogFile,
			MaxSizeMB:  cfg.LogMaxSizeMB,
			MaxBackups: cfg.LogMaxBackups,
		})

		store, err := server.OpenStore(cfg.DataFile, logger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening store: %v\n", err)
			os.Exit(1)
		}

		if seedPath != "" {
			seed, err := server.LoadSeedFile(seedPath)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error reading seed file: %v\n", err)
				os.Exit(1)
			}
			result, err := store.ApplySeed(seed)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error applying seed file: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("%s Seeded %d classes, %d students (%d already present)\n",
				ui.RenderPass("✓"), result.ClassesAdded, result.StudentsAdded, result.Skipped)
		}

		srv := server.NewServer(store, &server.Config{
			Addr:   cfg.ServerAddr,
			Logger: logger,
		})

		if err := srv.Start(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to start server: %v\n", err)
			os.Exit(1)
		}

		// Watch the store file so edits made outside this process still
		// reach connected clients.
		watcher, err := server.NewStoreWatcher(store, srv.Hub(), logger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating store watcher: %v\n", err)
			os.Exit(1)
		}
		if err := watcher.Start(); err != nil {
			fmt.Fprintf(os.Stderr, "Error starting store watcher: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("%s Attendance server started on %s\n", ui.RenderAccent("🚀"), srv.GetAddr())
		fmt.Printf("   Store: %s\n", store.Path())
		fmt.Printf("   WebSocket: ws://%s/ws\n", srv.GetAddr())
		fmt.Println("\nPress Ctrl+C to stop...")

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		<-ctx.Done()

		fmt.Println("\nShutting down server...")
		if err := watcher.Stop(); err != nil {
			fmt.Fprintf(os.Stderr, "Error stopping watcher: %v\n", err)
		}
		if err := srv.Stop(); err != nil {
			fmt.Fprintf(os.Stderr, "Error during shutdown: %v\n", err)
			os.Exit(1)
		}

		fmt.Println("Server stopped")
	},
}

func init() {
	serveCmd.Flags().StringP("addr", "a", "", "Listen address (overrides config)")
	serveCmd.Flags().String("data", "", "Store file path (overrides config)")
	serveCmd.Flags().String("seed", "", "YAML roster file to load on startup")

	rootCmd.AddCommand(serveCmd)
}
