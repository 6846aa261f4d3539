package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/hudacode/prayerlog/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "sync",
	Short:   "Show local cache and server status",
	Long: `Display the sync state of this device.

Shows:
  - Cache file location and record count
  - The cleared-at watermark, if one is set
  - Whether the server is currently reachable`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()

		c := openCache(cfg)
		defer c.Close()

		count, err := c.Count()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading cache: %v\n", err)
			os.Exit(1)
		}

		watermark, err := c.ClearedAt()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading watermark: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("\n%s Sync Status\n\n", ui.RenderAccent("📊"))
		fmt.Printf("Cache: %s\n", cfg.CachePath)
		fmt.Printf("Records: %d\n", count)
		if watermark.IsZero() {
			fmt.Printf("Cleared-at: %s\n", ui.RenderFaint("not set"))
		} else {
			fmt.Printf("Cleared-at: %s\n", watermark.Format(time.RFC3339))
		}

		client, prober := newRemote(cfg)
		fmt.Printf("Server: %s\n", client.BaseURL())
		if prober.IsAvailable(context.Background()) {
			fmt.Printf("Reachable: %s\n", ui.RenderPass("yes"))
		} else {
			fmt.Printf("Reachable: %s\n", ui.RenderErr("no"))
		}
		fmt.Println()
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
