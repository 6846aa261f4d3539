package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/hudacode/prayerlog/internal/merge"
	"github.com/hudacode/prayerlog/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Reconcile the local cache with the server once",
	Long: `Run one reconcile pass against the server.

This pulls the server's record set, resolves conflicts per record
timestamp (newest wins, server wins ties), pushes local records the
server is missing, and persists the converged set back into the cache.

If the server is unreachable the command reports the local view and
exits successfully; sync is advisory, not required for the tracker to
work.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()

		c := openCache(cfg)
		defer c.Close()

		client, prober := newRemote(cfg)
		engine := merge.NewEngine(c, client, prober, nil)

		ctx := context.Background()
		if !prober.IsAvailable(ctx) {
			count, err := c.Count()
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error reading cache: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("%s Server not reachable; local cache has %d records\n",
				ui.RenderWarn("⚠"), count)
			return
		}

		fmt.Printf("%s Syncing with %s...\n", ui.RenderAccent("🔄"), client.BaseURL())
		start := time.Now()

		converged, err := engine.Reconcile(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error during sync: %v\n", err)
			os.Exit(1)
		}

		elapsed := time.Since(start)
		fmt.Printf("%s Sync complete in %v\n", ui.RenderPass("✓"), elapsed.Round(time.Millisecond))
		fmt.Printf("   Records: %d\n", len(converged))
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
}
