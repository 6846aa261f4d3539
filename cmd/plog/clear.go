package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/hudacode/prayerlog/internal/merge"
	"github.com/hudacode/prayerlog/internal/ui"
)

var clearCmd = &cobra.Command{
	Use:     "clear",
	GroupID: "tracking",
	Short:   "Permanently delete all attendance records",
	Long: `Delete every attendance record, locally and on the server.

This is the nuclear option. Before anything is deleted a cleared-at
watermark is raised and persisted, so records from before the clear can
never sync back in, even from devices that were offline during the
clear. Those devices' pre-clear records are silently dropped when they
reconnect.

The watermark survives until 'plog clear reset-protection' explicitly
drops it. Roster data (classes and students) is not touched.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		force, _ := cmd.Flags().GetBool("force")

		if !force {
			var confirmed bool
			err := huh.NewConfirm().
				Title("Delete ALL attendance records?").
				Description("Records are removed locally and on the server. This cannot be undone.").
				Affirmative("Delete everything").
				Negative("Cancel").
				Value(&confirmed).
				Run()
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			if !confirmed {
				fmt.Println("Cancelled")
				return
			}
		}

		c := openCache(cfg)
		defer c.Close()

		client, prober := newRemote(cfg)
		coordinator := merge.NewCoordinator(c, client, prober, nil)

		result, err := coordinator.Clear(context.Background())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("%s Cleared %d local and %d server records\n",
			ui.RenderPass("✓"), result.RemovedLocally, result.RemovedRemotely)
		fmt.Printf("   Watermark: %s\n", result.ClearedAt.Format(time.RFC3339))
		if result.Warning != "" {
			fmt.Printf("%s %s\n", ui.RenderWarn("⚠"), result.Warning)
		}
	},
}

var clearResetCmd = &cobra.Command{
	Use:   "reset-protection",
	Short: "Drop the cleared-at watermark on this device",
	Long: `Drop this device's cleared-at watermark to zero.

After a clear, the watermark blocks every record stamped before it from
entering this device's cache. Resetting removes that protection, which
lets old records sync back in if any device still holds them. Only for
recovering from a clear that should not have happened.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()

		c := openCache(cfg)
		defer c.Close()

		client, prober := newRemote(cfg)
		coordinator := merge.NewCoordinator(c, client, prober, nil)

		if err := coordinator.ResetProtection(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("%s Protection reset; old records may sync back in\n", ui.RenderWarn("⚠"))
	},
}

func init() {
	clearCmd.Flags().BoolP("force", "f", false, "Skip the confirmation prompt")

	clearCmd.AddCommand(clearResetCmd)
	rootCmd.AddCommand(clearCmd)
}
