package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/hudacode/prayerlog/internal/remote"
	"github.com/hudacode/prayerlog/internal/ui"
)

var deleteCmd = &cobra.Command{
	Use:     "delete <record-id>",
	GroupID: "tracking",
	Short:   "Delete one attendance record",
	Long: `Delete a single attendance record by ID, locally and on the server.

Deleting a record that does not exist is not an error; the end state is
the same either way. Note that a deleted record can sync back in from a
device that still holds a copy; use 'plog clear' for removal that
sticks.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		id := args[0]

		c := openCache(cfg)
		defer c.Close()

		if err := c.Delete(id); err != nil {
			fmt.Fprintf(os.Stderr, "Error deleting from local cache: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("%s Removed %s from local cache\n", ui.RenderPass("✓"), id)

		client, prober := newRemote(cfg)
		ctx := context.Background()
		if !prober.IsAvailable(ctx) {
			fmt.Printf("%s Server not reachable; record may return on next sync\n", ui.RenderWarn("⚠"))
			return
		}

		if err := client.DeleteAttendance(ctx, id); err != nil {
			if errors.Is(err, remote.ErrNotFound) {
				fmt.Printf("%s Server had no such record\n", ui.RenderFaint("·"))
				return
			}
			fmt.Fprintf(os.Stderr, "Error deleting on server: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("%s Deleted on server\n", ui.RenderPass("✓"))
	},
}

func init() {
	rootCmd.AddCommand(deleteCmd)
}
