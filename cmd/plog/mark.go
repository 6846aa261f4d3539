package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hudacode/prayerlog/internal/merge"
	"github.com/hudacode/prayerlog/internal/record"
	"github.com/hudacode/prayerlog/internal/ui"
)

var markCmd = &cobra.Command{
	Use:     "mark <student-id> <activity>",
	GroupID: "tracking",
	Short:   "Mark attendance for a student",
	Long: `Mark a student present or absent for an activity on a date.

The record is written to the local cache first, so this always succeeds
offline. If the server is reachable the record is pushed immediately;
otherwise the next sync carries it upstream.

Marking the same student/date/activity again overwrites the earlier
record. The newer write wins everywhere once devices sync.

Activities: Fajr, Dhuhr, Asr, Maghrib, Isha, Other

Example usage:
  plog mark s-17 fajr                          # Present today
  plog mark s-17 asr --status absent --reason sick
  plog mark s-17 other --reason "Quran circle" --date 2026-08-30`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()

		activity, ok := record.ParseActivity(args[1])
		if !ok {
			fmt.Fprintf(os.Stderr, "Error: unknown activity %q (want one of: %s)\n",
				args[1], activityNames())
			os.Exit(1)
		}

		status, _ := cmd.Flags().GetString("status")
		date, _ := cmd.Flags().GetString("date")
		reason, _ := cmd.Flags().GetString("reason")
		name, _ := cmd.Flags().GetString("name")
		className, _ := cmd.Flags().GetString("class")
		if date == "" {
			date = today()
		}

		rec := record.AttendanceRecord{
			StudentID:   args[0],
			StudentName: name,
			ClassName:   className,
			Activity:    activity,
			Date:        date,
			Status:      record.Status(strings.ToLower(status)),
			Reason:      reason,
		}
		rec.SetDefaults()
		if err := rec.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		c := openCache(cfg)
		defer c.Close()

		ctx := context.Background()
		if err := c.PutContext(ctx, &rec); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing to local cache: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("%s Marked %s %s for %s on %s\n",
			ui.RenderPass("✓"), args[0], rec.Status, rec.Activity, rec.Date)

		// Best-effort immediate push. The record is durable locally; a
		// miss here just waits for the next sync.
		client, prober := newRemote(cfg)
		engine := merge.NewEngine(c, client, prober, nil)
		if err := engine.Push(ctx, rec); err != nil {
			fmt.Printf("%s Server not reachable; record queued for next sync\n", ui.RenderWarn("⚠"))
			return
		}
		fmt.Printf("%s Pushed to server\n", ui.RenderPass("✓"))
	},
}

func activityNames() string {
	names := make([]string, len(record.Activities))
	for i, a := range record.Activities {
		names[i] = string(a)
	}
	return strings.Join(names, ", ")
}

func init() {
	markCmd.Flags().StringP("status", "s", "present", "Attendance status (present or absent)")
	markCmd.Flags().StringP("date", "d", "", "Date in YYYY-MM-DD (default today)")
	markCmd.Flags().StringP("reason", "r", "", "Absence reason, or sub-category for Other")
	markCmd.Flags().String("name", "", "Student display name (denormalized into the record)")
	markCmd.Flags().String("class", "", "Class name (denormalized into the record)")

	rootCmd.AddCommand(markCmd)
}
