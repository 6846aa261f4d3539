package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/hudacode/prayerlog/internal/cache"
	"github.com/hudacode/prayerlog/internal/record"
	"github.com/hudacode/prayerlog/internal/ui"
)

var listCmd = &cobra.Command{
	Use:     "list",
	GroupID: "tracking",
	Short:   "List attendance records from the local cache",
	Long: `List attendance records from the local cache.

Reads are local only and work offline. Run 'plog sync' first if you want
the view to include other devices' records.

Example usage:
  plog list                       # Everything in the cache
  plog list --date 2026-08-30     # One day
  plog list --class "Class 5B"    # One class
  plog list --activity fajr       # One activity`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()

		date, _ := cmd.Flags().GetString("date")
		className, _ := cmd.Flags().GetString("class")
		activityArg, _ := cmd.Flags().GetString("activity")

		var activity record.Activity
		if activityArg != "" {
			parsed, ok := record.ParseActivity(activityArg)
			if !ok {
				fmt.Fprintf(os.Stderr, "Error: unknown activity %q (want one of: %s)\n",
					activityArg, activityNames())
				os.Exit(1)
			}
			activity = parsed
		}

		c := openCache(cfg)
		defer c.Close()

		records, err := c.GetByFilters(cache.Filters{
			Date:      date,
			ClassName: className,
			Activity:  activity,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading cache: %v\n", err)
			os.Exit(1)
		}

		if len(records) == 0 {
			fmt.Printf("%s No records found\n", ui.RenderFaint("·"))
			return
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "DATE\tSTUDENT\tCLASS\tACTIVITY\tSTATUS\tREASON")
		for _, rec := range records {
			name := rec.StudentName
			if name == "" {
				name = rec.StudentID
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				rec.Date, name, rec.ClassName, rec.Activity, rec.Status, rec.Reason)
		}
		w.Flush()
		fmt.Printf("\n%d records\n", len(records))
	},
}

func init() {
	listCmd.Flags().StringP("date", "d", "", "Filter by date (YYYY-MM-DD)")
	listCmd.Flags().String("class", "", "Filter by class name")
	listCmd.Flags().String("activity", "", "Filter by activity")

	rootCmd.AddCommand(listCmd)
}
