package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/hudacode/prayerlog/internal/record"
	"github.com/hudacode/prayerlog/internal/ui"
)

// Roster commands talk straight to the server; the roster is small,
// changes rarely, and is not part of the offline cache.

var classCmd = &cobra.Command{
	Use:     "class",
	GroupID: "roster",
	Short:   "Manage classes on the server",
}

var classListCmd = &cobra.Command{
	Use:   "list",
	Short: "List classes",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		client, _ := newRemote(cfg)

		classes, err := client.Classes(context.Background())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if len(classes) == 0 {
			fmt.Printf("%s No classes\n", ui.RenderFaint("·"))
			return
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME")
		for _, cl := range classes {
			fmt.Fprintf(w, "%s\t%s\n", cl.ID, cl.Name)
		}
		w.Flush()
	},
}

var classAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Add a class",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		client, _ := newRemote(cfg)

		cl, err := client.AddClass(context.Background(), args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("%s Added class %q (%s)\n", ui.RenderPass("✓"), cl.Name, cl.ID)
	},
}

var classDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a class and everything in it",
	Long: `Delete a class by ID.

Deleting a class cascades: its students and their attendance records go
with it.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		client, _ := newRemote(cfg)

		summary, err := client.DeleteClass(context.Background(), args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("%s Deleted class, %d students, %d attendance records\n",
			ui.RenderPass("✓"), summary.DeletedStudents, summary.DeletedRecords)
	},
}

var studentCmd = &cobra.Command{
	Use:     "student",
	GroupID: "roster",
	Short:   "Manage students on the server",
}

var studentListCmd = &cobra.Command{
	Use:   "list",
	Short: "List students",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		client, _ := newRemote(cfg)

		className, _ := cmd.Flags().GetString("class")

		var (
			students []record.Student
			err      error
		)
		if className != "" {
			students, err = client.StudentsByClass(context.Background(), className)
		} else {
			students, err = client.Students(context.Background())
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if len(students) == 0 {
			fmt.Printf("%s No students\n", ui.RenderFaint("·"))
			return
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tROLL\tCLASS")
		for _, st := range students {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", st.ID, st.Name, st.RollNumber, st.ClassName)
		}
		w.Flush()
	},
}

var studentAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Add a student to a class",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		client, _ := newRemote(cfg)

		className, _ := cmd.Flags().GetString("class")
		roll, _ := cmd.Flags().GetString("roll")
		if className == "" {
			fmt.Fprintf(os.Stderr, "Error: --class is required\n")
			os.Exit(1)
		}

		st, err := client.AddStudent(context.Background(), record.Student{
			Name:       args[0],
			RollNumber: roll,
			ClassName:  className,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("%s Added %q to %s (%s)\n", ui.RenderPass("✓"), st.Name, st.ClassName, st.ID)
	},
}

var studentDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a student and their attendance records",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		client, _ := newRemote(cfg)

		summary, err := client.DeleteStudent(context.Background(), args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("%s Deleted student and %d attendance records\n",
			ui.RenderPass("✓"), summary.DeletedRecords)
	},
}

func init() {
	classCmd.AddCommand(classListCmd)
	classCmd.AddCommand(classAddCmd)
	classCmd.AddCommand(classDeleteCmd)
	rootCmd.AddCommand(classCmd)

	studentListCmd.Flags().String("class", "", "Filter by class name")
	studentAddCmd.Flags().String("class", "", "Class name (required)")
	studentAddCmd.Flags().String("roll", "", "Roll number")

	studentCmd.AddCommand(studentListCmd)
	studentCmd.AddCommand(studentAddCmd)
	studentCmd.AddCommand(studentDeleteCmd)
	rootCmd.AddCommand(studentCmd)
}
