package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/taskdav/taskdav/internal/ics"
	"github.com/taskdav/taskdav/internal/store"
	"github.com/taskdav/taskdav/internal/types"
	"github.com/taskdav/taskdav/internal/ui"
)

var importCmd = &cobra.Command{
	Use:     "import <file.ics>...",
	GroupID: "tasks",
	Short:   "Import tasks from iCalendar files",
	Long: `Import every task component from .ics files into the local cache,
queued for upload like tasks created with 'tdv add'. Components that are
not tasks, or that cannot be decoded, are skipped and counted.

Example usage:
  tdv import backup.ics
  tdv import --calendar https://dav.example.com/calendars/user/tasks/ inbox/*.ics`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		calendarFlag, _ := cmd.Flags().GetString("calendar")

		cfg := loadConfig()
		st := openStore(cfg)
		defer st.Close()
		ctx := context.Background()
		calURL := resolveCalendar(ctx, cfg, st, calendarFlag)

		imported, skipped := 0, 0
		for _, path := range args {
			result, err := ics.ImportFile(ctx, st, path, calURL)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error importing %s: %v\n", path, err)
				os.Exit(1)
			}
			imported += result.Imported
			skipped += result.Skipped
			for _, msg := range result.Errors {
				fmt.Fprintf(os.Stderr, "%s %s: %s\n", ui.Warn("!"), path, msg)
			}
			if result.HierarchyFixes > 0 {
				say("%s %s: cleared %d parent reference(s) pointing outside the file\n",
					ui.Warn("!"), path, result.HierarchyFixes)
			}
		}

		line := fmt.Sprintf("%s Imported %d task(s)", ui.Pass("✓"), imported)
		if skipped > 0 {
			line += fmt.Sprintf(", skipped %d", skipped)
		}
		say("%s %s\n", line, ui.Dim("(uploaded on next sync)"))
	},
}

var exportCmd = &cobra.Command{
	Use:     "export [file.ics]",
	GroupID: "tasks",
	Short:   "Export cached tasks to iCalendar",
	Long: `Export tasks as an iCalendar stream, to the given file or to stdout.
The output round-trips through 'tdv import' and through any CalDAV
client.

Example usage:
  tdv export backup.ics
  tdv export --calendar https://dav.example.com/calendars/user/tasks/ > tasks.ics`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		calendarFlag, _ := cmd.Flags().GetString("calendar")

		cfg := loadConfig()
		st := openStore(cfg)
		defer st.Close()
		ctx := context.Background()

		tasks, err := st.ListTasks(ctx, store.Filter{CalendarURL: calendarFlag})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		// Tasks queued for deletion are on their way out; exporting them
		// would resurrect them on import.
		kept := tasks[:0]
		for _, task := range tasks {
			if task.Operation == types.OpDelete && !task.Synced {
				continue
			}
			kept = append(kept, task)
		}

		if len(args) == 0 {
			if err := ics.Export(os.Stdout, kept); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			return
		}
		if err := ics.ExportFile(args[0], kept); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		say("%s Exported %d task(s) to %s\n", ui.Pass("✓"), len(kept), args[0])
	},
}

func init() {
	importCmd.Flags().String("calendar", "", "Calendar URL for the imported tasks")
	exportCmd.Flags().String("calendar", "", "Export only this calendar URL")

	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(exportCmd)
}
