package main

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/taskdav/taskdav/internal/types"
	"github.com/taskdav/taskdav/internal/ui"
)

var statsCmd = &cobra.Command{
	Use:     "stats",
	GroupID: "setup",
	Short:   "Show task and sync statistics",
	Args:    cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		st := openStore(cfg)
		defer st.Close()
		ctx := context.Background()

		report, err := st.Stats(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		fmt.Println(ui.Banner("Tasks"))
		fmt.Printf("  %-10s %d\n", "Total", report.Total)
		fmt.Printf("  %-10s %d\n", "Open", report.Open)
		fmt.Printf("  %-10s %d\n", "Completed", report.Completed)
		overdue := fmt.Sprintf("%d", report.Overdue)
		if report.Overdue > 0 {
			overdue = ui.Fail(overdue)
		}
		fmt.Printf("  %-10s %s\n", "Overdue", overdue)
		pending := fmt.Sprintf("%d", report.PendingSync)
		if report.PendingSync > 0 {
			pending = ui.Warn(pending)
		}
		fmt.Printf("  %-10s %s\n", "Unsynced", pending)

		if len(report.ByPriority) > 0 {
			fmt.Println()
			fmt.Println(ui.Banner("By priority"))
			for _, bucket := range []string{"high", "medium", "low", "none"} {
				if count, ok := report.ByPriority[bucket]; ok {
					fmt.Printf("  %-10s %d\n", bucket, count)
				}
			}
		}

		if len(report.ByCalendar) > 0 {
			// Show display names where the cache knows them.
			names := make(map[string]string)
			if calendars, err := st.ListCalendars(ctx); err == nil {
				for _, cal := range calendars {
					name := cal.DisplayName
					if name == "" {
						name = cal.Name
					}
					names[cal.URL] = name
				}
			}
			urls := make([]string, 0, len(report.ByCalendar))
			for url := range report.ByCalendar {
				urls = append(urls, url)
			}
			sort.Strings(urls)

			fmt.Println()
			fmt.Println(ui.Banner("By calendar"))
			for _, url := range urls {
				label := names[url]
				if label == "" {
					label = url
				}
				fmt.Printf("  %-30s %d\n", label, report.ByCalendar[url])
			}
		}
	},
}

var logsCmd = &cobra.Command{
	Use:     "logs",
	GroupID: "setup",
	Short:   "Show the sync audit log",
	Long: `Show recent sync operations, newest first. Every pushed record,
repair, and failure lands here with its outcome.

Example usage:
  tdv logs
  tdv logs --status error --limit 50`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		limit, _ := cmd.Flags().GetInt("limit")
		status, _ := cmd.Flags().GetString("status")

		cfg := loadConfig()
		st := openStore(cfg)
		defer st.Close()

		entries, err := st.ListSyncLogs(context.Background(), limit, 0, status)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if len(entries) == 0 {
			say("No sync activity logged yet.\n")
			return
		}

		for _, entry := range entries {
			glyph := ui.Pass("✓")
			switch entry.Status {
			case types.LogError:
				glyph = ui.Fail("✗")
			case types.LogWarning:
				glyph = ui.Warn("!")
			}
			line := fmt.Sprintf("%s %s %-7s", glyph, ui.Dim(humanize.Time(entry.Timestamp)), entry.Operation)
			if entry.TaskUID != "" {
				line += " " + ui.Dim(shortUID(entry.TaskUID))
			}
			if entry.Message != "" {
				line += " " + entry.Message
			}
			fmt.Println(line)
			if entry.ErrorDetails != "" {
				fmt.Printf("    %s\n", ui.Dim(entry.ErrorDetails))
			}
		}
	},
}

func init() {
	logsCmd.Flags().IntP("limit", "n", 20, "Number of entries to show")
	logsCmd.Flags().String("status", "", "Filter by status: success, warning, error")

	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(logsCmd)
}
