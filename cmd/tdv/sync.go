package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/taskdav/taskdav/internal/config"
	"github.com/taskdav/taskdav/internal/store"
	"github.com/taskdav/taskdav/internal/types"
	"github.com/taskdav/taskdav/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Run a full pull+push cycle against the server",
	Long: `Sync every configured calendar: download the server state, then
upload queued local changes. The server wins on pull; local edits made
since the last sync are replayed on push.

Examples:
  tdv sync
  tdv sync --calendar https://dav.example.com/calendars/user/tasks/`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		calendarFlag, _ := cmd.Flags().GetString("calendar")

		cfg := loadConfig()
		st := openStore(cfg)
		defer st.Close()
		engine := buildEngine(cfg, st, syncLogger(), nil)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		start := time.Now()

		if calendarFlag != "" {
			calURL := resolveCalendar(ctx, cfg, st, calendarFlag)
			pullStats, pushStats, err := engine.SyncCalendar(ctx, calURL)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("%s Sync complete in %v\n", ui.Pass("✓"), time.Since(start).Round(time.Millisecond))
			say("  fetched %d, created %d, updated %d, pushed %d, remaining %d\n",
				pullStats.Fetched, pullStats.Created, pullStats.Updated, pushStats.Pushed, pushStats.Remaining)
			warnPushErrors(pushStats.Errors)
			return
		}

		report, err := engine.SyncAll(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if report.Offline {
			fmt.Printf("%s Server unreachable, used the cached calendar list\n", ui.Warn("!"))
		}
		fmt.Printf("%s Sync complete in %v\n", ui.Pass("✓"), time.Since(start).Round(time.Millisecond))
		say("  %d calendar(s): fetched %d, created %d, updated %d, pushed %d, remaining %d\n",
			report.Calendars, report.Pull.Fetched, report.Pull.Created, report.Pull.Updated,
			report.Push.Pushed, report.Push.Remaining)
		warnPushErrors(report.Push.Errors)
		if len(report.Failures) > 0 {
			for _, failure := range report.Failures {
				fmt.Fprintf(os.Stderr, "%s %s\n", ui.Fail("✗"), failure)
			}
			os.Exit(1)
		}
	},
}

var pullCmd = &cobra.Command{
	Use:     "pull",
	GroupID: "sync",
	Short:   "Download server changes without uploading",
	Long: `Pull the server state into the local cache. Local pending changes
stay queued; nothing is uploaded.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		calendarFlag, _ := cmd.Flags().GetString("calendar")

		cfg := loadConfig()
		st := openStore(cfg)
		defer st.Close()
		engine := buildEngine(cfg, st, syncLogger(), nil)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		var targets []string
		if calendarFlag != "" {
			targets = []string{resolveCalendar(ctx, cfg, st, calendarFlag)}
		} else {
			calendars, offline, err := engine.Calendars(ctx)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			if offline {
				fmt.Fprintf(os.Stderr, "Error: server unreachable, cannot pull\n")
				os.Exit(1)
			}
			for _, cal := range activeCalendars(cfg, calendars) {
				targets = append(targets, cal.URL)
			}
		}

		var total types.SyncStats
		for _, calURL := range targets {
			stats, err := engine.Pull(ctx, calURL)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			total.Add(stats)
		}
		fmt.Printf("%s Pulled %d calendar(s): fetched %d, created %d, updated %d\n",
			ui.Pass("✓"), len(targets), total.Fetched, total.Created, total.Updated)
	},
}

var pushCmd = &cobra.Command{
	Use:     "push",
	GroupID: "sync",
	Short:   "Upload queued local changes",
	Long: `Push replays local creates, edits, and deletes that have not
reached the server yet. Records that fail stay queued and are retried
on the next push.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		calendarFlag, _ := cmd.Flags().GetString("calendar")

		cfg := loadConfig()
		st := openStore(cfg)
		defer st.Close()
		engine := buildEngine(cfg, st, syncLogger(), nil)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		var targets []string
		if calendarFlag != "" {
			targets = []string{resolveCalendar(ctx, cfg, st, calendarFlag)}
		} else {
			pending, err := st.ListTasks(ctx, store.Filter{Unsynced: true})
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			seen := make(map[string]bool)
			for _, task := range pending {
				if !seen[task.CalendarURL] {
					seen[task.CalendarURL] = true
					targets = append(targets, task.CalendarURL)
				}
			}
		}
		if len(targets) == 0 {
			say("Nothing to push\n")
			return
		}

		var total types.PushStats
		for _, calURL := range targets {
			stats, err := engine.Push(ctx, calURL)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			total.Add(stats)
		}
		fmt.Printf("%s Pushed %d change(s), %d remaining\n", ui.Pass("✓"), total.Pushed, total.Remaining)
		warnPushErrors(total.Errors)
	},
}

var calendarsCmd = &cobra.Command{
	Use:     "calendars",
	GroupID: "sync",
	Short:   "List the task calendars on the server",
	Long: `List calendars that accept tasks. The list comes from the server and
refreshes the local cache; with --local, or when the server is
unreachable, the cached list is shown instead.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		local, _ := cmd.Flags().GetBool("local")

		cfg := loadConfig()
		st := openStore(cfg)
		defer st.Close()
		ctx := context.Background()

		var calendars []types.Calendar
		var err error
		if local {
			calendars, err = st.ListCalendars(ctx)
		} else {
			engine := buildEngine(cfg, st, syncLogger(), nil)
			var offline bool
			calendars, offline, err = engine.Calendars(ctx)
			if offline {
				fmt.Printf("%s Server unreachable, showing the cached list\n", ui.Warn("!"))
			}
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if len(calendars) == 0 {
			say("No calendars known yet. Run 'tdv sync' to discover them.\n")
			return
		}

		for _, cal := range calendars {
			marker := ui.Pass("✓")
			if !cal.IsActive {
				marker = ui.Dim("-")
			}
			name := cal.DisplayName
			if name == "" {
				name = cal.Name
			}
			line := fmt.Sprintf("%s %s %s", marker, ui.Bold(name), ui.Dim(fmt.Sprintf("(%d tasks)", cal.TaskCount)))
			if cal.LastSync != nil {
				line += " " + ui.Dim("synced "+humanize.Time(*cal.LastSync))
			}
			fmt.Println(line)
			fmt.Printf("  %s\n", ui.Dim(cal.URL))
		}
	},
}

func init() {
	syncCmd.Flags().String("calendar", "", "Sync only this calendar URL")
	pullCmd.Flags().String("calendar", "", "Pull only this calendar URL")
	pushCmd.Flags().String("calendar", "", "Push only this calendar URL")
	calendarsCmd.Flags().Bool("local", false, "Show the cached list without contacting the server")

	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(pullCmd)
	rootCmd.AddCommand(pushCmd)
	rootCmd.AddCommand(calendarsCmd)
}

// activeCalendars filters discovery output down to the calendars a
// command should touch, honoring the sync.calendars restriction.
func activeCalendars(cfg *config.Config, calendars []types.Calendar) []types.Calendar {
	only := make(map[string]bool, len(cfg.Sync.Calendars))
	for _, url := range cfg.Sync.Calendars {
		only[url] = true
	}
	var out []types.Calendar
	for _, cal := range calendars {
		if !cal.IsActive {
			continue
		}
		if len(only) > 0 && !only[cal.URL] {
			continue
		}
		out = append(out, cal)
	}
	return out
}

// warnPushErrors prints per-record push failures without failing the
// command; those records stay queued for the next cycle.
func warnPushErrors(errors []string) {
	for _, msg := range errors {
		fmt.Fprintf(os.Stderr, "%s %s\n", ui.Warn("!"), msg)
	}
}
