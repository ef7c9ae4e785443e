package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/dustin/go-humanize"
	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"

	"github.com/taskdav/taskdav/internal/store"
	"github.com/taskdav/taskdav/internal/types"
	"github.com/taskdav/taskdav/internal/ui"
)

var addCmd = &cobra.Command{
	Use:     "add <summary>...",
	GroupID: "tasks",
	Short:   "Add a task to the local cache, queued for upload",
	Long: `Add a task. The task is written to the local cache immediately and
uploaded on the next sync or push.

Due dates accept natural language as well as exact forms:
  tdv add Buy milk --due tomorrow
  tdv add Quarterly report --due "friday at 17:00" --priority 2
  tdv add Fix the fence --due 2026-09-01 --tags home,outdoor`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		calendarFlag, _ := cmd.Flags().GetString("calendar")
		description, _ := cmd.Flags().GetString("description")
		dueFlag, _ := cmd.Flags().GetString("due")
		parentFlag, _ := cmd.Flags().GetString("parent")
		priority, _ := cmd.Flags().GetInt("priority")
		tags, _ := cmd.Flags().GetStringSlice("tags")
		estimateFlag, _ := cmd.Flags().GetString("estimate")

		cfg := loadConfig()
		st := openStore(cfg)
		defer st.Close()
		ctx := context.Background()

		task := types.NewTask(strings.Join(args, " "))
		task.CalendarURL = resolveCalendar(ctx, cfg, st, calendarFlag)
		task.Description = description
		task.Priority = priority
		task.Tags = tags

		if dueFlag != "" {
			due, err := parseDue(dueFlag)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			task.Due = due
		}
		if estimateFlag != "" {
			minutes, err := parseEstimate(estimateFlag)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			task.EstimatedDuration = minutes
		}
		if parentFlag != "" {
			parent := lookupTaskIn(ctx, st, task.CalendarURL, parentFlag)
			task.ParentUID = parent.UID
		}

		if err := task.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if err := st.UpsertTask(ctx, task); err != nil {
			fmt.Fprintf(os.Stderr, "Error saving task: %v\n", err)
			os.Exit(1)
		}

		line := fmt.Sprintf("%s Added %s %s", ui.Pass("✓"), ui.Dim(shortUID(task.UID)), task.Summary)
		if task.Due != nil {
			line += " " + ui.Dim("(due "+humanize.Time(*task.Due)+")")
		}
		say("%s\n", line)
	},
}

var listCmd = &cobra.Command{
	Use:     "list",
	GroupID: "tasks",
	Short:   "List cached tasks",
	Long: `List tasks from the local cache. Completed tasks are hidden unless
--all or --done is given.

Examples:
  tdv list --tag errands --sort due
  tdv list --overdue
  tdv list --search milk`,
	Aliases: []string{"ls"},
	Args:    cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		calendar, _ := cmd.Flags().GetString("calendar")
		all, _ := cmd.Flags().GetBool("all")
		doneOnly, _ := cmd.Flags().GetBool("done")
		tag, _ := cmd.Flags().GetString("tag")
		overdue, _ := cmd.Flags().GetBool("overdue")
		roots, _ := cmd.Flags().GetBool("roots")
		search, _ := cmd.Flags().GetString("search")
		sortBy, _ := cmd.Flags().GetString("sort")
		desc, _ := cmd.Flags().GetBool("desc")
		limit, _ := cmd.Flags().GetInt("limit")

		cfg := loadConfig()
		st := openStore(cfg)
		defer st.Close()

		filter := store.Filter{
			CalendarURL: calendar,
			Tag:         tag,
			OverdueOnly: overdue,
			RootsOnly:   roots,
			Query:       search,
			SortBy:      sortBy,
			SortDesc:    desc,
			Limit:       limit,
		}
		switch {
		case doneOnly:
			completed := true
			filter.Completed = &completed
		case !all:
			completed := false
			filter.Completed = &completed
		}

		tasks, err := st.ListTasks(context.Background(), filter)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error listing tasks: %v\n", err)
			os.Exit(1)
		}

		if len(tasks) == 0 {
			say("No tasks. Add one with 'tdv add'.\n")
			return
		}
		for _, task := range tasks {
			fmt.Println(renderTask(task))
		}
	},
}

var doneCmd = &cobra.Command{
	Use:     "done <uid>...",
	GroupID: "tasks",
	Short:   "Mark tasks completed",
	Args:    cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		setCompletion(args, true)
	},
}

var undoneCmd = &cobra.Command{
	Use:     "undone <uid>...",
	GroupID: "tasks",
	Short:   "Mark completed tasks open again",
	Args:    cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		setCompletion(args, false)
	},
}

var editCmd = &cobra.Command{
	Use:     "edit <uid>",
	GroupID: "tasks",
	Short:   "Edit a task's fields",
	Long: `Edit a task. Only the flags given change; everything else keeps its
value. Pass --due none, --parent none, or --priority 0 to clear those
fields, and --tags "" to clear the tag set.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		st := openStore(cfg)
		defer st.Close()
		ctx := context.Background()

		task := lookupTask(ctx, st, args[0])
		flags := cmd.Flags()

		if flags.Changed("summary") {
			summary, _ := flags.GetString("summary")
			task.Summary = strings.TrimSpace(summary)
		}
		if flags.Changed("description") {
			task.Description, _ = flags.GetString("description")
		}
		if flags.Changed("priority") {
			task.Priority, _ = flags.GetInt("priority")
		}
		if flags.Changed("due") {
			dueFlag, _ := flags.GetString("due")
			if dueFlag == "" || dueFlag == "none" {
				task.Due = nil
			} else {
				due, err := parseDue(dueFlag)
				if err != nil {
					fmt.Fprintf(os.Stderr, "Error: %v\n", err)
					os.Exit(1)
				}
				task.Due = due
			}
		}
		if flags.Changed("parent") {
			parentFlag, _ := flags.GetString("parent")
			if parentFlag == "" || parentFlag == "none" {
				task.ParentUID = ""
			} else {
				parent := lookupTaskIn(ctx, st, task.CalendarURL, parentFlag)
				if parent.UID == task.UID {
					fmt.Fprintf(os.Stderr, "Error: a task cannot be its own parent\n")
					os.Exit(1)
				}
				task.ParentUID = parent.UID
			}
		}
		if flags.Changed("tags") {
			tags, _ := flags.GetStringSlice("tags")
			if len(tags) == 1 && tags[0] == "" {
				tags = nil
			}
			task.Tags = tags
		}
		if flags.Changed("estimate") {
			estimateFlag, _ := flags.GetString("estimate")
			minutes, err := parseEstimate(estimateFlag)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			task.EstimatedDuration = minutes
		}
		if flags.Changed("actual") {
			actualFlag, _ := flags.GetString("actual")
			minutes, err := parseEstimate(actualFlag)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			task.ActualDuration = minutes
		}

		if err := task.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		task.MarkLocalUpdate()
		task.Touch()
		if err := st.UpsertTask(ctx, task); err != nil {
			fmt.Fprintf(os.Stderr, "Error saving task: %v\n", err)
			os.Exit(1)
		}
		say("%s Updated %s %s\n", ui.Pass("✓"), ui.Dim(shortUID(task.UID)), task.Summary)
	},
}

var rmCmd = &cobra.Command{
	Use:     "rm <uid>...",
	GroupID: "tasks",
	Short:   "Delete tasks",
	Long: `Delete tasks. A task that has already been uploaded is queued for
remote deletion on the next sync; a task that never left this machine is
removed immediately.`,
	Aliases: []string{"delete"},
	Args:    cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		force, _ := cmd.Flags().GetBool("force")

		cfg := loadConfig()
		st := openStore(cfg)
		defer st.Close()
		ctx := context.Background()

		tasks := make([]*types.Task, 0, len(args))
		for _, ref := range args {
			tasks = append(tasks, lookupTask(ctx, st, ref))
		}

		if !force {
			lines := make([]string, 0, len(tasks))
			for _, task := range tasks {
				lines = append(lines, fmt.Sprintf("%s %s", shortUID(task.UID), task.Summary))
			}
			confirm := false
			prompt := huh.NewConfirm().
				Title(fmt.Sprintf("Delete %d task(s)?", len(tasks))).
				Description(strings.Join(lines, "\n")).
				Affirmative("Delete").
				Negative("Keep").
				Value(&confirm)
			if err := prompt.Run(); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			if !confirm {
				say("Aborted\n")
				return
			}
		}

		for _, task := range tasks {
			// A task the server has never seen can go straight away;
			// anything else needs a remote delete first.
			if !task.Synced && task.Operation == types.OpCreate {
				if err := st.DeleteTask(ctx, task.CalendarURL, task.UID); err != nil {
					fmt.Fprintf(os.Stderr, "Error deleting %s: %v\n", shortUID(task.UID), err)
					os.Exit(1)
				}
				say("%s Removed %s %s\n", ui.Pass("✓"), ui.Dim(shortUID(task.UID)), task.Summary)
				continue
			}

			task.MarkLocalDelete()
			task.Touch()
			if err := st.UpsertTask(ctx, task); err != nil {
				fmt.Fprintf(os.Stderr, "Error deleting %s: %v\n", shortUID(task.UID), err)
				os.Exit(1)
			}
			say("%s Deleting %s %s %s\n", ui.Pass("✓"), ui.Dim(shortUID(task.UID)), task.Summary,
				ui.Dim("(removed from server on next sync)"))
		}
	},
}

func init() {
	addCmd.Flags().String("calendar", "", "Calendar URL for the new task")
	addCmd.Flags().String("description", "", "Longer description")
	addCmd.Flags().String("due", "", "Due date (natural language or YYYY-MM-DD)")
	addCmd.Flags().String("parent", "", "Parent task uid (makes this a subtask)")
	addCmd.Flags().IntP("priority", "p", 0, "Priority 1 (highest) to 9 (lowest), 0 = none")
	addCmd.Flags().StringSlice("tags", nil, "Comma-separated tags")
	addCmd.Flags().String("estimate", "", "Estimated effort (minutes or a duration like 1h30m)")

	listCmd.Flags().String("calendar", "", "Restrict to one calendar URL")
	listCmd.Flags().BoolP("all", "a", false, "Include completed tasks")
	listCmd.Flags().Bool("done", false, "Show only completed tasks")
	listCmd.Flags().String("tag", "", "Restrict to tasks carrying a tag")
	listCmd.Flags().Bool("overdue", false, "Show only overdue tasks")
	listCmd.Flags().Bool("roots", false, "Show only tasks without a parent")
	listCmd.Flags().StringP("search", "s", "", "Match summary or description")
	listCmd.Flags().String("sort", "", "Sort by: priority, due, created, updated, summary")
	listCmd.Flags().Bool("desc", false, "Reverse the sort order")
	listCmd.Flags().IntP("limit", "n", 0, "Cap the number of results (0 = all)")

	editCmd.Flags().String("summary", "", "New summary")
	editCmd.Flags().String("description", "", "New description")
	editCmd.Flags().String("due", "", "New due date, or 'none' to clear")
	editCmd.Flags().String("parent", "", "New parent uid, or 'none' to clear")
	editCmd.Flags().IntP("priority", "p", 0, "New priority, 0 to clear")
	editCmd.Flags().StringSlice("tags", nil, "Replacement tag set, \"\" to clear")
	editCmd.Flags().String("estimate", "", "Estimated effort (minutes or a duration)")
	editCmd.Flags().String("actual", "", "Actual effort spent (minutes or a duration)")

	rmCmd.Flags().BoolP("force", "f", false, "Skip the confirmation prompt")

	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(doneCmd)
	rootCmd.AddCommand(undoneCmd)
	rootCmd.AddCommand(editCmd)
	rootCmd.AddCommand(rmCmd)
}

// setCompletion flips completion for each referenced task and queues the
// change for push.
func setCompletion(refs []string, done bool) {
	cfg := loadConfig()
	st := openStore(cfg)
	defer st.Close()
	ctx := context.Background()

	for _, ref := range refs {
		task := lookupTask(ctx, st, ref)
		task.SetCompleted(done)
		task.MarkLocalUpdate()
		if err := st.UpsertTask(ctx, task); err != nil {
			fmt.Fprintf(os.Stderr, "Error saving %s: %v\n", shortUID(task.UID), err)
			os.Exit(1)
		}
		verb := "Completed"
		if !done {
			verb = "Reopened"
		}
		say("%s %s %s %s\n", ui.Pass("✓"), verb, ui.Dim(shortUID(task.UID)), task.Summary)
	}
}

// lookupTask resolves a full uid or a unique uid prefix to a task,
// searching every calendar.
func lookupTask(ctx context.Context, st *store.Store, ref string) *types.Task {
	return lookupTaskIn(ctx, st, "", ref)
}

// lookupTaskIn is lookupTask restricted to one calendar when
// calendarURL is non-empty.
func lookupTaskIn(ctx context.Context, st *store.Store, calendarURL, ref string) *types.Task {
	var task *types.Task
	var err error
	if calendarURL != "" {
		task, err = st.GetTask(ctx, calendarURL, ref)
	} else {
		task, err = st.FindTask(ctx, ref)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error looking up %q: %v\n", ref, err)
		os.Exit(1)
	}
	if task != nil {
		return task
	}

	// Fall back to prefix matching so short uids from `tdv list` work.
	candidates, err := st.ListTasks(ctx, store.Filter{CalendarURL: calendarURL})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error looking up %q: %v\n", ref, err)
		os.Exit(1)
	}
	var matches []*types.Task
	for _, candidate := range candidates {
		if strings.HasPrefix(candidate.UID, ref) {
			matches = append(matches, candidate)
		}
	}
	switch len(matches) {
	case 1:
		return matches[0]
	case 0:
		fmt.Fprintf(os.Stderr, "Error: no task matches %q\n", ref)
	default:
		fmt.Fprintf(os.Stderr, "Error: %q matches %d tasks; use more characters\n", ref, len(matches))
	}
	os.Exit(1)
	return nil
}

// dueParser understands natural-language dates ("tomorrow at 5pm").
var dueParser = func() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return w
}()

// parseDue turns a due flag into a timestamp. Exact forms are tried
// first so "2026-09-01" never depends on the natural-language rules.
func parseDue(s string) (*time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t, nil
		}
	}

	result, err := dueParser.Parse(s, time.Now())
	if err != nil {
		return nil, fmt.Errorf("cannot parse due date %q: %w", s, err)
	}
	if result == nil {
		return nil, fmt.Errorf("cannot understand %q as a date", s)
	}
	return &result.Time, nil
}

// parseEstimate accepts bare minutes ("90") or a duration ("1h30m").
func parseEstimate(s string) (int, error) {
	if n, err := strconv.Atoi(s); err == nil {
		if n < 0 {
			return 0, fmt.Errorf("effort cannot be negative")
		}
		return n, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("cannot parse %q as minutes or a duration", s)
	}
	return int(d.Minutes()), nil
}

// shortUID trims a uid for display. Full uids still work everywhere a
// short one does.
func shortUID(uid string) string {
	if len(uid) > 8 {
		return uid[:8]
	}
	return uid
}

// renderTask formats one task line for `tdv list`.
func renderTask(task *types.Task) string {
	parts := []string{ui.Checkbox(task.Completed), ui.Dim(shortUID(task.UID))}
	if label := ui.PriorityLabel(task.Priority); label != "" {
		parts = append(parts, label)
	}
	summary := task.Summary
	if task.ParentUID != "" {
		summary = "· " + summary
	}
	parts = append(parts, summary)

	if task.Due != nil && !task.Completed {
		label := "due " + humanize.Time(*task.Due)
		if task.Overdue(time.Now()) {
			parts = append(parts, ui.Fail(label))
		} else {
			parts = append(parts, ui.Dim(label))
		}
	}
	for _, tag := range task.Tags {
		parts = append(parts, ui.Accent("#"+tag))
	}
	if task.EstimatedDuration > 0 {
		parts = append(parts, ui.Dim("~"+fmtMinutes(task.EstimatedDuration)))
	}
	switch {
	case task.Operation == types.OpDelete:
		parts = append(parts, ui.Warn("(deleting)"))
	case !task.Synced:
		parts = append(parts, ui.Dim("(not synced)"))
	}
	return strings.Join(parts, " ")
}

// fmtMinutes renders minutes compactly: 45m, 2h, 2h30m.
func fmtMinutes(minutes int) string {
	h, m := minutes/60, minutes%60
	switch {
	case h == 0:
		return fmt.Sprintf("%dm", m)
	case m == 0:
		return fmt.Sprintf("%dh", h)
	default:
		return fmt.Sprintf("%dh%dm", h, m)
	}
}
