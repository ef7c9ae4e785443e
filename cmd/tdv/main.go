// Package main implements the tdv CLI.
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/taskdav/taskdav/internal/caldav"
	"github.com/taskdav/taskdav/internal/config"
	"github.com/taskdav/taskdav/internal/store"
	syncpkg "github.com/taskdav/taskdav/internal/sync"
	"github.com/taskdav/taskdav/internal/ui"
)

// version is stamped at build time via -ldflags "-X main.version=...".
var version = "dev"

var (
	configFlag string
	quietFlag  bool
)

var rootCmd = &cobra.Command{
	Use:   "tdv",
	Short: "Offline-first CalDAV task management",
	Long: `tdv keeps a local SQLite cache of CalDAV tasks and reconciles it
with the server on demand or from a background daemon.

Tasks created or edited while offline queue locally and upload on the
next sync. On pull the server copy is authoritative; local pending
changes replay on top of it during push.

A starter configuration can be created with:
  tdv config init`,
	Version: version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		ui.Init()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "",
		"Config file (default: $TASKDAV_CONFIG, ./taskdav.yaml, ~/.config/taskdav/taskdav.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&quietFlag, "quiet", "q", false,
		"Suppress informational output")
	rootCmd.SetVersionTemplate("tdv {{.Version}}\n")

	rootCmd.AddGroup(
		&cobra.Group{ID: "tasks", Title: "Task commands:"},
		&cobra.Group{ID: "sync", Title: "Sync commands:"},
		&cobra.Group{ID: "server", Title: "Server commands:"},
		&cobra.Group{ID: "setup", Title: "Setup and maintenance:"},
	)
}

// loadConfig reads configuration honoring the --config flag. A broken
// config is fatal; no command should half-run over one.
func loadConfig() *config.Config {
	var (
		cfg *config.Config
		err error
	)
	if configFlag != "" {
		cfg, err = config.LoadFrom(configFlag)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

// openStore opens the local task cache and ensures its schema exists.
func openStore(cfg *config.Config) *store.Store {
	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening task cache: %v\n", err)
		os.Exit(1)
	}
	if err := st.InitSchema(context.Background()); err != nil {
		st.Close()
		fmt.Fprintf(os.Stderr, "Error initializing task cache: %v\n", err)
		os.Exit(1)
	}
	return st
}

// buildEngine wires a CalDAV client and sync engine from the config.
// Commands that reach the server all come through here, so the server
// URL requirement is enforced in one place.
func buildEngine(cfg *config.Config, st *store.Store, logger *log.Logger, sink syncpkg.EventSink) *syncpkg.Engine {
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		fmt.Fprintf(os.Stderr, "Run 'tdv config init' to create a starter config\n")
		os.Exit(1)
	}

	client, err := caldav.NewClient(cfg.Server.URL, cfg.Server.Username, cfg.Server.Password, caldav.Options{
		Timeout:            cfg.Server.Timeout,
		InsecureSkipVerify: !cfg.Server.VerifyTLS,
		Logger:             logger,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	opts := []syncpkg.Option{
		syncpkg.WithRetryPolicy(caldav.RetryPolicy{
			MaxAttempts: cfg.Sync.MaxRetries,
			BaseDelay:   cfg.Sync.RetryDelay,
		}),
		syncpkg.WithParallel(cfg.Sync.ParallelCalendars),
		syncpkg.WithCalendars(cfg.Sync.Calendars),
	}
	if logger != nil {
		opts = append(opts, syncpkg.WithLogger(logger))
	}
	if sink != nil {
		opts = append(opts, syncpkg.WithEvents(sink))
	}
	return syncpkg.New(client, st, opts...)
}

// resolveCalendar picks the calendar for new or imported tasks: an
// explicit flag value, then the first configured sync calendar, then the
// first active cached one.
func resolveCalendar(ctx context.Context, cfg *config.Config, st *store.Store, flag string) string {
	if flag != "" {
		return flag
	}
	if len(cfg.Sync.Calendars) > 0 {
		return cfg.Sync.Calendars[0]
	}
	calendars, err := st.ListCalendars(ctx)
	if err == nil {
		for _, cal := range calendars {
			if cal.IsActive {
				return cal.URL
			}
		}
	}
	fmt.Fprintf(os.Stderr, "Error: no calendar known; pass --calendar or run 'tdv sync' once to discover them\n")
	os.Exit(1)
	return ""
}

// say prints informational output unless --quiet is set. Errors always
// go to stderr regardless.
func say(format string, args ...interface{}) {
	if quietFlag {
		return
	}
	fmt.Printf(format, args...)
}

// syncLogger returns the logger remote-facing commands hand to the
// engine: quiet mode silences it entirely.
func syncLogger() *log.Logger {
	if quietFlag {
		return log.New(io.Discard, "", 0)
	}
	return log.New(os.Stderr, "[sync] ", log.LstdFlags)
}
