package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/taskdav/taskdav/internal/config"
	"github.com/taskdav/taskdav/internal/daemon"
	"github.com/taskdav/taskdav/internal/ui"
)

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: "server",
	Short:   "Run the background sync daemon",
	Long: `Run continuous sync in the foreground: a cycle at startup, then one
per sync.interval. When daemon.drop_dir is set, .ics files dropped in
that folder are imported and renamed with an .imported suffix. Edits to
the config file adjust the interval live.

Run it under your service manager, for example:
  systemd-run --user --unit=taskdav tdv daemon`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		st := openStore(cfg)
		defer st.Close()

		logger, logClose := daemon.NewLogger(cfg)
		if logClose != nil {
			defer logClose.Close()
		}
		engine := buildEngine(cfg, st, logger, nil)

		d, err := daemon.New(cfg, engine, st, logger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		path := configFlag
		if path == "" {
			path = config.DefaultPath()
		}
		if _, statErr := os.Stat(path); statErr == nil {
			if err := d.WatchConfig(path); err != nil {
				logger.Printf("WARNING: config reload disabled: %v", err)
			}
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		say("%s Daemon running, sync every %v\n", ui.Pass("✓"), cfg.Sync.Interval)
		if err := d.Start(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(daemonCmd)
}
