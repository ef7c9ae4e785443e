package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/taskdav/taskdav/internal/daemon"
	"github.com/taskdav/taskdav/internal/dashboard"
	"github.com/taskdav/taskdav/internal/ui"
)

var dashboardCmd = &cobra.Command{
	Use:     "dashboard",
	GroupID: "server",
	Short:   "Launch the live sync dashboard",
	Long: `Launch a browser dashboard that streams sync activity over a
websocket: cycles starting and finishing, tasks pushed, hierarchy
repairs, and errors as they happen. A sync daemon runs alongside it, so
the page has something to show.

Example usage:
  tdv dashboard
  tdv dashboard --port 9000

Then open the printed URL in a browser.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		port, _ := cmd.Flags().GetInt("port")

		cfg := loadConfig()
		st := openStore(cfg)
		defer st.Close()

		logger := log.New(os.Stderr, "[dashboard] ", log.LstdFlags)
		dash := dashboard.NewServer(fmt.Sprintf("127.0.0.1:%d", port), logger)
		if err := dash.Start(); err != nil {
			fmt.Fprintf(os.Stderr, "Error starting dashboard: %v\n", err)
			os.Exit(1)
		}

		engine := buildEngine(cfg, st, logger, dash)
		d, err := daemon.New(cfg, engine, st, logger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		fmt.Printf("%s Dashboard running at http://%s\n", ui.Pass("✓"), dash.GetAddr())
		say("  Sync events stream in live. Press Ctrl+C to stop.\n")

		if err := d.Start(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		if err := dash.Stop(); err != nil {
			fmt.Fprintf(os.Stderr, "Error stopping dashboard: %v\n", err)
		}
	},
}

func init() {
	dashboardCmd.Flags().IntP("port", "p", 8090, "Dashboard port")
	rootCmd.AddCommand(dashboardCmd)
}
