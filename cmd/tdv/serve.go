package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/taskdav/taskdav/internal/api"
	"github.com/taskdav/taskdav/internal/ui"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	GroupID: "server",
	Short:   "Run the REST API server",
	Long: `Serve a JSON API over the local cache for scripts and other
frontends. Reads come from the cache; writes are queued and uploaded
the same way CLI edits are. POST /sync triggers a cycle on demand.

Example usage:
  tdv serve
  tdv serve --addr 0.0.0.0:8080

  curl localhost:8080/tasks?completed=false
  curl -X POST localhost:8080/sync`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		st := openStore(cfg)
		defer st.Close()

		logger := log.New(os.Stderr, "[api] ", log.LstdFlags)
		engine := buildEngine(cfg, st, logger, nil)
		server := api.New(engine, st, version, logger)

		addr := cfg.API.Addr
		if cmd.Flags().Changed("addr") {
			addr, _ = cmd.Flags().GetString("addr")
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		fmt.Printf("%s API listening on http://%s\n", ui.Pass("✓"), addr)
		say("  Press Ctrl+C to stop\n")
		if err := server.Run(ctx, addr); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	serveCmd.Flags().String("addr", "", "Listen address (defaults to api.addr from the config)")
	rootCmd.AddCommand(serveCmd)
}
