package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/taskdav/taskdav/internal/config"
	"github.com/taskdav/taskdav/internal/ui"
)

var configCmd = &cobra.Command{
	Use:     "config",
	GroupID: "setup",
	Short:   "Manage the configuration file",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a starter config file",
	Long: `Create a config file. When run in a terminal this asks for the
server URL and credentials; otherwise, or when the prompts are skipped,
it writes a commented template to fill in by hand.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		force, _ := cmd.Flags().GetBool("force")
		noInput, _ := cmd.Flags().GetBool("no-input")

		path := configFlag
		if path == "" {
			path = config.DefaultPath()
		}
		if _, err := os.Stat(path); err == nil && !force {
			fmt.Fprintf(os.Stderr, "Error: %s already exists (use --force to overwrite)\n", path)
			os.Exit(1)
		}

		interactive := !noInput && term.IsTerminal(int(os.Stdin.Fd()))
		if interactive {
			var serverURL, username, password string
			form := huh.NewForm(huh.NewGroup(
				huh.NewInput().
					Title("CalDAV server URL").
					Placeholder("https://dav.example.com").
					Value(&serverURL),
				huh.NewInput().
					Title("Username").
					Value(&username),
				huh.NewInput().
					Title("Password").
					EchoMode(huh.EchoModePassword).
					Value(&password),
			))
			err := form.Run()
			switch {
			case errors.Is(err, huh.ErrUserAborted):
				// Fall through to the commented template.
			case err != nil:
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			case serverURL != "":
				cfg := config.DefaultConfig()
				cfg.Server.URL = serverURL
				cfg.Server.Username = username
				cfg.Server.Password = password
				if err := writeConfig(path, cfg); err != nil {
					fmt.Fprintf(os.Stderr, "Error: %v\n", err)
					os.Exit(1)
				}
				say("%s Wrote %s\n", ui.Pass("✓"), path)
				say("  Run 'tdv sync' to discover your calendars.\n")
				return
			}
		}

		if err := config.WriteDefault(path); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		say("%s Wrote a starter config to %s\n", ui.Pass("✓"), path)
		say("  Fill in server.url and credentials, then run 'tdv sync'.\n")
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration, secrets redacted",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		out, err := cfg.Redacted().YAML()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		path := configFlag
		if path == "" {
			path = config.DefaultPath()
		}
		fmt.Printf("# %s\n%s", path, out)
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the config file path",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		path := configFlag
		if path == "" {
			path = config.DefaultPath()
		}
		fmt.Println(path)
	},
}

func init() {
	configInitCmd.Flags().Bool("force", false, "Overwrite an existing config file")
	configInitCmd.Flags().Bool("no-input", false, "Write the template without prompting")

	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configPathCmd)
	rootCmd.AddCommand(configCmd)
}

// writeConfig persists cfg at path with the same permissions a template
// gets, creating parent directories as needed.
func writeConfig(path string, cfg *config.Config) error {
	out, err := cfg.YAML()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, out, 0o600)
}
