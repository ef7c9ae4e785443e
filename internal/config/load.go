package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const envPrefix = "TASKDAV"

// Load reads configuration from the default file location, preceded by a
// best-effort .env load so credentials can live next to the binary.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return LoadFrom("")
}

// LoadFrom reads configuration from an explicit file path. An empty path
// falls back to the default resolution order; a missing default file is
// fine, a missing explicit file is an error.
func LoadFrom(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	explicit := path != ""
	if path == "" {
		path = DefaultPath()
	}
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			// A default-location file that simply is not there is fine.
			var notFound viper.ConfigFileNotFoundError
			missing := os.IsNotExist(err) || errors.As(err, &notFound)
			if explicit || !missing {
				return nil, fmt.Errorf("failed to read config %s: %w", path, err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.normalize()
	return cfg, nil
}

// DefaultPath resolves the config file location: $TASKDAV_CONFIG, then
// ./taskdav.yaml, then ~/.config/taskdav/taskdav.yaml. The returned path
// may not exist yet; an empty string means no home directory either.
func DefaultPath() string {
	if env := os.Getenv(envPrefix + "_CONFIG"); env != "" {
		return env
	}
	local := "taskdav.yaml"
	if _, err := os.Stat(local); err == nil {
		return local
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "taskdav", "taskdav.yaml")
}

// Watch invokes onChange with a freshly loaded Config each time the file
// at path changes on disk. Unparsable edits are logged and skipped, so a
// half-saved file never tears down a running daemon. The watch lives for
// the rest of the process.
func Watch(path string, logger *log.Logger, onChange func(*Config)) error {
	if path == "" {
		path = DefaultPath()
	}
	if path == "" {
		return fmt.Errorf("no config file to watch")
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("cannot watch config %s: %w", path, err)
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[config] ", log.LstdFlags)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.OnConfigChange(func(fsnotify.Event) {
		cfg, err := LoadFrom(path)
		if err != nil {
			logger.Printf("WARNING: ignoring config change: %v", err)
			return
		}
		onChange(cfg)
	})
	v.WatchConfig()
	return nil
}

// setDefaults registers every key with viper so env-only overrides are
// visible to Unmarshal. Keep in lockstep with the Config struct.
func setDefaults(v *viper.Viper) {
	defaults := DefaultConfig()
	v.SetDefault("server.url", defaults.Server.URL)
	v.SetDefault("server.username", defaults.Server.Username)
	v.SetDefault("server.password", defaults.Server.Password)
	v.SetDefault("server.timeout", defaults.Server.Timeout)
	v.SetDefault("server.verify_tls", defaults.Server.VerifyTLS)
	v.SetDefault("sync.interval", defaults.Sync.Interval)
	v.SetDefault("sync.calendars", defaults.Sync.Calendars)
	v.SetDefault("sync.max_retries", defaults.Sync.MaxRetries)
	v.SetDefault("sync.retry_delay", defaults.Sync.RetryDelay)
	v.SetDefault("sync.parallel_calendars", defaults.Sync.ParallelCalendars)
	v.SetDefault("api.addr", defaults.API.Addr)
	v.SetDefault("daemon.log_file", defaults.Daemon.LogFile)
	v.SetDefault("daemon.drop_dir", defaults.Daemon.DropDir)
	v.SetDefault("database.path", defaults.Database.Path)
}

// WriteDefault writes a commented starter config to path, creating parent
// directories as needed. The file may hold a password, hence 0600.
func WriteDefault(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	defaults := DefaultConfig()
	content := fmt.Sprintf(`# taskdav configuration
# Values here can be overridden with TASKDAV_-prefixed environment
# variables, e.g. TASKDAV_SERVER_PASSWORD.

# Remote CalDAV server
server:
  url: ""           # e.g. https://dav.example.com/calendars/alice/
  username: ""
  password: ""
  timeout: %s
  verify_tls: true

# Reconciliation
sync:
  interval: %s      # daemon cadence, minimum %s
  max_retries: %d
  retry_delay: %s
  parallel_calendars: %d
  # Restrict to specific calendar URLs (empty = all active):
  # calendars:
  #   - https://dav.example.com/calendars/alice/tasks/

# REST server (tdv serve)
api:
  addr: %q

# Background daemon (tdv daemon)
daemon:
  log_file: ""      # empty = stderr
  drop_dir: ""      # watched for .ics files to import

# Local cache
database:
  path: %q
`,
		defaults.Server.Timeout,
		defaults.Sync.Interval, MinSyncInterval,
		defaults.Sync.MaxRetries,
		defaults.Sync.RetryDelay,
		defaults.Sync.ParallelCalendars,
		defaults.API.Addr,
		defaults.Database.Path,
	)
	return os.WriteFile(path, []byte(content), 0600)
}
