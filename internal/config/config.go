// Package config loads taskdav configuration from YAML files, the
// environment, and an optional .env file.
//
// Sources are merged in priority order: TASKDAV_-prefixed environment
// variables override the config file, which overrides built-in defaults.
// The file is resolved from $TASKDAV_CONFIG, then ./taskdav.yaml, then
// ~/.config/taskdav/taskdav.yaml; a missing file is not an error.
//
// Nested keys map to environment variables by joining with underscores:
// server.url becomes TASKDAV_SERVER_URL, sync.interval becomes
// TASKDAV_SYNC_INTERVAL, and so on.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// MinSyncInterval is the shortest allowed daemon sync interval. Anything
// tighter hammers the server for no benefit.
const MinSyncInterval = 10 * time.Second

// Config is the full taskdav configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Sync     SyncConfig     `yaml:"sync" mapstructure:"sync"`
	API      APIConfig      `yaml:"api" mapstructure:"api"`
	Daemon   DaemonConfig   `yaml:"daemon" mapstructure:"daemon"`
	Database DatabaseConfig `yaml:"database" mapstructure:"database"`
}

// ServerConfig points at the remote CalDAV server.
type ServerConfig struct {
	// URL is the CalDAV base or principal URL. Required.
	URL      string `yaml:"url" mapstructure:"url"`
	Username string `yaml:"username" mapstructure:"username"`
	Password string `yaml:"password" mapstructure:"password"`

	// Timeout bounds each remote HTTP call.
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`

	// VerifyTLS can be disabled for servers with self-signed certificates.
	VerifyTLS bool `yaml:"verify_tls" mapstructure:"verify_tls"`
}

// SyncConfig tunes the reconciliation engine and daemon.
type SyncConfig struct {
	// Interval is the daemon's periodic sync cadence.
	Interval time.Duration `yaml:"interval" mapstructure:"interval"`

	// Calendars restricts syncing to the listed calendar URLs. Empty
	// means every active calendar discovered on the server.
	Calendars []string `yaml:"calendars" mapstructure:"calendars"`

	// MaxRetries is the total attempts per remote call, including the first.
	MaxRetries int `yaml:"max_retries" mapstructure:"max_retries"`

	// RetryDelay is the backoff base; retry k waits RetryDelay * 2^k.
	RetryDelay time.Duration `yaml:"retry_delay" mapstructure:"retry_delay"`

	// ParallelCalendars caps how many calendars sync concurrently.
	ParallelCalendars int `yaml:"parallel_calendars" mapstructure:"parallel_calendars"`
}

// APIConfig tunes the REST server.
type APIConfig struct {
	Addr string `yaml:"addr" mapstructure:"addr"`
}

// DaemonConfig tunes the background daemon.
type DaemonConfig struct {
	// LogFile, when set, sends daemon logs to a rotating file instead
	// of stderr.
	LogFile string `yaml:"log_file" mapstructure:"log_file"`

	// DropDir, when set, is watched for .ics files to import.
	DropDir string `yaml:"drop_dir" mapstructure:"drop_dir"`
}

// DatabaseConfig locates the local task cache.
type DatabaseConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// DefaultConfig returns the built-in defaults. The server URL is left
// empty: there is no sensible default for someone else's CalDAV server.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Timeout:   30 * time.Second,
			VerifyTLS: true,
		},
		Sync: SyncConfig{
			Interval:          5 * time.Minute,
			MaxRetries:        3,
			RetryDelay:        time.Second,
			ParallelCalendars: 1,
		},
		API: APIConfig{
			Addr: "127.0.0.1:8080",
		},
		Database: DatabaseConfig{
			Path: defaultDatabasePath(),
		},
	}
}

func defaultDatabasePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "taskdav.db"
	}
	return filepath.Join(home, ".local", "share", "taskdav", "taskdav.db")
}

// Validate checks the invariants a usable configuration must satisfy.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Server.URL) == "" {
		return fmt.Errorf("server.url is required")
	}
	parsed, err := url.Parse(c.Server.URL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return fmt.Errorf("server.url must be an http(s) URL, got %q", c.Server.URL)
	}
	if c.Sync.Interval < MinSyncInterval {
		return fmt.Errorf("sync.interval must be at least %s (got %s)", MinSyncInterval, c.Sync.Interval)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	return nil
}

// normalize clamps values a config file can set to nonsense without
// making the whole file invalid.
func (c *Config) normalize() {
	if c.Server.Timeout <= 0 {
		c.Server.Timeout = 30 * time.Second
	}
	if c.Sync.MaxRetries < 1 {
		c.Sync.MaxRetries = 1
	}
	if c.Sync.RetryDelay < 0 {
		c.Sync.RetryDelay = 0
	}
	if c.Sync.ParallelCalendars < 1 {
		c.Sync.ParallelCalendars = 1
	}
	c.Database.Path = expandHome(c.Database.Path)
	c.Daemon.LogFile = expandHome(c.Daemon.LogFile)
	c.Daemon.DropDir = expandHome(c.Daemon.DropDir)
}

// Redacted returns a copy safe for display, with the password masked.
func (c *Config) Redacted() *Config {
	out := *c
	if out.Server.Password != "" {
		out.Server.Password = "[redacted]"
	}
	return &out
}

// expandHome rewrites a leading ~/ to the user's home directory.
func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(path[1:], "/"))
	}
	return path
}

// YAML renders the configuration in config-file form, with durations as
// strings like "5m0s" rather than nanosecond integers.
func (c *Config) YAML() ([]byte, error) {
	view := yamlConfig{
		Server: yamlServer{
			URL:       c.Server.URL,
			Username:  c.Server.Username,
			Password:  c.Server.Password,
			Timeout:   c.Server.Timeout.String(),
			VerifyTLS: c.Server.VerifyTLS,
		},
		Sync: yamlSync{
			Interval:          c.Sync.Interval.String(),
			Calendars:         c.Sync.Calendars,
			MaxRetries:        c.Sync.MaxRetries,
			RetryDelay:        c.Sync.RetryDelay.String(),
			ParallelCalendars: c.Sync.ParallelCalendars,
		},
		API:      c.API,
		Daemon:   c.Daemon,
		Database: c.Database,
	}
	return yaml.Marshal(view)
}

type yamlConfig struct {
	Server   yamlServer     `yaml:"server"`
	Sync     yamlSync       `yaml:"sync"`
	API      APIConfig      `yaml:"api"`
	Daemon   DaemonConfig   `yaml:"daemon"`
	Database DatabaseConfig `yaml:"database"`
}

type yamlServer struct {
	URL       string `yaml:"url"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
	Timeout   string `yaml:"timeout"`
	VerifyTLS bool   `yaml:"verify_tls"`
}

type yamlSync struct {
	Interval          string   `yaml:"interval"`
	Calendars         []string `yaml:"calendars,omitempty"`
	MaxRetries        int      `yaml:"max_retries"`
	RetryDelay        string   `yaml:"retry_delay"`
	ParallelCalendars int      `yaml:"parallel_calendars"`
}
