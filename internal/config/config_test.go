package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Server.URL != "" {
		t.Errorf("Server.URL = %q, want empty (no default server)", cfg.Server.URL)
	}
	if cfg.Server.Timeout != 30*time.Second {
		t.Errorf("Server.Timeout = %s, want 30s", cfg.Server.Timeout)
	}
	if !cfg.Server.VerifyTLS {
		t.Error("TLS verification should default on")
	}
	if cfg.Sync.Interval != 5*time.Minute {
		t.Errorf("Sync.Interval = %s, want 5m", cfg.Sync.Interval)
	}
	if cfg.Sync.MaxRetries != 3 {
		t.Errorf("Sync.MaxRetries = %d, want 3", cfg.Sync.MaxRetries)
	}
	if cfg.Sync.RetryDelay != time.Second {
		t.Errorf("Sync.RetryDelay = %s, want 1s", cfg.Sync.RetryDelay)
	}
	if cfg.Sync.ParallelCalendars != 1 {
		t.Errorf("Sync.ParallelCalendars = %d, want 1", cfg.Sync.ParallelCalendars)
	}
	if cfg.API.Addr != "127.0.0.1:8080" {
		t.Errorf("API.Addr = %q, want loopback default", cfg.API.Addr)
	}
	if cfg.Database.Path == "" {
		t.Error("Database.Path should have a default")
	}
}

func TestLoadFrom_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "taskdav.yaml")
	body := `server:
  url: https://dav.example.com/calendars/alice/
  username: alice
  password: hunter2
  timeout: 45s
sync:
  interval: 90s
  calendars:
    - https://dav.example.com/calendars/alice/tasks/
  parallel_calendars: 3
database:
  path: /tmp/taskdav-test.db
`
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}

	if cfg.Server.URL != "https://dav.example.com/calendars/alice/" {
		t.Errorf("Server.URL = %q", cfg.Server.URL)
	}
	if cfg.Server.Username != "alice" || cfg.Server.Password != "hunter2" {
		t.Errorf("credentials = %q/%q, want alice/hunter2", cfg.Server.Username, cfg.Server.Password)
	}
	if cfg.Server.Timeout != 45*time.Second {
		t.Errorf("Server.Timeout = %s, want 45s", cfg.Server.Timeout)
	}
	if cfg.Sync.Interval != 90*time.Second {
		t.Errorf("Sync.Interval = %s, want 90s", cfg.Sync.Interval)
	}
	if len(cfg.Sync.Calendars) != 1 {
		t.Errorf("Sync.Calendars = %v, want one entry", cfg.Sync.Calendars)
	}
	if cfg.Sync.ParallelCalendars != 3 {
		t.Errorf("Sync.ParallelCalendars = %d, want 3", cfg.Sync.ParallelCalendars)
	}
	if cfg.Database.Path != "/tmp/taskdav-test.db" {
		t.Errorf("Database.Path = %q", cfg.Database.Path)
	}

	// Values the file does not set keep their defaults.
	if cfg.Sync.MaxRetries != 3 {
		t.Errorf("Sync.MaxRetries = %d, want default 3", cfg.Sync.MaxRetries)
	}
	if cfg.API.Addr != "127.0.0.1:8080" {
		t.Errorf("API.Addr = %q, want default", cfg.API.Addr)
	}
}

func TestLoadFrom_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "taskdav.yaml")
	body := `server:
  url: https://file.example.com/
sync:
  interval: 60s
`
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}

	t.Setenv("TASKDAV_SERVER_URL", "https://env.example.com/")
	t.Setenv("TASKDAV_SYNC_INTERVAL", "2m")

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}
	if cfg.Server.URL != "https://env.example.com/" {
		t.Errorf("Server.URL = %q, environment should win over the file", cfg.Server.URL)
	}
	if cfg.Sync.Interval != 2*time.Minute {
		t.Errorf("Sync.Interval = %s, want 2m from environment", cfg.Sync.Interval)
	}
}

func TestLoadFrom_MissingExplicitFile(t *testing.T) {
	_, err := LoadFrom(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("LoadFrom() should fail for an explicit path that does not exist")
	}
}

func TestLoadFrom_ClampsNonsense(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "taskdav.yaml")
	body := `sync:
  max_retries: 0
  parallel_calendars: -4
server:
  timeout: 0s
`
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}
	if cfg.Sync.MaxRetries != 1 {
		t.Errorf("MaxRetries = %d, want clamped to 1", cfg.Sync.MaxRetries)
	}
	if cfg.Sync.ParallelCalendars != 1 {
		t.Errorf("ParallelCalendars = %d, want clamped to 1", cfg.Sync.ParallelCalendars)
	}
	if cfg.Server.Timeout != 30*time.Second {
		t.Errorf("Timeout = %s, want default restored", cfg.Server.Timeout)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := DefaultConfig()
		cfg.Server.URL = "https://dav.example.com/"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"missing url", func(c *Config) { c.Server.URL = "" }, "server.url is required"},
		{"bad scheme", func(c *Config) { c.Server.URL = "ftp://dav.example.com/" }, "http(s)"},
		{"not a url", func(c *Config) { c.Server.URL = "://" }, "http(s)"},
		{"interval too short", func(c *Config) { c.Sync.Interval = 2 * time.Second }, "at least"},
		{"missing db path", func(c *Config) { c.Database.Path = "" }, "database.path"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestWriteDefault_RoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "taskdav.yaml")

	if err := WriteDefault(path); err != nil {
		t.Fatalf("WriteDefault() error = %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("config file not created: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("permissions = %o, want 0600 for a credential-bearing file", perm)
	}

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("generated config does not load: %v", err)
	}
	if cfg.Sync.Interval != 5*time.Minute {
		t.Errorf("Sync.Interval = %s, want the default back", cfg.Sync.Interval)
	}
	if cfg.Server.VerifyTLS != true {
		t.Error("generated config should keep TLS verification on")
	}
}

func TestRedacted(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.Password = "hunter2"

	shown := cfg.Redacted()
	if shown.Server.Password == "hunter2" {
		t.Error("Redacted() leaked the password")
	}
	if cfg.Server.Password != "hunter2" {
		t.Error("Redacted() mutated the original")
	}

	cfg.Server.Password = ""
	if got := cfg.Redacted().Server.Password; got != "" {
		t.Errorf("empty password rendered as %q, want empty", got)
	}
}

func TestYAML_RendersDurationsAsStrings(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.URL = "https://dav.example.com/"

	out, err := cfg.YAML()
	if err != nil {
		t.Fatalf("YAML() error = %v", err)
	}
	text := string(out)
	if !strings.Contains(text, "interval: 5m0s") {
		t.Errorf("output missing readable interval:\n%s", text)
	}
	if strings.Contains(text, "300000000000") {
		t.Errorf("output leaked nanosecond durations:\n%s", text)
	}
	if !strings.Contains(text, "url: https://dav.example.com/") {
		t.Errorf("output missing server url:\n%s", text)
	}
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory in this environment")
	}

	if got := expandHome("~/x/y.db"); got != filepath.Join(home, "x", "y.db") {
		t.Errorf("expandHome(~/x/y.db) = %q", got)
	}
	if got := expandHome("/abs/path.db"); got != "/abs/path.db" {
		t.Errorf("expandHome(/abs/path.db) = %q, absolute paths must pass through", got)
	}
	if got := expandHome(""); got != "" {
		t.Errorf("expandHome(\"\") = %q, want empty", got)
	}
}
