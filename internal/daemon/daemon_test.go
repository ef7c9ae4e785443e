package daemon

import (
	"context"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/taskdav/taskdav/internal/config"
	syncpkg "github.com/taskdav/taskdav/internal/sync"
	"github.com/taskdav/taskdav/internal/types"
)

const testCal = "https://dav.example.com/calendars/alice/tasks/"

type mockEngine struct {
	mu    sync.Mutex
	calls int
}

func (m *mockEngine) SyncAll(ctx context.Context) (*syncpkg.SyncReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return &syncpkg.SyncReport{}, nil
}

func (m *mockEngine) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type mockStore struct {
	mu        sync.Mutex
	upserted  []*types.Task
	calendars []types.Calendar
}

func (m *mockStore) UpsertTask(ctx context.Context, task *types.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upserted = append(m.upserted, task)
	return nil
}

func (m *mockStore) ListCalendars(ctx context.Context) ([]types.Calendar, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calendars, nil
}

func (m *mockStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.upserted)
}

// taskWire builds a one-task calendar document.
func taskWire(uid, summary string) string {
	return strings.Join([]string{
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"PRODID:-//test//test//EN",
		"BEGIN:VTODO",
		"UID:" + uid,
		"SUMMARY:" + summary,
		"DTSTAMP:20250615T100000Z",
		"END:VTODO",
		"END:VCALENDAR",
		"",
	}, "\r\n")
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Server.URL = "https://dav.example.com/"
	cfg.Sync.Interval = time.Hour // tests trigger syncs themselves
	cfg.Sync.Calendars = []string{testCal}
	return cfg
}

func newTestDaemon(t *testing.T, cfg *config.Config, engine *mockEngine, st *mockStore) *Daemon {
	t.Helper()

	d, err := New(cfg, engine, st, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	d.debounce = 50 * time.Millisecond
	return d
}

// startDaemon runs the daemon in the background and registers a cleanup
// that shuts it down.
func startDaemon(t *testing.T, d *Daemon) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Start(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Start() returned error on shutdown: %v", err)
			}
		case <-time.After(3 * time.Second):
			t.Error("Timeout waiting for daemon shutdown")
		}
	})
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestNew_Validations(t *testing.T) {
	engine := &mockEngine{}
	st := &mockStore{}

	if _, err := New(nil, engine, st, nil); err == nil {
		t.Error("New() should reject a nil config")
	}
	if _, err := New(testConfig(), nil, st, nil); err == nil {
		t.Error("New() should reject a nil engine")
	}
	if _, err := New(testConfig(), engine, nil, nil); err == nil {
		t.Error("New() should reject a nil store")
	}
}

func TestDaemon_RunsInitialSync(t *testing.T) {
	engine := &mockEngine{}
	d := newTestDaemon(t, testConfig(), engine, &mockStore{})
	startDaemon(t, d)

	waitFor(t, 2*time.Second, func() bool {
		return engine.count() >= 1
	}, "Timeout waiting for the initial sync cycle")
}

func TestDaemon_TickerDrivesRepeatSyncs(t *testing.T) {
	cfg := testConfig()
	cfg.Sync.Interval = 30 * time.Millisecond

	engine := &mockEngine{}
	d := newTestDaemon(t, cfg, engine, &mockStore{})
	startDaemon(t, d)

	waitFor(t, 2*time.Second, func() bool {
		return engine.count() >= 3
	}, "Timeout waiting for ticker-driven sync cycles")
}

func TestDaemon_ReloadChangesInterval(t *testing.T) {
	engine := &mockEngine{}
	d := newTestDaemon(t, testConfig(), engine, &mockStore{})
	startDaemon(t, d)

	// Only the initial sync at the hour-long default.
	waitFor(t, 2*time.Second, func() bool {
		return engine.count() == 1
	}, "Timeout waiting for the initial sync cycle")

	fast := testConfig()
	fast.Sync.Interval = 30 * time.Millisecond
	d.Reload(fast)

	waitFor(t, 2*time.Second, func() bool {
		return engine.count() >= 3
	}, "Timeout waiting for syncs at the reloaded interval")
}

func TestDaemon_DropFolderImport(t *testing.T) {
	cfg := testConfig()
	cfg.Daemon.DropDir = filepath.Join(t.TempDir(), "drop")

	st := &mockStore{}
	d := newTestDaemon(t, cfg, &mockEngine{}, st)
	startDaemon(t, d)

	waitFor(t, 2*time.Second, func() bool {
		_, err := os.Stat(cfg.Daemon.DropDir)
		return err == nil
	}, "Timeout waiting for the drop directory")

	path := filepath.Join(cfg.Daemon.DropDir, "inbox.ics")
	if err := os.WriteFile(path, []byte(taskWire("t1", "Dropped task")), 0644); err != nil {
		t.Fatalf("Failed to write drop file: %v", err)
	}

	waitFor(t, 3*time.Second, func() bool {
		return st.count() == 1
	}, "Timeout waiting for the dropped file to import")

	st.mu.Lock()
	task := st.upserted[0]
	st.mu.Unlock()
	if task.UID != "t1" || task.CalendarURL != testCal {
		t.Errorf("imported task = %+v", task)
	}
	if task.Synced || task.Operation != types.OpCreate {
		t.Errorf("imported task state = synced=%v op=%s, want pending create", task.Synced, task.Operation)
	}

	waitFor(t, 2*time.Second, func() bool {
		_, err := os.Stat(path + importedSuffix)
		return err == nil
	}, "Timeout waiting for the processed file to be renamed")
}

func TestDaemon_ImportsFilesAlreadyInDropFolder(t *testing.T) {
	cfg := testConfig()
	cfg.Daemon.DropDir = filepath.Join(t.TempDir(), "drop")
	if err := os.MkdirAll(cfg.Daemon.DropDir, 0755); err != nil {
		t.Fatalf("Failed to create drop dir: %v", err)
	}

	// Dropped while the daemon was down.
	path := filepath.Join(cfg.Daemon.DropDir, "offline.ics")
	if err := os.WriteFile(path, []byte(taskWire("t9", "Waiting task")), 0644); err != nil {
		t.Fatalf("Failed to write drop file: %v", err)
	}

	st := &mockStore{}
	d := newTestDaemon(t, cfg, &mockEngine{}, st)
	startDaemon(t, d)

	waitFor(t, 3*time.Second, func() bool {
		return st.count() == 1
	}, "Timeout waiting for the pre-existing file to import")
}

func TestDaemon_IgnoresNonCalendarFiles(t *testing.T) {
	cfg := testConfig()
	cfg.Daemon.DropDir = filepath.Join(t.TempDir(), "drop")

	st := &mockStore{}
	d := newTestDaemon(t, cfg, &mockEngine{}, st)
	startDaemon(t, d)

	waitFor(t, 2*time.Second, func() bool {
		_, err := os.Stat(cfg.Daemon.DropDir)
		return err == nil
	}, "Timeout waiting for the drop directory")

	path := filepath.Join(cfg.Daemon.DropDir, "readme.txt")
	if err := os.WriteFile(path, []byte("not a calendar"), 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}

	time.Sleep(300 * time.Millisecond)
	if st.count() != 0 {
		t.Errorf("imported %d tasks from a non-calendar file", st.count())
	}
	if _, err := os.Stat(path); err != nil {
		t.Error("non-calendar file should be left alone")
	}
}

func TestDaemon_NoImportCalendarLeavesFile(t *testing.T) {
	cfg := testConfig()
	cfg.Sync.Calendars = nil
	cfg.Daemon.DropDir = filepath.Join(t.TempDir(), "drop")

	st := &mockStore{} // no cached calendars either
	d := newTestDaemon(t, cfg, &mockEngine{}, st)
	startDaemon(t, d)

	waitFor(t, 2*time.Second, func() bool {
		_, err := os.Stat(cfg.Daemon.DropDir)
		return err == nil
	}, "Timeout waiting for the drop directory")

	path := filepath.Join(cfg.Daemon.DropDir, "stuck.ics")
	if err := os.WriteFile(path, []byte(taskWire("t1", "Nowhere to go")), 0644); err != nil {
		t.Fatalf("Failed to write drop file: %v", err)
	}

	time.Sleep(300 * time.Millisecond)
	if st.count() != 0 {
		t.Error("import should not run without a target calendar")
	}
	if _, err := os.Stat(path); err != nil {
		t.Error("unimportable file should stay visible in the drop folder")
	}
}

func TestDaemon_CachedCalendarFallbackForImports(t *testing.T) {
	cfg := testConfig()
	cfg.Sync.Calendars = nil
	cfg.Daemon.DropDir = filepath.Join(t.TempDir(), "drop")

	st := &mockStore{calendars: []types.Calendar{
		{URL: "https://dav.example.com/calendars/alice/inactive/", IsActive: false},
		{URL: testCal, Name: "tasks", IsActive: true},
	}}
	d := newTestDaemon(t, cfg, &mockEngine{}, st)
	startDaemon(t, d)

	waitFor(t, 2*time.Second, func() bool {
		_, err := os.Stat(cfg.Daemon.DropDir)
		return err == nil
	}, "Timeout waiting for the drop directory")

	path := filepath.Join(cfg.Daemon.DropDir, "inbox.ics")
	if err := os.WriteFile(path, []byte(taskWire("t1", "Fallback task")), 0644); err != nil {
		t.Fatalf("Failed to write drop file: %v", err)
	}

	waitFor(t, 3*time.Second, func() bool {
		return st.count() == 1
	}, "Timeout waiting for the dropped file to import")

	st.mu.Lock()
	got := st.upserted[0].CalendarURL
	st.mu.Unlock()
	if got != testCal {
		t.Errorf("import calendar = %q, want the first active cached one", got)
	}
}

func TestDaemon_RotatingLogFile(t *testing.T) {
	cfg := testConfig()
	cfg.Daemon.LogFile = filepath.Join(t.TempDir(), "logs", "daemon.log")

	d, err := New(cfg, &mockEngine{}, &mockStore{}, nil)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	if d.logClose == nil {
		t.Fatal("a configured log file should use the rotating writer")
	}

	d.logger.Println("hello")
	if _, err := os.Stat(cfg.Daemon.LogFile); err != nil {
		t.Errorf("log file not created: %v", err)
	}

	_ = d.logClose.Close()
}

func TestNewLogger_CallerOwnedWriter(t *testing.T) {
	cfg := testConfig()
	cfg.Daemon.LogFile = filepath.Join(t.TempDir(), "daemon.log")

	logger, closer := NewLogger(cfg)
	if closer == nil {
		t.Fatal("NewLogger() with a log file should hand the caller a closer")
	}
	defer closer.Close()

	// A daemon built over a caller-owned logger must not close it on Stop.
	d, err := New(cfg, &mockEngine{}, &mockStore{}, logger)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	if d.logClose != nil {
		t.Error("daemon should not own a logger it did not create")
	}
}

func TestDaemon_StopIsClean(t *testing.T) {
	engine := &mockEngine{}
	d := newTestDaemon(t, testConfig(), engine, &mockStore{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Start(ctx) }()

	waitFor(t, 2*time.Second, func() bool {
		return engine.count() >= 1
	}, "Timeout waiting for startup")

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Start() = %v, want nil on clean shutdown", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Timeout waiting for Start() to return")
	}
}
