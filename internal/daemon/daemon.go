// Package daemon runs the background sync service: a periodic full sync
// cycle plus a drop-folder watcher that imports calendar files placed
// there.
//
// The daemon:
// 1. Runs a sync cycle on start and then on every interval tick
// 2. Watches the drop folder and imports .ics files (debounced)
// 3. Applies config file changes to the sync interval without restarting
// 4. Handles graceful shutdown
package daemon

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/taskdav/taskdav/internal/config"
	"github.com/taskdav/taskdav/internal/ics"
	syncpkg "github.com/taskdav/taskdav/internal/sync"
	"github.com/taskdav/taskdav/internal/types"
)

// defaultDebounce is how long a dropped file must sit still before it is
// imported. Batches the write events an unfinished copy produces.
const defaultDebounce = 500 * time.Millisecond

// importedSuffix marks drop-folder files that have been processed.
const importedSuffix = ".imported"

// Engine is the part of the sync engine the daemon drives.
type Engine interface {
	SyncAll(ctx context.Context) (*syncpkg.SyncReport, error)
}

// Store is the part of the task store the daemon needs: persisting
// imported tasks and resolving the default import calendar.
type Store interface {
	ics.Store
	ListCalendars(ctx context.Context) ([]types.Calendar, error)
}

// Daemon orchestrates the periodic sync loop and drop-folder imports.
type Daemon struct {
	cfg    *config.Config
	engine Engine
	store  Store

	logger   *log.Logger
	logClose io.Closer

	watcher     *fsnotify.Watcher
	dropQueue   map[string]time.Time // filepath -> queued at
	dropQueueMu sync.Mutex
	debounce    time.Duration

	intervalCh chan time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a daemon. A nil logger builds one from the config via
// NewLogger, and the daemon then owns the log file and closes it on
// Stop. Pass a logger built with NewLogger to share the same rotating
// file with other components; the caller keeps the closer.
//
// Use Start() to begin syncing and watching.
func New(cfg *config.Config, engine Engine, st Store, logger *log.Logger) (*Daemon, error) {
	if cfg == nil {
		return nil, fmt.Errorf("cfg cannot be nil")
	}
	if engine == nil {
		return nil, fmt.Errorf("engine cannot be nil")
	}
	if st == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}

	var logClose io.Closer
	if logger == nil {
		logger, logClose = NewLogger(cfg)
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &Daemon{
		cfg:        cfg,
		engine:     engine,
		store:      st,
		logger:     logger,
		logClose:   logClose,
		dropQueue:  make(map[string]time.Time),
		debounce:   defaultDebounce,
		intervalCh: make(chan time.Duration, 1),
		ctx:        ctx,
		cancel:     cancel,
	}, nil
}

// NewLogger builds the daemon logger from config: stderr by default, a
// rotating file when daemon.log_file is set. The closer is non-nil only
// in the file case and belongs to the caller.
func NewLogger(cfg *config.Config) (*log.Logger, io.Closer) {
	if cfg.Daemon.LogFile == "" {
		return log.New(os.Stderr, "[daemon] ", log.LstdFlags), nil
	}
	rotating := &lumberjack.Logger{
		Filename:   cfg.Daemon.LogFile,
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		MaxAge:     28, // days
	}
	return log.New(rotating, "[daemon] ", log.LstdFlags), rotating
}

// Start begins the daemon's operation.
//
// The daemon will:
// 1. Run an initial sync cycle (a failure is logged, not fatal; the
//    server may simply be unreachable right now)
// 2. Watch the drop folder, when one is configured
// 3. Sync again on every interval tick
//
// This blocks until ctx is cancelled.
func (d *Daemon) Start(ctx context.Context) error {
	interval := d.syncInterval()
	d.logger.Printf("Starting daemon: sync every %s", interval)

	if _, err := d.engine.SyncAll(d.ctx); err != nil {
		d.logger.Printf("WARNING: initial sync failed: %v", err)
	}

	if d.cfg.Daemon.DropDir != "" {
		if err := d.startDropWatcher(); err != nil {
			return err
		}
	}

	d.wg.Add(1)
	go d.syncLoop(interval)

	select {
	case <-ctx.Done():
		d.logger.Println("Shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop gracefully shuts down the daemon.
func (d *Daemon) Stop() error {
	d.cancel()

	if d.watcher != nil {
		if err := d.watcher.Close(); err != nil {
			d.logger.Printf("Error closing watcher: %v", err)
		}
	}

	d.wg.Wait()
	d.logger.Println("Daemon stopped")

	if d.logClose != nil {
		_ = d.logClose.Close()
	}
	return nil
}

// WatchConfig applies config file changes at path to the running daemon
// without a restart. Call before Start.
func (d *Daemon) WatchConfig(path string) error {
	return config.Watch(path, d.logger, d.Reload)
}

// Reload applies a changed configuration. Only the sync interval takes
// effect live; server credentials and paths need a restart.
func (d *Daemon) Reload(cfg *config.Config) {
	interval := cfg.Sync.Interval
	if interval <= 0 {
		return
	}

	// Single producer (the config watcher callback), so drain-then-send
	// cannot race another sender.
	select {
	case <-d.intervalCh:
	default:
	}
	d.intervalCh <- interval
}

// syncInterval returns the configured interval with a floor for the
// unconfigured case.
func (d *Daemon) syncInterval() time.Duration {
	if d.cfg.Sync.Interval > 0 {
		return d.cfg.Sync.Interval
	}
	return 5 * time.Minute
}

// syncLoop runs a sync cycle on every tick, adjusting the cadence when a
// reload changes the interval.
func (d *Daemon) syncLoop(interval time.Duration) {
	defer d.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case next := <-d.intervalCh:
			if next == interval {
				continue
			}
			interval = next
			ticker.Reset(interval)
			d.logger.Printf("Sync interval now %s", interval)

		case <-ticker.C:
			d.runSync()
		}
	}
}

// runSync executes one sync cycle. The engine logs its own summary, so
// only failures are reported here.
func (d *Daemon) runSync() {
	if _, err := d.engine.SyncAll(d.ctx); err != nil {
		d.logger.Printf("Sync failed: %v", err)
	}
}

// startDropWatcher prepares the drop folder, queues files already
// sitting in it, and starts the watch goroutines.
func (d *Daemon) startDropWatcher() error {
	dropDir := d.cfg.Daemon.DropDir
	if err := os.MkdirAll(dropDir, 0755); err != nil {
		return fmt.Errorf("failed to create drop directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(dropDir); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch drop directory: %w", err)
	}
	d.watcher = watcher

	// Files dropped while the daemon was down are still waiting.
	entries, err := os.ReadDir(dropDir)
	if err == nil {
		for _, entry := range entries {
			if entry.IsDir() || !isCalendarFile(entry.Name()) {
				continue
			}
			d.queueDrop(filepath.Join(dropDir, entry.Name()))
		}
	}

	d.wg.Add(2)
	go d.watchDropFolder()
	go d.processDropQueue()

	d.logger.Printf("Watching drop folder: %s", dropDir)
	return nil
}

// isCalendarFile reports whether name looks like an importable calendar
// file.
func isCalendarFile(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".ics")
}

// watchDropFolder monitors filesystem events and queues calendar files.
func (d *Daemon) watchDropFolder() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return

		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if !isCalendarFile(event.Name) {
				continue
			}
			d.queueDrop(event.Name)

		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.logger.Printf("Watcher error: %v", err)
		}
	}
}

// queueDrop records a file change, restarting its debounce window.
func (d *Daemon) queueDrop(path string) {
	d.dropQueueMu.Lock()
	defer d.dropQueueMu.Unlock()

	d.dropQueue[path] = time.Now()
}

// processDropQueue imports queued files once their debounce window has
// passed.
func (d *Daemon) processDropQueue() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.debounce)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			d.importPendingDrops()
		}
	}
}

// importPendingDrops drains the settled entries from the queue and
// imports them in path order.
func (d *Daemon) importPendingDrops() {
	d.dropQueueMu.Lock()
	now := time.Now()
	var ready []string
	for path, queuedAt := range d.dropQueue {
		if now.Sub(queuedAt) < d.debounce {
			continue
		}
		ready = append(ready, path)
		delete(d.dropQueue, path)
	}
	d.dropQueueMu.Unlock()

	sort.Strings(ready)
	for _, path := range ready {
		d.importDrop(path)
	}
}

// importDrop imports one dropped file and marks it processed. The file
// is left in place on failure so the problem stays visible.
func (d *Daemon) importDrop(path string) {
	name := filepath.Base(path)

	calendarURL := d.importCalendar()
	if calendarURL == "" {
		d.logger.Printf("WARNING: cannot import %s: no calendar configured and none cached", name)
		return
	}

	result, err := ics.ImportFile(d.ctx, d.store, path, calendarURL)
	if err != nil {
		d.logger.Printf("Import %s failed: %v", name, err)
		return
	}

	d.logger.Printf("Imported %s: tasks=%d skipped=%d", name, result.Imported, result.Skipped)
	for _, msg := range result.Errors {
		d.logger.Printf("WARNING: import %s: %s", name, msg)
	}

	if err := os.Rename(path, path+importedSuffix); err != nil {
		d.logger.Printf("WARNING: could not mark %s imported: %v", name, err)
	}

	// Upload the imported tasks now instead of waiting out the interval.
	if result.Imported > 0 {
		d.runSync()
	}
}

// importCalendar resolves the calendar dropped files are filed under:
// the first configured calendar, else the first active cached one.
func (d *Daemon) importCalendar() string {
	if len(d.cfg.Sync.Calendars) > 0 {
		return d.cfg.Sync.Calendars[0]
	}

	cals, err := d.store.ListCalendars(d.ctx)
	if err != nil {
		return ""
	}
	for _, cal := range cals {
		if cal.IsActive {
			return cal.URL
		}
	}
	return ""
}
