package sync

import (
	"context"
	"fmt"
	"log"
	"os"
	stdsync "sync"
	"time"

	"github.com/taskdav/taskdav/internal/caldav"
	"github.com/taskdav/taskdav/internal/codec"
	"github.com/taskdav/taskdav/internal/hierarchy"
	"github.com/taskdav/taskdav/internal/types"
)

// Engine reconciles the local cache with the remote collection.
type Engine struct {
	gateway  Gateway
	store    Store
	retry    caldav.RetryPolicy
	logger   *log.Logger
	events   EventSink
	parallel int
	only     map[string]bool

	// mu guards locks; one mutex per calendar URL serializes
	// reconciliation cycles for that calendar.
	mu    stdsync.Mutex
	locks map[string]*stdsync.Mutex
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger overrides the default stderr logger.
func WithLogger(logger *log.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithRetryPolicy overrides the default retry policy for remote calls.
func WithRetryPolicy(policy caldav.RetryPolicy) Option {
	return func(e *Engine) {
		e.retry = policy
	}
}

// WithEvents attaches a sink for sync lifecycle events.
func WithEvents(sink EventSink) Option {
	return func(e *Engine) {
		e.events = sink
	}
}

// WithParallel allows up to n calendars to sync concurrently during
// SyncAll. Work within one calendar is always sequential.
func WithParallel(n int) Option {
	return func(e *Engine) {
		e.parallel = n
	}
}

// WithCalendars restricts SyncAll to the given calendar URLs. An empty
// list means every active calendar. URLs not present on the server are
// silently skipped, so a stale entry cannot fail the whole cycle.
func WithCalendars(urls []string) Option {
	return func(e *Engine) {
		e.only = make(map[string]bool, len(urls))
		for _, u := range urls {
			e.only[u] = true
		}
	}
}

// New creates an Engine over a remote gateway and a local store.
func New(gateway Gateway, store Store, opts ...Option) *Engine {
	e := &Engine{
		gateway:  gateway,
		store:    store,
		retry:    caldav.DefaultRetryPolicy(),
		logger:   log.New(os.Stderr, "[sync] ", log.LstdFlags),
		parallel: 1,
		locks:    make(map[string]*stdsync.Mutex),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.parallel < 1 {
		e.parallel = 1
	}
	return e
}

// DecodeOne exposes the record codec to callers holding raw wire data.
func (e *Engine) DecodeOne(wire string) (*types.Task, bool) {
	return codec.Decode(wire)
}

// EncodeChanges exposes the diff encoder: local field values applied
// onto an existing remote record.
func (e *Engine) EncodeChanges(base string, task *types.Task, changed []string) (string, int, error) {
	return codec.EncodeChanges(base, task, changed)
}

// ValidateHierarchy exposes the batch parent-reference repair.
func (e *Engine) ValidateHierarchy(batch map[string]*types.Task, order []string) int {
	return hierarchy.Validate(batch, order)
}

// calendarLock returns the mutex serializing work on one calendar.
func (e *Engine) calendarLock(calendarURL string) *stdsync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	lock, ok := e.locks[calendarURL]
	if !ok {
		lock = &stdsync.Mutex{}
		e.locks[calendarURL] = lock
	}
	return lock
}

// Pull replaces the local cache for one calendar with the remote state.
func (e *Engine) Pull(ctx context.Context, calendarURL string) (types.SyncStats, error) {
	lock := e.calendarLock(calendarURL)
	lock.Lock()
	defer lock.Unlock()
	return e.pull(ctx, calendarURL)
}

// Push replays the calendar's pending local operations against the
// remote collection.
func (e *Engine) Push(ctx context.Context, calendarURL string) (types.PushStats, error) {
	lock := e.calendarLock(calendarURL)
	lock.Lock()
	defer lock.Unlock()
	return e.push(ctx, calendarURL)
}

// SyncCalendar runs one full pull+push cycle for a calendar under a
// single hold of its lock. A failed pull skips the push: with the
// remote unreachable the push could only burn attempts.
func (e *Engine) SyncCalendar(ctx context.Context, calendarURL string) (types.SyncStats, types.PushStats, error) {
	lock := e.calendarLock(calendarURL)
	lock.Lock()
	defer lock.Unlock()

	pullStats, err := e.pull(ctx, calendarURL)
	if err != nil {
		return pullStats, types.PushStats{}, err
	}
	pushStats, err := e.push(ctx, calendarURL)
	return pullStats, pushStats, err
}

// SyncReport aggregates one SyncAll cycle across calendars.
type SyncReport struct {
	Calendars int             `json:"calendars"`
	Offline   bool            `json:"offline,omitempty"`
	Pull      types.SyncStats `json:"pull"`
	Push      types.PushStats `json:"push"`
	Failures  []string        `json:"failures,omitempty"`
}

// SyncAll discovers calendars and runs a pull+push cycle for every
// active one. Per-calendar failures are collected in the report rather
// than aborting the cycle; the returned error covers only discovery
// failing with no cached fallback.
func (e *Engine) SyncAll(ctx context.Context) (*SyncReport, error) {
	start := time.Now().UTC()
	e.emit(Event{Type: EventSyncStarted, Time: start})

	calendars, offline, err := e.discoverCalendars(ctx)
	if err != nil {
		e.emit(Event{Type: EventError, Message: err.Error(), Time: time.Now().UTC()})
		return nil, err
	}

	report := &SyncReport{Offline: offline}
	var active []types.Calendar
	for _, cal := range calendars {
		if !cal.IsActive {
			continue
		}
		if len(e.only) > 0 && !e.only[cal.URL] {
			continue
		}
		active = append(active, cal)
	}
	report.Calendars = len(active)

	var reportMu stdsync.Mutex
	syncOne := func(calendarURL string) {
		pullStats, pushStats, err := e.SyncCalendar(ctx, calendarURL)
		reportMu.Lock()
		defer reportMu.Unlock()
		report.Pull.Add(pullStats)
		report.Push.Add(pushStats)
		if err != nil {
			report.Failures = append(report.Failures, fmt.Sprintf("%s: %v", calendarURL, err))
			e.emit(Event{Type: EventError, Calendar: calendarURL, Message: err.Error(), Time: time.Now().UTC()})
		}
	}

	if e.parallel <= 1 || len(active) <= 1 {
		for _, cal := range active {
			syncOne(cal.URL)
		}
	} else {
		work := make(chan string)
		var wg stdsync.WaitGroup
		for i := 0; i < e.parallel; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for url := range work {
					syncOne(url)
				}
			}()
		}
		for _, cal := range active {
			work <- cal.URL
		}
		close(work)
		wg.Wait()
	}

	summary := fmt.Sprintf(
		"calendars=%d fetched=%d created=%d updated=%d pushed=%d remaining=%d errors=%d",
		report.Calendars, report.Pull.Fetched, report.Pull.Created, report.Pull.Updated,
		report.Push.Pushed, report.Push.Remaining, report.Pull.Errors+len(report.Push.Errors),
	)
	e.logger.Printf("Sync complete in %s: %s", time.Since(start).Round(time.Millisecond), summary)
	e.emit(Event{Type: EventSyncCompleted, Message: summary, Time: time.Now().UTC()})

	return report, nil
}

// Calendars lists the remote calendars, refreshing the local cache on
// success. When the server is unreachable it falls back to the cached
// set; the second return reports that offline fallback.
func (e *Engine) Calendars(ctx context.Context) ([]types.Calendar, bool, error) {
	return e.discoverCalendars(ctx)
}

// discoverCalendars lists calendars from the server, falling back to the
// cached set when the server is unreachable but the cache has content.
func (e *Engine) discoverCalendars(ctx context.Context) ([]types.Calendar, bool, error) {
	var calendars []types.Calendar
	err := e.retry.Do(ctx, "list calendars", func() error {
		var lerr error
		calendars, lerr = e.gateway.ListCalendars(ctx)
		return lerr
	})
	if err == nil {
		if uerr := e.store.UpsertCalendars(ctx, calendars); uerr != nil {
			e.logger.Printf("WARNING: failed to refresh calendar cache: %v", uerr)
		}
		return calendars, false, nil
	}

	cached, cerr := e.store.ListCalendars(ctx)
	if cerr != nil || len(cached) == 0 {
		return nil, false, fmt.Errorf("calendar discovery failed: %w", err)
	}
	e.logger.Printf("WARNING: calendar discovery failed (%v), continuing with %d cached calendars", err, len(cached))
	return cached, true, nil
}

// pull fetches, decodes, repairs, and applies the remote state for one
// calendar. Caller holds the calendar lock.
func (e *Engine) pull(ctx context.Context, calendarURL string) (types.SyncStats, error) {
	var stats types.SyncStats

	var objects []caldav.RemoteObject
	err := e.retry.Do(ctx, "fetch "+calendarURL, func() error {
		var ferr error
		objects, ferr = e.gateway.FetchAll(ctx, calendarURL)
		return ferr
	})
	if err != nil {
		return stats, fmt.Errorf("pull %s: %w", calendarURL, err)
	}
	stats.Fetched = len(objects)

	batch := make(map[string]*types.Task, len(objects))
	order := make([]string, 0, len(objects))
	for _, obj := range objects {
		task, ok := codec.Decode(obj.Data)
		if !ok {
			stats.Errors++
			e.logger.Printf("WARNING: skipping undecodable record at %s", obj.Href)
			continue
		}
		task.CalendarURL = calendarURL
		if _, seen := batch[task.UID]; !seen {
			order = append(order, task.UID)
		}
		batch[task.UID] = task
	}

	stats.HierarchyFixes = hierarchy.Validate(batch, order)
	if stats.HierarchyFixes > 0 {
		msg := fmt.Sprintf("repaired %d parent reference(s)", stats.HierarchyFixes)
		e.logger.Printf("Hierarchy: %s in %s", msg, calendarURL)
		e.audit(ctx, types.SyncLogEntry{
			Operation: "pull",
			Status:    types.LogWarning,
			Message:   msg,
		})
		e.emit(Event{Type: EventRepair, Calendar: calendarURL, Message: msg, Time: time.Now().UTC()})
	}

	created, updated, err := e.store.ApplyPull(ctx, calendarURL, batch, order)
	if err != nil {
		return stats, fmt.Errorf("apply pull %s: %w", calendarURL, err)
	}
	stats.Created = created
	stats.Updated = updated

	if err := e.store.TouchCalendarSync(ctx, calendarURL, len(order), time.Now().UTC()); err != nil {
		e.logger.Printf("WARNING: failed to record calendar sync for %s: %v", calendarURL, err)
	}

	e.logger.Printf("Pulled %s: fetched=%d created=%d updated=%d skipped=%d",
		calendarURL, stats.Fetched, stats.Created, stats.Updated, stats.Errors)
	e.audit(ctx, types.SyncLogEntry{
		Operation: "pull",
		Status:    types.LogSuccess,
		Message:   fmt.Sprintf("fetched=%d created=%d updated=%d skipped=%d", stats.Fetched, stats.Created, stats.Updated, stats.Errors),
	})

	return stats, nil
}

// push replays pending operations in local-change order. Each record's
// failure isolates to that record. Caller holds the calendar lock.
func (e *Engine) push(ctx context.Context, calendarURL string) (types.PushStats, error) {
	var stats types.PushStats

	pending, err := e.store.PendingTasks(ctx, calendarURL)
	if err != nil {
		return stats, fmt.Errorf("push %s: %w", calendarURL, err)
	}

	for _, task := range pending {
		if err := ctx.Err(); err != nil {
			stats.Remaining = len(pending) - stats.Pushed
			return stats, err
		}

		operation := string(task.Operation)
		if err := e.pushOne(ctx, calendarURL, task); err != nil {
			stats.Errors = append(stats.Errors, fmt.Sprintf("%s: %v", task.UID, err))
			task.RecordSyncFailure()
			if uerr := e.store.UpsertTask(ctx, task); uerr != nil {
				e.logger.Printf("WARNING: failed to record push failure for %s: %v", task.UID, uerr)
			}
			e.logger.Printf("WARNING: push %s %s failed (attempt %d): %v", operation, task.UID, task.SyncAttempts, err)
			e.audit(ctx, types.SyncLogEntry{
				Operation:    operation,
				TaskUID:      task.UID,
				Status:       types.LogError,
				Message:      "push failed",
				ErrorDetails: err.Error(),
			})
			e.emit(Event{Type: EventError, Calendar: calendarURL, TaskUID: task.UID, Message: err.Error(), Time: time.Now().UTC()})
			continue
		}

		stats.Pushed++
		e.audit(ctx, types.SyncLogEntry{
			Operation: operation,
			TaskUID:   task.UID,
			Status:    types.LogSuccess,
			Message:   task.Summary,
		})
		e.emit(Event{Type: EventTaskPushed, Calendar: calendarURL, TaskUID: task.UID, Message: task.Summary, Time: time.Now().UTC()})
	}

	stats.Remaining = len(pending) - stats.Pushed
	if len(pending) > 0 {
		e.logger.Printf("Pushed %s: pushed=%d remaining=%d", calendarURL, stats.Pushed, stats.Remaining)
	}
	return stats, nil
}

// pushOne dispatches a single pending record by its operation.
func (e *Engine) pushOne(ctx context.Context, calendarURL string, task *types.Task) error {
	switch task.Operation {
	case types.OpCreate:
		return e.pushCreate(ctx, calendarURL, task)
	case types.OpUpdate:
		return e.pushUpdate(ctx, calendarURL, task)
	case types.OpDelete:
		return e.pushDelete(ctx, calendarURL, task)
	default:
		// Unsynced without a pending operation is inconsistent state;
		// there is nothing to replay, so repair by marking synced.
		e.logger.Printf("WARNING: task %s pending without operation, marking synced", task.UID)
		task.MarkSynced(time.Now().UTC())
		return e.store.UpsertTask(ctx, task)
	}
}

func (e *Engine) pushCreate(ctx context.Context, calendarURL string, task *types.Task) error {
	wire, _, err := codec.EncodeNew(task)
	if err != nil {
		return err
	}

	var serverUID string
	err = e.retry.Do(ctx, "create "+task.UID, func() error {
		var cerr error
		serverUID, cerr = e.gateway.Create(ctx, calendarURL, task.UID, wire)
		return cerr
	})
	if err != nil {
		return err
	}

	if serverUID != "" && serverUID != task.UID {
		if err := e.store.ReplaceTaskUID(ctx, calendarURL, task.UID, serverUID); err != nil {
			return err
		}
		e.logger.Printf("Server filed %s under uid %s", task.UID, serverUID)
		task.UID = serverUID
	}

	task.MarkSynced(time.Now().UTC())
	return e.store.UpsertTask(ctx, task)
}

func (e *Engine) pushUpdate(ctx context.Context, calendarURL string, task *types.Task) error {
	var remote *caldav.RemoteObject
	err := e.retry.Do(ctx, "fetch "+task.UID, func() error {
		var ferr error
		remote, ferr = e.gateway.FetchByUID(ctx, calendarURL, task.UID)
		return ferr
	})
	if err != nil {
		return err
	}
	if remote == nil {
		// The record vanished remotely; updating would resurrect it
		// with only locally-known fields. Leave it pending for the
		// operator to resolve.
		return fmt.Errorf("update %s: %w: record missing from calendar", task.UID, caldav.ErrNotFound)
	}

	wire, fixes, err := codec.EncodeChanges(remote.Data, task, codec.AllFields)
	if err != nil {
		return err
	}
	e.reportFixes(ctx, calendarURL, task.UID, fixes)

	if err := e.retry.Do(ctx, "save "+task.UID, func() error {
		return e.gateway.Save(ctx, remote.Href, wire)
	}); err != nil {
		return err
	}

	task.MarkSynced(time.Now().UTC())
	return e.store.UpsertTask(ctx, task)
}

func (e *Engine) pushDelete(ctx context.Context, calendarURL string, task *types.Task) error {
	var remote *caldav.RemoteObject
	err := e.retry.Do(ctx, "fetch "+task.UID, func() error {
		var ferr error
		remote, ferr = e.gateway.FetchByUID(ctx, calendarURL, task.UID)
		return ferr
	})
	if err != nil {
		return err
	}

	if remote != nil {
		err := e.retry.Do(ctx, "delete "+task.UID, func() error {
			return e.gateway.Delete(ctx, remote.Href)
		})
		// A racing deletion on the server is the outcome we wanted.
		if err != nil && !caldav.IsNotFound(err) {
			return err
		}
	}

	// Terminal: the local row goes away entirely.
	return e.store.DeleteTask(ctx, calendarURL, task.UID)
}

// reportFixes surfaces property normalizations applied while encoding a
// record for save.
func (e *Engine) reportFixes(ctx context.Context, calendarURL, uid string, fixes int) {
	if fixes == 0 {
		return
	}
	msg := fmt.Sprintf("normalized %d malformed property value(s)", fixes)
	e.logger.Printf("Repair: %s on %s", msg, uid)
	e.audit(ctx, types.SyncLogEntry{
		Operation: "repair",
		TaskUID:   uid,
		Status:    types.LogWarning,
		Message:   msg,
	})
	e.emit(Event{Type: EventRepair, Calendar: calendarURL, TaskUID: uid, Message: msg, Time: time.Now().UTC()})
}

// audit appends to the sync log, downgrading failures to a warning so
// bookkeeping never aborts reconciliation.
func (e *Engine) audit(ctx context.Context, entry types.SyncLogEntry) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	if err := e.store.AppendSyncLog(ctx, entry); err != nil {
		e.logger.Printf("WARNING: failed to append sync log: %v", err)
	}
}

// emit forwards an event to the sink when one is attached.
func (e *Engine) emit(event Event) {
	if e.events == nil {
		return
	}
	e.events.Emit(event)
}
