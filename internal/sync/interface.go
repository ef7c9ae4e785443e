package sync

import (
	"context"
	"time"

	"github.com/taskdav/taskdav/internal/caldav"
	"github.com/taskdav/taskdav/internal/types"
)

// Gateway is the remote side of reconciliation. caldav.Client is the
// production implementation; tests substitute function-backed fakes.
//
// All methods classify failures with the caldav sentinel errors so the
// engine can decide between retrying, aborting, and tolerating absence.
type Gateway interface {
	// ListCalendars discovers the task collections visible to the
	// configured account.
	ListCalendars(ctx context.Context) ([]types.Calendar, error)

	// FetchAll returns every record in the calendar, one wire-format
	// document per task.
	FetchAll(ctx context.Context, calendarURL string) ([]caldav.RemoteObject, error)

	// FetchByUID returns the record with the given uid, or (nil, nil)
	// when the calendar holds no such record.
	FetchByUID(ctx context.Context, calendarURL, uid string) (*caldav.RemoteObject, error)

	// Create stores a new record and returns the uid under which the
	// server filed it. Servers may assign their own identifier; the
	// returned uid is authoritative.
	Create(ctx context.Context, calendarURL, uid, wire string) (string, error)

	// Save overwrites the record at href with new wire content.
	Save(ctx context.Context, href, wire string) error

	// Delete removes the record at href. Deleting an absent record
	// reports caldav.ErrNotFound.
	Delete(ctx context.Context, href string) error
}

// Store is the local side of reconciliation: the subset of the SQLite
// cache the engine drives. *store.Store is the production implementation.
type Store interface {
	// PendingTasks returns the unsynced tasks for a calendar ordered by
	// local change time, oldest first. Push preserves this order.
	PendingTasks(ctx context.Context, calendarURL string) ([]*types.Task, error)

	// UpsertTask persists one task, including its sync state.
	UpsertTask(ctx context.Context, task *types.Task) error

	// DeleteTask removes a task row. Absent rows are a no-op.
	DeleteTask(ctx context.Context, calendarURL, uid string) error

	// ReplaceTaskUID rewrites a task's uid after the server assigned its
	// own during create, re-parenting children along the way.
	ReplaceTaskUID(ctx context.Context, calendarURL, oldUID, newUID string) error

	// ApplyPull applies a validated pull batch in one transaction and
	// reports (created, updated). Any failure rolls the batch back.
	ApplyPull(ctx context.Context, calendarURL string, batch map[string]*types.Task, order []string) (int, int, error)

	// UpsertCalendars refreshes the calendar cache from discovery.
	UpsertCalendars(ctx context.Context, calendars []types.Calendar) error

	// ListCalendars returns the cached calendars for offline fallback.
	ListCalendars(ctx context.Context) ([]types.Calendar, error)

	// TouchCalendarSync records a completed pull for a calendar.
	TouchCalendarSync(ctx context.Context, calendarURL string, taskCount int, at time.Time) error

	// AppendSyncLog records one audit entry. Failures must not abort
	// the sync that produced the entry.
	AppendSyncLog(ctx context.Context, entry types.SyncLogEntry) error
}
