// Package types defines the core data model shared by the codec, store,
// sync engine, and API layers: tasks with embedded sync state, calendar
// metadata, and the append-only sync audit log.
package types

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SyncOperation is the pending remote operation for an unsynced task.
// It is meaningful only while Synced is false.
type SyncOperation string

const (
	// OpNone means no remote work is pending.
	OpNone SyncOperation = "none"

	// OpCreate means the task exists locally but not remotely yet.
	OpCreate SyncOperation = "create"

	// OpUpdate means local edits have not been pushed.
	OpUpdate SyncOperation = "update"

	// OpDelete means the task is deleted locally and awaits remote delete.
	OpDelete SyncOperation = "delete"
)

// Wire status values for the remote task record format.
const (
	StatusNeedsAction = "NEEDS-ACTION"
	StatusCompleted   = "COMPLETED"
)

// Priority bounds for the wire format. Zero means unset.
const (
	PriorityMin = 1
	PriorityMax = 9
)

// Task represents a single task record, both as cached locally and as
// exchanged with the remote store. A task is identified by (UID, CalendarURL).
type Task struct {
	// ===== Identity =====
	UID         string `json:"uid"`
	CalendarURL string `json:"calendar_url,omitempty"`

	// ===== Content =====
	Summary     string `json:"summary"`
	Description string `json:"description,omitempty"`

	// ===== Completion =====
	Completed   bool       `json:"completed"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// ===== Hierarchy =====
	ParentUID string `json:"parent_uid,omitempty"`

	// ===== Scheduling & Classification =====
	Priority          int        `json:"priority,omitempty"` // 1-9, 0 = unset
	Due               *time.Time `json:"due,omitempty"`
	Tags              []string   `json:"tags,omitempty"`
	EstimatedDuration int        `json:"estimated_duration,omitempty"` // minutes
	ActualDuration    int        `json:"actual_duration,omitempty"`    // minutes

	// ===== Timestamps =====
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// ===== Sync State =====
	Synced       bool          `json:"is_synced"`
	Operation    SyncOperation `json:"sync_operation,omitempty"`
	SyncAttempts int           `json:"sync_attempts,omitempty"`
	LastSync     *time.Time    `json:"last_sync,omitempty"`
}

// NewTask creates a local task with a fresh UID, queued for remote creation.
func NewTask(summary string) *Task {
	now := time.Now().UTC()
	return &Task{
		UID:       uuid.NewString(),
		Summary:   strings.TrimSpace(summary),
		CreatedAt: now,
		UpdatedAt: now,
		Operation: OpCreate,
	}
}

// Validate checks invariants that must hold before a task is persisted.
func (t *Task) Validate() error {
	if t.UID == "" {
		return fmt.Errorf("uid is required")
	}
	if strings.TrimSpace(t.Summary) == "" {
		return fmt.Errorf("summary is required")
	}
	if t.Priority != 0 && (t.Priority < PriorityMin || t.Priority > PriorityMax) {
		return fmt.Errorf("priority must be between %d and %d (got %d)", PriorityMin, PriorityMax, t.Priority)
	}
	if t.ParentUID == t.UID && t.UID != "" {
		return fmt.Errorf("task cannot be its own parent")
	}
	switch t.Operation {
	case OpNone, OpCreate, OpUpdate, OpDelete, "":
	default:
		return fmt.Errorf("unknown sync operation %q", t.Operation)
	}
	return nil
}

// Touch bumps the modification timestamp. Call on every local mutation.
func (t *Task) Touch() {
	t.UpdatedAt = time.Now().UTC()
}

// MarkLocalCreate flags a task that exists only locally.
func (t *Task) MarkLocalCreate() {
	t.Synced = false
	t.Operation = OpCreate
	t.SyncAttempts = 0
}

// MarkLocalUpdate flags a local edit for push. A task still pending creation
// stays in the create state: the remote has never seen it, so a create
// carries the edit along.
func (t *Task) MarkLocalUpdate() {
	if !t.Synced && t.Operation == OpCreate {
		return
	}
	t.Synced = false
	t.Operation = OpUpdate
}

// MarkLocalDelete flags the task for remote deletion.
func (t *Task) MarkLocalDelete() {
	t.Synced = false
	t.Operation = OpDelete
}

// MarkSynced records a successful reconciliation at the given time and
// resets the attempt counter.
func (t *Task) MarkSynced(at time.Time) {
	at = at.UTC()
	t.Synced = true
	t.Operation = OpNone
	t.SyncAttempts = 0
	t.LastSync = &at
}

// RecordSyncFailure increments the attempt counter, leaving the pending
// operation in place so a later push retries it.
func (t *Task) RecordSyncFailure() {
	t.SyncAttempts++
}

// SetCompleted applies a completion transition. Completing stamps
// CompletedAt; un-completing clears it.
func (t *Task) SetCompleted(done bool) {
	t.Completed = done
	if done {
		now := time.Now().UTC()
		t.CompletedAt = &now
	} else {
		t.CompletedAt = nil
	}
	t.Touch()
}

// Overdue reports whether the task has a due date in the past and is not
// completed.
func (t *Task) Overdue(now time.Time) bool {
	return !t.Completed && t.Due != nil && t.Due.Before(now)
}
