package types

import (
	"strings"
	"testing"
	"time"
)

func TestTask_Validate(t *testing.T) {
	now := time.Now().UTC()

	tests := []struct {
		name    string
		task    Task
		wantErr bool
		errMsg  string
	}{
		{
			name: "valid task",
			task: Task{
				UID:       "task-1",
				Summary:   "Write release notes",
				Priority:  3,
				CreatedAt: now,
				UpdatedAt: now,
			},
			wantErr: false,
		},
		{
			name: "missing uid",
			task: Task{
				Summary:   "No identity",
				CreatedAt: now,
				UpdatedAt: now,
			},
			wantErr: true,
			errMsg:  "uid is required",
		},
		{
			name: "blank summary",
			task: Task{
				UID:       "task-2",
				Summary:   "   ",
				CreatedAt: now,
				UpdatedAt: now,
			},
			wantErr: true,
			errMsg:  "summary is required",
		},
		{
			name: "priority below range",
			task: Task{
				UID:      "task-3",
				Summary:  "Bad priority",
				Priority: -2,
			},
			wantErr: true,
			errMsg:  "priority must be between 1 and 9",
		},
		{
			name: "priority above range",
			task: Task{
				UID:      "task-4",
				Summary:  "Bad priority",
				Priority: 12,
			},
			wantErr: true,
			errMsg:  "priority must be between 1 and 9",
		},
		{
			name: "zero priority means unset",
			task: Task{
				UID:     "task-5",
				Summary: "Unprioritized",
			},
			wantErr: false,
		},
		{
			name: "self parent",
			task: Task{
				UID:       "task-6",
				Summary:   "Loops to itself",
				ParentUID: "task-6",
			},
			wantErr: true,
			errMsg:  "task cannot be its own parent",
		},
		{
			name: "unknown operation",
			task: Task{
				UID:       "task-7",
				Summary:   "Bad op",
				Operation: SyncOperation("upsert"),
			},
			wantErr: true,
			errMsg:  "unknown sync operation",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.task.Validate()
			if tt.wantErr {
				if err == nil {
					t.Errorf("Validate() expected error containing %q, got nil", tt.errMsg)
					return
				}
				if !strings.Contains(err.Error(), tt.errMsg) {
					t.Errorf("Validate() error = %v, want error containing %q", err, tt.errMsg)
				}
			} else if err != nil {
				t.Errorf("Validate() unexpected error: %v", err)
			}
		})
	}
}

func TestNewTask_Defaults(t *testing.T) {
	task := NewTask("  Ship the thing  ")

	if task.UID == "" {
		t.Error("NewTask() did not assign a UID")
	}
	if task.Summary != "Ship the thing" {
		t.Errorf("Summary = %q, want %q", task.Summary, "Ship the thing")
	}
	if task.Operation != OpCreate {
		t.Errorf("Operation = %q, want %q", task.Operation, OpCreate)
	}
	if task.Synced {
		t.Error("NewTask() should start unsynced")
	}
	if task.CreatedAt.IsZero() || task.UpdatedAt.IsZero() {
		t.Error("NewTask() should stamp created/updated timestamps")
	}
}

func TestTask_MarkLocalUpdate_PreservesPendingCreate(t *testing.T) {
	task := NewTask("Draft agenda")
	task.MarkLocalUpdate()

	if task.Operation != OpCreate {
		t.Errorf("Operation = %q, want %q (pending create absorbs edits)", task.Operation, OpCreate)
	}
	if task.Synced {
		t.Error("task should remain unsynced")
	}
}

func TestTask_MarkLocalUpdate_AfterSync(t *testing.T) {
	task := NewTask("Draft agenda")
	task.MarkSynced(time.Now())

	task.MarkLocalUpdate()

	if task.Operation != OpUpdate {
		t.Errorf("Operation = %q, want %q", task.Operation, OpUpdate)
	}
	if task.Synced {
		t.Error("edited task should be unsynced")
	}
}

func TestTask_MarkSynced_ResetsAttempts(t *testing.T) {
	task := NewTask("Flaky push")
	task.RecordSyncFailure()
	task.RecordSyncFailure()
	if task.SyncAttempts != 2 {
		t.Fatalf("SyncAttempts = %d, want 2", task.SyncAttempts)
	}

	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	task.MarkSynced(at)

	if !task.Synced {
		t.Error("task should be synced")
	}
	if task.Operation != OpNone {
		t.Errorf("Operation = %q, want %q", task.Operation, OpNone)
	}
	if task.SyncAttempts != 0 {
		t.Errorf("SyncAttempts = %d, want 0", task.SyncAttempts)
	}
	if task.LastSync == nil || !task.LastSync.Equal(at) {
		t.Errorf("LastSync = %v, want %v", task.LastSync, at)
	}
}

func TestTask_SetCompleted_Transitions(t *testing.T) {
	task := NewTask("Finish report")

	task.SetCompleted(true)
	if !task.Completed {
		t.Error("task should be completed")
	}
	if task.CompletedAt == nil {
		t.Error("CompletedAt should be stamped on completion")
	}

	task.SetCompleted(false)
	if task.Completed {
		t.Error("task should be incomplete")
	}
	if task.CompletedAt != nil {
		t.Errorf("CompletedAt = %v, want nil after un-completing", task.CompletedAt)
	}
}

func TestTask_Overdue(t *testing.T) {
	now := time.Date(2025, 6, 15, 9, 0, 0, 0, time.UTC)
	past := now.Add(-24 * time.Hour)
	future := now.Add(24 * time.Hour)

	tests := []struct {
		name string
		task Task
		want bool
	}{
		{"no due date", Task{UID: "a", Summary: "x"}, false},
		{"due in future", Task{UID: "b", Summary: "x", Due: &future}, false},
		{"due in past", Task{UID: "c", Summary: "x", Due: &past}, true},
		{"completed past due", Task{UID: "d", Summary: "x", Due: &past, Completed: true}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.task.Overdue(now); got != tt.want {
				t.Errorf("Overdue() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSyncStats_Add(t *testing.T) {
	total := SyncStats{Fetched: 2, Created: 1}
	total.Add(SyncStats{Fetched: 3, Updated: 2, Errors: 1, HierarchyFixes: 1})

	if total.Fetched != 5 || total.Created != 1 || total.Updated != 2 || total.Errors != 1 || total.HierarchyFixes != 1 {
		t.Errorf("Add() = %+v, want fetched=5 created=1 updated=2 errors=1 fixes=1", total)
	}
}
