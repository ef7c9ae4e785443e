// Package ics imports and exports calendar files holding task records.
//
// An import file is the multi-component document shape calendar apps
// produce when exporting a task list. Each component decodes through the
// same defensive codec the sync engine uses, and parent references are
// repaired against the file's own batch, so a half-broken export still
// imports cleanly. Imported tasks are queued as local creates; the next
// push uploads them.
package ics

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/taskdav/taskdav/internal/codec"
	"github.com/taskdav/taskdav/internal/hierarchy"
	"github.com/taskdav/taskdav/internal/types"
)

// Store is the subset of the task store the importer needs.
type Store interface {
	UpsertTask(ctx context.Context, task *types.Task) error
}

// ImportResult reports what an import run did.
type ImportResult struct {
	Imported       int
	Skipped        int
	HierarchyFixes int
	Errors         []string
}

// Import decodes every task component in r and assigns the tasks to the
// given calendar. Undecodable components are counted in the second
// return rather than failing the stream. Parent references pointing
// outside the file are cleared, the same repair a pull applies to
// references missing from a calendar.
func Import(r io.Reader, calendarURL string) ([]*types.Task, int, error) {
	tasks, skipped, _, err := decodeStream(r, calendarURL)
	return tasks, skipped, err
}

// ImportFile imports every task in the file at path into the store,
// queued as local creates. Per-task persistence failures are collected
// in the result; only an unreadable or undecodable file fails the call.
func ImportFile(ctx context.Context, st Store, path, calendarURL string) (*ImportResult, error) {
	f, err := os.Open(path) // #nosec G304 - controlled path from CLI
	if err != nil {
		return nil, fmt.Errorf("failed to open import file: %w", err)
	}
	defer f.Close()

	tasks, skipped, fixes, err := decodeStream(f, calendarURL)
	if err != nil {
		return nil, err
	}

	result := &ImportResult{Skipped: skipped, HierarchyFixes: fixes}
	for _, task := range tasks {
		task.MarkLocalCreate()
		if err := st.UpsertTask(ctx, task); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", task.UID, err))
			continue
		}
		result.Imported++
	}
	return result, nil
}

// decodeStream runs the per-file pipeline: read the whole stream, decode
// every component, stamp the calendar, repair parent references against
// the file's own batch.
func decodeStream(r io.Reader, calendarURL string) ([]*types.Task, int, int, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("failed to read import stream: %w", err)
	}

	tasks, skipped := codec.DecodeAll(string(raw))
	for _, task := range tasks {
		task.CalendarURL = calendarURL
	}
	fixes := hierarchy.ValidateSlice(tasks)
	return tasks, skipped, fixes, nil
}

// Export writes the tasks as one calendar document. An invalid task
// aborts the whole export; a partial file is never written to w.
func Export(w io.Writer, tasks []*types.Task) error {
	wire, _, err := codec.EncodeCalendar(tasks)
	if err != nil {
		return fmt.Errorf("failed to encode export: %w", err)
	}
	if _, err := io.WriteString(w, wire); err != nil {
		return fmt.Errorf("failed to write export: %w", err)
	}
	return nil
}

// ExportFile writes the tasks to path atomically via a temp file, so an
// encode or write failure never leaves a truncated export behind.
func ExportFile(path string, tasks []*types.Task) error {
	wire, _, err := codec.EncodeCalendar(tasks)
	if err != nil {
		return fmt.Errorf("failed to encode export: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create export directory: %w", err)
		}
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, []byte(wire), 0644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}
