package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/taskdav/taskdav/internal/types"
)

// AppendSyncLog records one sync outcome in the audit trail. Failures
// here must never abort the sync that produced the entry; callers log
// and continue.
func (s *Store) AppendSyncLog(ctx context.Context, entry types.SyncLogEntry) error {
	ts := entry.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	query := `
	INSERT INTO sync_logs (operation, task_uid, status, message, error_details, timestamp)
	VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := s.conn.ExecContext(ctx, query,
		entry.Operation,
		entry.TaskUID,
		entry.Status,
		entry.Message,
		entry.ErrorDetails,
		ts.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to append sync log: %w", err)
	}
	return nil
}

// ListSyncLogs returns audit entries, newest first. Status narrows to one
// outcome class when non-empty. Limit defaults to 100 when unset.
func (s *Store) ListSyncLogs(ctx context.Context, limit, offset int, status string) ([]types.SyncLogEntry, error) {
	var conditions []string
	var args []interface{}

	if status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, status)
	}

	query := `SELECT id, operation, task_uid, status, message, error_details, timestamp FROM sync_logs`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY id DESC"

	if limit <= 0 {
		limit = 100
	}
	query += " LIMIT ?"
	args = append(args, limit)

	if offset > 0 {
		query += " OFFSET ?"
		args = append(args, offset)
	}

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync logs: %w", err)
	}
	defer rows.Close()

	var entries []types.SyncLogEntry
	for rows.Next() {
		var entry types.SyncLogEntry
		var ts string

		if err := rows.Scan(
			&entry.ID,
			&entry.Operation,
			&entry.TaskUID,
			&entry.Status,
			&entry.Message,
			&entry.ErrorDetails,
			&ts,
		); err != nil {
			return nil, fmt.Errorf("failed to scan sync log: %w", err)
		}

		if t, err := time.Parse(time.RFC3339, ts); err == nil {
			entry.Timestamp = t
		}

		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sync logs: %w", err)
	}

	return entries, nil
}
