// Package store provides the local SQLite cache for taskdav.
//
// The cache is the source the CLI and the REST API read from; the remote
// CalDAV collection is only touched by the sync engine. SQLite runs in
// embedded mode (ncruces/go-sqlite3) with WAL so the API server can keep
// reading while a sync cycle writes.
//
// Layout:
//   - tasks: one row per (uid, calendar_url), sync state inline
//   - calendars: discovered collections, kept for offline listing
//   - sync_logs: append-only audit trail of sync outcomes
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/taskdav/taskdav/internal/types"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// Store wraps the SQLite connection with taskdav-specific queries.
type Store struct {
	conn *sql.DB
	path string
}

// Open creates a database connection at the specified path.
//
// The database is opened in embedded mode with WAL for concurrent reads.
// If the file doesn't exist it is created; call InitSchema afterwards to
// create the tables. The caller MUST call Close() when done.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	connStr := fmt.Sprintf("file:%s", path)
	conn, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{
		conn: conn,
		path: path,
	}

	// WAL keeps readers live during sync writes.
	if _, err := s.conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := s.conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if _, err := s.conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return s, nil
}

// RawDB returns the underlying sql.DB connection.
func (s *Store) RawDB() *sql.DB {
	return s.conn
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Ping verifies the connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.conn.PingContext(ctx)
}

// Close closes the database connection after a WAL checkpoint.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}

	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	s.conn = nil
	return nil
}

// InitSchema creates the tables and indexes if they don't exist.
// Idempotent; safe to call on every startup.
func (s *Store) InitSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS tasks (
		uid TEXT NOT NULL,
		calendar_url TEXT NOT NULL,
		summary TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		completed INTEGER NOT NULL DEFAULT 0,
		completed_at TEXT,
		parent_uid TEXT NOT NULL DEFAULT '',
		priority INTEGER NOT NULL DEFAULT 0,
		due TEXT,
		tags TEXT,  -- JSON array
		estimated_minutes INTEGER NOT NULL DEFAULT 0,
		actual_minutes INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,

		-- Sync state
		is_synced INTEGER NOT NULL DEFAULT 0,
		sync_operation TEXT NOT NULL DEFAULT 'none',
		sync_attempts INTEGER NOT NULL DEFAULT 0,
		last_sync TEXT,

		PRIMARY KEY (uid, calendar_url)
	);

	CREATE TABLE IF NOT EXISTS calendars (
		url TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		display_name TEXT NOT NULL DEFAULT '',
		color TEXT NOT NULL DEFAULT '',
		is_active INTEGER NOT NULL DEFAULT 1,
		task_count INTEGER NOT NULL DEFAULT 0,
		last_sync TEXT
	);

	CREATE TABLE IF NOT EXISTS sync_logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		operation TEXT NOT NULL,
		task_uid TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		message TEXT NOT NULL DEFAULT '',
		error_details TEXT NOT NULL DEFAULT '',
		timestamp TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_tasks_calendar ON tasks(calendar_url);
	CREATE INDEX IF NOT EXISTS idx_tasks_synced ON tasks(is_synced);
	CREATE INDEX IF NOT EXISTS idx_tasks_updated ON tasks(updated_at);
	CREATE INDEX IF NOT EXISTS idx_tasks_parent ON tasks(parent_uid);
	CREATE INDEX IF NOT EXISTS idx_tasks_completed ON tasks(completed);
	CREATE INDEX IF NOT EXISTS idx_tasks_due ON tasks(due);

	-- Composite index for the push queue
	CREATE INDEX IF NOT EXISTS idx_tasks_pending
	    ON tasks(calendar_url, is_synced, updated_at);

	CREATE INDEX IF NOT EXISTS idx_logs_status ON sync_logs(status);
	CREATE INDEX IF NOT EXISTS idx_logs_timestamp ON sync_logs(timestamp);
	`

	if _, err := s.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	return nil
}

// taskColumns is the SELECT list shared by every task query. Keep in
// lockstep with scanTask.
const taskColumns = `uid, calendar_url, summary, description, completed, completed_at,
	parent_uid, priority, due, tags, estimated_minutes, actual_minutes,
	created_at, updated_at, is_synced, sync_operation, sync_attempts, last_sync`

// UpsertTask inserts or updates a task.
//
// The row is keyed by (uid, calendar_url); on update the original
// created_at is kept so local edits don't rewrite history.
func (s *Store) UpsertTask(ctx context.Context, task *types.Task) error {
	if err := task.Validate(); err != nil {
		return fmt.Errorf("invalid task: %w", err)
	}
	if task.CalendarURL == "" {
		return fmt.Errorf("invalid task: calendar URL is required")
	}

	tagsJSON, err := json.Marshal(task.Tags)
	if err != nil {
		return fmt.Errorf("failed to marshal tags: %w", err)
	}

	query := `
	INSERT INTO tasks (
		uid, calendar_url, summary, description, completed, completed_at,
		parent_uid, priority, due, tags, estimated_minutes, actual_minutes,
		created_at, updated_at, is_synced, sync_operation, sync_attempts, last_sync
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(uid, calendar_url) DO UPDATE SET
		summary = excluded.summary,
		description = excluded.description,
		completed = excluded.completed,
		completed_at = excluded.completed_at,
		parent_uid = excluded.parent_uid,
		priority = excluded.priority,
		due = excluded.due,
		tags = excluded.tags,
		estimated_minutes = excluded.estimated_minutes,
		actual_minutes = excluded.actual_minutes,
		updated_at = excluded.updated_at,
		is_synced = excluded.is_synced,
		sync_operation = excluded.sync_operation,
		sync_attempts = excluded.sync_attempts,
		last_sync = excluded.last_sync
	`

	_, err = s.conn.ExecContext(ctx, query,
		task.UID,
		task.CalendarURL,
		task.Summary,
		task.Description,
		task.Completed,
		timeToNullString(task.CompletedAt),
		task.ParentUID,
		task.Priority,
		timeToNullString(task.Due),
		string(tagsJSON),
		task.EstimatedDuration,
		task.ActualDuration,
		task.CreatedAt.UTC().Format(time.RFC3339),
		task.UpdatedAt.UTC().Format(time.RFC3339),
		task.Synced,
		string(task.Operation),
		task.SyncAttempts,
		timeToNullString(task.LastSync),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert task %s: %w", task.UID, err)
	}

	return nil
}

// GetTask retrieves a single task. Returns (nil, nil) when no row
// matches, so callers can distinguish absence from query failure.
func (s *Store) GetTask(ctx context.Context, calendarURL, uid string) (*types.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE uid = ? AND calendar_url = ?`

	task, err := scanTask(s.conn.QueryRowContext(ctx, query, uid, calendarURL))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task %s: %w", uid, err)
	}
	return task, nil
}

// FindTask retrieves a task by uid across all calendars. Returns
// (nil, nil) when absent. With duplicated uids across calendars the
// first match by calendar URL wins.
func (s *Store) FindTask(ctx context.Context, uid string) (*types.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE uid = ? ORDER BY calendar_url LIMIT 1`

	task, err := scanTask(s.conn.QueryRowContext(ctx, query, uid))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find task %s: %w", uid, err)
	}
	return task, nil
}

// Filter configures ListTasks and CountTasks. Zero values mean
// "no constraint" throughout.
type Filter struct {
	// CalendarURL restricts to one calendar.
	CalendarURL string
	// Completed filters by completion state when non-nil.
	Completed *bool
	// ParentUID restricts to direct children of the given task.
	ParentUID string
	// RootsOnly restricts to tasks without a parent.
	RootsOnly bool
	// PriorityMin/PriorityMax bound the priority (1 highest, 9 lowest).
	// Zero disables the bound.
	PriorityMin int
	PriorityMax int
	// DueBefore/DueAfter bound the due date. Tasks without a due date
	// never match a due bound.
	DueBefore *time.Time
	DueAfter  *time.Time
	// OverdueOnly restricts to incomplete tasks due before now.
	OverdueOnly bool
	// Tag requires the given tag to be present.
	Tag string
	// Query matches summary or description, case-insensitive substring.
	Query string
	// Unsynced restricts to tasks with pending local changes.
	Unsynced bool
	// SortBy is one of priority, due, created, updated, summary
	// (default created). SortDesc reverses the order.
	SortBy   string
	SortDesc bool
	// Limit restricts the number of results (0 = no limit).
	Limit int
	// Offset skips the first N results.
	Offset int
}

// sortColumns maps permitted sort keys to columns. Anything not listed
// falls back to created_at; user input never reaches the SQL text.
var sortColumns = map[string]string{
	"priority": "t.priority",
	"due":      "t.due",
	"created":  "t.created_at",
	"updated":  "t.updated_at",
	"summary":  "t.summary",
}

// buildFilter translates a Filter into WHERE conditions and args.
func buildFilter(filter Filter) ([]string, []interface{}) {
	var conditions []string
	var args []interface{}

	if filter.CalendarURL != "" {
		conditions = append(conditions, "t.calendar_url = ?")
		args = append(args, filter.CalendarURL)
	}

	if filter.Completed != nil {
		conditions = append(conditions, "t.completed = ?")
		args = append(args, *filter.Completed)
	}

	if filter.ParentUID != "" {
		conditions = append(conditions, "t.parent_uid = ?")
		args = append(args, filter.ParentUID)
	} else if filter.RootsOnly {
		conditions = append(conditions, "t.parent_uid = ''")
	}

	if filter.PriorityMin > 0 {
		conditions = append(conditions, "t.priority >= ?")
		args = append(args, filter.PriorityMin)
	}

	if filter.PriorityMax > 0 {
		conditions = append(conditions, "t.priority <= ? AND t.priority > 0")
		args = append(args, filter.PriorityMax)
	}

	if filter.DueBefore != nil {
		conditions = append(conditions, "t.due IS NOT NULL AND t.due < ?")
		args = append(args, filter.DueBefore.UTC().Format(time.RFC3339))
	}

	if filter.DueAfter != nil {
		conditions = append(conditions, "t.due IS NOT NULL AND t.due >= ?")
		args = append(args, filter.DueAfter.UTC().Format(time.RFC3339))
	}

	if filter.OverdueOnly {
		conditions = append(conditions, "t.due IS NOT NULL AND t.due < ? AND t.completed = 0")
		args = append(args, time.Now().UTC().Format(time.RFC3339))
	}

	if filter.Query != "" {
		conditions = append(conditions, "(t.summary LIKE ? OR t.description LIKE ?)")
		pattern := "%" + filter.Query + "%"
		args = append(args, pattern, pattern)
	}

	if filter.Unsynced {
		conditions = append(conditions, "t.is_synced = 0")
	}

	return conditions, args
}

// ListTasks retrieves tasks matching the filter.
func (s *Store) ListTasks(ctx context.Context, filter Filter) ([]*types.Task, error) {
	conditions, args := buildFilter(filter)

	// DISTINCT is only needed when joining against json_each.
	selectClause := "SELECT"
	if filter.Tag != "" {
		selectClause += " DISTINCT"
	}

	query := selectClause + ` t.uid, t.calendar_url, t.summary, t.description, t.completed,
	       t.completed_at, t.parent_uid, t.priority, t.due, t.tags,
	       t.estimated_minutes, t.actual_minutes, t.created_at, t.updated_at,
	       t.is_synced, t.sync_operation, t.sync_attempts, t.last_sync
	FROM tasks t
	`

	if filter.Tag != "" {
		query += `, json_each(t.tags)`
		conditions = append(conditions, "json_each.value = ?")
		args = append(args, filter.Tag)
	}

	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}

	sortCol, ok := sortColumns[filter.SortBy]
	if !ok {
		sortCol = "t.created_at"
	}
	direction := "ASC"
	if filter.SortDesc {
		direction = "DESC"
	}
	query += fmt.Sprintf(" ORDER BY %s %s, t.uid ASC", sortCol, direction)

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	if filter.Offset > 0 {
		if filter.Limit <= 0 {
			query += " LIMIT -1"
		}
		query += " OFFSET ?"
		args = append(args, filter.Offset)
	}

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	return scanTasks(rows)
}

// CountTasks returns the number of tasks matching the filter, ignoring
// Limit and Offset.
func (s *Store) CountTasks(ctx context.Context, filter Filter) (int, error) {
	conditions, args := buildFilter(filter)

	query := "SELECT COUNT("
	if filter.Tag != "" {
		query += "DISTINCT t.uid || '|' || t.calendar_url"
	} else {
		query += "*"
	}
	query += ") FROM tasks t"

	if filter.Tag != "" {
		query += ", json_each(t.tags)"
		conditions = append(conditions, "json_each.value = ?")
		args = append(args, filter.Tag)
	}

	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}

	var count int
	if err := s.conn.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count tasks: %w", err)
	}
	return count, nil
}

// PendingTasks returns the unsynced tasks for a calendar, oldest local
// change first. Push processes them in exactly this order.
func (s *Store) PendingTasks(ctx context.Context, calendarURL string) ([]*types.Task, error) {
	query := `SELECT ` + taskColumns + `
	FROM tasks
	WHERE calendar_url = ? AND is_synced = 0
	ORDER BY updated_at ASC, uid ASC`

	rows, err := s.conn.QueryContext(ctx, query, calendarURL)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending tasks: %w", err)
	}
	defer rows.Close()

	return scanTasks(rows)
}

// DeleteTask removes a task row. Returns nil if the row doesn't exist.
func (s *Store) DeleteTask(ctx context.Context, calendarURL, uid string) error {
	query := `DELETE FROM tasks WHERE uid = ? AND calendar_url = ?`
	if _, err := s.conn.ExecContext(ctx, query, uid, calendarURL); err != nil {
		return fmt.Errorf("failed to delete task %s: %w", uid, err)
	}
	return nil
}

// ReplaceTaskUID rewrites a task's uid after the server assigned its own
// identifier during create. Children referencing the old uid follow.
func (s *Store) ReplaceTaskUID(ctx context.Context, calendarURL, oldUID, newUID string) error {
	if oldUID == newUID {
		return nil
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE tasks SET uid = ? WHERE uid = ? AND calendar_url = ?`,
		newUID, oldUID, calendarURL,
	); err != nil {
		return fmt.Errorf("failed to replace uid %s: %w", oldUID, err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE tasks SET parent_uid = ? WHERE parent_uid = ? AND calendar_url = ?`,
		newUID, oldUID, calendarURL,
	); err != nil {
		return fmt.Errorf("failed to re-parent children of %s: %w", oldUID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit uid replacement: %w", err)
	}

	return nil
}

// ApplyPull applies a validated pull batch for one calendar in a single
// transaction. Every applied row is stored as synced with attempts reset;
// a completion cleared on the server clears completed_at locally too.
//
// Returns how many rows were created vs updated. Any failure rolls the
// whole batch back, leaving the cache at its pre-pull state.
func (s *Store) ApplyPull(ctx context.Context, calendarURL string, batch map[string]*types.Task, order []string) (created, updated int, err error) {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339)

	for _, uid := range order {
		task, ok := batch[uid]
		if !ok {
			continue
		}

		tagsJSON, marshalErr := json.Marshal(task.Tags)
		if marshalErr != nil {
			return 0, 0, fmt.Errorf("failed to marshal tags for %s: %w", uid, marshalErr)
		}

		var exists int
		scanErr := tx.QueryRowContext(ctx,
			`SELECT 1 FROM tasks WHERE uid = ? AND calendar_url = ?`,
			uid, calendarURL,
		).Scan(&exists)
		if scanErr != nil && scanErr != sql.ErrNoRows {
			return 0, 0, fmt.Errorf("failed to probe task %s: %w", uid, scanErr)
		}

		if scanErr == sql.ErrNoRows {
			_, execErr := tx.ExecContext(ctx, `
			INSERT INTO tasks (
				uid, calendar_url, summary, description, completed, completed_at,
				parent_uid, priority, due, tags, estimated_minutes, actual_minutes,
				created_at, updated_at, is_synced, sync_operation, sync_attempts, last_sync
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, 'none', 0, ?)`,
				uid,
				calendarURL,
				task.Summary,
				task.Description,
				task.Completed,
				timeToNullString(task.CompletedAt),
				task.ParentUID,
				task.Priority,
				timeToNullString(task.Due),
				string(tagsJSON),
				task.EstimatedDuration,
				task.ActualDuration,
				task.CreatedAt.UTC().Format(time.RFC3339),
				task.UpdatedAt.UTC().Format(time.RFC3339),
				now,
			)
			if execErr != nil {
				return 0, 0, fmt.Errorf("failed to insert pulled task %s: %w", uid, execErr)
			}
			created++
			continue
		}

		// The remote record is authoritative on pull: it replaces the
		// row wholesale, including created_at and completion state.
		_, execErr := tx.ExecContext(ctx, `
		UPDATE tasks SET
			summary = ?, description = ?, completed = ?, completed_at = ?,
			parent_uid = ?, priority = ?, due = ?, tags = ?,
			estimated_minutes = ?, actual_minutes = ?,
			created_at = ?, updated_at = ?,
			is_synced = 1, sync_operation = 'none', sync_attempts = 0, last_sync = ?
		WHERE uid = ? AND calendar_url = ?`,
			task.Summary,
			task.Description,
			task.Completed,
			timeToNullString(task.CompletedAt),
			task.ParentUID,
			task.Priority,
			timeToNullString(task.Due),
			string(tagsJSON),
			task.EstimatedDuration,
			task.ActualDuration,
			task.CreatedAt.UTC().Format(time.RFC3339),
			task.UpdatedAt.UTC().Format(time.RFC3339),
			now,
			uid,
			calendarURL,
		)
		if execErr != nil {
			return 0, 0, fmt.Errorf("failed to update pulled task %s: %w", uid, execErr)
		}
		updated++
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("failed to commit pull batch: %w", err)
	}

	return created, updated, nil
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

// scanTask reads one task row. Column order matches taskColumns.
func scanTask(row scanner) (*types.Task, error) {
	var task types.Task
	var tagsJSON string
	var createdAt, updatedAt string
	var completedAt, due, lastSync sql.NullString
	var operation string

	err := row.Scan(
		&task.UID,
		&task.CalendarURL,
		&task.Summary,
		&task.Description,
		&task.Completed,
		&completedAt,
		&task.ParentUID,
		&task.Priority,
		&due,
		&tagsJSON,
		&task.EstimatedDuration,
		&task.ActualDuration,
		&createdAt,
		&updatedAt,
		&task.Synced,
		&operation,
		&task.SyncAttempts,
		&lastSync,
	)
	if err != nil {
		return nil, err
	}

	task.Operation = types.SyncOperation(operation)

	if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
		task.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339, updatedAt); err == nil {
		task.UpdatedAt = t
	}

	if tagsJSON != "" && tagsJSON != "null" {
		if err := json.Unmarshal([]byte(tagsJSON), &task.Tags); err != nil {
			return nil, fmt.Errorf("failed to unmarshal tags: %w", err)
		}
	}

	task.CompletedAt = nullStringToTime(completedAt)
	task.Due = nullStringToTime(due)
	task.LastSync = nullStringToTime(lastSync)

	return &task, nil
}

// scanTasks reads all task rows from a query result.
func scanTasks(rows *sql.Rows) ([]*types.Task, error) {
	var tasks []*types.Task

	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, task)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tasks: %w", err)
	}

	return tasks, nil
}

// timeToNullString converts a time pointer to a nullable string for SQL.
func timeToNullString(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}

// nullStringToTime converts a nullable SQL string to a time pointer.
func nullStringToTime(ns sql.NullString) *time.Time {
	if !ns.Valid {
		return nil
	}
	t, err := time.Parse(time.RFC3339, ns.String)
	if err != nil {
		return nil
	}
	return &t
}
