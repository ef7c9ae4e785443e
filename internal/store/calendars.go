package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/taskdav/taskdav/internal/types"
)

// UpsertCalendars refreshes the calendar cache from a discovery result.
//
// Rows are upserted, never evicted: a calendar that disappears from the
// server stays cached so offline listing still shows it. Local bookkeeping
// (task_count, last_sync) is preserved across refreshes.
func (s *Store) UpsertCalendars(ctx context.Context, calendars []types.Calendar) error {
	if len(calendars) == 0 {
		return nil
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
	INSERT INTO calendars (url, name, display_name, color, is_active, task_count, last_sync)
	VALUES (?, ?, ?, ?, ?, 0, NULL)
	ON CONFLICT(url) DO UPDATE SET
		name = excluded.name,
		display_name = excluded.display_name,
		color = excluded.color,
		is_active = excluded.is_active
	`

	for _, cal := range calendars {
		if cal.URL == "" {
			return fmt.Errorf("invalid calendar: URL is required")
		}
		if _, err := tx.ExecContext(ctx, query,
			cal.URL, cal.Name, cal.DisplayName, cal.Color, cal.IsActive,
		); err != nil {
			return fmt.Errorf("failed to upsert calendar %s: %w", cal.URL, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit calendar refresh: %w", err)
	}

	return nil
}

// ListCalendars returns the cached calendars ordered by URL. The cache is
// the offline fallback when live discovery fails.
func (s *Store) ListCalendars(ctx context.Context) ([]types.Calendar, error) {
	query := `
	SELECT url, name, display_name, color, is_active, task_count, last_sync
	FROM calendars
	ORDER BY url ASC
	`

	rows, err := s.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list calendars: %w", err)
	}
	defer rows.Close()

	var calendars []types.Calendar
	for rows.Next() {
		var cal types.Calendar
		var lastSync sql.NullString

		if err := rows.Scan(
			&cal.URL,
			&cal.Name,
			&cal.DisplayName,
			&cal.Color,
			&cal.IsActive,
			&cal.TaskCount,
			&lastSync,
		); err != nil {
			return nil, fmt.Errorf("failed to scan calendar: %w", err)
		}

		cal.LastSync = nullStringToTime(lastSync)
		calendars = append(calendars, cal)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating calendars: %w", err)
	}

	return calendars, nil
}

// TouchCalendarSync records a completed pull for a calendar: its task
// count and last sync moment. Inserts the row if discovery never cached
// this calendar.
func (s *Store) TouchCalendarSync(ctx context.Context, calendarURL string, taskCount int, at time.Time) error {
	query := `
	INSERT INTO calendars (url, name, display_name, color, is_active, task_count, last_sync)
	VALUES (?, ?, '', '', 1, ?, ?)
	ON CONFLICT(url) DO UPDATE SET
		task_count = excluded.task_count,
		last_sync = excluded.last_sync
	`

	_, err := s.conn.ExecContext(ctx, query,
		calendarURL, calendarURL, taskCount, at.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to record calendar sync: %w", err)
	}
	return nil
}
