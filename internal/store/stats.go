package store

import (
	"context"
	"fmt"
	"time"
)

// StatsReport summarizes the cached task set for `tdv stats` and the
// /stats endpoint.
type StatsReport struct {
	Total       int            `json:"total"`
	Completed   int            `json:"completed"`
	Open        int            `json:"open"`
	PendingSync int            `json:"pending_sync"`
	Overdue     int            `json:"overdue"`
	ByCalendar  map[string]int `json:"by_calendar"`
	ByPriority  map[string]int `json:"by_priority"`
}

// priorityBucket groups the 1..9 scale the way the dashboard displays
// it: high 1-3, medium 4-6, low 7-9, none for unset.
const priorityBucket = `
CASE
	WHEN priority BETWEEN 1 AND 3 THEN 'high'
	WHEN priority BETWEEN 4 AND 6 THEN 'medium'
	WHEN priority BETWEEN 7 AND 9 THEN 'low'
	ELSE 'none'
END`

// Stats computes the summary over all cached tasks.
func (s *Store) Stats(ctx context.Context) (*StatsReport, error) {
	report := &StatsReport{
		ByCalendar: make(map[string]int),
		ByPriority: make(map[string]int),
	}

	now := time.Now().UTC().Format(time.RFC3339)
	aggregate := `
	SELECT
		COUNT(*),
		COALESCE(SUM(CASE WHEN completed = 1 THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN is_synced = 0 THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN due IS NOT NULL AND due < ? AND completed = 0 THEN 1 ELSE 0 END), 0)
	FROM tasks
	`

	if err := s.conn.QueryRowContext(ctx, aggregate, now).Scan(
		&report.Total,
		&report.Completed,
		&report.PendingSync,
		&report.Overdue,
	); err != nil {
		return nil, fmt.Errorf("failed to aggregate task stats: %w", err)
	}
	report.Open = report.Total - report.Completed

	byCalendar, err := s.conn.QueryContext(ctx,
		`SELECT calendar_url, COUNT(*) FROM tasks GROUP BY calendar_url`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to group tasks by calendar: %w", err)
	}
	defer byCalendar.Close()

	for byCalendar.Next() {
		var url string
		var count int
		if err := byCalendar.Scan(&url, &count); err != nil {
			return nil, fmt.Errorf("failed to scan calendar group: %w", err)
		}
		report.ByCalendar[url] = count
	}
	if err := byCalendar.Err(); err != nil {
		return nil, fmt.Errorf("error iterating calendar groups: %w", err)
	}

	byPriority, err := s.conn.QueryContext(ctx,
		`SELECT `+priorityBucket+` AS bucket, COUNT(*) FROM tasks GROUP BY bucket`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to group tasks by priority: %w", err)
	}
	defer byPriority.Close()

	for byPriority.Next() {
		var bucket string
		var count int
		if err := byPriority.Scan(&bucket, &count); err != nil {
			return nil, fmt.Errorf("failed to scan priority group: %w", err)
		}
		report.ByPriority[bucket] = count
	}
	if err := byPriority.Err(); err != nil {
		return nil, fmt.Errorf("error iterating priority groups: %w", err)
	}

	return report, nil
}
