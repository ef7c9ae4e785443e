package types

import "time"

// Calendar is cached metadata for a remote task container. Entries are
// refreshed wholesale after every successful remote listing and serve as an
// offline fallback when the remote is unreachable.
type Calendar struct {
	URL         string     `json:"url"`
	Name        string     `json:"name"`
	DisplayName string     `json:"display_name,omitempty"`
	Color       string     `json:"color,omitempty"`
	IsActive    bool       `json:"is_active"`
	TaskCount   int        `json:"task_count,omitempty"`
	LastSync    *time.Time `json:"last_sync,omitempty"`
}
