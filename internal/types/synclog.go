package types

import "time"

// Sync log statuses.
const (
	LogSuccess = "success"
	LogError   = "error"
	LogWarning = "warning"
)

// SyncLogEntry is one append-only audit record of a reconciliation outcome.
// Entries are never mutated after insert and feed diagnostics only; the
// engine never reads them back to drive reconciliation.
type SyncLogEntry struct {
	ID           int64     `json:"id,omitempty"`
	Operation    string    `json:"operation"`
	TaskUID      string    `json:"task_uid,omitempty"`
	Status       string    `json:"status"`
	Message      string    `json:"message,omitempty"`
	ErrorDetails string    `json:"error_details,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// SyncStats summarizes one pull cycle.
type SyncStats struct {
	Fetched        int `json:"total_fetched"`
	Created        int `json:"created"`
	Updated        int `json:"updated"`
	Errors         int `json:"errors"`
	HierarchyFixes int `json:"hierarchy_fixes"`
}

// Add folds another pull's stats into this one. Used when syncing several
// calendars in a row.
func (s *SyncStats) Add(o SyncStats) {
	s.Fetched += o.Fetched
	s.Created += o.Created
	s.Updated += o.Updated
	s.Errors += o.Errors
	s.HierarchyFixes += o.HierarchyFixes
}

// PushStats summarizes one push cycle.
type PushStats struct {
	Pushed    int      `json:"pushed"`
	Remaining int      `json:"remaining"`
	Errors    []string `json:"errors,omitempty"`
}

// Add folds another push's stats into this one.
func (p *PushStats) Add(o PushStats) {
	p.Pushed += o.Pushed
	p.Remaining += o.Remaining
	p.Errors = append(p.Errors, o.Errors...)
}
