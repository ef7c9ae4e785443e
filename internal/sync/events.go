package sync

import "time"

// EventType labels a sync lifecycle event.
type EventType string

const (
	// EventSyncStarted fires when a SyncAll cycle begins.
	EventSyncStarted EventType = "sync_started"

	// EventSyncCompleted fires when a SyncAll cycle finishes.
	EventSyncCompleted EventType = "sync_completed"

	// EventTaskPushed fires for every record successfully pushed.
	EventTaskPushed EventType = "task_pushed"

	// EventRepair fires when malformed remote data was corrected
	// (dangling parents, cycles, unparsable properties).
	EventRepair EventType = "repair"

	// EventError fires for failures that were absorbed rather than
	// propagated: skipped records, per-item push failures.
	EventError EventType = "error"
)

// Event is one sync lifecycle notification, shaped for JSON delivery to
// dashboard clients.
type Event struct {
	Type     EventType `json:"type"`
	Calendar string    `json:"calendar,omitempty"`
	TaskUID  string    `json:"task_uid,omitempty"`
	Message  string    `json:"message,omitempty"`
	Time     time.Time `json:"time"`
}

// EventSink receives engine events. Implementations must not block; the
// engine emits inline with reconciliation work.
type EventSink interface {
	Emit(event Event)
}
