// Package codec translates between the remote store's iCalendar VTODO wire
// format and the internal task model.
//
// The remote format is treated as hostile: records arrive from servers and
// clients with escaping bugs, absent fields, and mistyped values. Decoding
// therefore never fails on a bad field, only on a record with no usable
// task component at all, and every field reader carries a documented
// default. Encoding goes the other way: before serialization every
// property is re-checked against the wire's typing rules (integers as
// decimal strings, timestamps naive UTC, no empty values) and corrected or
// dropped, because the serializers on the other end corrupt anything else.
package codec

import (
	"strings"

	"github.com/emersion/go-ical"
	"github.com/google/uuid"

	"github.com/taskdav/taskdav/internal/types"
)

// Component and calendar names.
const (
	compCalendar = "VCALENDAR"
	compTodo     = "VTODO"

	prodID = "-//taskdav//taskdav//EN"
)

// Decode parses wire text and extracts the first task component. The
// second return is false when the text is unparsable or contains no task
// component; callers count that as a per-item skip, not a failure.
//
// Field defaults: a missing UID gets a freshly generated one, a missing
// summary becomes "Untitled Task", a status other than the completed
// literal means not completed, and unparsable optional fields are simply
// absent.
func Decode(wire string) (*types.Task, bool) {
	todos, _ := decodeComponents(wire)
	if len(todos) == 0 {
		return nil, false
	}
	return taskFromComponent(todos[0]), true
}

// DecodeAll parses wire text that may hold several task components, such
// as an exported calendar file. It returns the decoded tasks plus the
// number of components (or whole records) skipped as undecodable.
func DecodeAll(wire string) ([]*types.Task, int) {
	todos, skipped := decodeComponents(wire)
	tasks := make([]*types.Task, 0, len(todos))
	for _, todo := range todos {
		tasks = append(tasks, taskFromComponent(todo))
	}
	return tasks, skipped
}

// decodeComponents parses wire text into its VTODO components. A record
// that fails to parse at all reports one skip.
func decodeComponents(wire string) ([]*ical.Component, int) {
	if strings.TrimSpace(wire) == "" {
		return nil, 1
	}
	cal, err := ical.NewDecoder(strings.NewReader(wire)).Decode()
	if err != nil {
		return nil, 1
	}
	var todos []*ical.Component
	for _, child := range cal.Children {
		if child.Name == compTodo {
			todos = append(todos, child)
		}
	}
	if len(todos) == 0 {
		return nil, 1
	}
	return todos, 0
}

// taskFromComponent extracts a task from one VTODO component using the
// defensive field readers.
func taskFromComponent(todo *ical.Component) *types.Task {
	task := &types.Task{
		UID:         textProp(todo, propUID, ""),
		Summary:     textProp(todo, propSummary, "Untitled Task"),
		Description: textProp(todo, propDescription, ""),
		Completed:   completedFlag(todo),
		ParentUID:   parentRef(todo),
		Priority:    priorityProp(todo),
		Due:         timeProp(todo, propDue),
		Tags:        tagsProp(todo),
	}

	if task.UID == "" {
		task.UID = uuid.NewString()
	}

	// A completion timestamp is only meaningful on a completed record.
	if task.Completed {
		task.CompletedAt = timeProp(todo, propCompleted)
	}

	nowUTC := utcNow()
	if created := timeProp(todo, propCreated); created != nil {
		task.CreatedAt = *created
	} else {
		task.CreatedAt = nowUTC
	}
	if modified := timeProp(todo, propLastModified); modified != nil {
		task.UpdatedAt = *modified
	} else {
		task.UpdatedAt = nowUTC
	}

	return task
}
