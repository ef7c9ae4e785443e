package codec

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-ical"

	"github.com/taskdav/taskdav/internal/types"
)

// ErrEncode marks a record that could not be encoded. The failure aborts
// only the single record's encode call; callers must not apply a partial
// write.
var ErrEncode = errors.New("record encoding failed")

// Field names accepted by EncodeChanges. Unknown names are ignored.
const (
	FieldSummary     = "summary"
	FieldDescription = "description"
	FieldCompleted   = "completed"
	FieldParentUID   = "parent_uid"
	FieldPriority    = "priority"
	FieldDue         = "due"
	FieldTags        = "tags"
)

// AllFields marks every encodable field changed. Convenient for encode
// paths that rebuild a record wholesale.
var AllFields = []string{
	FieldSummary, FieldDescription, FieldCompleted, FieldParentUID,
	FieldPriority, FieldDue, FieldTags,
}

// Integer-typed wire properties. These must serialize as decimal strings:
// the serializers on the remote side corrupt raw integer values, so this
// is a correctness contract, not a preference.
var intProps = []string{propPriority, propPercent, propSequence}

// Timestamp-typed wire properties, re-normalized before serialization.
var timeProps = []string{propDue, propCreated, propCompleted, propLastModified, propDTStamp, "DTSTART"}

// EncodeNew builds a complete wire record for a task the remote store has
// never seen. It stamps a creation timestamp and starts the record at
// NEEDS-ACTION unless the task is already completed. The returned fix
// count reports corrections applied by the pre-serialization check.
func EncodeNew(task *types.Task) (string, int, error) {
	if err := task.Validate(); err != nil {
		return "", 0, fmt.Errorf("%w: %v", ErrEncode, err)
	}
	return serialize(newComponent(task, utcNow()))
}

// EncodeCalendar builds one wire document holding every given task, the
// shape a calendar file export takes. Records are stamped the same way
// EncodeNew stamps a single one; fix counts accumulate across records. A
// task that fails validation aborts the whole encode so a partial export
// is never written.
func EncodeCalendar(tasks []*types.Task) (string, int, error) {
	cal := ical.NewCalendar()
	fixes := 0
	now := utcNow()
	for _, task := range tasks {
		if err := task.Validate(); err != nil {
			return "", fixes, fmt.Errorf("%w: task %s: %v", ErrEncode, task.UID, err)
		}
		todo := newComponent(task, now)
		fixes += normalizeComponent(todo)
		cal.Children = append(cal.Children, todo)
	}

	setValue(cal.Component, "VERSION", "2.0")
	setValue(cal.Component, "PRODID", prodID)

	var buf bytes.Buffer
	if err := ical.NewEncoder(&buf).Encode(cal); err != nil {
		return "", fixes, fmt.Errorf("%w: %v", ErrEncode, err)
	}
	return buf.String(), fixes, nil
}

// newComponent assembles the wire component for a task with no existing
// remote record.
func newComponent(task *types.Task, now time.Time) *ical.Component {
	todo := ical.NewComponent(compTodo)
	setText(todo, propUID, task.UID)
	setText(todo, propSummary, task.Summary)
	setValue(todo, propDTStamp, formatTimestamp(now))

	created := task.CreatedAt
	if created.IsZero() {
		created = now
	}
	setValue(todo, propCreated, formatTimestamp(created))
	setValue(todo, propLastModified, formatTimestamp(now))

	if task.Description != "" {
		setText(todo, propDescription, task.Description)
	}
	if task.ParentUID != "" {
		setParent(todo, task.ParentUID)
	}
	if task.Priority != 0 {
		setValue(todo, propPriority, strconv.Itoa(task.Priority))
	}
	if task.Due != nil {
		setValue(todo, propDue, formatTimestamp(*task.Due))
	}
	if len(task.Tags) > 0 {
		setValue(todo, propCategories, joinCategories(task.Tags))
	}

	if task.Completed {
		applyCompleted(todo, task.CompletedAt, now)
	} else {
		setValue(todo, propStatus, types.StatusNeedsAction)
	}

	return todo
}

// EncodeChanges applies a set of changed fields to an existing wire
// record and re-serializes it. Untouched fields pass through unchanged;
// only the named fields are written or removed. Every call bumps the
// record's last-modified stamp and sequence number.
//
// The base record must parse and contain a task component; anything else
// aborts this record's encode.
func EncodeChanges(base string, task *types.Task, changed []string) (string, int, error) {
	if strings.TrimSpace(base) == "" {
		return "", 0, fmt.Errorf("%w: no base record to edit", ErrEncode)
	}
	cal, err := ical.NewDecoder(strings.NewReader(base)).Decode()
	if err != nil {
		return "", 0, fmt.Errorf("%w: parsing base record: %v", ErrEncode, err)
	}
	var todo *ical.Component
	for _, child := range cal.Children {
		if child.Name == compTodo {
			todo = child
			break
		}
	}
	if todo == nil {
		return "", 0, fmt.Errorf("%w: base record has no task component", ErrEncode)
	}

	now := utcNow()
	for _, field := range changed {
		switch field {
		case FieldSummary:
			summary := strings.TrimSpace(task.Summary)
			if summary == "" {
				return "", 0, fmt.Errorf("%w: summary must not be empty", ErrEncode)
			}
			setText(todo, propSummary, summary)
		case FieldDescription:
			if task.Description == "" {
				todo.Props.Del(propDescription)
			} else {
				setText(todo, propDescription, task.Description)
			}
		case FieldParentUID:
			if task.ParentUID == "" {
				todo.Props.Del(propRelatedTo)
			} else {
				setParent(todo, task.ParentUID)
			}
		case FieldPriority:
			if task.Priority == 0 {
				todo.Props.Del(propPriority)
			} else {
				setValue(todo, propPriority, strconv.Itoa(task.Priority))
			}
		case FieldDue:
			if task.Due == nil {
				todo.Props.Del(propDue)
			} else {
				setValue(todo, propDue, formatTimestamp(*task.Due))
			}
		case FieldTags:
			if len(task.Tags) == 0 {
				todo.Props.Del(propCategories)
			} else {
				setValue(todo, propCategories, joinCategories(task.Tags))
			}
		case FieldCompleted:
			if task.Completed {
				applyCompleted(todo, task.CompletedAt, now)
			} else {
				setValue(todo, propStatus, types.StatusNeedsAction)
				todo.Props.Del(propCompleted)
				setValue(todo, propPercent, "0")
			}
		}
	}

	setValue(todo, propLastModified, formatTimestamp(now))
	setValue(todo, propSequence, strconv.Itoa(intProp(todo, propSequence, 0)+1))

	return serializeCalendar(cal, todo)
}

// applyCompleted writes the completion transition: completed status, a
// completion timestamp, and a full percent-complete, all in wire typing.
func applyCompleted(todo *ical.Component, completedAt *time.Time, now time.Time) {
	setValue(todo, propStatus, types.StatusCompleted)
	at := now
	if completedAt != nil {
		at = *completedAt
	}
	setValue(todo, propCompleted, formatTimestamp(at))
	setValue(todo, propPercent, "100")
}

// serialize wraps a single task component in a fresh calendar and encodes
// it.
func serialize(todo *ical.Component) (string, int, error) {
	cal := ical.NewCalendar()
	cal.Children = append(cal.Children, todo)
	return serializeCalendar(cal, todo)
}

// serializeCalendar runs the unconditional pre-serialization check on the
// task component, ensures the calendar wrapper is well-formed, and
// encodes. The returned int is the number of corrections the check
// applied.
func serializeCalendar(cal *ical.Calendar, todo *ical.Component) (string, int, error) {
	fixes := normalizeComponent(todo)

	setValue(cal.Component, "VERSION", "2.0")
	if cal.Props.Get("PRODID") == nil {
		setValue(cal.Component, "PRODID", prodID)
	}

	var buf bytes.Buffer
	if err := ical.NewEncoder(&buf).Encode(cal); err != nil {
		return "", fixes, fmt.Errorf("%w: %v", ErrEncode, err)
	}
	return buf.String(), fixes, nil
}

// normalizeComponent re-checks every property against the wire typing
// rules immediately before serialization and corrects or drops
// violations. The pass is unconditional and idempotent; running it on an
// already-clean component applies zero fixes.
//
// Rules enforced: integer properties carry canonical decimal strings,
// timestamp properties carry a parseable naive-UTC form (date-only values
// keep their date form), and no property is emitted with an empty value.
func normalizeComponent(todo *ical.Component) int {
	fixes := 0

	for _, name := range intProps {
		for i, prop := range todo.Props[name] {
			raw := strings.TrimSpace(prop.Value)
			if raw == "" {
				continue // dropped by the empty-value rule below
			}
			v, err := strconv.Atoi(raw)
			if err != nil {
				todo.Props.Del(name)
				fixes++
				break
			}
			canonical := strconv.Itoa(v)
			if prop.Value != canonical {
				todo.Props[name][i].Value = canonical
				fixes++
			}
		}
	}

	for _, name := range timeProps {
		for i, prop := range todo.Props[name] {
			raw := strings.TrimSpace(prop.Value)
			if raw == "" {
				continue
			}
			t, ok := parseTimestamp(raw)
			if !ok {
				todo.Props.Del(name)
				fixes++
				break
			}
			canonical := formatTimestamp(t)
			if isDateOnly(raw) {
				canonical = formatDate(t)
			}
			if prop.Value != canonical {
				todo.Props[name][i].Value = canonical
				fixes++
			}
		}
	}

	// Properties must never be serialized with an empty value; absence
	// is expressed by deleting them.
	var empty []string
	for name, props := range todo.Props {
		for _, prop := range props {
			if strings.TrimSpace(prop.Value) == "" {
				empty = append(empty, name)
				break
			}
		}
	}
	for _, name := range empty {
		kept := todo.Props[name][:0]
		for _, prop := range todo.Props[name] {
			if strings.TrimSpace(prop.Value) != "" {
				kept = append(kept, prop)
			} else {
				fixes++
			}
		}
		if len(kept) == 0 {
			todo.Props.Del(name)
		} else {
			todo.Props[name] = kept
		}
	}

	return fixes
}

// setText sets a text property with proper escaping.
func setText(comp *ical.Component, name, value string) {
	prop := ical.NewProp(name)
	prop.SetText(value)
	comp.Props.Set(prop)
}

// setValue sets a property value verbatim.
func setValue(comp *ical.Component, name, value string) {
	prop := ical.NewProp(name)
	prop.Value = value
	comp.Props.Set(prop)
}

// setParent sets the parent reference with its relation type parameter.
func setParent(comp *ical.Component, parentUID string) {
	prop := ical.NewProp(propRelatedTo)
	prop.Params.Set(paramRelType, relTypeParent)
	prop.SetText(parentUID)
	comp.Props.Set(prop)
}

func utcNow() time.Time {
	return time.Now().UTC()
}
