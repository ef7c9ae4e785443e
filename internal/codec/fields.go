package codec

import (
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-ical"

	"github.com/taskdav/taskdav/internal/types"
)

// Wire property names used by the codec.
const (
	propUID          = "UID"
	propSummary      = "SUMMARY"
	propDescription  = "DESCRIPTION"
	propStatus       = "STATUS"
	propRelatedTo    = "RELATED-TO"
	propPriority     = "PRIORITY"
	propPercent      = "PERCENT-COMPLETE"
	propSequence     = "SEQUENCE"
	propDue          = "DUE"
	propCreated      = "CREATED"
	propCompleted    = "COMPLETED"
	propLastModified = "LAST-MODIFIED"
	propDTStamp      = "DTSTAMP"
	propCategories   = "CATEGORIES"

	paramRelType = "RELTYPE"
	paramValue   = "VALUE"
	paramTZID    = "TZID"

	relTypeParent = "PARENT"
)

// Remote records are hand-edited and produced by buggy serializers, so
// every read below tolerates absence and malformation and falls back to a
// documented default instead of failing the record.

// textProp reads a text property, returning def when absent or empty.
// Escaped values are unescaped; values that fail unescaping are taken raw
// rather than dropped.
func textProp(comp *ical.Component, name, def string) string {
	prop := comp.Props.Get(name)
	if prop == nil {
		return def
	}
	value, err := prop.Text()
	if err != nil {
		value = prop.Value
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return def
	}
	return value
}

// intProp reads an integer property, returning def when absent or
// non-numeric.
func intProp(comp *ical.Component, name string, def int) int {
	prop := comp.Props.Get(name)
	if prop == nil {
		return def
	}
	v, err := strconv.Atoi(strings.TrimSpace(prop.Value))
	if err != nil {
		return def
	}
	return v
}

// priorityProp reads PRIORITY under the wire clamp rule: zero and below
// mean unset (the wire's "undefined" marker), values above the range clamp
// to the maximum, and non-numeric values are unset.
func priorityProp(comp *ical.Component) int {
	prop := comp.Props.Get(propPriority)
	if prop == nil {
		return 0
	}
	v, err := strconv.Atoi(strings.TrimSpace(prop.Value))
	if err != nil {
		return 0
	}
	if v <= 0 {
		return 0
	}
	if v > types.PriorityMax {
		return types.PriorityMax
	}
	return v
}

// timeProp reads a timestamp property as UTC. Naive values are assumed
// UTC; a TZID parameter converts; unparsable values are absent.
func timeProp(comp *ical.Component, name string) *time.Time {
	prop := comp.Props.Get(name)
	if prop == nil {
		return nil
	}
	t, ok := parseTimestampIn(prop.Value, prop.Params.Get(paramTZID))
	if !ok {
		return nil
	}
	return &t
}

// completedFlag reads STATUS. Exactly the literal COMPLETED maps to true;
// every other value, including absent, maps to false.
func completedFlag(comp *ical.Component) bool {
	prop := comp.Props.Get(propStatus)
	if prop == nil {
		return false
	}
	return strings.TrimSpace(prop.Value) == types.StatusCompleted
}

// parentRef reads the parent reference, if any. RELATED-TO without a
// RELTYPE defaults to a parent relation per the wire format; RELATED-TO
// with any other RELTYPE is not a parent reference and is ignored. The
// value is copied verbatim; whether it resolves is the hierarchy
// validator's concern, not the codec's.
func parentRef(comp *ical.Component) string {
	for _, prop := range comp.Props[propRelatedTo] {
		relType := strings.ToUpper(strings.TrimSpace(prop.Params.Get(paramRelType)))
		if relType != "" && relType != relTypeParent {
			continue
		}
		value, err := prop.Text()
		if err != nil {
			value = prop.Value
		}
		if value = strings.TrimSpace(value); value != "" {
			return value
		}
	}
	return ""
}

// tagsProp reads CATEGORIES as a flat tag list. Multiple properties and
// comma-separated values both occur in the wild; all are merged.
func tagsProp(comp *ical.Component) []string {
	var tags []string
	for _, prop := range comp.Props[propCategories] {
		for _, part := range splitCategories(prop.Value) {
			if part = strings.TrimSpace(part); part != "" {
				tags = append(tags, part)
			}
		}
	}
	return tags
}

// splitCategories splits a raw CATEGORIES value on unescaped commas and
// unescapes each item. The value is a list of individually escaped text
// items, so a plain strings.Split would tear tags containing commas.
func splitCategories(value string) []string {
	var items []string
	var cur strings.Builder
	escaped := false
	for _, r := range value {
		switch {
		case escaped:
			switch r {
			case 'n', 'N':
				cur.WriteByte('\n')
			default:
				cur.WriteRune(r)
			}
			escaped = false
		case r == '\\':
			escaped = true
		case r == ',':
			items = append(items, cur.String())
			cur.Reset()
		default:
			cur.WriteRune(r)
		}
	}
	items = append(items, cur.String())
	return items
}

// joinCategories escapes each tag and joins with raw comma separators,
// the inverse of splitCategories.
func joinCategories(tags []string) string {
	escaped := make([]string, len(tags))
	for i, tag := range tags {
		var b strings.Builder
		for _, r := range tag {
			switch r {
			case '\\', ';', ',':
				b.WriteByte('\\')
				b.WriteRune(r)
			case '\n':
				b.WriteString(`\n`)
			default:
				b.WriteRune(r)
			}
		}
		escaped[i] = b.String()
	}
	return strings.Join(escaped, ",")
}
