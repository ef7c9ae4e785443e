package codec

import (
	"strings"
	"time"
)

// Wire timestamp layouts, in match order. The remote format is naive by
// convention: values without an offset are interpreted as UTC, and every
// encoded value is emitted in the naive form.
const (
	layoutUTC      = "20060102T150405Z"
	layoutNaive    = "20060102T150405"
	layoutDateOnly = "20060102"
)

// parseTimestamp parses a wire timestamp value. Naive values are assumed
// UTC. Returns false for anything unparsable; callers drop the field
// rather than failing the record.
func parseTimestamp(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{layoutUTC, layoutNaive, layoutDateOnly} {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// parseTimestampIn parses like parseTimestamp but interprets naive values
// in the named zone, converting to UTC. Unknown zone names fall back to
// UTC rather than failing.
func parseTimestampIn(value, tzid string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if strings.HasSuffix(value, "Z") || tzid == "" {
		return parseTimestamp(value)
	}
	loc, err := time.LoadLocation(tzid)
	if err != nil {
		return parseTimestamp(value)
	}
	for _, layout := range []string{layoutNaive, layoutDateOnly} {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// formatTimestamp emits the canonical naive UTC form.
func formatTimestamp(t time.Time) string {
	return t.UTC().Format(layoutNaive)
}

// formatDate emits the date-only form for VALUE=DATE properties.
func formatDate(t time.Time) string {
	return t.UTC().Format(layoutDateOnly)
}

// isDateOnly reports whether a raw wire value is in the date-only form.
func isDateOnly(value string) bool {
	return len(strings.TrimSpace(value)) == len(layoutDateOnly)
}
