package codec

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/taskdav/taskdav/internal/types"
)

func TestEncodeNew_RoundTrip(t *testing.T) {
	due := time.Date(2025, 7, 1, 9, 0, 0, 0, time.UTC)
	completedAt := time.Date(2025, 6, 20, 18, 30, 0, 0, time.UTC)
	original := &types.Task{
		UID:         "rt-1",
		Summary:     "Quarterly review",
		Description: "Prepare slides",
		Completed:   true,
		CompletedAt: &completedAt,
		ParentUID:   "rt-parent",
		Priority:    3,
		Due:         &due,
		Tags:        []string{"work", "q3"},
		CreatedAt:   time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC),
	}

	wire, _, err := EncodeNew(original)
	if err != nil {
		t.Fatalf("EncodeNew() failed: %v", err)
	}

	decoded, ok := Decode(wire)
	if !ok {
		t.Fatal("Decode() failed on encoded record")
	}

	if decoded.UID != original.UID {
		t.Errorf("UID = %q, want %q", decoded.UID, original.UID)
	}
	if decoded.Summary != original.Summary {
		t.Errorf("Summary = %q, want %q", decoded.Summary, original.Summary)
	}
	if decoded.Description != original.Description {
		t.Errorf("Description = %q, want %q", decoded.Description, original.Description)
	}
	if decoded.Completed != original.Completed {
		t.Errorf("Completed = %v, want %v", decoded.Completed, original.Completed)
	}
	if decoded.CompletedAt == nil || !decoded.CompletedAt.Equal(completedAt) {
		t.Errorf("CompletedAt = %v, want %v", decoded.CompletedAt, completedAt)
	}
	if decoded.ParentUID != original.ParentUID {
		t.Errorf("ParentUID = %q, want %q", decoded.ParentUID, original.ParentUID)
	}
	if decoded.Priority != original.Priority {
		t.Errorf("Priority = %d, want %d", decoded.Priority, original.Priority)
	}
	if decoded.Due == nil || !decoded.Due.Equal(due) {
		t.Errorf("Due = %v, want %v", decoded.Due, due)
	}
	if len(decoded.Tags) != 2 || decoded.Tags[0] != "work" || decoded.Tags[1] != "q3" {
		t.Errorf("Tags = %v, want %v", decoded.Tags, original.Tags)
	}
	if !decoded.CreatedAt.Equal(original.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", decoded.CreatedAt, original.CreatedAt)
	}
}

func TestEncodeNew_IncompleteStartsNeedsAction(t *testing.T) {
	task := &types.Task{UID: "n-1", Summary: "New task"}

	wire, _, err := EncodeNew(task)
	if err != nil {
		t.Fatalf("EncodeNew() failed: %v", err)
	}
	if !strings.Contains(wire, "STATUS:NEEDS-ACTION") {
		t.Error("new incomplete record should carry STATUS:NEEDS-ACTION")
	}
	if !strings.Contains(wire, "CREATED:") {
		t.Error("new record should carry a creation timestamp")
	}
	if !strings.Contains(wire, "DTSTAMP:") {
		t.Error("new record should carry DTSTAMP")
	}
	if strings.Contains(wire, "COMPLETED:") {
		t.Error("incomplete record must not carry a completion timestamp")
	}
}

func TestEncodeNew_IntegerPropsAreDecimalStrings(t *testing.T) {
	task := &types.Task{UID: "i-1", Summary: "Priorities", Priority: 7, Completed: true}

	wire, _, err := EncodeNew(task)
	if err != nil {
		t.Fatalf("EncodeNew() failed: %v", err)
	}
	if !strings.Contains(wire, "PRIORITY:7") {
		t.Errorf("wire should carry PRIORITY:7, got:\n%s", wire)
	}
	if !strings.Contains(wire, "PERCENT-COMPLETE:100") {
		t.Errorf("completed record should carry PERCENT-COMPLETE:100, got:\n%s", wire)
	}
}

func TestEncodeNew_RejectsInvalidTask(t *testing.T) {
	_, _, err := EncodeNew(&types.Task{UID: "bad-1", Summary: "   "})
	if err == nil {
		t.Fatal("EncodeNew() should reject a blank summary")
	}
	if !errors.Is(err, ErrEncode) {
		t.Errorf("error = %v, want ErrEncode class", err)
	}
}

func TestEncodeChanges_CompletionTransition(t *testing.T) {
	base := vtodoRecord(
		"UID:ct-1",
		"SUMMARY:Finish report",
		"STATUS:NEEDS-ACTION",
		"DTSTAMP:20250615T100000",
	)

	task := &types.Task{UID: "ct-1", Summary: "Finish report", Completed: true}
	wire, _, err := EncodeChanges(base, task, []string{FieldCompleted})
	if err != nil {
		t.Fatalf("EncodeChanges() failed: %v", err)
	}
	if !strings.Contains(wire, "STATUS:COMPLETED") {
		t.Error("completing should write STATUS:COMPLETED")
	}
	if !strings.Contains(wire, "PERCENT-COMPLETE:100") {
		t.Error("completing should write PERCENT-COMPLETE:100")
	}
	if !strings.Contains(wire, "COMPLETED:") {
		t.Error("completing should stamp a completion timestamp")
	}

	// Now un-complete, starting from the completed record.
	task.Completed = false
	wire2, _, err := EncodeChanges(wire, task, []string{FieldCompleted})
	if err != nil {
		t.Fatalf("EncodeChanges() failed: %v", err)
	}
	if !strings.Contains(wire2, "PERCENT-COMPLETE:0") {
		t.Error("un-completing should write PERCENT-COMPLETE:0")
	}
	if strings.Contains(wire2, "\r\nCOMPLETED:") {
		t.Error("un-completing should remove the completion timestamp")
	}
	decoded, ok := Decode(wire2)
	if !ok {
		t.Fatal("Decode() failed on transitioned record")
	}
	if decoded.Completed || decoded.CompletedAt != nil {
		t.Errorf("decoded = completed %v at %v, want incomplete with nil timestamp", decoded.Completed, decoded.CompletedAt)
	}
}

func TestEncodeChanges_UntouchedFieldsPassThrough(t *testing.T) {
	base := vtodoRecord(
		"UID:pt-1",
		"SUMMARY:Keep me",
		"DESCRIPTION:Original description",
		"X-APPLE-SORT-ORDER:42",
		"DTSTAMP:20250615T100000",
	)

	task := &types.Task{UID: "pt-1", Summary: "Keep me", Priority: 2}
	wire, _, err := EncodeChanges(base, task, []string{FieldPriority})
	if err != nil {
		t.Fatalf("EncodeChanges() failed: %v", err)
	}
	if !strings.Contains(wire, "PRIORITY:2") {
		t.Error("changed field should be written")
	}
	if !strings.Contains(wire, "DESCRIPTION:Original description") {
		t.Error("untouched DESCRIPTION should pass through unchanged")
	}
	if !strings.Contains(wire, "X-APPLE-SORT-ORDER:42") {
		t.Error("unknown properties should pass through unchanged")
	}
	if !strings.Contains(wire, "SUMMARY:Keep me") {
		t.Error("untouched SUMMARY should pass through")
	}
}

func TestEncodeChanges_RemovalDeletesProperty(t *testing.T) {
	base := vtodoRecord(
		"UID:rm-1",
		"SUMMARY:Trim me",
		"PRIORITY:4",
		"DUE:20250701T090000",
		"DTSTAMP:20250615T100000",
	)

	task := &types.Task{UID: "rm-1", Summary: "Trim me"} // priority 0, due nil
	wire, _, err := EncodeChanges(base, task, []string{FieldPriority, FieldDue})
	if err != nil {
		t.Fatalf("EncodeChanges() failed: %v", err)
	}
	if strings.Contains(wire, "PRIORITY") {
		t.Error("cleared priority should be deleted, not written empty")
	}
	if strings.Contains(wire, "DUE") {
		t.Error("cleared due date should be deleted, not written empty")
	}
}

func TestEncodeChanges_BumpsSequenceAndModified(t *testing.T) {
	base := vtodoRecord(
		"UID:sq-1",
		"SUMMARY:Versioned",
		"SEQUENCE:3",
		"LAST-MODIFIED:20200101T000000",
		"DTSTAMP:20250615T100000",
	)

	task := &types.Task{UID: "sq-1", Summary: "Versioned", Description: "now with notes"}
	wire, _, err := EncodeChanges(base, task, []string{FieldDescription})
	if err != nil {
		t.Fatalf("EncodeChanges() failed: %v", err)
	}
	if !strings.Contains(wire, "SEQUENCE:4") {
		t.Errorf("SEQUENCE should bump to 4, got:\n%s", wire)
	}
	if strings.Contains(wire, "LAST-MODIFIED:20200101T000000") {
		t.Error("LAST-MODIFIED should be rewritten on every edit")
	}
}

func TestEncodeChanges_EmptySummaryFails(t *testing.T) {
	base := vtodoRecord("UID:es-1", "SUMMARY:Has one", "DTSTAMP:20250615T100000")

	task := &types.Task{UID: "es-1", Summary: "   "}
	_, _, err := EncodeChanges(base, task, []string{FieldSummary})
	if !errors.Is(err, ErrEncode) {
		t.Errorf("EncodeChanges() error = %v, want ErrEncode for blank summary", err)
	}
}

func TestEncodeChanges_BadBaseFails(t *testing.T) {
	task := &types.Task{UID: "bb-1", Summary: "x"}

	if _, _, err := EncodeChanges("", task, []string{FieldSummary}); !errors.Is(err, ErrEncode) {
		t.Errorf("empty base: error = %v, want ErrEncode", err)
	}
	if _, _, err := EncodeChanges("garbage", task, []string{FieldSummary}); !errors.Is(err, ErrEncode) {
		t.Errorf("unparsable base: error = %v, want ErrEncode", err)
	}

	eventOnly := strings.Join([]string{
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"PRODID:-//test//test//EN",
		"BEGIN:VEVENT",
		"UID:ev-1",
		"DTSTAMP:20250615T100000",
		"DTSTART:20250615T100000",
		"END:VEVENT",
		"END:VCALENDAR",
		"",
	}, "\r\n")
	if _, _, err := EncodeChanges(eventOnly, task, []string{FieldSummary}); !errors.Is(err, ErrEncode) {
		t.Errorf("no task component: error = %v, want ErrEncode", err)
	}
}

func TestEncodeChanges_UnknownFieldIgnored(t *testing.T) {
	base := vtodoRecord("UID:uf-1", "SUMMARY:Stable", "DTSTAMP:20250615T100000")

	task := &types.Task{UID: "uf-1", Summary: "Stable"}
	wire, _, err := EncodeChanges(base, task, []string{"color_scheme"})
	if err != nil {
		t.Fatalf("EncodeChanges() failed: %v", err)
	}
	if !strings.Contains(wire, "SUMMARY:Stable") {
		t.Error("record should survive an unknown field name unchanged")
	}
}

func TestNormalize_FixesAndIdempotence(t *testing.T) {
	base := vtodoRecord(
		"UID:nz-1",
		"SUMMARY:Messy",
		"PRIORITY:07",
		"PERCENT-COMPLETE:abc",
		"DUE:20250701T090000Z",
		"DTSTAMP:20250615T100000",
	)

	task := &types.Task{UID: "nz-1", Summary: "Messy", Description: "touch"}
	wire, fixes, err := EncodeChanges(base, task, []string{FieldDescription})
	if err != nil {
		t.Fatalf("EncodeChanges() failed: %v", err)
	}
	if fixes < 3 {
		t.Errorf("fixes = %d, want at least 3 (padded int, bad int, offset timestamp)", fixes)
	}
	if !strings.Contains(wire, "PRIORITY:7") {
		t.Error("padded integer should be rewritten as canonical decimal")
	}
	if strings.Contains(wire, "PERCENT-COMPLETE:abc") {
		t.Error("non-numeric integer property should be dropped")
	}
	if !strings.Contains(wire, "DUE:20250701T090000") || strings.Contains(wire, "DUE:20250701T090000Z") {
		t.Error("timestamps should be emitted in the naive form")
	}

	// Running the pass over already-clean output applies nothing new
	// beyond the fields this second edit itself rewrites.
	_, fixes2, err := EncodeChanges(wire, task, []string{FieldDescription})
	if err != nil {
		t.Fatalf("EncodeChanges() second pass failed: %v", err)
	}
	if fixes2 != 0 {
		t.Errorf("fixes on clean record = %d, want 0 (normalization is idempotent)", fixes2)
	}
}

func TestEncode_TagsWithCommasSurvive(t *testing.T) {
	task := &types.Task{UID: "tg-1", Summary: "Tagged", Tags: []string{"home,garden", "a;b", `back\slash`}}

	wire, _, err := EncodeNew(task)
	if err != nil {
		t.Fatalf("EncodeNew() failed: %v", err)
	}
	decoded, ok := Decode(wire)
	if !ok {
		t.Fatal("Decode() failed")
	}
	if len(decoded.Tags) != 3 {
		t.Fatalf("Tags = %v, want 3 items", decoded.Tags)
	}
	for i, want := range task.Tags {
		if decoded.Tags[i] != want {
			t.Errorf("Tags[%d] = %q, want %q", i, decoded.Tags[i], want)
		}
	}
}

func TestNormalize_DateOnlyKeepsDateForm(t *testing.T) {
	base := vtodoRecord(
		"UID:do-1",
		"SUMMARY:All day",
		"DUE;VALUE=DATE:20250704",
		"DTSTAMP:20250615T100000",
	)

	task := &types.Task{UID: "do-1", Summary: "All day", Description: "note"}
	wire, _, err := EncodeChanges(base, task, []string{FieldDescription})
	if err != nil {
		t.Fatalf("EncodeChanges() failed: %v", err)
	}
	if !strings.Contains(wire, "DUE;VALUE=DATE:20250704") {
		t.Errorf("date-only due should keep its form, got:\n%s", wire)
	}
}
