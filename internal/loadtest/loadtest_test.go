package loadtest

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/taskdav/taskdav/internal/codec"
	"github.com/taskdav/taskdav/internal/store"
)

// TestGenerateTasks_Deterministic verifies that the same seed yields the
// same task set and a different seed yields a different one.
func TestGenerateTasks_Deterministic(t *testing.T) {
	first := GenerateTasks(200, 42, 3)
	second := GenerateTasks(200, 42, 3)

	if len(first) != 200 || len(second) != 200 {
		t.Fatalf("Expected 200 tasks per run, got %d and %d", len(first), len(second))
	}

	for i := range first {
		a, b := first[i], second[i]
		if a.UID != b.UID || a.Summary != b.Summary || a.Priority != b.Priority ||
			a.ParentUID != b.ParentUID || a.Completed != b.Completed {
			t.Fatalf("Task %d differs between identically seeded runs: %+v vs %+v", i, a, b)
		}
	}

	other := GenerateTasks(200, 7, 3)
	same := true
	for i := range first {
		if first[i].Priority != other[i].Priority || first[i].ParentUID != other[i].ParentUID {
			same = false
			break
		}
	}
	if same {
		t.Error("Different seeds produced identical task sets")
	}
}

// TestGenerateTasks_Spreads verifies field distributions and the parent
// chain bounds.
func TestGenerateTasks_Spreads(t *testing.T) {
	const count = 1000
	const maxDepth = 3

	tasks := GenerateTasks(count, 42, maxDepth)

	byUID := make(map[string]int, count)
	for i, task := range tasks {
		byUID[task.UID] = i
	}

	var completed, withDue, withParent int
	for i, task := range tasks {
		if task.UID == "" || task.Summary == "" {
			t.Fatalf("Task %d is missing required fields: %+v", i, task)
		}
		if task.Priority < 0 || task.Priority > 9 {
			t.Errorf("Task %s has priority %d outside 0-9", task.UID, task.Priority)
		}
		if task.Completed {
			completed++
			if task.CompletedAt == nil {
				t.Errorf("Completed task %s has no completion timestamp", task.UID)
			}
		}
		if task.Due != nil {
			withDue++
		}

		if task.ParentUID != "" {
			withParent++
			parentIdx, ok := byUID[task.ParentUID]
			if !ok {
				t.Fatalf("Task %s references unknown parent %s", task.UID, task.ParentUID)
			}
			if parentIdx >= i {
				t.Errorf("Task %s has parent %s that is not earlier in the set", task.UID, task.ParentUID)
			}
		}

		// Walk the chain to the root, counting hops.
		depth := 0
		for cur := task; cur.ParentUID != ""; {
			depth++
			if depth > maxDepth {
				t.Fatalf("Task %s exceeds depth limit %d", task.UID, maxDepth)
			}
			cur = tasks[byUID[cur.ParentUID]]
		}
	}

	// Loose bounds; the exact counts are seed-dependent.
	if completed < count/10 || completed > count/2 {
		t.Errorf("Expected roughly 25%% completed tasks, got %d/%d", completed, count)
	}
	if withDue < count/4 || withDue > count*3/4 {
		t.Errorf("Expected roughly half the tasks with a due date, got %d/%d", withDue, count)
	}
	if withParent == 0 {
		t.Error("Expected some tasks with parents, got 0")
	}

	t.Logf("Generated %d tasks: %d completed, %d with due dates, %d with parents",
		count, completed, withDue, withParent)
}

// TestRunner_SmallRun exercises all four phases against a scratch
// database and checks the report adds up.
func TestRunner_SmallRun(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "bench.db")

	runner, err := New(dbPath, Options{Tasks: 80, Workers: 4, QueriesPerWorker: 5})
	if err != nil {
		t.Fatalf("Failed to create runner: %v", err)
	}
	defer runner.Close()

	report, err := runner.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if report.Tasks != 80 {
		t.Errorf("Expected 80 tasks in report, got %d", report.Tasks)
	}
	if report.Encode.TotalOps != 80 || report.Encode.Errors != 0 {
		t.Errorf("Encode phase: ops=%d errors=%d, expected 80/0", report.Encode.TotalOps, report.Encode.Errors)
	}
	if report.Decode.TotalOps != 80 || report.Decode.Errors != 0 {
		t.Errorf("Decode phase: ops=%d errors=%d, expected 80/0", report.Decode.TotalOps, report.Decode.Errors)
	}
	if report.Created != 80 || report.Updated != 0 {
		t.Errorf("Apply phase: created=%d updated=%d, expected 80/0", report.Created, report.Updated)
	}
	if report.Query.TotalOps != 20 || report.Query.Errors != 0 {
		t.Errorf("Query phase: ops=%d errors=%d, expected 20/0", report.Query.TotalOps, report.Query.Errors)
	}

	count, err := runner.store.CountTasks(context.Background(), store.Filter{})
	if err != nil {
		t.Fatalf("Failed to count tasks: %v", err)
	}
	if count != 80 {
		t.Errorf("Expected 80 tasks in the scratch database, got %d", count)
	}
}

// TestRunner_SecondRunUpdates verifies that re-running against the same
// database turns creates into updates.
func TestRunner_SecondRunUpdates(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "bench.db")

	runner, err := New(dbPath, Options{Tasks: 40, Workers: 2, QueriesPerWorker: 2})
	if err != nil {
		t.Fatalf("Failed to create runner: %v", err)
	}
	defer runner.Close()

	ctx := context.Background()
	if _, err := runner.Run(ctx); err != nil {
		t.Fatalf("First run failed: %v", err)
	}

	report, err := runner.Run(ctx)
	if err != nil {
		t.Fatalf("Second run failed: %v", err)
	}
	if report.Created != 0 || report.Updated != 40 {
		t.Errorf("Second run: created=%d updated=%d, expected 0/40", report.Created, report.Updated)
	}
}

// TestReport_Print verifies the summary names every phase.
func TestReport_Print(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "bench.db")

	runner, err := New(dbPath, Options{Tasks: 20, Workers: 2, QueriesPerWorker: 2})
	if err != nil {
		t.Fatalf("Failed to create runner: %v", err)
	}
	defer runner.Close()

	report, err := runner.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	var buf strings.Builder
	report.Print(&buf)
	out := buf.String()

	for _, phase := range []string{"Encode", "Decode", "Apply", "Query"} {
		if !strings.Contains(out, phase) {
			t.Errorf("Report output missing %s phase:\n%s", phase, out)
		}
	}
	if !strings.Contains(out, "ops/sec") {
		t.Errorf("Report output missing throughput:\n%s", out)
	}
}

// TestComputeLatencyStats checks the percentile math on a known series.
func TestComputeLatencyStats(t *testing.T) {
	durations := make([]time.Duration, 100)
	for i := range durations {
		durations[i] = time.Duration(i+1) * time.Millisecond
	}

	stats := computeLatencyStats(durations)

	if stats.Min != time.Millisecond {
		t.Errorf("Min = %v, expected 1ms", stats.Min)
	}
	if stats.Max != 100*time.Millisecond {
		t.Errorf("Max = %v, expected 100ms", stats.Max)
	}
	if stats.P50 != 51*time.Millisecond {
		t.Errorf("P50 = %v, expected 51ms", stats.P50)
	}
	if stats.P99 != 100*time.Millisecond {
		t.Errorf("P99 = %v, expected 100ms", stats.P99)
	}
	if stats.TotalOps != 100 {
		t.Errorf("TotalOps = %d, expected 100", stats.TotalOps)
	}
	if stats.Mean != 50500*time.Microsecond {
		t.Errorf("Mean = %v, expected 50.5ms", stats.Mean)
	}
	if stats.OpsPerSecond() <= 0 {
		t.Errorf("OpsPerSecond = %f, expected positive", stats.OpsPerSecond())
	}

	empty := computeLatencyStats(nil)
	if empty.TotalOps != 0 || empty.OpsPerSecond() != 0 {
		t.Errorf("Empty stats not zeroed: %+v", empty)
	}
}

// TestRunner_LargeRun validates throughput on a bigger set.
func TestRunner_LargeRun(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping large run in short mode")
	}

	dbPath := filepath.Join(t.TempDir(), "bench.db")

	runner, err := New(dbPath, Options{Tasks: 2000})
	if err != nil {
		t.Fatalf("Failed to create runner: %v", err)
	}
	defer runner.Close()

	start := time.Now()
	report, err := runner.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	t.Logf("Run over %d tasks took %v", report.Tasks, time.Since(start))
	t.Logf("Encode: %.0f ops/sec, Decode: %.0f ops/sec, Query p95: %v",
		report.Encode.OpsPerSecond(), report.Decode.OpsPerSecond(), report.Query.P95)

	if report.Created != 2000 {
		t.Errorf("Expected 2000 created, got %d", report.Created)
	}
	if report.Query.Errors > 0 {
		t.Errorf("Got %d query errors", report.Query.Errors)
	}
}

func BenchmarkEncode(b *testing.B) {
	tasks := GenerateTasks(1000, 42, 3)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		task := tasks[i%len(tasks)]
		if _, _, err := codec.EncodeNew(task); err != nil {
			b.Fatalf("Encode failed: %v", err)
		}
	}
}
