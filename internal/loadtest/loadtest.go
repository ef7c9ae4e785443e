// Package loadtest exercises the codec and store hot paths with
// synthetic task data.
//
// A run generates N tasks with realistic field spreads and a bounded
// parent hierarchy, then measures four phases: encoding to the wire
// format, decoding back, applying pull batches to the store, and
// concurrent store queries. The generator is seeded, so two runs over
// the same options produce identical data and comparable numbers.
package loadtest

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/taskdav/taskdav/internal/codec"
	"github.com/taskdav/taskdav/internal/hierarchy"
	"github.com/taskdav/taskdav/internal/store"
	"github.com/taskdav/taskdav/internal/types"
)

// benchCalendar is the calendar URL synthetic tasks are filed under.
// The .invalid TLD guarantees it never collides with a real calendar.
const benchCalendar = "https://bench.invalid/calendars/loadtest/"

// applyBatchSize is how many records one store-apply transaction
// carries, matching the order of magnitude a real calendar pull sees.
const applyBatchSize = 250

// Options configures a load test run.
type Options struct {
	// Tasks is the number of synthetic tasks to generate (default 1000).
	Tasks int

	// Seed for the data generator (default 42).
	Seed int64

	// Depth is the maximum parent chain length (default 3).
	Depth int

	// Workers is the number of concurrent readers in the query phase
	// (default 8).
	Workers int

	// QueriesPerWorker is how many queries each reader runs (default 50).
	QueriesPerWorker int
}

func (o *Options) setDefaults() {
	if o.Tasks <= 0 {
		o.Tasks = 1000
	}
	if o.Seed == 0 {
		o.Seed = 42
	}
	if o.Depth <= 0 {
		o.Depth = 3
	}
	if o.Workers <= 0 {
		o.Workers = 8
	}
	if o.QueriesPerWorker <= 0 {
		o.QueriesPerWorker = 50
	}
}

// LatencyStats captures per-operation timing for one phase.
type LatencyStats struct {
	Min      time.Duration
	Max      time.Duration
	Mean     time.Duration
	P50      time.Duration
	P95      time.Duration
	P99      time.Duration
	Total    time.Duration
	TotalOps int
	Errors   int
}

// OpsPerSecond reports the phase's throughput.
func (s *LatencyStats) OpsPerSecond() float64 {
	if s.Total <= 0 {
		return 0
	}
	return float64(s.TotalOps) / s.Total.Seconds()
}

// Report aggregates the results of one run.
type Report struct {
	Tasks   int
	Created int
	Updated int

	Encode *LatencyStats
	Decode *LatencyStats
	Apply  *LatencyStats
	Query  *LatencyStats
}

// Print writes a human-readable summary.
func (r *Report) Print(w io.Writer) {
	fmt.Fprintf(w, "Load test over %d tasks (created %d, updated %d)\n", r.Tasks, r.Created, r.Updated)
	printPhase(w, "Encode", r.Encode)
	printPhase(w, "Decode", r.Decode)
	printPhase(w, "Apply", r.Apply)
	printPhase(w, "Query", r.Query)
}

func printPhase(w io.Writer, name string, s *LatencyStats) {
	if s == nil {
		return
	}
	fmt.Fprintf(w, "%-7s ops=%d errors=%d ops/sec=%.0f\n", name, s.TotalOps, s.Errors, s.OpsPerSecond())
	fmt.Fprintf(w, "        min=%v p50=%v mean=%v p95=%v p99=%v max=%v\n",
		s.Min, s.P50, s.Mean, s.P95, s.P99, s.Max)
}

// Runner owns the scratch database and generated data for one run.
type Runner struct {
	store *store.Store
	opts  Options
	tasks []*types.Task
}

// New creates a runner with a scratch database at dbPath and generates
// the synthetic task set.
func New(dbPath string, opts Options) (*Runner, error) {
	opts.setDefaults()

	st, err := store.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open scratch database: %w", err)
	}
	if err := st.InitSchema(context.Background()); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	st.RawDB().SetMaxOpenConns(opts.Workers + 4)
	st.RawDB().SetMaxIdleConns(opts.Workers)

	return &Runner{
		store: st,
		opts:  opts,
		tasks: GenerateTasks(opts.Tasks, opts.Seed, opts.Depth),
	}, nil
}

// Close releases the scratch database.
func (r *Runner) Close() error {
	return r.store.Close()
}

// Run executes all four phases and returns the aggregated report.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	report := &Report{Tasks: len(r.tasks)}

	wires, stats, err := r.runEncode()
	if err != nil {
		return nil, err
	}
	report.Encode = stats

	decoded, stats := r.runDecode(wires)
	report.Decode = stats

	stats, created, updated, err := r.runApply(ctx, decoded)
	if err != nil {
		return nil, err
	}
	report.Apply = stats
	report.Created = created
	report.Updated = updated

	stats, err = r.runQueries(ctx)
	if err != nil {
		return nil, err
	}
	report.Query = stats

	return report, nil
}

// runEncode serializes every task to the wire format.
func (r *Runner) runEncode() ([]string, *LatencyStats, error) {
	wires := make([]string, 0, len(r.tasks))
	durations := make([]time.Duration, 0, len(r.tasks))

	for _, task := range r.tasks {
		start := time.Now()
		wire, _, err := codec.EncodeNew(task)
		durations = append(durations, time.Since(start))
		if err != nil {
			return nil, nil, fmt.Errorf("encoding task %s: %w", task.UID, err)
		}
		wires = append(wires, wire)
	}

	return wires, computeLatencyStats(durations), nil
}

// runDecode parses every wire record back into a task.
func (r *Runner) runDecode(wires []string) ([]*types.Task, *LatencyStats) {
	decoded := make([]*types.Task, 0, len(wires))
	durations := make([]time.Duration, 0, len(wires))
	errors := 0

	for _, wire := range wires {
		start := time.Now()
		task, ok := codec.Decode(wire)
		durations = append(durations, time.Since(start))
		if !ok {
			errors++
			continue
		}
		task.CalendarURL = benchCalendar
		decoded = append(decoded, task)
	}

	stats := computeLatencyStats(durations)
	stats.Errors = errors
	return decoded, stats
}

// runApply writes the decoded tasks through the pull path. Hierarchy
// validation runs over the full set first, the way a calendar sync
// validates a whole pull; the store writes land in batches so the
// per-transaction latency reflects realistic batch sizes.
func (r *Runner) runApply(ctx context.Context, tasks []*types.Task) (*LatencyStats, int, int, error) {
	batch := make(map[string]*types.Task, len(tasks))
	order := make([]string, 0, len(tasks))
	for _, task := range tasks {
		if _, seen := batch[task.UID]; !seen {
			order = append(order, task.UID)
		}
		batch[task.UID] = task
	}
	hierarchy.Validate(batch, order)

	var durations []time.Duration
	var created, updated int

	for from := 0; from < len(order); from += applyBatchSize {
		to := from + applyBatchSize
		if to > len(order) {
			to = len(order)
		}

		start := time.Now()
		c, u, err := r.store.ApplyPull(ctx, benchCalendar, batch, order[from:to])
		durations = append(durations, time.Since(start))
		if err != nil {
			return nil, 0, 0, fmt.Errorf("applying batch at %d: %w", from, err)
		}
		created += c
		updated += u
	}

	return computeLatencyStats(durations), created, updated, nil
}

// runQueries simulates concurrent readers hitting the store.
func (r *Runner) runQueries(ctx context.Context) (*LatencyStats, error) {
	var wg sync.WaitGroup
	resultsChan := make(chan []time.Duration, r.opts.Workers)
	errorsChan := make(chan error, r.opts.Workers)

	notCompleted := false
	filters := []store.Filter{
		{CalendarURL: benchCalendar, Limit: 50},
		{CalendarURL: benchCalendar, Completed: &notCompleted, SortBy: "priority", Limit: 50},
		{CalendarURL: benchCalendar, RootsOnly: true, Limit: 50},
	}

	for i := 0; i < r.opts.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()

			durations := make([]time.Duration, 0, r.opts.QueriesPerWorker)
			for j := 0; j < r.opts.QueriesPerWorker; j++ {
				start := time.Now()
				var err error
				if j%4 == 3 {
					_, err = r.store.PendingTasks(ctx, benchCalendar)
				} else {
					_, err = r.store.ListTasks(ctx, filters[j%len(filters)])
				}
				durations = append(durations, time.Since(start))

				if err != nil {
					errorsChan <- fmt.Errorf("worker %d query %d failed: %w", workerID, j, err)
					return
				}
			}
			resultsChan <- durations
		}(i)
	}

	wg.Wait()
	close(resultsChan)
	close(errorsChan)

	errorCount := 0
	var firstErr error
	for err := range errorsChan {
		errorCount++
		if firstErr == nil {
			firstErr = err
		}
	}

	var all []time.Duration
	for durations := range resultsChan {
		all = append(all, durations...)
	}
	if len(all) == 0 {
		return nil, fmt.Errorf("no successful queries completed: %w", firstErr)
	}

	stats := computeLatencyStats(all)
	stats.Errors = errorCount
	return stats, nil
}

// GenerateTasks creates count synthetic tasks with realistic field
// spreads: priorities weighted toward the middle, roughly half with due
// dates, a quarter completed, and parent chains no deeper than depth.
// The same seed always yields the same set.
func GenerateTasks(count int, seed int64, depth int) []*types.Task {
	rng := rand.New(rand.NewSource(seed))

	// Weighted so unset and mid-range priorities dominate.
	priorities := []int{0, 0, 0, 1, 2, 3, 5, 5, 7, 9}
	tagPool := []string{"home", "work", "errands", "deep", "quick"}

	baseTime := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	tasks := make([]*types.Task, count)
	depths := make([]int, count)

	for i := 0; i < count; i++ {
		createdAt := baseTime.Add(time.Duration(i) * time.Minute)
		task := &types.Task{
			UID:         fmt.Sprintf("bench-%05d", i),
			CalendarURL: benchCalendar,
			Summary:     fmt.Sprintf("Synthetic task %d", i),
			Priority:    priorities[rng.Intn(len(priorities))],
			CreatedAt:   createdAt,
			UpdatedAt:   createdAt,
		}

		if rng.Float64() < 0.4 {
			task.Description = fmt.Sprintf("Generated for load testing, batch %d", i/100)
		}
		if rng.Float64() < 0.5 {
			due := baseTime.Add(time.Duration(rng.Intn(28*24)-7*24) * time.Hour)
			task.Due = &due
		}
		if rng.Float64() < 0.25 {
			task.Completed = true
			completedAt := createdAt.Add(time.Duration(rng.Intn(72)) * time.Hour)
			task.CompletedAt = &completedAt
		}
		if rng.Float64() < 0.6 {
			task.Tags = []string{tagPool[rng.Intn(len(tagPool))]}
		}

		// Parent chains: pick an earlier task whose chain is not yet at
		// the depth limit.
		if i > 0 && rng.Float64() < 0.4 {
			parentIdx := rng.Intn(i)
			if depths[parentIdx] < depth {
				task.ParentUID = tasks[parentIdx].UID
				depths[i] = depths[parentIdx] + 1
			}
		}

		tasks[i] = task
	}

	return tasks
}

// computeLatencyStats calculates statistics from a slice of durations.
func computeLatencyStats(durations []time.Duration) *LatencyStats {
	if len(durations) == 0 {
		return &LatencyStats{}
	}

	sorted := make([]time.Duration, len(durations))
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var sum time.Duration
	for _, d := range durations {
		sum += d
	}

	return &LatencyStats{
		Min:      sorted[0],
		Max:      sorted[len(sorted)-1],
		Mean:     sum / time.Duration(len(durations)),
		P50:      sorted[len(sorted)*50/100],
		P95:      sorted[len(sorted)*95/100],
		P99:      sorted[len(sorted)*99/100],
		Total:    sum,
		TotalOps: len(durations),
	}
}
