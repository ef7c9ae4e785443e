// Package hierarchy repairs parent references across a batch of task
// records so the batch always forms a forest.
//
// Remote stores deliver task sets with dangling parent references (the
// parent was deleted, or lives in a calendar outside the batch) and with
// reference cycles created by concurrent edits. Both would corrupt any
// tree walk downstream, so every pulled or imported batch passes through
// Validate before it reaches the store.
package hierarchy

import (
	"github.com/taskdav/taskdav/internal/types"
)

// Validate corrects parent references in place and returns the number of
// repairs applied. The batch maps uid to record; order fixes the walk
// order over records (batch order), which pins which edge of a cycle is
// broken.
//
// Two passes:
//
//  1. Orphans: a parent reference that does not resolve within the batch
//     is cleared.
//  2. Cycles: each record's parent chain is walked with a per-walk
//     visited set. A chain that returns to its starting record is a
//     cycle; the starting record's parent reference is cleared. Only the
//     first cycle edge per starting record is broken.
//
// After Validate the batch holds no cycles and every non-empty parent
// reference resolves. Running it again on repaired input applies zero
// repairs.
func Validate(batch map[string]*types.Task, order []string) int {
	repairs := 0

	for _, uid := range order {
		task, ok := batch[uid]
		if !ok || task.ParentUID == "" {
			continue
		}
		if _, exists := batch[task.ParentUID]; !exists {
			task.ParentUID = ""
			repairs++
		}
	}

	for _, uid := range order {
		task, ok := batch[uid]
		if !ok || task.ParentUID == "" {
			continue
		}
		if walkFindsCycle(batch, uid) {
			task.ParentUID = ""
			repairs++
		}
	}

	return repairs
}

// ValidateSlice is Validate for callers holding a plain record list. The
// batch order is the slice order. Records sharing a uid collapse to the
// last occurrence, matching upsert semantics downstream.
func ValidateSlice(tasks []*types.Task) int {
	batch := make(map[string]*types.Task, len(tasks))
	order := make([]string, 0, len(tasks))
	for _, task := range tasks {
		if _, seen := batch[task.UID]; !seen {
			order = append(order, task.UID)
		}
		batch[task.UID] = task
	}
	return Validate(batch, order)
}

// walkFindsCycle follows the parent chain from start. The visited set is
// local to the walk, so a chain corrupted by earlier edits still
// terminates: any revisit of a non-start uid ends the walk without
// flagging start itself.
func walkFindsCycle(batch map[string]*types.Task, start string) bool {
	visited := map[string]bool{start: true}
	current := batch[start].ParentUID
	for current != "" {
		if current == start {
			return true
		}
		if visited[current] {
			// A cycle that does not pass through start; it is
			// repaired when its own members are walked.
			return false
		}
		visited[current] = true
		next, ok := batch[current]
		if !ok {
			return false
		}
		current = next.ParentUID
	}
	return false
}
