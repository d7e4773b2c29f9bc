// Package ordering computes per-column task sequences for inserts and moves.
//
// Affected columns are renumbered by position (0..n-1) on every move; there
// are no sparse or fractional keys.
package ordering

import (
	"sort"

	"taskboard/domain"
)

// Less reports whether a sorts before b within a column. Equal orders are
// broken by creation time and then id so projection stays deterministic.
func Less(a, b domain.Task) bool {
	if a.Order != b.Order {
		return a.Order < b.Order
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// Sort orders a column in place.
func Sort(tasks []domain.Task) {
	sort.SliceStable(tasks, func(i, j int) bool { return Less(tasks[i], tasks[j]) })
}

// Clamp bounds an insert index to [0, n].
func Clamp(index, n int) int {
	if index < 0 {
		return 0
	}
	if index > n {
		return n
	}
	return index
}

// NextOrder returns the order assigned to a task appended to column.
func NextOrder(column []domain.Task) int {
	next := 0
	for _, t := range column {
		if t.Order+1 > next {
			next = t.Order + 1
		}
	}
	return next
}

// Result is the outcome of planning one move.
type Result struct {
	// Task is the moved task with its final status and order.
	Task domain.Task
	// Source is the renumbered column the task left; nil for same-column moves.
	Source []domain.Task
	// Dest is the renumbered column the task ends up in.
	Dest []domain.Task
	// Changes lists every task whose stored (status, order) differs from the plan.
	Changes []domain.OrderChange
}

type position struct {
	status string
	order  int
}

// Plan relocates task to destIndex of destStatus. source must hold the tasks
// currently stored under task.Status and dest those under destStatus; dest is
// ignored when both statuses are equal. Neither input slice is modified.
func Plan(task domain.Task, source, dest []domain.Task, destStatus string, destIndex int) Result {
	stored := make(map[string]position, len(source)+len(dest)+1)
	for _, t := range source {
		stored[t.ID] = position{status: t.Status, order: t.Order}
	}
	if destStatus != task.Status {
		for _, t := range dest {
			stored[t.ID] = position{status: t.Status, order: t.Order}
		}
	}
	stored[task.ID] = position{status: task.Status, order: task.Order}

	var res Result
	remaining := without(source, task.ID)
	moved := task
	moved.Status = destStatus

	if destStatus == task.Status {
		res.Dest = insertAt(remaining, Clamp(destIndex, len(remaining)), moved)
		renumber(res.Dest)
	} else {
		renumber(remaining)
		res.Source = remaining
		target := without(dest, task.ID)
		res.Dest = insertAt(target, Clamp(destIndex, len(target)), moved)
		renumber(res.Dest)
	}

	for _, seq := range [][]domain.Task{res.Source, res.Dest} {
		for _, t := range seq {
			if t.ID == task.ID {
				res.Task = t
			}
			if p, ok := stored[t.ID]; ok && p.status == t.Status && p.order == t.Order {
				continue
			}
			res.Changes = append(res.Changes, domain.OrderChange{TaskID: t.ID, Status: t.Status, Order: t.Order})
		}
	}
	return res
}

// without returns a sorted copy of column minus the task with id.
func without(column []domain.Task, id string) []domain.Task {
	out := make([]domain.Task, 0, len(column)+1)
	for _, t := range column {
		if t.ID != id {
			out = append(out, t)
		}
	}
	Sort(out)
	return out
}

func insertAt(seq []domain.Task, idx int, t domain.Task) []domain.Task {
	seq = append(seq, domain.Task{})
	copy(seq[idx+1:], seq[idx:])
	seq[idx] = t
	return seq
}

func renumber(seq []domain.Task) {
	for i := range seq {
		seq[i].Order = i
	}
}
