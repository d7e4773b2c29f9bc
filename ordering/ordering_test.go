package ordering

import (
	"fmt"
	"math/rand"
	"testing"
	"time"

	"taskboard/domain"
)

var base = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func column(status string, ids ...string) []domain.Task {
	out := make([]domain.Task, len(ids))
	for i, id := range ids {
		out[i] = domain.Task{ID: id, ProjectID: "p1", Status: status, Order: i, CreatedAt: base.Add(time.Duration(i) * time.Minute)}
	}
	return out
}

func ids(tasks []domain.Task) []string {
	out := make([]string, len(tasks))
	for i, t := range tasks {
		out[i] = fmt.Sprintf("%s(%d)", t.ID, t.Order)
	}
	return out
}

func assertSeq(t *testing.T, got []domain.Task, want ...string) {
	t.Helper()
	g := ids(got)
	if len(g) != len(want) {
		t.Fatalf("expected %v, got %v", want, g)
	}
	for i := range want {
		if g[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, g)
		}
	}
}

func TestPlanSameColumnMoveToTop(t *testing.T) {
	backlog := column("backlog", "A", "B", "C")

	res := Plan(backlog[2], backlog, nil, "backlog", 0)

	assertSeq(t, res.Dest, "C(0)", "A(1)", "B(2)")
	if res.Source != nil {
		t.Fatalf("same-column move must not report a source column, got %v", ids(res.Source))
	}
	if len(res.Changes) != 3 {
		t.Fatalf("expected 3 changes, got %+v", res.Changes)
	}
	if res.Task.ID != "C" || res.Task.Order != 0 {
		t.Fatalf("unexpected moved task %+v", res.Task)
	}
}

func TestPlanCrossColumnMove(t *testing.T) {
	backlog := column("backlog", "A")
	done := column("done", "X", "Y")

	res := Plan(backlog[0], backlog, done, "done", 0)

	if len(res.Source) != 0 {
		t.Fatalf("expected empty backlog, got %v", ids(res.Source))
	}
	assertSeq(t, res.Dest, "A(0)", "X(1)", "Y(2)")
	if res.Task.Status != "done" {
		t.Fatalf("expected moved task in done, got %q", res.Task.Status)
	}
	want := map[string]domain.OrderChange{
		"A": {TaskID: "A", Status: "done", Order: 0},
		"X": {TaskID: "X", Status: "done", Order: 1},
		"Y": {TaskID: "Y", Status: "done", Order: 2},
	}
	if len(res.Changes) != len(want) {
		t.Fatalf("unexpected changes %+v", res.Changes)
	}
	for _, c := range res.Changes {
		if want[c.TaskID] != c {
			t.Fatalf("unexpected change %+v", c)
		}
	}
}

func TestPlanCrossColumnRenumbersSource(t *testing.T) {
	backlog := column("backlog", "A", "B", "C")
	done := column("done")

	res := Plan(backlog[0], backlog, done, "done", 5)

	assertSeq(t, res.Source, "B(0)", "C(1)")
	assertSeq(t, res.Dest, "A(0)")
}

func TestPlanClampsIndex(t *testing.T) {
	todo := column("todo", "T")
	dest := column("doing", "X", "Y", "Z")

	low := Plan(todo[0], todo, dest, "doing", -5)
	if low.Task.Order != 0 {
		t.Fatalf("negative index should place task first, got %d", low.Task.Order)
	}
	assertSeq(t, low.Dest, "T(0)", "X(1)", "Y(2)", "Z(3)")

	high := Plan(todo[0], todo, dest, "doing", 99)
	if high.Task.Order != 3 {
		t.Fatalf("oversized index should append, got %d", high.Task.Order)
	}
	assertSeq(t, high.Dest, "X(0)", "Y(1)", "Z(2)", "T(3)")
}

func TestPlanSameColumnClampAfterRemoval(t *testing.T) {
	backlog := column("backlog", "A", "B", "C")

	res := Plan(backlog[0], backlog, nil, "backlog", 99)

	assertSeq(t, res.Dest, "B(0)", "C(1)", "A(2)")
}

func TestPlanNoopMoveHasNoChanges(t *testing.T) {
	backlog := column("backlog", "A", "B", "C")

	res := Plan(backlog[1], backlog, nil, "backlog", 1)

	if len(res.Changes) != 0 {
		t.Fatalf("expected no changes, got %+v", res.Changes)
	}
	assertSeq(t, res.Dest, "A(0)", "B(1)", "C(2)")
}

func TestPlanReapplyIsIdempotent(t *testing.T) {
	backlog := column("backlog", "A")
	done := column("done", "X", "Y")

	first := Plan(backlog[0], backlog, done, "done", 1)
	second := Plan(first.Task, first.Dest, nil, "done", 1)

	if len(second.Changes) != 0 {
		t.Fatalf("reapplying move should not change anything, got %+v", second.Changes)
	}
}

func TestPlanRepairsGapsAndTies(t *testing.T) {
	backlog := []domain.Task{
		{ID: "A", Status: "backlog", Order: 4, CreatedAt: base},
		{ID: "B", Status: "backlog", Order: 4, CreatedAt: base.Add(time.Second)},
		{ID: "C", Status: "backlog", Order: 9, CreatedAt: base},
	}

	res := Plan(backlog[2], backlog, nil, "backlog", 2)

	assertSeq(t, res.Dest, "A(0)", "B(1)", "C(2)")
	if len(res.Changes) != 3 {
		t.Fatalf("expected gaps to be renumbered, got %+v", res.Changes)
	}
}

func TestPlanDoesNotMutateInputs(t *testing.T) {
	backlog := column("backlog", "A", "B")
	done := column("done", "X")

	_ = Plan(backlog[0], backlog, done, "done", 0)

	if backlog[0].Status != "backlog" || backlog[1].Order != 1 || done[0].Order != 0 {
		t.Fatalf("inputs were modified: %+v %+v", backlog, done)
	}
}

func TestSortBreaksTiesDeterministically(t *testing.T) {
	tasks := []domain.Task{
		{ID: "b", Order: 1, CreatedAt: base},
		{ID: "a", Order: 1, CreatedAt: base},
		{ID: "c", Order: 1, CreatedAt: base.Add(-time.Second)},
		{ID: "d", Order: 0, CreatedAt: base.Add(time.Hour)},
	}

	Sort(tasks)

	got := []string{tasks[0].ID, tasks[1].ID, tasks[2].ID, tasks[3].ID}
	want := []string{"d", "c", "a", "b"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestNextOrder(t *testing.T) {
	if got := NextOrder(nil); got != 0 {
		t.Fatalf("empty column should start at 0, got %d", got)
	}
	col := []domain.Task{{Order: 0}, {Order: 4}, {Order: 2}}
	if got := NextOrder(col); got != 5 {
		t.Fatalf("expected max+1 = 5, got %d", got)
	}
}

func TestRandomMovesKeepColumnsContiguous(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	statuses := []string{"backlog", "in-progress", "review", "done"}
	board := map[string][]domain.Task{
		"backlog":     column("backlog", "t0", "t1", "t2", "t3", "t4"),
		"in-progress": column("in-progress", "t5", "t6"),
		"review":      nil,
		"done":        column("done", "t7"),
	}
	total := 8

	for i := 0; i < 500; i++ {
		from := statuses[rng.Intn(len(statuses))]
		if len(board[from]) == 0 {
			continue
		}
		task := board[from][rng.Intn(len(board[from]))]
		to := statuses[rng.Intn(len(statuses))]
		res := Plan(task, board[from], board[to], to, rng.Intn(10)-3)
		if from != to {
			board[from] = res.Source
		}
		board[to] = res.Dest
		if res.Task.Status != to {
			t.Fatalf("move %d: expected status %s, got %s", i, to, res.Task.Status)
		}

		count := 0
		for status, col := range board {
			for pos, task := range col {
				if task.Order != pos {
					t.Fatalf("move %d: column %s not contiguous: %v", i, status, ids(col))
				}
				if task.Status != status {
					t.Fatalf("move %d: task %s in column %s has status %s", i, task.ID, status, task.Status)
				}
			}
			count += len(col)
		}
		if count != total {
			t.Fatalf("move %d: expected %d tasks, got %d", i, total, count)
		}
	}
}
