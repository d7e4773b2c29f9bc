// Package projection turns stored board documents into the client board view.
package projection

import (
	"context"
	"fmt"
	"strconv"

	"taskboard/domain"
	"taskboard/ordering"
)

// Source loads the raw board of a project. It returns nil without error when
// the project does not exist.
type Source interface {
	LoadBoard(ctx context.Context, projectID string) (*RawBoard, error)
}

// Projector serves read-only board views.
type Projector struct {
	src Source
}

// NewProjector creates a Projector reading from src.
func NewProjector(src Source) *Projector {
	if src == nil {
		panic("projection.NewProjector: source is nil")
	}
	return &Projector{src: src}
}

// ProjectBoard returns the normalized board of a project.
func (p *Projector) ProjectBoard(ctx context.Context, projectID string) (domain.Board, error) {
	raw, err := p.src.LoadBoard(ctx, projectID)
	if err != nil {
		return domain.Board{}, fmt.Errorf("load board %s: %w", projectID, err)
	}
	if raw == nil {
		return domain.Board{}, fmt.Errorf("%w: %s", domain.ErrProjectNotFound, projectID)
	}
	return Normalize(*raw), nil
}

// Normalize resolves column and task identities and orders each column's tasks.
// A board without columns gets the default layout. Tasks without an identity,
// or whose status matches no column, are left off the board.
func Normalize(raw RawBoard) domain.Board {
	defaults := domain.DefaultColumns()
	rawCols := raw.Columns
	if len(rawCols) == 0 {
		rawCols = make([]RawColumn, len(defaults))
		for i, d := range defaults {
			rawCols[i] = RawColumn{ID: d.ID, Name: d.Name}
		}
	}

	board := domain.Board{
		Name:    raw.Name,
		Columns: make([]domain.BoardColumn, len(rawCols)),
		Members: raw.Members,
	}
	if board.Members == nil {
		board.Members = []domain.Member{}
	}

	ids := columnIDs(rawCols, defaults)
	nested := false
	for i, rc := range rawCols {
		id := ids[i]
		board.Columns[i] = domain.BoardColumn{ID: id, Name: columnName(rc, id, i, defaults), Tasks: []domain.Task{}}
		if len(rc.nested()) > 0 {
			nested = true
		}
	}

	if nested {
		for i, rc := range rawCols {
			for _, rt := range rc.nested() {
				if t, ok := toTask(rt); ok {
					t.Status = board.Columns[i].ID
					board.Columns[i].Tasks = append(board.Columns[i].Tasks, t)
				}
			}
		}
	} else {
		for _, rt := range raw.flat() {
			t, ok := toTask(rt)
			if !ok || t.Status == "" {
				continue
			}
			for i := range board.Columns {
				col := &board.Columns[i]
				if t.Status == col.ID || t.Status == col.Name {
					t.Status = col.ID
					col.Tasks = append(col.Tasks, t)
					break
				}
			}
		}
	}

	for i := range board.Columns {
		ordering.Sort(board.Columns[i].Tasks)
	}
	return board
}

// columnIDs resolves one unique id per column. Stored ids win, then names
// of default columns; nameless columns take the default at their position.
// Anything left, or whose candidate is already taken, becomes col-<idx>.
func columnIDs(cols []RawColumn, defaults []domain.Column) []string {
	ids := make([]string, len(cols))
	claimed := make(map[string]bool, len(cols))
	claim := func(i int, id string) {
		if ids[i] == "" && id != "" && !claimed[id] {
			ids[i] = id
			claimed[id] = true
		}
	}
	for i, rc := range cols {
		if rc.ID != "" {
			claim(i, rc.ID)
		} else {
			claim(i, rc.LegacyID)
		}
	}
	for i, rc := range cols {
		if rc.Name == "" || rc.ID != "" || rc.LegacyID != "" {
			continue
		}
		for _, d := range defaults {
			if d.Name == rc.Name {
				claim(i, d.ID)
				break
			}
		}
	}
	for i, rc := range cols {
		if rc.Name == "" && rc.ID == "" && rc.LegacyID == "" && i < len(defaults) {
			claim(i, defaults[i].ID)
		}
	}
	for i := range cols {
		if ids[i] != "" {
			continue
		}
		id := "col-" + strconv.Itoa(i)
		for n := 2; claimed[id]; n++ {
			id = "col-" + strconv.Itoa(i) + "-" + strconv.Itoa(n)
		}
		claim(i, id)
	}
	return ids
}

func columnName(rc RawColumn, id string, idx int, defaults []domain.Column) string {
	if rc.Name != "" {
		return rc.Name
	}
	for _, d := range defaults {
		if d.ID == id {
			return d.Name
		}
	}
	return "Column " + strconv.Itoa(idx+1)
}

func toTask(rt RawTask) (domain.Task, bool) {
	id := rt.identity()
	if id == "" {
		return domain.Task{}, false
	}
	return domain.Task{
		ID:          id,
		ProjectID:   rt.ProjectID,
		Title:       rt.Title,
		Description: rt.Description,
		Status:      rt.Status,
		Order:       rt.Order,
		AssigneeID:  rt.AssigneeID,
		DueDate:     rt.DueDate,
		CreatedBy:   rt.CreatedBy,
		CreatedAt:   rt.CreatedAt,
		UpdatedAt:   rt.UpdatedAt,
	}, true
}
