package domain

import "time"

// Task represents a single card on a project board.
type Task struct {
	ID          string     `json:"id"`
	ProjectID   string     `json:"projectId"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Status      string     `json:"status"`
	Order       int        `json:"order"`
	AssigneeID  string     `json:"assigneeId,omitempty"`
	DueDate     *time.Time `json:"dueDate,omitempty"`
	CreatedBy   string     `json:"createdBy,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// NewTask carries the fields accepted when a task is created.
type NewTask struct {
	ProjectID   string     `json:"projectId"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Status      string     `json:"status"`
	AssigneeID  string     `json:"assigneeId,omitempty"`
	DueDate     *time.Time `json:"dueDate,omitempty"`
}

// TaskPatch carries optional task edits. Status and order are not editable
// here; they only change through moves.
type TaskPatch struct {
	Title       *string    `json:"title"`
	Description *string    `json:"description"`
	AssigneeID  *string    `json:"assigneeId"`
	DueDate     *time.Time `json:"dueDate"`
	ClearDue    bool       `json:"clearDueDate,omitempty"`
}

// Empty reports whether the patch carries no edits.
func (p TaskPatch) Empty() bool {
	return p.Title == nil && p.Description == nil && p.AssigneeID == nil && p.DueDate == nil && !p.ClearDue
}

// MoveIntent describes one requested relocation of a task.
type MoveIntent struct {
	ProjectID    string `json:"projectId"`
	TaskID       string `json:"taskId"`
	SourceStatus string `json:"sourceStatus"`
	DestStatus   string `json:"destStatus"`
	DestIndex    int    `json:"destIndex"`
}

// OrderChange is the final (status, order) of one task after a move.
type OrderChange struct {
	TaskID string `json:"taskId"`
	Status string `json:"status"`
	Order  int    `json:"order"`
}

// AnyRevision makes a conditional write unconditional.
const AnyRevision = "*"

// ChangeSet is one atomic batch of position writes. Revision is the project
// revision the batch was planned against; stores reject the batch with
// ErrConflict once another write has moved the project past it.
type ChangeSet struct {
	ProjectID string
	Revision  string
	UpdatedAt time.Time
	Changes   []OrderChange
}
