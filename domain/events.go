package domain

import "time"

// Event types carried in Event.Type.
const (
	// TaskCreated announces a task appended to a column.
	TaskCreated = "task_created"
	// TaskReordered announces a committed move, including no-op moves.
	TaskReordered = "task_reordered"
	// TaskUpdated announces edits to a task's text, assignee or due date.
	TaskUpdated = "task_updated"
)

// Event is a change notification fanned out to a project's observers.
type Event struct {
	Type         string    `json:"type"`
	ProjectID    string    `json:"projectId"`
	TaskID       string    `json:"taskId"`
	Title        string    `json:"title,omitempty"`
	Status       string    `json:"status,omitempty"`
	SourceStatus string    `json:"sourceStatus,omitempty"`
	DestStatus   string    `json:"destStatus,omitempty"`
	DestIndex    *int      `json:"destIndex,omitempty"`
	Order        *int      `json:"order,omitempty"`
	ActorID      string    `json:"actorId,omitempty"`
	Time         time.Time `json:"time"`
}
