package api

import "time"

const (
	requestMaxBodySize   = 64 << 10
	headerIdempotencyKey = "Idempotency-Key"
	sseHeartbeatInterval = 25 * time.Second
)

type reorderRequest struct {
	ProjectID    string `json:"projectId"`
	TaskID       string `json:"taskId"`
	SourceStatus string `json:"sourceStatus"`
	DestStatus   string `json:"destStatus"`
	DestIndex    int    `json:"destIndex"`
}

type createTaskRequest struct {
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Status      string     `json:"status"`
	AssigneeID  string     `json:"assigneeId"`
	DueDate     *time.Time `json:"dueDate"`
}

type okResponse struct {
	OK bool `json:"ok"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
