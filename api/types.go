package api

import (
	"context"

	"taskboard/broadcast"
	"taskboard/domain"
)

// Mover performs serialized task writes.
type Mover interface {
	ApplyMove(ctx context.Context, actor domain.Identity, intent domain.MoveIntent) (domain.Task, error)
	CreateTask(ctx context.Context, actor domain.Identity, in domain.NewTask) (domain.Task, error)
	UpdateTask(ctx context.Context, actor domain.Identity, projectID, taskID string, patch domain.TaskPatch) (domain.Task, error)
}

// BoardReader builds the client view of a project.
type BoardReader interface {
	ProjectBoard(ctx context.Context, projectID string) (domain.Board, error)
}

// ProjectLookup resolves a project for membership checks. A missing project
// is returned as nil without error.
type ProjectLookup interface {
	GetProject(ctx context.Context, projectID string) (*domain.Project, error)
}

// Subscriber attaches event stream sessions to projects.
type Subscriber interface {
	NewSession(userID string) *broadcast.Session
	Join(s *broadcast.Session, projectID string)
	Close(s *broadcast.Session)
}

// Authenticator is implemented by types able to resolve the caller from headers.
type Authenticator interface {
	IdentityFromAuthHeader(string) (domain.Identity, error)
}

// Deduper prevents processing of duplicate create requests.
type Deduper interface {
	// Add records the idempotency key and returns true if it was newly added.
	Add(ctx context.Context, scope, key string) (bool, error)
	// Remove deletes a previously added key, used when downstream processing fails.
	Remove(ctx context.Context, scope, key string) error
}

// Services bundles the collaborators used by the HTTP handlers. Deduper and
// Health are optional.
type Services struct {
	Tasks    Mover
	Boards   BoardReader
	Projects ProjectLookup
	Events   Subscriber
	Auth     Authenticator
	Deduper  Deduper
	Health   func(context.Context) error
}
