// Package coordinator serializes task writes per project and drives the
// ordering engine for moves.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"taskboard/domain"
	"taskboard/ordering"
)

// Store is the persistence collaborator used by the coordinator. Lookups
// return nil without error when the record does not exist.
type Store interface {
	GetProject(ctx context.Context, projectID string) (*domain.Project, error)
	GetTask(ctx context.Context, projectID, taskID string) (*domain.Task, error)
	ListColumn(ctx context.Context, projectID, status string) ([]domain.Task, error)
	// InsertTask and ApplyChanges are conditional on the project revision
	// and fail with an error wrapping domain.ErrConflict when it moved on.
	InsertTask(ctx context.Context, revision string, task domain.Task) error
	UpdateTask(ctx context.Context, task domain.Task) error
	// ApplyChanges writes every change or none of them.
	ApplyChanges(ctx context.Context, set domain.ChangeSet) error
}

// Publisher delivers change notifications to project observers.
type Publisher interface {
	Publish(ctx context.Context, ev domain.Event) error
}

// Coordinator owns every read-modify-write cycle on a project's tasks.
type Coordinator struct {
	store  Store
	pub    Publisher
	logger *log.Logger
	locks  *projectLocks
	now    func() time.Time
	newID  func() string
}

// New creates a Coordinator. pub may be nil when no observers exist.
func New(store Store, pub Publisher, logger *log.Logger) *Coordinator {
	if store == nil {
		panic("coordinator.New: store is nil")
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Coordinator{
		store:  store,
		pub:    pub,
		logger: logger,
		locks:  newProjectLocks(),
		now:    func() time.Time { return time.Now().UTC() },
		newID:  uuid.NewString,
	}
}

// maxWriteAttempts bounds how often a write is planned again after another
// instance committed to the same project first.
const maxWriteAttempts = 3

// ApplyMove relocates a task as described by intent. Validation failures abort
// before any write; the returned error then wraps ErrTaskNotFound,
// ErrInvalidColumn or ErrColumnMismatch. A move that keeps losing the race
// against other instances fails with ErrConflict.
func (c *Coordinator) ApplyMove(ctx context.Context, actor domain.Identity, intent domain.MoveIntent) (domain.Task, error) {
	start := time.Now()
	unlock, err := c.locks.acquire(ctx, intent.ProjectID)
	if err != nil {
		return domain.Task{}, err
	}
	defer unlock()

	var res moveResult
	for attempt := 1; ; attempt++ {
		res, err = c.move(ctx, actor, intent)
		if err == nil {
			break
		}
		if !errors.Is(err, domain.ErrConflict) || attempt == maxWriteAttempts {
			return domain.Task{}, err
		}
		c.logger.WithFields(log.Fields{
			"project": intent.ProjectID,
			"task":    intent.TaskID,
			"attempt": attempt,
		}).Debug("move raced another writer, replanning")
	}

	moved := res.task
	destIndex := intent.DestIndex
	order := moved.Order
	c.publish(ctx, domain.Event{
		Type:         domain.TaskReordered,
		ProjectID:    intent.ProjectID,
		TaskID:       moved.ID,
		SourceStatus: res.from,
		DestStatus:   moved.Status,
		DestIndex:    &destIndex,
		Order:        &order,
		ActorID:      actor.UserID,
		Time:         c.now(),
	})

	c.logger.WithFields(log.Fields{
		"project":  intent.ProjectID,
		"task":     moved.ID,
		"from":     res.from,
		"to":       moved.Status,
		"order":    moved.Order,
		"changes":  res.changes,
		"total_ms": float64(time.Since(start)) / float64(time.Millisecond),
	}).Debug("task moved")
	return moved, nil
}

type moveResult struct {
	from    string
	task    domain.Task
	changes int
}

// move runs one read-plan-write cycle against the current project revision.
func (c *Coordinator) move(ctx context.Context, actor domain.Identity, intent domain.MoveIntent) (moveResult, error) {
	project, err := c.loadProject(ctx, actor, intent.ProjectID)
	if err != nil {
		return moveResult{}, err
	}
	task, err := c.store.GetTask(ctx, intent.ProjectID, intent.TaskID)
	if err != nil {
		return moveResult{}, fmt.Errorf("load task: %w", err)
	}
	if task == nil || task.ProjectID != intent.ProjectID {
		return moveResult{}, fmt.Errorf("%w: %s", domain.ErrTaskNotFound, intent.TaskID)
	}

	reg := domain.RegistryFor(*project)
	destStatus, ok := reg.Canonical(intent.DestStatus)
	if !ok {
		return moveResult{}, fmt.Errorf("%w: %q", domain.ErrInvalidColumn, intent.DestStatus)
	}
	sourceStatus, ok := reg.Canonical(intent.SourceStatus)
	if !ok || sourceStatus != task.Status {
		return moveResult{}, fmt.Errorf("%w: task %s is in %q, not %q", domain.ErrColumnMismatch, task.ID, task.Status, intent.SourceStatus)
	}

	source, err := c.store.ListColumn(ctx, intent.ProjectID, task.Status)
	if err != nil {
		return moveResult{}, fmt.Errorf("load column %s: %w", task.Status, err)
	}
	var dest []domain.Task
	if destStatus != task.Status {
		dest, err = c.store.ListColumn(ctx, intent.ProjectID, destStatus)
		if err != nil {
			return moveResult{}, fmt.Errorf("load column %s: %w", destStatus, err)
		}
	}

	plan := ordering.Plan(*task, source, dest, destStatus, intent.DestIndex)
	moved := plan.Task
	if len(plan.Changes) > 0 {
		now := c.now()
		err := c.store.ApplyChanges(ctx, domain.ChangeSet{
			ProjectID: intent.ProjectID,
			Revision:  project.Revision,
			UpdatedAt: now,
			Changes:   plan.Changes,
		})
		if errors.Is(err, domain.ErrConflict) {
			return moveResult{}, err
		}
		if err != nil {
			return moveResult{}, fmt.Errorf("%w: %w", domain.ErrPersistenceFailure, err)
		}
		moved.UpdatedAt = now
	}
	return moveResult{from: task.Status, task: moved, changes: len(plan.Changes)}, nil
}

// CreateTask appends a new task to its column, or to the first column when no
// status is given.
func (c *Coordinator) CreateTask(ctx context.Context, actor domain.Identity, in domain.NewTask) (domain.Task, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return domain.Task{}, fmt.Errorf("%w: title is required", domain.ErrInvalidTask)
	}

	unlock, err := c.locks.acquire(ctx, in.ProjectID)
	if err != nil {
		return domain.Task{}, err
	}
	defer unlock()

	id := c.newID()
	var task domain.Task
	for attempt := 1; ; attempt++ {
		task, err = c.create(ctx, actor, in, id, title)
		if err == nil {
			break
		}
		if !errors.Is(err, domain.ErrConflict) || attempt == maxWriteAttempts {
			return domain.Task{}, err
		}
		c.logger.WithFields(log.Fields{"project": in.ProjectID, "attempt": attempt}).Debug("insert raced another writer, retrying")
	}

	order := task.Order
	c.publish(ctx, domain.Event{
		Type:      domain.TaskCreated,
		ProjectID: task.ProjectID,
		TaskID:    task.ID,
		Title:     task.Title,
		Status:    task.Status,
		Order:     &order,
		ActorID:   actor.UserID,
		Time:      task.CreatedAt,
	})
	return task, nil
}

func (c *Coordinator) create(ctx context.Context, actor domain.Identity, in domain.NewTask, id, title string) (domain.Task, error) {
	project, err := c.loadProject(ctx, actor, in.ProjectID)
	if err != nil {
		return domain.Task{}, err
	}
	reg := domain.RegistryFor(*project)
	status := reg.First()
	if in.Status != "" {
		s, ok := reg.Canonical(in.Status)
		if !ok {
			return domain.Task{}, fmt.Errorf("%w: %q", domain.ErrInvalidColumn, in.Status)
		}
		status = s
	}

	col, err := c.store.ListColumn(ctx, in.ProjectID, status)
	if err != nil {
		return domain.Task{}, fmt.Errorf("load column %s: %w", status, err)
	}
	now := c.now()
	task := domain.Task{
		ID:          id,
		ProjectID:   in.ProjectID,
		Title:       title,
		Description: in.Description,
		Status:      status,
		Order:       ordering.NextOrder(col),
		AssigneeID:  in.AssigneeID,
		DueDate:     in.DueDate,
		CreatedBy:   actor.UserID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err = c.store.InsertTask(ctx, project.Revision, task)
	if errors.Is(err, domain.ErrConflict) {
		return domain.Task{}, err
	}
	if err != nil {
		return domain.Task{}, fmt.Errorf("%w: %w", domain.ErrPersistenceFailure, err)
	}
	return task, nil
}

// UpdateTask applies text, assignee and due date edits.
func (c *Coordinator) UpdateTask(ctx context.Context, actor domain.Identity, projectID, taskID string, patch domain.TaskPatch) (domain.Task, error) {
	if patch.Empty() {
		return domain.Task{}, fmt.Errorf("%w: no fields to update", domain.ErrInvalidTask)
	}
	if patch.Title != nil && strings.TrimSpace(*patch.Title) == "" {
		return domain.Task{}, fmt.Errorf("%w: title must not be empty", domain.ErrInvalidTask)
	}

	unlock, err := c.locks.acquire(ctx, projectID)
	if err != nil {
		return domain.Task{}, err
	}
	defer unlock()

	if _, err := c.loadProject(ctx, actor, projectID); err != nil {
		return domain.Task{}, err
	}
	task, err := c.store.GetTask(ctx, projectID, taskID)
	if err != nil {
		return domain.Task{}, fmt.Errorf("load task: %w", err)
	}
	if task == nil || task.ProjectID != projectID {
		return domain.Task{}, fmt.Errorf("%w: %s", domain.ErrTaskNotFound, taskID)
	}

	updated := *task
	if patch.Title != nil {
		updated.Title = strings.TrimSpace(*patch.Title)
	}
	if patch.Description != nil {
		updated.Description = *patch.Description
	}
	if patch.AssigneeID != nil {
		updated.AssigneeID = *patch.AssigneeID
	}
	if patch.ClearDue {
		updated.DueDate = nil
	} else if patch.DueDate != nil {
		due := *patch.DueDate
		updated.DueDate = &due
	}
	updated.UpdatedAt = c.now()
	err = c.store.UpdateTask(ctx, updated)
	if errors.Is(err, domain.ErrConflict) {
		return domain.Task{}, err
	}
	if err != nil {
		return domain.Task{}, fmt.Errorf("%w: %w", domain.ErrPersistenceFailure, err)
	}

	c.publish(ctx, domain.Event{
		Type:      domain.TaskUpdated,
		ProjectID: projectID,
		TaskID:    updated.ID,
		Title:     updated.Title,
		Status:    updated.Status,
		ActorID:   actor.UserID,
		Time:      updated.UpdatedAt,
	})
	return updated, nil
}

func (c *Coordinator) loadProject(ctx context.Context, actor domain.Identity, projectID string) (*domain.Project, error) {
	project, err := c.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("load project: %w", err)
	}
	if project == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrProjectNotFound, projectID)
	}
	if !project.CanAccess(actor) {
		return nil, fmt.Errorf("%w: user %s is not a member of %s", domain.ErrForbidden, actor.UserID, projectID)
	}
	return project, nil
}

// publish is best effort; observers that miss an event resync on their next
// board read. The write is already committed, so a caller that went away must
// not keep other instances from hearing about it.
func (c *Coordinator) publish(ctx context.Context, ev domain.Event) {
	if c.pub == nil {
		return
	}
	if err := c.pub.Publish(context.WithoutCancel(ctx), ev); err != nil {
		c.logger.WithError(err).WithFields(log.Fields{"project": ev.ProjectID, "type": ev.Type}).Warn("publish event failed")
	}
}
