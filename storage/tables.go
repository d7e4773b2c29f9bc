package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/bytedance/sonic"

	"taskboard/domain"
	"taskboard/projection"
)

// maxBatchActions is the entity-group transaction limit of Azure Tables.
const maxBatchActions = 100

const projectPartition = "project"

// revisionRowKey names the per-project marker entity whose ETag is the
// project revision. It lives in the task partition so conditional writes
// can carry it inside the same entity-group transaction.
const revisionRowKey = "~revision"

// maxUpdateAttempts bounds the read-replace loop of UpdateTask.
const maxUpdateAttempts = 3

type tableClient interface {
	GetEntity(ctx context.Context, partitionKey, rowKey string, o *aztables.GetEntityOptions) (aztables.GetEntityResponse, error)
	AddEntity(ctx context.Context, entity []byte, o *aztables.AddEntityOptions) (aztables.AddEntityResponse, error)
	UpdateEntity(ctx context.Context, entity []byte, o *aztables.UpdateEntityOptions) (aztables.UpdateEntityResponse, error)
	NewListEntitiesPager(o *aztables.ListEntitiesOptions) *runtime.Pager[aztables.ListEntitiesResponse]
	SubmitTransaction(ctx context.Context, actions []aztables.TransactionAction, o *aztables.SubmitTransactionOptions) (aztables.TransactionResponse, error)
}

// Tables stores projects and tasks in Azure Table Storage. Tasks are
// partitioned by project so a move batch is a single entity-group transaction.
type Tables struct {
	tasks    tableClient
	projects tableClient
}

// NewTables creates a Tables store from the given connection string.
func NewTables(connStr, tasksTable, projectsTable string) (*Tables, error) {
	opts := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute,
				RetryDelay:    time.Second,
				MaxRetryDelay: 15 * time.Second,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &opts)
	if err != nil {
		return nil, err
	}
	return &Tables{tasks: svc.NewClient(tasksTable), projects: svc.NewClient(projectsTable)}, nil
}

type entityKeys struct {
	PartitionKey string `json:"PartitionKey"`
	RowKey       string `json:"RowKey"`
}

type projectEntity struct {
	entityKeys
	Name      string `json:"Name"`
	CreatedBy string `json:"CreatedBy"`
	Columns   string `json:"Columns"`
	Members   string `json:"Members"`
}

type taskEntity struct {
	entityKeys
	Title         string     `json:"Title"`
	Description   string     `json:"Description"`
	Status        string     `json:"Status"`
	Order         int        `json:"Order"`
	AssigneeID    string     `json:"AssigneeId"`
	DueDate       *time.Time `json:"DueDate,omitempty"`
	DueDateType   string     `json:"DueDate@odata.type,omitempty"`
	CreatedBy     string     `json:"CreatedBy"`
	CreatedAt     time.Time  `json:"CreatedAt"`
	CreatedAtType string     `json:"CreatedAt@odata.type,omitempty"`
	UpdatedAt     time.Time  `json:"UpdatedAt"`
	UpdatedAtType string     `json:"UpdatedAt@odata.type,omitempty"`
}

type revisionEntity struct {
	entityKeys
	Kind string `json:"Kind"`
}

type orderUpdate struct {
	entityKeys
	Status        string    `json:"Status"`
	Order         int       `json:"Order"`
	UpdatedAt     time.Time `json:"UpdatedAt"`
	UpdatedAtType string    `json:"UpdatedAt@odata.type"`
}

const edmDateTime = "Edm.DateTime"

func toTaskEntity(t domain.Task) taskEntity {
	ent := taskEntity{
		entityKeys:    entityKeys{PartitionKey: t.ProjectID, RowKey: t.ID},
		Title:         t.Title,
		Description:   t.Description,
		Status:        t.Status,
		Order:         t.Order,
		AssigneeID:    t.AssigneeID,
		CreatedBy:     t.CreatedBy,
		CreatedAt:     t.CreatedAt.UTC(),
		CreatedAtType: edmDateTime,
		UpdatedAt:     t.UpdatedAt.UTC(),
		UpdatedAtType: edmDateTime,
	}
	if t.DueDate != nil {
		d := t.DueDate.UTC()
		ent.DueDate = &d
		ent.DueDateType = edmDateTime
	}
	return ent
}

func (e taskEntity) task() domain.Task {
	return domain.Task{
		ID:          e.RowKey,
		ProjectID:   e.PartitionKey,
		Title:       e.Title,
		Description: e.Description,
		Status:      e.Status,
		Order:       e.Order,
		AssigneeID:  e.AssigneeID,
		DueDate:     e.DueDate,
		CreatedBy:   e.CreatedBy,
		CreatedAt:   e.CreatedAt,
		UpdatedAt:   e.UpdatedAt,
	}
}

func isNotFound(err error) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == 404
}

// isConflict reports a failed ETag or existence precondition. Transactions
// report the failing inner operation only in the response body.
func isConflict(err error) bool {
	var respErr *azcore.ResponseError
	if !errors.As(err, &respErr) {
		return false
	}
	switch respErr.StatusCode {
	case http.StatusConflict, http.StatusPreconditionFailed:
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, string(aztables.UpdateConditionNotSatisfied)) ||
		strings.Contains(msg, string(aztables.EntityAlreadyExists))
}

// CreateProject stores a project entity. Projects without columns get the default layout.
func (s *Tables) CreateProject(ctx context.Context, p domain.Project) error {
	cols, err := sonic.MarshalString(domain.RegistryFor(p).Columns())
	if err != nil {
		return err
	}
	members := p.Members
	if members == nil {
		members = []domain.Member{}
	}
	mem, err := sonic.MarshalString(members)
	if err != nil {
		return err
	}
	payload, err := sonic.Marshal(projectEntity{
		entityKeys: entityKeys{PartitionKey: projectPartition, RowKey: p.ID},
		Name:       p.Name,
		CreatedBy:  p.CreatedBy,
		Columns:    cols,
		Members:    mem,
	})
	if err != nil {
		return err
	}
	_, err = s.projects.AddEntity(ctx, payload, nil)
	return err
}

func (s *Tables) GetProject(ctx context.Context, projectID string) (*domain.Project, error) {
	resp, err := s.projects.GetEntity(ctx, projectPartition, projectID, nil)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	var ent projectEntity
	if err := sonic.Unmarshal(resp.Value, &ent); err != nil {
		return nil, err
	}
	p := domain.Project{ID: ent.RowKey, Name: ent.Name, CreatedBy: ent.CreatedBy}
	if ent.Columns != "" {
		if err := sonic.UnmarshalString(ent.Columns, &p.Columns); err != nil {
			return nil, fmt.Errorf("project %s columns: %w", projectID, err)
		}
	}
	if ent.Members != "" {
		if err := sonic.UnmarshalString(ent.Members, &p.Members); err != nil {
			return nil, fmt.Errorf("project %s members: %w", projectID, err)
		}
	}
	if p.Revision, err = s.revision(ctx, projectID); err != nil {
		return nil, fmt.Errorf("project %s revision: %w", projectID, err)
	}
	return &p, nil
}

// revision returns the ETag of the project's marker entity, or "" when no
// task was ever written to the project.
func (s *Tables) revision(ctx context.Context, projectID string) (string, error) {
	resp, err := s.tasks.GetEntity(ctx, projectID, revisionRowKey, nil)
	if err != nil {
		if isNotFound(err) {
			return "", nil
		}
		return "", err
	}
	return string(resp.ETag), nil
}

// revisionAction advances the marker entity inside a transaction. The
// transaction fails as a whole when the marker moved past rev.
func revisionAction(projectID, rev string) (aztables.TransactionAction, error) {
	payload, err := sonic.Marshal(revisionEntity{
		entityKeys: entityKeys{PartitionKey: projectID, RowKey: revisionRowKey},
		Kind:       "revision",
	})
	if err != nil {
		return aztables.TransactionAction{}, err
	}
	switch rev {
	case domain.AnyRevision:
		return aztables.TransactionAction{ActionType: aztables.TransactionTypeInsertMerge, Entity: payload}, nil
	case "":
		return aztables.TransactionAction{ActionType: aztables.TransactionTypeAdd, Entity: payload}, nil
	default:
		et := azcore.ETag(rev)
		return aztables.TransactionAction{ActionType: aztables.TransactionTypeUpdateMerge, Entity: payload, IfMatch: &et}, nil
	}
}

// submit runs actions as one entity-group transaction, reporting lost
// preconditions as domain.ErrConflict.
func (s *Tables) submit(ctx context.Context, projectID string, actions []aztables.TransactionAction) error {
	_, err := s.tasks.SubmitTransaction(ctx, actions, nil)
	if err != nil && isConflict(err) {
		return fmt.Errorf("project %s changed concurrently: %w: %w", projectID, domain.ErrConflict, err)
	}
	return err
}

func (s *Tables) GetTask(ctx context.Context, projectID, taskID string) (*domain.Task, error) {
	t, _, err := s.taskWithETag(ctx, projectID, taskID)
	return t, err
}

func (s *Tables) taskWithETag(ctx context.Context, projectID, taskID string) (*domain.Task, azcore.ETag, error) {
	if taskID == revisionRowKey {
		return nil, "", nil
	}
	resp, err := s.tasks.GetEntity(ctx, projectID, taskID, nil)
	if err != nil {
		if isNotFound(err) {
			return nil, "", nil
		}
		return nil, "", err
	}
	var ent taskEntity
	if err := sonic.Unmarshal(resp.Value, &ent); err != nil {
		return nil, "", err
	}
	t := ent.task()
	return &t, resp.ETag, nil
}

func (s *Tables) listTasks(ctx context.Context, filter string) ([]domain.Task, error) {
	pager := s.tasks.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	tasks := []domain.Task{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range resp.Entities {
			var ent taskEntity
			if err := sonic.Unmarshal(e, &ent); err != nil {
				return nil, err
			}
			if ent.RowKey == revisionRowKey {
				continue
			}
			tasks = append(tasks, ent.task())
		}
	}
	return tasks, nil
}

func quote(v string) string {
	return "'" + strings.ReplaceAll(v, "'", "''") + "'"
}

func (s *Tables) ListColumn(ctx context.Context, projectID, status string) ([]domain.Task, error) {
	return s.listTasks(ctx, "PartitionKey eq "+quote(projectID)+" and Status eq "+quote(status))
}

// InsertTask adds t together with a revision bump in one transaction.
func (s *Tables) InsertTask(ctx context.Context, revision string, t domain.Task) error {
	payload, err := sonic.Marshal(toTaskEntity(t))
	if err != nil {
		return err
	}
	rev, err := revisionAction(t.ProjectID, revision)
	if err != nil {
		return err
	}
	return s.submit(ctx, t.ProjectID, []aztables.TransactionAction{
		rev,
		{ActionType: aztables.TransactionTypeAdd, Entity: payload},
	})
}

// UpdateTask replaces the task entity, keeping its stored status and order.
// A concurrent write between the read and the replace restarts the cycle.
func (s *Tables) UpdateTask(ctx context.Context, t domain.Task) error {
	for attempt := 1; ; attempt++ {
		current, etag, err := s.taskWithETag(ctx, t.ProjectID, t.ID)
		if err != nil {
			return err
		}
		if current == nil {
			return fmt.Errorf("task %s not found", t.ID)
		}
		t.Status = current.Status
		t.Order = current.Order
		payload, err := sonic.Marshal(toTaskEntity(t))
		if err != nil {
			return err
		}
		_, err = s.tasks.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{IfMatch: &etag, UpdateMode: aztables.UpdateModeReplace})
		if err == nil || !isConflict(err) {
			return err
		}
		if attempt == maxUpdateAttempts {
			return fmt.Errorf("task %s: %w: %w", t.ID, domain.ErrConflict, err)
		}
	}
}

// ApplyChanges merges a move batch and the revision bump as one entity-group
// transaction.
func (s *Tables) ApplyChanges(ctx context.Context, set domain.ChangeSet) error {
	if len(set.Changes) == 0 {
		return nil
	}
	if len(set.Changes)+1 > maxBatchActions {
		return fmt.Errorf("move touches %d tasks, transaction limit is %d", len(set.Changes), maxBatchActions-1)
	}
	rev, err := revisionAction(set.ProjectID, set.Revision)
	if err != nil {
		return err
	}
	et := azcore.ETagAny
	actions := make([]aztables.TransactionAction, 0, len(set.Changes)+1)
	actions = append(actions, rev)
	for _, c := range set.Changes {
		payload, err := sonic.Marshal(orderUpdate{
			entityKeys:    entityKeys{PartitionKey: set.ProjectID, RowKey: c.TaskID},
			Status:        c.Status,
			Order:         c.Order,
			UpdatedAt:     set.UpdatedAt.UTC(),
			UpdatedAtType: edmDateTime,
		})
		if err != nil {
			return err
		}
		actions = append(actions, aztables.TransactionAction{
			ActionType: aztables.TransactionTypeUpdateMerge,
			Entity:     payload,
			IfMatch:    &et,
		})
	}
	return s.submit(ctx, set.ProjectID, actions)
}

// LoadBoard returns the project's columns, roster and flat task list.
func (s *Tables) LoadBoard(ctx context.Context, projectID string) (*projection.RawBoard, error) {
	p, err := s.GetProject(ctx, projectID)
	if err != nil || p == nil {
		return nil, err
	}
	tasks, err := s.listTasks(ctx, "PartitionKey eq "+quote(projectID))
	if err != nil {
		return nil, err
	}
	cols := domain.RegistryFor(*p).Columns()
	raw := &projection.RawBoard{
		Name:    p.Name,
		Columns: make([]projection.RawColumn, len(cols)),
		Tasks:   make([]projection.RawTask, len(tasks)),
		Members: p.Members,
	}
	for i, c := range cols {
		raw.Columns[i] = projection.RawColumn{ID: c.ID, Name: c.Name}
	}
	for i, t := range tasks {
		rt := projection.FromTask(t)
		rt.ID = ""
		rt.RowKey = t.ID
		raw.Tasks[i] = rt
	}
	return raw, nil
}
