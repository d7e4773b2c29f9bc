package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"taskboard/domain"
)

type fakeStore struct {
	mu          sync.Mutex
	projects    map[string]domain.Project
	tasks       map[string]domain.Task
	revisions   map[string]int
	applyErr    error
	insertErr   error
	applyCalls  int
	delay       time.Duration
	onList      func(projectID string)
	beforeWrite func(projectID string)
	lastSet     domain.ChangeSet
}

func newFakeStore(projects ...domain.Project) *fakeStore {
	f := &fakeStore{projects: map[string]domain.Project{}, tasks: map[string]domain.Task{}, revisions: map[string]int{}}
	for _, p := range projects {
		f.projects[p.ID] = p
	}
	return f
}

func (f *fakeStore) seed(projectID, status string, ids ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, id := range ids {
		f.tasks[id] = domain.Task{
			ID:        id,
			ProjectID: projectID,
			Title:     "task " + id,
			Status:    status,
			Order:     i,
			CreatedAt: time.Date(2024, 1, 1, 0, i, 0, 0, time.UTC),
		}
	}
}

func (f *fakeStore) pause() {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
}

func (f *fakeStore) GetProject(ctx context.Context, projectID string) (*domain.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.projects[projectID]
	if !ok {
		return nil, nil
	}
	p.Revision = strconv.Itoa(f.revisions[projectID])
	return &p, nil
}

func (f *fakeStore) GetTask(ctx context.Context, projectID, taskID string) (*domain.Task, error) {
	f.pause()
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[taskID]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (f *fakeStore) ListColumn(ctx context.Context, projectID, status string) ([]domain.Task, error) {
	if f.onList != nil {
		f.onList(projectID)
	}
	f.pause()
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []domain.Task{}
	for _, t := range f.tasks {
		if t.ProjectID == projectID && t.Status == status {
			out = append(out, t)
		}
	}
	return out, nil
}

// checkRevision bumps the project revision when rev is current. Callers hold f.mu.
func (f *fakeStore) checkRevision(projectID, rev string) error {
	if rev != domain.AnyRevision && rev != strconv.Itoa(f.revisions[projectID]) {
		return fmt.Errorf("project %s at revision %d, not %s: %w", projectID, f.revisions[projectID], rev, domain.ErrConflict)
	}
	f.revisions[projectID]++
	return nil
}

func (f *fakeStore) InsertTask(ctx context.Context, rev string, task domain.Task) error {
	if f.beforeWrite != nil {
		f.beforeWrite(task.ProjectID)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return f.insertErr
	}
	if _, exists := f.tasks[task.ID]; exists {
		return errors.New("duplicate task")
	}
	if err := f.checkRevision(task.ProjectID, rev); err != nil {
		return err
	}
	f.tasks[task.ID] = task
	return nil
}

func (f *fakeStore) UpdateTask(ctx context.Context, task domain.Task) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.tasks[task.ID]; !ok {
		return errors.New("missing task")
	}
	f.tasks[task.ID] = task
	return nil
}

func (f *fakeStore) ApplyChanges(ctx context.Context, set domain.ChangeSet) error {
	f.pause()
	if f.beforeWrite != nil {
		f.beforeWrite(set.ProjectID)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.applyCalls++
	f.lastSet = set
	if f.applyErr != nil {
		return f.applyErr
	}
	for _, c := range set.Changes {
		if t, ok := f.tasks[c.TaskID]; !ok || t.ProjectID != set.ProjectID {
			return errors.New("unknown task in batch")
		}
	}
	if err := f.checkRevision(set.ProjectID, set.Revision); err != nil {
		return err
	}
	for _, c := range set.Changes {
		t := f.tasks[c.TaskID]
		t.Status = c.Status
		t.Order = c.Order
		t.UpdatedAt = set.UpdatedAt
		f.tasks[c.TaskID] = t
	}
	return nil
}

// put stores t the way another instance would, bumping the project
// revision without going through a coordinator.
func (f *fakeStore) put(t domain.Task) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks[t.ID] = t
	f.revisions[t.ProjectID]++
}

func (f *fakeStore) task(id string) domain.Task {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tasks[id]
}

// column returns the ids of a column ordered by stored order.
func (f *fakeStore) column(projectID, status string) []domain.Task {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []domain.Task{}
	for _, t := range f.tasks {
		if t.ProjectID == projectID && t.Status == status {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}

func (f *fakeStore) snapshot() map[string]domain.Task {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]domain.Task, len(f.tasks))
	for k, v := range f.tasks {
		out[k] = v
	}
	return out
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.Event
	err    error
}

func (p *recordingPublisher) Publish(ctx context.Context, ev domain.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return p.err
}

func (p *recordingPublisher) Events() []domain.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.Event, len(p.events))
	copy(out, p.events)
	return out
}
