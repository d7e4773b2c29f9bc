package coordinator

import (
	"context"
	"sync"
)

// projectLocks hands out one serialization token per project. Entries are
// reference counted and dropped once no caller holds or waits for them.
type projectLocks struct {
	mu    sync.Mutex
	locks map[string]*projectLock
}

type projectLock struct {
	sem  chan struct{}
	refs int
}

func newProjectLocks() *projectLocks {
	return &projectLocks{locks: make(map[string]*projectLock)}
}

// acquire blocks until the project's token is free or ctx is done. The
// returned func releases the token and must be called exactly once.
func (l *projectLocks) acquire(ctx context.Context, projectID string) (func(), error) {
	l.mu.Lock()
	pl, ok := l.locks[projectID]
	if !ok {
		pl = &projectLock{sem: make(chan struct{}, 1)}
		l.locks[projectID] = pl
	}
	pl.refs++
	l.mu.Unlock()

	select {
	case pl.sem <- struct{}{}:
		return func() {
			<-pl.sem
			l.release(projectID, pl)
		}, nil
	case <-ctx.Done():
		l.release(projectID, pl)
		return nil, ctx.Err()
	}
}

func (l *projectLocks) release(projectID string, pl *projectLock) {
	l.mu.Lock()
	pl.refs--
	if pl.refs == 0 {
		delete(l.locks, projectID)
	}
	l.mu.Unlock()
}

func (l *projectLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
