// Package broadcast fans board events out to the sessions observing a project.
package broadcast

import (
	"context"
	"sync"

	log "github.com/sirupsen/logrus"

	"taskboard/domain"
)

const defaultSessionBuffer = 32

// Session is one connected observer. Events are read from C until it is closed.
type Session struct {
	UserID string
	C      <-chan domain.Event

	ch       chan domain.Event
	projects map[string]struct{}
	closed   bool
}

type topic struct {
	mu   sync.Mutex
	subs map[*Session]struct{}
}

// Hub relays events to the sessions joined to each project. Delivery is best
// effort: a session whose buffer is full misses the event.
type Hub struct {
	mu     sync.Mutex
	topics map[string]*topic
	buffer int
	logger *log.Logger
}

// NewHub creates a hub whose sessions buffer up to buffer events.
func NewHub(buffer int, logger *log.Logger) *Hub {
	if buffer <= 0 {
		buffer = defaultSessionBuffer
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Hub{topics: make(map[string]*topic), buffer: buffer, logger: logger}
}

// NewSession allocates a session for userID. It receives nothing until joined.
func (h *Hub) NewSession(userID string) *Session {
	ch := make(chan domain.Event, h.buffer)
	return &Session{UserID: userID, C: ch, ch: ch, projects: make(map[string]struct{})}
}

// Join subscribes s to projectID. Events published earlier are not replayed.
func (h *Hub) Join(s *Session, projectID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s.closed {
		return
	}
	t, ok := h.topics[projectID]
	if !ok {
		t = &topic{subs: make(map[*Session]struct{})}
		h.topics[projectID] = t
	}
	t.mu.Lock()
	t.subs[s] = struct{}{}
	t.mu.Unlock()
	s.projects[projectID] = struct{}{}
}

// Leave unsubscribes s from projectID.
func (h *Hub) Leave(s *Session, projectID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(s, projectID)
}

// Close removes s from every project and closes its channel.
func (h *Hub) Close(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s.closed {
		return
	}
	for projectID := range s.projects {
		h.leaveLocked(s, projectID)
	}
	s.closed = true
	close(s.ch)
}

func (h *Hub) leaveLocked(s *Session, projectID string) {
	delete(s.projects, projectID)
	t, ok := h.topics[projectID]
	if !ok {
		return
	}
	t.mu.Lock()
	delete(t.subs, s)
	empty := len(t.subs) == 0
	t.mu.Unlock()
	if empty {
		delete(h.topics, projectID)
	}
}

// Publish delivers ev to every session joined to ev.ProjectID. Sends never
// block; events of one project reach each session in publish order.
func (h *Hub) Publish(ctx context.Context, ev domain.Event) error {
	h.mu.Lock()
	t, ok := h.topics[ev.ProjectID]
	h.mu.Unlock()
	if !ok {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for s := range t.subs {
		select {
		case s.ch <- ev:
		default:
			h.logger.WithFields(log.Fields{
				"project": ev.ProjectID,
				"user":    s.UserID,
				"type":    ev.Type,
			}).Warn("session buffer full, dropping event")
		}
	}
	return nil
}

// Subscribers returns the number of sessions joined to projectID.
func (h *Hub) Subscribers(projectID string) int {
	h.mu.Lock()
	t, ok := h.topics[projectID]
	h.mu.Unlock()
	if !ok {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs)
}
