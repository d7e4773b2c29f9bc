package broadcast

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"

	"taskboard/domain"
)

type fakeQueue struct {
	mu       sync.Mutex
	messages []string
	err      error
}

func (f *fakeQueue) EnqueueMessage(ctx context.Context, content string, o *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return azqueue.EnqueueMessagesResponse{}, f.err
	}
	f.messages = append(f.messages, content)
	return azqueue.EnqueueMessagesResponse{}, nil
}

func TestQueueSinkEnqueuesEvent(t *testing.T) {
	fq := &fakeQueue{}
	sink := &QueueSink{queue: fq}
	order := 2
	if err := sink.Publish(context.Background(), domain.Event{Type: domain.TaskReordered, ProjectID: "p1", TaskID: "t1", Order: &order}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(fq.messages) != 1 {
		t.Fatalf("expected one message, got %d", len(fq.messages))
	}
	msg := fq.messages[0]
	for _, want := range []string{`"type":"task_reordered"`, `"projectId":"p1"`, `"order":2`} {
		if !strings.Contains(msg, want) {
			t.Fatalf("message %s missing %s", msg, want)
		}
	}
}

func TestFanoutJoinsErrors(t *testing.T) {
	hub := newTestHub(t, 1)
	s := hub.NewSession("alice")
	hub.Join(s, "p1")
	boom := errors.New("queue unavailable")
	f := Fanout{&QueueSink{queue: &fakeQueue{err: boom}}, nil, hub}

	err := f.Publish(context.Background(), domain.Event{ProjectID: "p1", TaskID: "t1"})
	if !errors.Is(err, boom) {
		t.Fatalf("expected queue error, got %v", err)
	}
	if got := receive(t, s); got.TaskID != "t1" {
		t.Fatalf("hub should still receive the event, got %+v", got)
	}
}
