package broadcast

import (
	"context"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/bytedance/sonic"

	"taskboard/domain"
)

type queueClient interface {
	EnqueueMessage(ctx context.Context, content string, o *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error)
}

// QueueSink exports board events to an Azure Storage queue.
type QueueSink struct {
	queue queueClient
}

// NewQueueSink wraps an azqueue client.
func NewQueueSink(q *azqueue.QueueClient) *QueueSink {
	return &QueueSink{queue: q}
}

// Publish enqueues ev as a JSON message.
func (q *QueueSink) Publish(ctx context.Context, ev domain.Event) error {
	data, err := sonic.MarshalString(ev)
	if err != nil {
		return err
	}
	_, err = q.queue.EnqueueMessage(ctx, data, nil)
	return err
}
