package membership

import (
	"context"

	"github.com/fitforge/membership/pkg/queue"
)

// Notifier is the fire-and-forget hook into the notification dispatcher.
// Delivery transport (push/SMS) is an external collaborator; this module
// only enqueues, at-least-once.
type Notifier interface {
	Enqueue(ctx context.Context, ownerRef, eventType, message, relatedID string) error
}

// NoopNotifier discards all notifications. Default when none is wired.
type NoopNotifier struct{}

func (NoopNotifier) Enqueue(ctx context.Context, ownerRef, eventType, message, relatedID string) error {
	return nil
}

// NotificationTask is the queue payload consumed by the external
// notification dispatcher's worker.
type NotificationTask struct {
	OwnerRef  string `json:"owner_ref"`
	EventType string `json:"event_type"`
	Message   string `json:"message"`
	RelatedID string `json:"related_id"`
}

// QueueNotifier enqueues notifications onto the task queue for the
// dispatcher worker to pick up.
type QueueNotifier struct {
	enqueuer *queue.Enqueuer
}

// NewQueueNotifier creates a queue-backed notifier.
func NewQueueNotifier(enqueuer *queue.Enqueuer) *QueueNotifier {
	return &QueueNotifier{enqueuer: enqueuer}
}

func (n *QueueNotifier) Enqueue(ctx context.Context, ownerRef, eventType, message, relatedID string) error {
	return n.enqueuer.Enqueue(ctx, NotificationTask{
		OwnerRef:  ownerRef,
		EventType: eventType,
		Message:   message,
		RelatedID: relatedID,
	})
}
