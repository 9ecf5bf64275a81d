package queue

import (
	"context"
	"fmt"
)

// Publisher publishes redispatch messages to a queue.
type Publisher interface {
	Publish(ctx context.Context, queue string, msg RedispatchMessage) error
	Close() error
}

// MessageHandler handles a consumed queue message. A returned error
// dead-letters the message.
type MessageHandler func(ctx context.Context, msg RedispatchMessage) error

// Consumer consumes redispatch messages from a queue.
type Consumer interface {
	Consume(ctx context.Context, queue string, handler MessageHandler) error
	Close() error
}

// RedispatchQueue is the work queue for background redispatch.
const RedispatchQueue = "whatsapp.redispatch"

// DLQName returns the dead-letter queue name for a work queue,
// e.g. dlq.whatsapp.redispatch.
func DLQName(queue string) string {
	return fmt.Sprintf("dlq.%s", queue)
}

// WorkQueueNames returns all work queues.
func WorkQueueNames() []string {
	return []string{RedispatchQueue}
}

// DLQNames returns all dead-letter queues.
func DLQNames() []string {
	queues := WorkQueueNames()
	for i, name := range queues {
		queues[i] = DLQName(name)
	}
	return queues
}
