package stores

import (
	"context"
)

// OperationFunc receives every operation the substrate learns about,
// locally appended or gossiped in. Redelivery is possible; consumers
// deduplicate by seq_num.
type OperationFunc func(topicId TopicId, operation Operation)

// LogsClient is the boundary to the replication substrate. The substrate
// guarantees each author's log is a causally ordered, tamper-evident chain;
// this layer never validates the chain itself.
type LogsClient interface {
	// MyPublicKey returns the device identity appends are authored with.
	MyPublicKey(ctx context.Context) (PublicKey, error)

	// GetAuthorsForTopic lists the authors with at least one operation on
	// the topic.
	GetAuthorsForTopic(ctx context.Context, topicId TopicId) ([]PublicKey, error)

	// GetLog returns one author's operations on a topic in seq_num order.
	GetLog(ctx context.Context, topicId TopicId, author PublicKey) ([]Operation, error)

	// Append authors a new operation on the topic and returns it.
	Append(ctx context.Context, topicId TopicId, body *Payload) (Operation, error)

	// AddOperationCallback subscribes to new-operation notifications.
	// The returned function unsubscribes.
	AddOperationCallback(callback OperationFunc) func()
}

// OperationWaiter resolves once an operation matching the filter is
// observed. Subscribe before issuing the command that produces the
// operation, then Await after, so the notification cannot be missed.
type OperationWaiter struct {
	matches chan Operation
	remove  func()
}

func NotifyOnOperation(client LogsClient, filter func(topicId TopicId, operation Operation) bool) *OperationWaiter {
	waiter := &OperationWaiter{
		matches: make(chan Operation, 1),
	}
	waiter.remove = client.AddOperationCallback(func(topicId TopicId, operation Operation) {
		if !filter(topicId, operation) {
			return
		}
		select {
		case waiter.matches <- operation:
		default:
		}
	})
	return waiter
}

// Await blocks until a matching operation arrives and unsubscribes.
func (self *OperationWaiter) Await(ctx context.Context) (Operation, error) {
	defer self.remove()
	select {
	case operation := <-self.matches:
		return operation, nil
	case <-ctx.Done():
		return Operation{}, ctx.Err()
	}
}

// Close unsubscribes without waiting.
func (self *OperationWaiter) Close() {
	self.remove()
}
