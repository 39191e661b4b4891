package chat

import (
	"context"
	"errors"
	"sync"
)

// MemoryQueue is an in-memory PendingQueue.
//
// One mutex guards the recipient map; each recipient's slice is its own keyed
// partition, touched only while the lock is held, so an enqueue racing a drain
// for the same recipient either lands in the drain snapshot or stays queued.
type MemoryQueue struct {
	mu      sync.Mutex
	pending map[string][]Message
}

// NewMemoryQueue constructs an in-memory PendingQueue implementation.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{pending: make(map[string][]Message)}
}

// Enqueue appends to the recipient's FIFO list.
func (q *MemoryQueue) Enqueue(ctx context.Context, recipientID string, m Message) error {
	if recipientID == "" || m.ID == "" {
		return errors.New("chat: invalid pending delivery")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	q.mu.Lock()
	q.pending[recipientID] = append(q.pending[recipientID], m)
	q.mu.Unlock()
	return nil
}

// Drain atomically returns and clears the recipient's list in enqueue order.
func (q *MemoryQueue) Drain(ctx context.Context, recipientID string) ([]Message, error) {
	if recipientID == "" {
		return nil, errors.New("chat: missing recipient")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	q.mu.Lock()
	out := q.pending[recipientID]
	delete(q.pending, recipientID)
	q.mu.Unlock()
	return out, nil
}

// Len reports the number of queued messages for a recipient (test helper).
func (q *MemoryQueue) Len(recipientID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending[recipientID])
}
