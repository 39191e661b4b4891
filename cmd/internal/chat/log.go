package chat

import (
	"context"
	"time"
)

// MessageLog is the append-only durable store of all sent messages.
//
// Requirements:
//   - Append never mutates existing entries.
//   - Queries return messages ordered by SentAt ascending.
//   - PurgeOlderThan is atomic from a reader's point of view: concurrent
//     queries never observe a partially-rewritten log.
type MessageLog interface {
	// Append adds one message. Storage-layer failures are fatal to the caller
	// and propagated up as a write failure.
	Append(ctx context.Context, m Message) error

	// QueryByParticipants returns all messages exchanged between userA and
	// userB (either direction) with SentAt at or after since, ordered by
	// SentAt ascending.
	QueryByParticipants(ctx context.Context, userA, userB string, since time.Time) ([]Message, error)

	// QueryByParticipant returns all messages addressed to or from userID
	// with SentAt at or after since, ordered by SentAt ascending.
	QueryByParticipant(ctx context.Context, userID string, since time.Time) ([]Message, error)

	// PurgeOlderThan removes all entries with SentAt before cutoff and
	// reports how many were removed.
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int, error)

	Close() error
}

// PendingQueue holds messages per recipient until their next live connection.
//
// Requirements:
//   - FIFO per recipient: drained messages come back in enqueue order.
//   - Drain atomically returns and clears the recipient's list. An enqueue
//     racing a drain for the same recipient either lands in the drain
//     snapshot or remains queued for a subsequent drain; it is never lost.
type PendingQueue interface {
	Enqueue(ctx context.Context, recipientID string, m Message) error
	Drain(ctx context.Context, recipientID string) ([]Message, error)
}

// ConversationIndex maintains each user's ordered list of known peers so a
// conversation list can be rendered without scanning the full log.
//
// Touch performs an upsert-to-head: if the peer is already present it is
// removed and reinserted at the head with the refreshed timestamp. An empty
// display name never clobbers a previously known one.
type ConversationIndex interface {
	Touch(ctx context.Context, ownerID, peerID, peerDisplayName string, at time.Time) error

	// ListFor returns the owner's conversation list most-recent-first.
	// Unknown owners yield an empty list, not an error.
	ListFor(ctx context.Context, ownerID string) ([]ConversationEntry, error)
}
