// Package chat contains Courier's message delivery and durability core:
// the durable message log, the per-recipient undelivered queue, the
// conversation index, the presence registry, and the delivery coordinator
// that orchestrates them.
package chat

import "time"

// Message is the canonical persisted message representation.
// Immutable once created; identity is assigned by the durable log at write time.
type Message struct {
	ID      string
	From    string
	To      string
	Content string
	SentAt  time.Time
}

// ConversationEntry is one row of a user's conversation list.
// Lists are ordered most-recent-first by LastActivityAt.
type ConversationEntry struct {
	PeerID          string
	PeerDisplayName string
	LastActivityAt  time.Time
}
