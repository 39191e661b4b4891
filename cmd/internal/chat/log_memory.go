package chat

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// MemoryLog is an in-memory MessageLog used when no database is configured.
//
// Concurrency model:
//   - A single RWMutex serializes appends and purges against queries.
//   - PurgeOlderThan is a filtered rewrite under the write lock, so readers
//     never observe a torn log.
type MemoryLog struct {
	mu   sync.RWMutex
	msgs []Message
}

// NewMemoryLog constructs an in-memory MessageLog implementation.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{msgs: make([]Message, 0, 256)}
}

// Close closes the log (noop for in-memory).
func (l *MemoryLog) Close() error { return nil }

// Append adds one message. Existing entries are never mutated.
func (l *MemoryLog) Append(ctx context.Context, m Message) error {
	if m.ID == "" || m.From == "" || m.To == "" {
		return errors.New("chat: invalid message")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	l.msgs = append(l.msgs, m)
	l.mu.Unlock()
	return nil
}

// QueryByParticipants returns the pair's messages at or after since, ordered
// by SentAt ascending.
func (l *MemoryLog) QueryByParticipants(ctx context.Context, userA, userB string, since time.Time) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.RLock()
	out := make([]Message, 0, 32)
	for _, m := range l.msgs {
		pair := (m.From == userA && m.To == userB) || (m.From == userB && m.To == userA)
		if pair && !m.SentAt.Before(since) {
			out = append(out, m)
		}
	}
	l.mu.RUnlock()

	sortBySentAt(out)
	return out, nil
}

// QueryByParticipant returns all messages addressed to or from userID at or
// after since, ordered by SentAt ascending.
func (l *MemoryLog) QueryByParticipant(ctx context.Context, userID string, since time.Time) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.RLock()
	out := make([]Message, 0, 32)
	for _, m := range l.msgs {
		if (m.From == userID || m.To == userID) && !m.SentAt.Before(since) {
			out = append(out, m)
		}
	}
	l.mu.RUnlock()

	sortBySentAt(out)
	return out, nil
}

// PurgeOlderThan removes all entries with SentAt before cutoff.
func (l *MemoryLog) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	kept := make([]Message, 0, len(l.msgs))
	for _, m := range l.msgs {
		if !m.SentAt.Before(cutoff) {
			kept = append(kept, m)
		}
	}
	removed := len(l.msgs) - len(kept)
	l.msgs = kept
	return removed, nil
}

func sortBySentAt(msgs []Message) {
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].SentAt.Before(msgs[j].SentAt) })
}
