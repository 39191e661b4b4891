package chat

import (
	"context"
	"errors"
	"sync"
	"time"
)

// MemoryIndex is an in-memory ConversationIndex.
//
// Each owner's list is a keyed partition; the remove+reinsert performed by
// Touch happens entirely under the mutex, so concurrent touches on the same
// owner can neither duplicate nor lose an entry.
type MemoryIndex struct {
	mu    sync.Mutex
	lists map[string][]ConversationEntry
}

// NewMemoryIndex constructs an in-memory ConversationIndex implementation.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{lists: make(map[string][]ConversationEntry)}
}

// Touch upserts the peer to the head of the owner's list.
func (x *MemoryIndex) Touch(ctx context.Context, ownerID, peerID, peerDisplayName string, at time.Time) error {
	if ownerID == "" || peerID == "" {
		return errors.New("chat: missing owner or peer")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	list := x.lists[ownerID]

	entry := ConversationEntry{
		PeerID:          peerID,
		PeerDisplayName: peerDisplayName,
		LastActivityAt:  at,
	}

	for i, e := range list {
		if e.PeerID != peerID {
			continue
		}
		// An empty/unknown name must never clobber a previously known name.
		if entry.PeerDisplayName == "" {
			entry.PeerDisplayName = e.PeerDisplayName
		}
		list = append(list[:i], list[i+1:]...)
		break
	}

	list = append([]ConversationEntry{entry}, list...)
	x.lists[ownerID] = list
	return nil
}

// ListFor returns a copy of the owner's list, most-recent-first.
func (x *MemoryIndex) ListFor(ctx context.Context, ownerID string) ([]ConversationEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	list := x.lists[ownerID]
	if len(list) == 0 {
		return nil, nil
	}
	return append([]ConversationEntry(nil), list...), nil
}
