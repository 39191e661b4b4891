package realtime

import (
	"log/slog"
	"sync"

	v1 "courier/shared/contracts/chat/v1"
)

// Channel is a per-user delivery group: the set of live sessions that should
// receive every push addressed to that user.
//
// Concurrency guarantees:
// - Join/Leave are safe under concurrent Broadcast.
// - Broadcast never blocks (drops under backpressure).
// - Broadcast is panic-safe because Client.Send is never closed by the server.
type Channel struct {
	log    *slog.Logger
	UserID string

	mu      sync.RWMutex
	members map[string]*Client
}

// NewChannel constructs a delivery channel for one user.
func NewChannel(log *slog.Logger, userID string) *Channel {
	return &Channel{
		log:     log,
		UserID:  userID,
		members: make(map[string]*Client),
	}
}

// Join adds a session to the channel.
func (ch *Channel) Join(client *Client) {
	if ch == nil || client == nil || client.SessionID == "" {
		return
	}

	ch.mu.Lock()
	ch.members[client.SessionID] = client
	ch.mu.Unlock()

	ch.log.Info("channel.session.join", "user_id", ch.UserID, "session_id", client.SessionID)
}

// Leave removes a session from the channel and signals shutdown for that client.
// It reports whether the channel is now empty.
func (ch *Channel) Leave(sessionID string) bool {
	if ch == nil || sessionID == "" {
		return false
	}

	var cl *Client

	ch.mu.Lock()
	cl = ch.members[sessionID]
	delete(ch.members, sessionID)
	empty := len(ch.members) == 0
	ch.mu.Unlock()

	// Signal client shutdown after removing from membership.
	// This ordering avoids race windows where a broadcaster still holds a pointer
	// while the client goroutines are being torn down.
	if cl != nil {
		cl.Close()
	}

	ch.log.Info("channel.session.leave", "user_id", ch.UserID, "session_id", sessionID)
	return empty
}

// Empty reports whether the channel has no live sessions.
func (ch *Channel) Empty() bool {
	if ch == nil {
		return true
	}
	ch.mu.RLock()
	defer ch.mu.RUnlock()
	return len(ch.members) == 0
}

// Broadcast fanouts an envelope to all sessions in the channel and reports
// how many accepted it. Non-blocking: if a member queue is full or the client
// is shutting down, that member is skipped.
func (ch *Channel) Broadcast(env v1.Envelope) int {
	if ch == nil {
		return 0
	}

	ch.mu.RLock()
	defer ch.mu.RUnlock()

	accepted := 0
	for _, m := range ch.members {
		if m == nil {
			continue
		}

		select {
		case <-m.Done():
			// Skip clients that are shutting down.
			continue
		default:
		}

		select {
		case m.Send <- env:
			accepted++
		default:
			// Drop rather than block the whole channel.
		}
	}
	return accepted
}
