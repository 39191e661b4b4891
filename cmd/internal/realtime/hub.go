package realtime

import (
	"log/slog"
	"sync"
	"time"

	"courier/cmd/internal/chat"
	v1 "courier/shared/contracts/chat/v1"
)

// Hub owns the per-user delivery channels. It implements chat.Fanout so the
// delivery coordinator can route accepted messages to every live session a
// recipient holds.
type Hub struct {
	log *slog.Logger

	mu       sync.RWMutex
	channels map[string]*Channel
}

// NewHub constructs a Hub instance.
func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		log:      log,
		channels: make(map[string]*Channel),
	}
}

// Join adds the client to its user's delivery channel, creating the channel
// on first session.
func (h *Hub) Join(client *Client) *Channel {
	if h == nil || client == nil {
		return nil
	}

	h.mu.Lock()
	ch, ok := h.channels[client.UserID]
	if !ok {
		ch = NewChannel(h.log, client.UserID)
		h.channels[client.UserID] = ch
	}
	h.mu.Unlock()

	ch.Join(client)
	return ch
}

// Leave removes the session from its user's channel and drops the channel
// once its last session is gone, so delivery attempts never target closed
// sessions.
func (h *Hub) Leave(userID, sessionID string) {
	if h == nil {
		return
	}

	h.mu.Lock()
	ch := h.channels[userID]
	h.mu.Unlock()
	if ch == nil {
		return
	}

	if empty := ch.Leave(sessionID); empty {
		h.mu.Lock()
		// Re-check under the lock: a new session may have joined meanwhile.
		if cur := h.channels[userID]; cur == ch && cur.Empty() {
			delete(h.channels, userID)
		}
		h.mu.Unlock()
	}
}

// Deliver implements chat.Fanout: it pushes the message to every live session
// of the recipient and reports how many accepted it.
func (h *Hub) Deliver(recipientID string, m chat.Message) int {
	if h == nil {
		return 0
	}

	h.mu.RLock()
	ch := h.channels[recipientID]
	h.mu.RUnlock()
	if ch == nil {
		return 0
	}

	env, err := newMessageEnvelope(v1.TypeIncomingMessage, v1.IncomingMessagePayload{
		ID:      m.ID,
		From:    m.From,
		To:      m.To,
		Content: m.Content,
		SentAt:  m.SentAt,
	}, m.SentAt)
	if err != nil {
		h.log.Error("hub.deliver.encode.fail", "id", m.ID, "err", err)
		return 0
	}

	return ch.Broadcast(env)
}

// BroadcastAll sends an envelope to every connected session across all users.
// Used for presence-change notifications.
func (h *Hub) BroadcastAll(env v1.Envelope) {
	if h == nil {
		return
	}

	h.mu.RLock()
	channels := make([]*Channel, 0, len(h.channels))
	for _, ch := range h.channels {
		channels = append(channels, ch)
	}
	h.mu.RUnlock()

	for _, ch := range channels {
		ch.Broadcast(env)
	}
}

// BroadcastPresence announces a presence transition to all connected sessions.
func (h *Hub) BroadcastPresence(userID, status string, now time.Time) {
	env, err := newMessageEnvelope(v1.TypePresenceChange, v1.PresenceChangePayload{
		UserID: userID,
		Status: status,
	}, now)
	if err != nil {
		h.log.Error("hub.presence.encode.fail", "user_id", userID, "err", err)
		return
	}
	h.BroadcastAll(env)
}
