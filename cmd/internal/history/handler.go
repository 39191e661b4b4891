// Package history exposes the read-side HTTP API over the durable message log
// and the conversation index: conversation listings, per-peer history, and
// full participant sync.
package history

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"courier/cmd/internal/auth"
	"courier/cmd/internal/chat"
)

// Handler wires authenticated read endpoints to the chat core.
type Handler struct {
	log      *slog.Logger
	verifier auth.Verifier
	store    chat.MessageLog
	index    chat.ConversationIndex

	// retention floors every since parameter: nothing older than the purge
	// horizon is ever promised to callers.
	retention time.Duration
}

// NewHandler constructs a history Handler.
func NewHandler(log *slog.Logger, verifier auth.Verifier, store chat.MessageLog, index chat.ConversationIndex, retention time.Duration) (*Handler, error) {
	if verifier == nil || store == nil || index == nil {
		return nil, errors.New("history: nil dependency")
	}
	if log == nil {
		log = slog.Default()
	}
	if retention <= 0 {
		retention = chat.DefaultRetentionWindow
	}
	return &Handler{log: log, verifier: verifier, store: store, index: index, retention: retention}, nil
}

// Register wires history routes onto the provided mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("/api/conversations", h.handleConversations)
	mux.HandleFunc("/api/messages", h.handleMessages)
	mux.HandleFunc("/api/sync", h.handleSync)
}

// ---- responses ----

type conversationResponse struct {
	PeerID          string    `json:"peerId"`
	PeerDisplayName string    `json:"peerDisplayName,omitempty"`
	LastActivityAt  time.Time `json:"lastActivityAt"`
}

type conversationsResponse struct {
	Conversations []conversationResponse `json:"conversations"`
}

type messageResponse struct {
	ID      string    `json:"id"`
	From    string    `json:"from"`
	To      string    `json:"to"`
	Content string    `json:"content"`
	SentAt  time.Time `json:"sentAt"`
}

type messagesResponse struct {
	Messages []messageResponse `json:"messages"`
}

// ---- handlers ----

func (h *Handler) handleConversations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	claims, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	entries, err := h.index.ListFor(r.Context(), claims.UserID)
	if err != nil {
		h.log.Error("history.conversations.fail", "user_id", claims.UserID, "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	out := make([]conversationResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, conversationResponse{
			PeerID:          e.PeerID,
			PeerDisplayName: e.PeerDisplayName,
			LastActivityAt:  e.LastActivityAt,
		})
	}
	writeJSON(w, http.StatusOK, conversationsResponse{Conversations: out})
}

func (h *Handler) handleMessages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	claims, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	peer := strings.TrimSpace(r.URL.Query().Get("peer"))
	if peer == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "peer is required")
		return
	}

	since, ok := h.sinceParam(w, r)
	if !ok {
		return
	}

	msgs, err := h.store.QueryByParticipants(r.Context(), claims.UserID, peer, since)
	if err != nil {
		h.log.Error("history.messages.fail", "user_id", claims.UserID, "peer", peer, "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	writeJSON(w, http.StatusOK, messagesResponse{Messages: toMessageResponses(msgs)})
}

func (h *Handler) handleSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	claims, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	since, ok := h.sinceParam(w, r)
	if !ok {
		return
	}

	msgs, err := h.store.QueryByParticipant(r.Context(), claims.UserID, since)
	if err != nil {
		h.log.Error("history.sync.fail", "user_id", claims.UserID, "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	writeJSON(w, http.StatusOK, messagesResponse{Messages: toMessageResponses(msgs)})
}

// ---- helpers ----

func (h *Handler) requireAuth(w http.ResponseWriter, r *http.Request) (auth.Claims, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return auth.Claims{}, false
	}
	claims, err := h.verifier.Verify(token, time.Now().UTC())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid token")
		return auth.Claims{}, false
	}
	return claims, true
}

// sinceParam parses the optional "since" query parameter (RFC 3339) and floors
// it at the retention cutoff.
func (h *Handler) sinceParam(w http.ResponseWriter, r *http.Request) (time.Time, bool) {
	cutoff := time.Now().UTC().Add(-h.retention)

	raw := strings.TrimSpace(r.URL.Query().Get("since"))
	if raw == "" {
		return cutoff, true
	}

	since, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "since must be RFC 3339")
		return time.Time{}, false
	}
	if since.Before(cutoff) {
		since = cutoff
	}
	return since, true
}

func toMessageResponses(msgs []chat.Message) []messageResponse {
	out := make([]messageResponse, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, messageResponse{
			ID:      m.ID,
			From:    m.From,
			To:      m.To,
			Content: m.Content,
			SentAt:  m.SentAt,
		})
	}
	return out
}

func bearerToken(r *http.Request) string {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	if raw == "" {
		return ""
	}
	parts := strings.SplitN(raw, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
