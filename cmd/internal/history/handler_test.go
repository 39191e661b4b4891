package history

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"courier/cmd/internal/auth"
	"courier/cmd/internal/chat"
)

type fixture struct {
	mux     *http.ServeMux
	manager *auth.Manager
	store   *chat.MemoryLog
	index   *chat.MemoryIndex
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	manager, err := auth.NewManager(auth.Config{Secret: []byte(strings.Repeat("s", 32))})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	store := chat.NewMemoryLog()
	index := chat.NewMemoryIndex()

	h, err := NewHandler(slog.New(slog.DiscardHandler), manager, store, index, 30*24*time.Hour)
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}

	mux := http.NewServeMux()
	h.Register(mux)

	return &fixture{mux: mux, manager: manager, store: store, index: index}
}

func (f *fixture) get(t *testing.T, target, userID string) *httptest.ResponseRecorder {
	t.Helper()

	r := httptest.NewRequest(http.MethodGet, target, nil)
	if userID != "" {
		tok, _, err := f.manager.Issue(userID, userID, time.Now().UTC())
		if err != nil {
			t.Fatalf("issue token: %v", err)
		}
		r.Header.Set("Authorization", "Bearer "+tok)
	}

	w := httptest.NewRecorder()
	f.mux.ServeHTTP(w, r)
	return w
}

func (f *fixture) seedMessage(t *testing.T, id, from, to, content string, at time.Time) {
	t.Helper()
	err := f.store.Append(context.Background(), chat.Message{
		ID: id, From: from, To: to, Content: content, SentAt: at,
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
}

func TestHandler_RequiresBearerToken(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	for _, target := range []string{"/api/conversations", "/api/messages?peer=bob", "/api/sync"} {
		if w := f.get(t, target, ""); w.Code != http.StatusUnauthorized {
			t.Fatalf("%s: status=%d want=401", target, w.Code)
		}
	}

	r := httptest.NewRequest(http.MethodGet, "/api/conversations", nil)
	r.Header.Set("Authorization", "Bearer not-a-token")
	w := httptest.NewRecorder()
	f.mux.ServeHTTP(w, r)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("garbage token: status=%d want=401", w.Code)
	}
}

func TestHandler_ConversationsOrderedByRecency(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	base := time.Now().UTC()

	if err := f.index.Touch(ctx, "alice", "bob", "Bob", base); err != nil {
		t.Fatalf("touch: %v", err)
	}
	if err := f.index.Touch(ctx, "alice", "carol", "Carol", base.Add(time.Minute)); err != nil {
		t.Fatalf("touch: %v", err)
	}

	w := f.get(t, "/api/conversations", "alice")
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}

	var resp conversationsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Conversations) != 2 {
		t.Fatalf("len=%d want=2", len(resp.Conversations))
	}
	if resp.Conversations[0].PeerID != "carol" || resp.Conversations[1].PeerID != "bob" {
		t.Fatalf("order=%v", resp.Conversations)
	}
	if resp.Conversations[0].PeerDisplayName != "Carol" {
		t.Fatalf("name=%q want=Carol", resp.Conversations[0].PeerDisplayName)
	}
}

func TestHandler_ConversationsEmptyForUnknownUser(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	w := f.get(t, "/api/conversations", "nobody")
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d want=200", w.Code)
	}

	var resp conversationsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Conversations) != 0 {
		t.Fatalf("len=%d want=0", len(resp.Conversations))
	}
}

func TestHandler_MessagesFiltersByPeerAndSince(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	base := time.Now().UTC().Add(-time.Hour).Truncate(time.Second)

	f.seedMessage(t, "m1", "alice", "bob", "old", base)
	f.seedMessage(t, "m2", "bob", "alice", "reply", base.Add(10*time.Minute))
	f.seedMessage(t, "m3", "alice", "carol", "other peer", base.Add(20*time.Minute))

	target := "/api/messages?peer=bob&since=" + base.Add(5*time.Minute).Format(time.RFC3339)
	w := f.get(t, target, "alice")
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}

	var resp messagesResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Messages) != 1 || resp.Messages[0].ID != "m2" {
		t.Fatalf("messages=%v", resp.Messages)
	}
}

func TestHandler_MessagesRequiresPeer(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	if w := f.get(t, "/api/messages", "alice"); w.Code != http.StatusBadRequest {
		t.Fatalf("status=%d want=400", w.Code)
	}
}

func TestHandler_MessagesRejectsBadSince(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	if w := f.get(t, "/api/messages?peer=bob&since=yesterday", "alice"); w.Code != http.StatusBadRequest {
		t.Fatalf("status=%d want=400", w.Code)
	}
}

func TestHandler_SyncReturnsBothDirections(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	base := time.Now().UTC().Add(-time.Hour)

	f.seedMessage(t, "m1", "alice", "bob", "sent", base)
	f.seedMessage(t, "m2", "carol", "alice", "received", base.Add(time.Minute))
	f.seedMessage(t, "m3", "bob", "carol", "unrelated", base.Add(2*time.Minute))

	w := f.get(t, "/api/sync", "alice")
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}

	var resp messagesResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Messages) != 2 {
		t.Fatalf("len=%d want=2: %v", len(resp.Messages), resp.Messages)
	}
	if resp.Messages[0].ID != "m1" || resp.Messages[1].ID != "m2" {
		t.Fatalf("order=%v", resp.Messages)
	}
}

func TestHandler_MethodNotAllowed(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	r := httptest.NewRequest(http.MethodPost, "/api/conversations", nil)
	w := httptest.NewRecorder()
	f.mux.ServeHTTP(w, r)
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status=%d want=405", w.Code)
	}
}
