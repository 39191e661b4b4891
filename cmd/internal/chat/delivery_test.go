package chat

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"
)

type fakeFanout struct {
	mu        sync.Mutex
	delivered []Message
	accept    int // sessions that accept each delivery
}

func (f *fakeFanout) Deliver(_ string, m Message) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.accept > 0 {
		f.delivered = append(f.delivered, m)
	}
	return f.accept
}

type failingLog struct {
	MemoryLog
}

func (f *failingLog) Append(_ context.Context, _ Message) error {
	return errors.New("disk on fire")
}

func newTestCoordinator(t *testing.T, store MessageLog, queue *MemoryQueue, index *MemoryIndex, presence *Presence, fanout Fanout) *Coordinator {
	t.Helper()

	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	c, err := NewCoordinator(
		slog.New(slog.DiscardHandler),
		store, queue, index, presence, fanout,
		WithClock(func() time.Time { return now }),
	)
	if err != nil {
		t.Fatalf("NewCoordinator: %v", err)
	}
	return c
}

func TestCoordinator_RejectsInvalidSends(t *testing.T) {
	t.Parallel()

	store := NewMemoryLog()
	queue := NewMemoryQueue()
	index := NewMemoryIndex()
	c := newTestCoordinator(t, store, queue, index, NewPresence(), &fakeFanout{})

	cases := []struct {
		name string
		req  SendRequest
	}{
		{name: "missing to", req: SendRequest{FromID: "alice", Content: "hi"}},
		{name: "missing content", req: SendRequest{FromID: "alice", To: "bob"}},
		{name: "blank content", req: SendRequest{FromID: "alice", To: "bob", Content: "   "}},
		{name: "missing sender", req: SendRequest{To: "bob", Content: "hi"}},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			_, err := c.Send(context.Background(), tc.req)
			if !errors.Is(err, ErrValidation) {
				t.Fatalf("err=%v want ErrValidation", err)
			}
		})
	}

	// No side effects: nothing persisted, indexed, or queued.
	if got, _ := store.QueryByParticipant(context.Background(), "alice", time.Time{}); len(got) != 0 {
		t.Fatalf("validation failure persisted %d messages", len(got))
	}
	if entries, _ := index.ListFor(context.Background(), "alice"); len(entries) != 0 {
		t.Fatalf("validation failure indexed %d entries", len(entries))
	}
	if queue.Len("bob") != 0 {
		t.Fatalf("validation failure queued %d messages", queue.Len("bob"))
	}
}

func TestCoordinator_OfflineRecipientQueues(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryLog()
	queue := NewMemoryQueue()
	index := NewMemoryIndex()
	fanout := &fakeFanout{accept: 1}
	c := newTestCoordinator(t, store, queue, index, NewPresence(), fanout)

	rcpt, err := c.Send(ctx, SendRequest{
		FromID: "alice", FromName: "Alice",
		To: "bob", Content: "hi", TempID: "t1", PeerDisplayName: "Bob",
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if rcpt.TempID != "t1" || rcpt.MessageID == "" || rcpt.SentAt.IsZero() {
		t.Fatalf("bad receipt: %+v", rcpt)
	}

	// Persisted exactly once.
	got, err := store.QueryByParticipants(ctx, "alice", "bob", time.Time{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 1 || got[0].ID != rcpt.MessageID || got[0].Content != "hi" {
		t.Fatalf("log state: %+v", got)
	}

	// Queued, not delivered live.
	if len(fanout.delivered) != 0 {
		t.Fatalf("offline recipient got live delivery")
	}
	pending, err := queue.Drain(ctx, "bob")
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != rcpt.MessageID {
		t.Fatalf("queue state: %+v", pending)
	}

	// Both directions indexed with names.
	aliceList, _ := index.ListFor(ctx, "alice")
	bobList, _ := index.ListFor(ctx, "bob")
	if len(aliceList) != 1 || aliceList[0].PeerID != "bob" || aliceList[0].PeerDisplayName != "Bob" {
		t.Fatalf("alice index: %+v", aliceList)
	}
	if len(bobList) != 1 || bobList[0].PeerID != "alice" || bobList[0].PeerDisplayName != "Alice" {
		t.Fatalf("bob index: %+v", bobList)
	}
}

func TestCoordinator_OnlineRecipientDeliversLive(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	queue := NewMemoryQueue()
	presence := NewPresence()
	presence.MarkOnline("bob", "s1")

	fanout := &fakeFanout{accept: 2}
	c := newTestCoordinator(t, NewMemoryLog(), queue, NewMemoryIndex(), presence, fanout)

	rcpt, err := c.Send(ctx, SendRequest{FromID: "alice", To: "bob", Content: "hi"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	if len(fanout.delivered) != 1 || fanout.delivered[0].ID != rcpt.MessageID {
		t.Fatalf("fanout state: %+v", fanout.delivered)
	}
	// Delivered live: never queued.
	if queue.Len("bob") != 0 {
		t.Fatalf("live-delivered message was also queued")
	}
}

func TestCoordinator_FanoutZeroFallsBackToQueue(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	queue := NewMemoryQueue()
	presence := NewPresence()
	presence.MarkOnline("bob", "s1")

	// Recipient looks online but every session refuses the message.
	fanout := &fakeFanout{accept: 0}
	c := newTestCoordinator(t, NewMemoryLog(), queue, NewMemoryIndex(), presence, fanout)

	rcpt, err := c.Send(ctx, SendRequest{FromID: "alice", To: "bob", Content: "hi"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	pending, err := queue.Drain(ctx, "bob")
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != rcpt.MessageID {
		t.Fatalf("queue fallback missing: %+v", pending)
	}
}

func TestCoordinator_AppendFailureAbortsEverything(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	queue := NewMemoryQueue()
	index := NewMemoryIndex()
	fanout := &fakeFanout{accept: 1}
	presence := NewPresence()
	presence.MarkOnline("bob", "s1")

	c := newTestCoordinator(t, &failingLog{}, queue, index, presence, fanout)

	_, err := c.Send(ctx, SendRequest{FromID: "alice", To: "bob", Content: "hi"})
	if !errors.Is(err, ErrStorage) {
		t.Fatalf("err=%v want ErrStorage", err)
	}

	// A failed append prevents indexing and any delivery attempt.
	if entries, _ := index.ListFor(ctx, "alice"); len(entries) != 0 {
		t.Fatalf("index updated after failed append")
	}
	if len(fanout.delivered) != 0 {
		t.Fatalf("delivery attempted after failed append")
	}
	if queue.Len("bob") != 0 {
		t.Fatalf("queue touched after failed append")
	}
}

func TestCoordinator_ConcurrentCrossSends(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryLog()
	index := NewMemoryIndex()
	c := newTestCoordinator(t, store, NewMemoryQueue(), index, NewPresence(), &fakeFanout{})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if _, err := c.Send(ctx, SendRequest{FromID: "alice", FromName: "Alice", To: "bob", Content: "ping"}); err != nil {
				t.Errorf("a->b: %v", err)
			}
		}()
		go func() {
			defer wg.Done()
			if _, err := c.Send(ctx, SendRequest{FromID: "bob", FromName: "Bob", To: "alice", Content: "pong"}); err != nil {
				t.Errorf("b->a: %v", err)
			}
		}()
	}
	wg.Wait()

	got, err := store.QueryByParticipants(ctx, "alice", "bob", time.Time{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 100 {
		t.Fatalf("len=%d want=100", len(got))
	}

	ids := make(map[string]struct{}, len(got))
	for _, m := range got {
		if _, dup := ids[m.ID]; dup {
			t.Fatalf("duplicate message id %s", m.ID)
		}
		ids[m.ID] = struct{}{}
	}

	for _, owner := range []string{"alice", "bob"} {
		entries, _ := index.ListFor(ctx, owner)
		if len(entries) != 1 {
			t.Fatalf("owner %s has %d index entries, want 1", owner, len(entries))
		}
	}
}
