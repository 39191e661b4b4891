package realtime

import (
	"log/slog"
	"testing"
	"time"

	v1 "courier/shared/contracts/chat/v1"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func testEnvelope(typ string) v1.Envelope {
	return newEnvelope(typ, nil, time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC))
}

func TestChannel_BroadcastReachesAllSessions(t *testing.T) {
	t.Parallel()

	ch := NewChannel(testLogger(), "alice")
	a := NewClient("alice", "Alice", "s1", 8)
	b := NewClient("alice", "Alice", "s2", 8)
	ch.Join(a)
	ch.Join(b)

	if got := ch.Broadcast(testEnvelope(v1.TypeIncomingMessage)); got != 2 {
		t.Fatalf("accepted=%d want=2", got)
	}

	for _, cl := range []*Client{a, b} {
		select {
		case env := <-cl.Send:
			if env.Type != v1.TypeIncomingMessage {
				t.Fatalf("type=%q want=%q", env.Type, v1.TypeIncomingMessage)
			}
		default:
			t.Fatalf("session %s received nothing", cl.SessionID)
		}
	}
}

func TestChannel_BroadcastSkipsClosedClient(t *testing.T) {
	t.Parallel()

	ch := NewChannel(testLogger(), "alice")
	open := NewClient("alice", "Alice", "s1", 8)
	closed := NewClient("alice", "Alice", "s2", 8)
	ch.Join(open)
	ch.Join(closed)
	closed.Close()

	if got := ch.Broadcast(testEnvelope(v1.TypeIncomingMessage)); got != 1 {
		t.Fatalf("accepted=%d want=1", got)
	}
}

func TestChannel_BroadcastDropsUnderBackpressure(t *testing.T) {
	t.Parallel()

	ch := NewChannel(testLogger(), "alice")
	// Queue size is clamped up by NewClient, so fill it to capacity first.
	cl := NewClient("alice", "Alice", "s1", 0)
	ch.Join(cl)

	for i := 0; i < cap(cl.Send); i++ {
		cl.Send <- testEnvelope(v1.TypeIncomingMessage)
	}

	if got := ch.Broadcast(testEnvelope(v1.TypeIncomingMessage)); got != 0 {
		t.Fatalf("accepted=%d want=0 (queue full must drop, not block)", got)
	}
}

func TestChannel_LeaveReportsEmptyAndClosesClient(t *testing.T) {
	t.Parallel()

	ch := NewChannel(testLogger(), "alice")
	a := NewClient("alice", "Alice", "s1", 8)
	b := NewClient("alice", "Alice", "s2", 8)
	ch.Join(a)
	ch.Join(b)

	if empty := ch.Leave("s1"); empty {
		t.Fatalf("channel reported empty with a session remaining")
	}
	select {
	case <-a.Done():
	default:
		t.Fatalf("leave did not close the client")
	}

	if empty := ch.Leave("s2"); !empty {
		t.Fatalf("channel not empty after last leave")
	}
	if !ch.Empty() {
		t.Fatalf("Empty()=false want=true")
	}
}
