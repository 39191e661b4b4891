package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Fanout routes a message live to every session in the recipient's delivery
// channel. It reports how many sessions accepted the message; zero means the
// message reached nobody and must fall back to the undelivered queue.
type Fanout interface {
	Deliver(recipientID string, m Message) int
}

// SendRequest describes one outbound message from an authenticated session.
type SendRequest struct {
	FromID   string
	FromName string
	To       string
	Content  string

	// TempID is the sender's client-local correlation id, echoed in the receipt.
	TempID string

	// PeerDisplayName optionally names the recipient for the sender's
	// conversation list. Empty never clobbers a known name.
	PeerDisplayName string
}

// Receipt acknowledges durable acceptance of a send. It confirms persistence,
// not delivery.
type Receipt struct {
	TempID    string
	MessageID string
	SentAt    time.Time
}

// Coordinator orchestrates every outbound message:
// persist -> index both directions -> attempt live delivery -> fall back to
// queueing -> acknowledge sender.
//
// No retries happen here. A failed append is fatal to that send and nothing
// else runs; a failed live delivery degrades to queueing because persistence
// already succeeded.
type Coordinator struct {
	log      *slog.Logger
	store    MessageLog
	queue    PendingQueue
	index    ConversationIndex
	presence *Presence
	fanout   Fanout

	now func() time.Time
}

// CoordinatorOption configures Coordinator behavior.
type CoordinatorOption func(*Coordinator)

// WithClock overrides the coordinator's time source (tests).
func WithClock(now func() time.Time) CoordinatorOption {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

// NewCoordinator constructs a Coordinator over the given core components.
func NewCoordinator(
	log *slog.Logger,
	store MessageLog,
	queue PendingQueue,
	index ConversationIndex,
	presence *Presence,
	fanout Fanout,
	opts ...CoordinatorOption,
) (*Coordinator, error) {
	if store == nil || queue == nil || index == nil || presence == nil || fanout == nil {
		return nil, errors.New("chat: nil coordinator dependency")
	}
	if log == nil {
		log = slog.Default()
	}

	c := &Coordinator{
		log:      log,
		store:    store,
		queue:    queue,
		index:    index,
		presence: presence,
		fanout:   fanout,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// Send runs the delivery pipeline for one message and returns the sender's
// receipt. The receipt is produced regardless of whether delivery was live or
// queued; that distinction stays internal.
func (c *Coordinator) Send(ctx context.Context, req SendRequest) (Receipt, error) {
	to := strings.TrimSpace(req.To)
	content := req.Content
	if to == "" || strings.TrimSpace(content) == "" {
		return Receipt{}, fmt.Errorf("%w: to and content are required", ErrValidation)
	}
	if req.FromID == "" {
		return Receipt{}, fmt.Errorf("%w: missing sender", ErrValidation)
	}
	if err := ctx.Err(); err != nil {
		return Receipt{}, err
	}

	now := c.now()
	id, err := NewMessageID(now)
	if err != nil {
		return Receipt{}, fmt.Errorf("%w: message id: %v", ErrStorage, err)
	}

	m := Message{
		ID:      id,
		From:    req.FromID,
		To:      to,
		Content: content,
		SentAt:  now,
	}

	// Persist first. A failed append aborts the send before any dependent step.
	if err := c.store.Append(ctx, m); err != nil {
		c.log.Error("delivery.append.fail", "from", m.From, "to", m.To, "err", err)
		return Receipt{}, fmt.Errorf("%w: append: %v", ErrStorage, err)
	}

	// Index both directions so each party's conversation list moves the other
	// to the head.
	if err := c.index.Touch(ctx, m.From, m.To, req.PeerDisplayName, now); err != nil {
		c.log.Error("delivery.index.fail", "owner", m.From, "peer", m.To, "err", err)
	}
	if err := c.index.Touch(ctx, m.To, m.From, req.FromName, now); err != nil {
		c.log.Error("delivery.index.fail", "owner", m.To, "peer", m.From, "err", err)
	}

	delivered := 0
	if c.presence.IsOnline(to) {
		delivered = c.fanout.Deliver(to, m)
	}

	if delivered > 0 {
		messagesTotal.WithLabelValues(outcomeLive).Inc()
		c.log.Debug("delivery.live", "id", m.ID, "to", m.To, "sessions", delivered)
	} else {
		// Offline recipient, or every live session refused the message: queue
		// it so the next connection drains it. Persistence already succeeded,
		// so a queue failure degrades the send but does not void the receipt.
		if err := c.queue.Enqueue(ctx, to, m); err != nil {
			c.log.Error("delivery.queue.fail", "id", m.ID, "to", m.To, "err", err)
		} else {
			messagesTotal.WithLabelValues(outcomeQueued).Inc()
			c.log.Debug("delivery.queue", "id", m.ID, "to", m.To)
		}
	}

	return Receipt{TempID: req.TempID, MessageID: m.ID, SentAt: now}, nil
}
