package chat

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresQueue is a PendingQueue backed by PostgreSQL.
//
// FIFO order comes from a bigserial position column. Drain is a single
// DELETE ... RETURNING statement: statement-level atomicity guarantees a
// racing enqueue either commits before the drain snapshot (and is returned)
// or after (and stays queued for the next drain).
type PostgresQueue struct {
	pool   *pgxpool.Pool
	schema string
}

func (q *PostgresQueue) setSchema(schema string) error {
	schema = strings.TrimSpace(schema)
	if schema == "" {
		return errors.New("chat: empty schema")
	}
	if !isValidPGIdent(schema) {
		return errors.New("chat: invalid schema identifier")
	}
	q.schema = schema
	return nil
}

// NewPostgresQueue constructs a Postgres-backed PendingQueue.
func NewPostgresQueue(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresQueue, error) {
	q := &PostgresQueue{pool: pool, schema: defaultSchema}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(q); err != nil {
			return nil, err
		}
	}
	if q.pool == nil {
		return nil, errors.New("chat: nil pool")
	}
	return q, nil
}

// Enqueue appends to the recipient's FIFO list.
func (q *PostgresQueue) Enqueue(ctx context.Context, recipientID string, m Message) error {
	if q == nil || q.pool == nil {
		return errors.New("chat: nil queue")
	}
	if recipientID == "" || m.ID == "" {
		return errors.New("chat: invalid pending delivery")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	pending := pgIdent(q.schema, "pending")

	_, err := q.pool.Exec(ctx,
		`INSERT INTO `+pending+` (recipient, message_id, sender, content, sent_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		recipientID, m.ID, m.From, m.Content, m.SentAt,
	)
	if err != nil {
		return fmt.Errorf("enqueue pending: %w", err)
	}
	return nil
}

// Drain atomically returns and clears the recipient's list in enqueue order.
func (q *PostgresQueue) Drain(ctx context.Context, recipientID string) ([]Message, error) {
	if q == nil || q.pool == nil {
		return nil, errors.New("chat: nil queue")
	}
	if recipientID == "" {
		return nil, errors.New("chat: missing recipient")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pending := pgIdent(q.schema, "pending")

	rows, err := q.pool.Query(ctx,
		`DELETE FROM `+pending+`
		  WHERE recipient = $1
		 RETURNING message_id, sender, content, sent_at, position`,
		recipientID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	type positioned struct {
		m   Message
		pos int64
	}

	drained := make([]positioned, 0, 16)
	for rows.Next() {
		var p positioned
		p.m.To = recipientID
		if err := rows.Scan(&p.m.ID, &p.m.From, &p.m.Content, &p.m.SentAt, &p.pos); err != nil {
			return nil, err
		}
		drained = append(drained, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// DELETE ... RETURNING does not guarantee row order; restore FIFO by position.
	sort.SliceStable(drained, func(i, j int) bool { return drained[i].pos < drained[j].pos })

	out := make([]Message, 0, len(drained))
	for _, p := range drained {
		out = append(out, p.m)
	}
	return out, nil
}
