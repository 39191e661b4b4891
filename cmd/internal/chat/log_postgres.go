package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresLog is a MessageLog backed by PostgreSQL.
//
// Ownership model:
//   - PostgresLog does NOT own the pgx pool. The caller must close the pool.
//   - Close() is therefore a no-op.
//
// Atomicity:
//   - Append is a single INSERT.
//   - PurgeOlderThan is a single DELETE; MVCC keeps concurrent readers on a
//     consistent snapshot, so they never observe a torn log.
type PostgresLog struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures the schema used by the Postgres-backed stores.
type PostgresOption func(interface{ setSchema(string) error }) error

// WithSchema sets the DB schema (default: "courier"). The schema name is
// validated and safely quoted in queries.
func WithSchema(schema string) PostgresOption {
	return func(s interface{ setSchema(string) error }) error {
		return s.setSchema(schema)
	}
}

func (l *PostgresLog) setSchema(schema string) error {
	schema = strings.TrimSpace(schema)
	if schema == "" {
		return errors.New("chat: empty schema")
	}
	if !isValidPGIdent(schema) {
		return errors.New("chat: invalid schema identifier")
	}
	l.schema = schema
	return nil
}

// NewPostgresLog constructs a Postgres-backed MessageLog.
func NewPostgresLog(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresLog, error) {
	l := &PostgresLog{pool: pool, schema: defaultSchema}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(l); err != nil {
			return nil, err
		}
	}
	if l.pool == nil {
		return nil, errors.New("chat: nil pool")
	}
	return l, nil
}

// Close is a no-op because the pool is owned by the caller.
func (l *PostgresLog) Close() error { return nil }

// Append inserts one message row.
func (l *PostgresLog) Append(ctx context.Context, m Message) error {
	if l == nil || l.pool == nil {
		return errors.New("chat: nil log")
	}
	if m.ID == "" || m.From == "" || m.To == "" {
		return errors.New("chat: invalid message")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	messages := pgIdent(l.schema, "messages")

	_, err := l.pool.Exec(ctx,
		`INSERT INTO `+messages+` (id, sender, recipient, content, sent_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		m.ID, m.From, m.To, m.Content, m.SentAt,
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// QueryByParticipants returns the pair's messages at or after since, ordered
// by sent_at ascending.
func (l *PostgresLog) QueryByParticipants(ctx context.Context, userA, userB string, since time.Time) ([]Message, error) {
	if l == nil || l.pool == nil {
		return nil, errors.New("chat: nil log")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	messages := pgIdent(l.schema, "messages")

	rows, err := l.pool.Query(ctx,
		`SELECT id, sender, recipient, content, sent_at
		   FROM `+messages+`
		  WHERE ((sender = $1 AND recipient = $2) OR (sender = $2 AND recipient = $1))
		    AND sent_at >= $3
		  ORDER BY sent_at ASC`,
		userA, userB, since,
	)
	if err != nil {
		return nil, err
	}
	return scanMessages(rows)
}

// QueryByParticipant returns all messages addressed to or from userID at or
// after since, ordered by sent_at ascending.
func (l *PostgresLog) QueryByParticipant(ctx context.Context, userID string, since time.Time) ([]Message, error) {
	if l == nil || l.pool == nil {
		return nil, errors.New("chat: nil log")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	messages := pgIdent(l.schema, "messages")

	rows, err := l.pool.Query(ctx,
		`SELECT id, sender, recipient, content, sent_at
		   FROM `+messages+`
		  WHERE (sender = $1 OR recipient = $1) AND sent_at >= $2
		  ORDER BY sent_at ASC`,
		userID, since,
	)
	if err != nil {
		return nil, err
	}
	return scanMessages(rows)
}

// PurgeOlderThan deletes all rows with sent_at before cutoff.
func (l *PostgresLog) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	if l == nil || l.pool == nil {
		return 0, errors.New("chat: nil log")
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	messages := pgIdent(l.schema, "messages")

	tag, err := l.pool.Exec(ctx,
		`DELETE FROM `+messages+` WHERE sent_at < $1`, cutoff,
	)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func scanMessages(rows pgx.Rows) ([]Message, error) {
	defer rows.Close()

	out := make([]Message, 0, 32)
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.From, &m.To, &m.Content, &m.SentAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
