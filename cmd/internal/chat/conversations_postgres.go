package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresIndex is a ConversationIndex backed by PostgreSQL.
//
// The upsert-to-head is a single INSERT ... ON CONFLICT DO UPDATE on the
// (owner, peer) primary key; row-level locking makes concurrent touches on
// the same owner's list atomic. Head ordering is computed at read time by
// last_activity_at DESC.
type PostgresIndex struct {
	pool   *pgxpool.Pool
	schema string
}

func (x *PostgresIndex) setSchema(schema string) error {
	schema = strings.TrimSpace(schema)
	if schema == "" {
		return errors.New("chat: empty schema")
	}
	if !isValidPGIdent(schema) {
		return errors.New("chat: invalid schema identifier")
	}
	x.schema = schema
	return nil
}

// NewPostgresIndex constructs a Postgres-backed ConversationIndex.
func NewPostgresIndex(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresIndex, error) {
	x := &PostgresIndex{pool: pool, schema: defaultSchema}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(x); err != nil {
			return nil, err
		}
	}
	if x.pool == nil {
		return nil, errors.New("chat: nil pool")
	}
	return x, nil
}

// Touch upserts the peer with the refreshed timestamp. NULLIF/COALESCE keeps
// a previously known display name when the new one is empty.
func (x *PostgresIndex) Touch(ctx context.Context, ownerID, peerID, peerDisplayName string, at time.Time) error {
	if x == nil || x.pool == nil {
		return errors.New("chat: nil index")
	}
	if ownerID == "" || peerID == "" {
		return errors.New("chat: missing owner or peer")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	conversations := pgIdent(x.schema, "conversations")

	_, err := x.pool.Exec(ctx,
		`INSERT INTO `+conversations+` (owner, peer, peer_name, last_activity_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (owner, peer) DO UPDATE
		    SET peer_name        = COALESCE(NULLIF(EXCLUDED.peer_name, ''), `+conversations+`.peer_name),
		        last_activity_at = EXCLUDED.last_activity_at`,
		ownerID, peerID, peerDisplayName, at,
	)
	if err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}
	return nil
}

// ListFor returns the owner's conversation list most-recent-first.
func (x *PostgresIndex) ListFor(ctx context.Context, ownerID string) ([]ConversationEntry, error) {
	if x == nil || x.pool == nil {
		return nil, errors.New("chat: nil index")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	conversations := pgIdent(x.schema, "conversations")

	rows, err := x.pool.Query(ctx,
		`SELECT peer, peer_name, last_activity_at
		   FROM `+conversations+`
		  WHERE owner = $1
		  ORDER BY last_activity_at DESC`,
		ownerID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]ConversationEntry, 0, 16)
	for rows.Next() {
		var e ConversationEntry
		if err := rows.Scan(&e.PeerID, &e.PeerDisplayName, &e.LastActivityAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
