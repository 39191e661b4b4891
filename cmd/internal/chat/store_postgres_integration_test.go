package chat

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Integration tests are enabled when COURIER_DATABASE_URL is set.
// This keeps local "go test ./..." fast & deterministic without requiring Postgres.

func mustOpenTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	url := strings.TrimSpace(os.Getenv("COURIER_DATABASE_URL"))
	if url == "" {
		t.Skip("COURIER_DATABASE_URL not set; skipping Postgres integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		t.Fatalf("open pool: %v", err)
	}
	return pool
}

func mustCreateTestSchema(t *testing.T, pool *pgxpool.Pool) string {
	t.Helper()

	id, err := NewMessageID(time.Now().UTC())
	if err != nil {
		t.Fatalf("schema id: %v", err)
	}
	schema := "courier_test_" + strings.ToLower(id[len(id)-10:])

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := pool.Exec(ctx, `CREATE SCHEMA `+pgSchemaIdent(schema)); err != nil {
		t.Fatalf("create schema: %v", err)
	}

	ddl := []string{
		`CREATE TABLE ` + pgIdent(schema, "messages") + ` (
			id       text PRIMARY KEY,
			sender   text NOT NULL,
			recipient text NOT NULL,
			content  text NOT NULL,
			sent_at  timestamptz NOT NULL
		)`,
		`CREATE INDEX ON ` + pgIdent(schema, "messages") + ` (sender, recipient, sent_at)`,
		`CREATE TABLE ` + pgIdent(schema, "pending") + ` (
			position   bigserial PRIMARY KEY,
			recipient  text NOT NULL,
			message_id text NOT NULL,
			sender     text NOT NULL,
			content    text NOT NULL,
			sent_at    timestamptz NOT NULL
		)`,
		`CREATE INDEX ON ` + pgIdent(schema, "pending") + ` (recipient, position)`,
		`CREATE TABLE ` + pgIdent(schema, "conversations") + ` (
			owner            text NOT NULL,
			peer             text NOT NULL,
			peer_name        text NOT NULL DEFAULT '',
			last_activity_at timestamptz NOT NULL,
			PRIMARY KEY (owner, peer)
		)`,
	}
	for _, stmt := range ddl {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			t.Fatalf("apply ddl: %v", err)
		}
	}

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_, _ = pool.Exec(ctx, `DROP SCHEMA IF EXISTS `+pgSchemaIdent(schema)+` CASCADE`)
	})

	return schema
}

func TestPostgresLog_AppendQueryPurge(t *testing.T) {
	t.Parallel()

	pool := mustOpenTestPool(t)
	defer pool.Close()
	schema := mustCreateTestSchema(t, pool)

	log, err := NewPostgresLog(pool, WithSchema(schema))
	if err != nil {
		t.Fatalf("NewPostgresLog: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	base := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	msgs := []Message{
		mkMsg(t, "alice", "bob", "one", base),
		mkMsg(t, "bob", "alice", "two", base.Add(time.Second)),
		mkMsg(t, "alice", "carol", "other", base.Add(2*time.Second)),
	}
	for _, m := range msgs {
		if err := log.Append(ctx, m); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	got, err := log.QueryByParticipants(ctx, "bob", "alice", time.Time{})
	if err != nil {
		t.Fatalf("query pair: %v", err)
	}
	if len(got) != 2 || got[0].Content != "one" || got[1].Content != "two" {
		t.Fatalf("pair query: %+v", got)
	}

	got, err = log.QueryByParticipant(ctx, "alice", time.Time{})
	if err != nil {
		t.Fatalf("query one-sided: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("one-sided len=%d want=3", len(got))
	}

	removed, err := log.PurgeOlderThan(ctx, base.Add(time.Second))
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed=%d want=1", removed)
	}
}

func TestPostgresQueue_FIFOAndDrainRace(t *testing.T) {
	t.Parallel()

	pool := mustOpenTestPool(t)
	defer pool.Close()
	schema := mustCreateTestSchema(t, pool)

	q, err := NewPostgresQueue(pool, WithSchema(schema))
	if err != nil {
		t.Fatalf("NewPostgresQueue: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	at := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 10; i++ {
		if err := q.Enqueue(ctx, "bob", mkMsg(t, "alice", "bob", fmt.Sprintf("m%d", i), at)); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	got, err := q.Drain(ctx, "bob")
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	for i, m := range got {
		if want := fmt.Sprintf("m%d", i); m.Content != want {
			t.Fatalf("got[%d].Content=%q want=%q", i, m.Content, want)
		}
	}

	// Concurrent enqueues and drains must neither lose nor duplicate messages.
	const total = 100
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < total; i++ {
			if err := q.Enqueue(ctx, "carol", mkMsg(t, "alice", "carol", fmt.Sprintf("c%d", i), at)); err != nil {
				t.Errorf("enqueue: %v", err)
				return
			}
		}
	}()

	seen := make(map[string]int)
	for len(seen) < total {
		batch, err := q.Drain(ctx, "carol")
		if err != nil {
			t.Fatalf("drain: %v", err)
		}
		for _, m := range batch {
			seen[m.Content]++
		}
		if ctx.Err() != nil {
			t.Fatalf("timed out with %d/%d drained", len(seen), total)
		}
	}
	wg.Wait()

	for i := 0; i < total; i++ {
		if n := seen[fmt.Sprintf("c%d", i)]; n != 1 {
			t.Fatalf("message c%d drained %d times", i, n)
		}
	}
}

func TestPostgresIndex_UpsertSemantics(t *testing.T) {
	t.Parallel()

	pool := mustOpenTestPool(t)
	defer pool.Close()
	schema := mustCreateTestSchema(t, pool)

	x, err := NewPostgresIndex(pool, WithSchema(schema))
	if err != nil {
		t.Fatalf("NewPostgresIndex: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	t1 := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Minute)

	if err := x.Touch(ctx, "alice", "bob", "Bob", t1); err != nil {
		t.Fatalf("touch: %v", err)
	}
	if err := x.Touch(ctx, "alice", "carol", "Carol", t1.Add(time.Second)); err != nil {
		t.Fatalf("touch: %v", err)
	}
	// Refresh with empty name: moves to head, keeps the known name.
	if err := x.Touch(ctx, "alice", "bob", "", t2); err != nil {
		t.Fatalf("touch: %v", err)
	}

	got, err := x.ListFor(ctx, "alice")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len=%d want=2", len(got))
	}
	if got[0].PeerID != "bob" || got[0].PeerDisplayName != "Bob" || !got[0].LastActivityAt.Equal(t2) {
		t.Fatalf("head=%+v want bob/Bob@t2", got[0])
	}
}
