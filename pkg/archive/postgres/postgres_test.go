package postgres_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/lugha/pkg/archive"
	"github.com/MrWong99/lugha/pkg/archive/postgres"
)

// testDSN returns the test database DSN from the environment, or skips the
// test if LUGHA_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("LUGHA_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("LUGHA_TEST_POSTGRES_DSN not set; skipping PostgreSQL integration tests")
	}
	return dsn
}

// newTestStore opens a Store on a clean schema.
func newTestStore(t *testing.T) *postgres.Store {
	t.Helper()
	dsn := testDSN(t)
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	for _, stmt := range []string{
		"DROP TABLE IF EXISTS conversation_turns CASCADE",
		"DROP TABLE IF EXISTS goose_db_version CASCADE",
	} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			t.Fatalf("drop schema: %v", err)
		}
	}
	pool.Close()

	store, err := postgres.Open(ctx, dsn)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(store.Close)
	return store
}

func TestStore_AppendRecent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	turns := []archive.Turn{
		{Seq: 0, Role: archive.RoleUser, Text: "Amosi", StartedAt: now, FinalizedAt: now.Add(time.Second)},
		{Seq: 1, Role: archive.RoleModel, Text: "Amosi! Ichamegei?", StartedAt: now, FinalizedAt: now.Add(time.Second)},
		{Seq: 2, Role: archive.RoleUser, Text: "Achamegei", StartedAt: now.Add(2 * time.Second), FinalizedAt: now.Add(3 * time.Second)},
	}
	if err := store.Append(ctx, "sess-1", turns); err != nil {
		t.Fatalf("Append: %v", err)
	}
	// Duplicate append is a no-op.
	if err := store.Append(ctx, "sess-1", turns[:1]); err != nil {
		t.Fatalf("Append duplicate: %v", err)
	}

	all, err := store.Recent(ctx, "sess-1", 0)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("got %d turns, want 3", len(all))
	}
	for i, got := range all {
		if got.Seq != i || got.Text != turns[i].Text || got.Role != turns[i].Role {
			t.Errorf("turn %d = %+v, want %+v", i, got, turns[i])
		}
		if !got.FinalizedAt.Equal(turns[i].FinalizedAt) {
			t.Errorf("turn %d finalized_at = %v, want %v", i, got.FinalizedAt, turns[i].FinalizedAt)
		}
	}

	last, err := store.Recent(ctx, "sess-1", 2)
	if err != nil {
		t.Fatalf("Recent(2): %v", err)
	}
	if len(last) != 2 || last[0].Seq != 1 || last[1].Seq != 2 {
		t.Errorf("Recent(2) = %+v, want seq 1,2", last)
	}

	if err := store.Ping(ctx); err != nil {
		t.Errorf("Ping: %v", err)
	}
}

func TestStore_MigrateIsIdempotent(t *testing.T) {
	newTestStore(t)

	// A second Open runs the migrations again against the same schema.
	again, err := postgres.Open(context.Background(), testDSN(t))
	if err != nil {
		t.Fatalf("second Open: %v", err)
	}
	again.Close()
}

func TestOpen_InvalidDSN(t *testing.T) {
	t.Parallel()

	if _, err := postgres.Open(context.Background(), "postgres://%%invalid"); err == nil {
		t.Fatal("expected error for malformed DSN")
	}
}
