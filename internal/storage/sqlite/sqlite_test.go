package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/goodtune/streamstats/internal/storage"
	"github.com/goodtune/streamstats/internal/storage/storagetest"
)

func TestConformance(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Store {
		return openTestStore(t)
	})
}

func TestMigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "streamstats.sqlite3")

	store, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := store.Totals().AddSeconds(context.Background(), "guild-1", "user-1", 42); err != nil {
		t.Fatalf("add seconds: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	store, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = store.Close() }()

	var version int
	if err := store.db.QueryRow("SELECT MAX(version) FROM migrations").Scan(&version); err != nil {
		t.Fatalf("read migration version: %v", err)
	}
	if version != len(migrations) {
		t.Fatalf("expected version %d, got %d", len(migrations), version)
	}

	seconds, err := store.Totals().GetSeconds(context.Background(), "guild-1", "user-1")
	if err != nil {
		t.Fatalf("get seconds: %v", err)
	}
	if seconds != 42 {
		t.Fatalf("expected 42 seconds after reopen, got %v", seconds)
	}
}

func TestStartedAtRoundTripsSubsecond(t *testing.T) {
	store := openTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	start := time.Date(2024, 3, 9, 18, 30, 0, 250_000_000, time.FixedZone("AEDT", 11*3600))

	if _, err := store.Sessions().OpenSession(ctx, "guild-1", "user-1", start); err != nil {
		t.Fatalf("open session: %v", err)
	}
	record, err := store.Sessions().CloseSession(ctx, "guild-1", "user-1", start.Add(1500*time.Millisecond))
	if err != nil {
		t.Fatalf("close session: %v", err)
	}
	if record.DurationSeconds != 1.5 {
		t.Fatalf("expected 1.5s, got %v", record.DurationSeconds)
	}
	if !record.StartedAt.Equal(start) {
		t.Fatalf("expected start %v, got %v", start, record.StartedAt)
	}
}

func TestTopNTieBreaksOnMember(t *testing.T) {
	store := openTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	for _, member := range []string{"user-c", "user-a", "user-b"} {
		if err := store.Totals().SetSeconds(ctx, "guild-1", member, 60); err != nil {
			t.Fatalf("set seconds: %v", err)
		}
	}

	rows, err := store.Totals().TopN(ctx, "guild-1", 3)
	if err != nil {
		t.Fatalf("top n: %v", err)
	}
	for i, want := range []string{"user-a", "user-b", "user-c"} {
		if rows[i].Member != want {
			t.Fatalf("row %d: expected %s, got %s", i, want, rows[i].Member)
		}
	}
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "streamstats.sqlite3"))
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	return store
}
