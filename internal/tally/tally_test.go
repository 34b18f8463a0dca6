package tally

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/goodtune/streamstats/internal/storage"
	"github.com/goodtune/streamstats/internal/storage/bolt"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func newService(t *testing.T) (*Service, storage.Store) {
	t.Helper()
	store, err := bolt.Open(filepath.Join(t.TempDir(), "streamstats.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return NewService(store.Totals(), zerolog.Nop()), store
}

func TestLookupAbsentIsZero(t *testing.T) {
	svc, _ := newService(t)

	seconds, err := svc.Lookup(context.Background(), "guild-1", "user-1")
	require.NoError(t, err)
	require.Zero(t, seconds)
}

func TestAddThenDeduct(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	total, err := svc.AddHours(ctx, "guild-1", "user-1", 3)
	require.NoError(t, err)
	require.Equal(t, 10800.0, total)

	total, err = svc.DeductHours(ctx, "guild-1", "user-1", 2)
	require.NoError(t, err)
	require.Equal(t, 3600.0, total)

	total, err = svc.DeductHours(ctx, "guild-1", "user-1", 5)
	require.NoError(t, err)
	require.Zero(t, total)
}

func TestSetHours(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		hours float64
		want  float64
	}{
		{name: "fractional", hours: 1.5, want: 5400},
		{name: "zero", hours: 0, want: 0},
		{name: "negative clamps", hours: -2, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			total, err := svc.SetHours(ctx, "guild-1", "user-1", tt.hours)
			require.NoError(t, err)
			require.Equal(t, tt.want, total)

			got, err := svc.Lookup(ctx, "guild-1", "user-1")
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestLeaderboardRanks(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	for member, hours := range map[string]float64{"user-1": 1, "user-2": 3, "user-3": 2} {
		_, err := svc.SetHours(ctx, "guild-1", member, hours)
		require.NoError(t, err)
	}

	entries, err := svc.Leaderboard(ctx, "guild-1", 2)
	require.NoError(t, err)
	require.Equal(t, []Entry{
		{Rank: 1, Member: "user-2", Seconds: 10800},
		{Rank: 2, Member: "user-3", Seconds: 7200},
	}, entries)

	empty, err := svc.Leaderboard(ctx, "guild-2", 5)
	require.NoError(t, err)
	require.Empty(t, empty)
}

func TestResetLeavesOpenSessions(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()
	start := time.Date(2024, 3, 9, 18, 30, 0, 0, time.UTC)

	_, err := svc.AddHours(ctx, "guild-1", "user-1", 1)
	require.NoError(t, err)
	_, err = svc.AddHours(ctx, "guild-1", "user-2", 1)
	require.NoError(t, err)
	_, err = store.Sessions().OpenSession(ctx, "guild-1", "user-1", start)
	require.NoError(t, err)

	require.NoError(t, svc.ResetUser(ctx, "guild-1", "user-2"))
	n, err := svc.ResetAll(ctx, "guild-1")
	require.NoError(t, err)
	require.Equal(t, 1, n)

	_, err = store.Sessions().GetActive(ctx, "guild-1", "user-1")
	require.NoError(t, err)

	_, err = store.Sessions().CloseSession(ctx, "guild-1", "user-1", start.Add(30*time.Second))
	require.NoError(t, err)
	seconds, err := svc.Lookup(ctx, "guild-1", "user-1")
	require.NoError(t, err)
	require.Equal(t, 30.0, seconds)
}

func TestInvalidIdentifier(t *testing.T) {
	svc, _ := newService(t)

	_, err := svc.AddHours(context.Background(), "", "user-1", 1)
	require.ErrorIs(t, err, storage.ErrInvalidID)
}
