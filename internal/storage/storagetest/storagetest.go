// Package storagetest is a conformance suite shared by every storage backend.
package storagetest

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/goodtune/streamstats/internal/storage"
)

// Opener returns a fresh, empty store. The suite closes it.
type Opener func(t *testing.T) storage.Store

var base = time.Date(2024, 3, 9, 18, 30, 0, 0, time.UTC)

// Run executes the suite against stores produced by open.
func Run(t *testing.T, open Opener) {
	t.Helper()

	cases := []struct {
		name string
		fn   func(t *testing.T, s storage.Store)
	}{
		{"GetSecondsAbsent", testGetSecondsAbsent},
		{"AddSeconds", testAddSeconds},
		{"SetSecondsClamps", testSetSecondsClamps},
		{"DeductSecondsFloors", testDeductSecondsFloors},
		{"TopNOrdering", testTopNOrdering},
		{"ClearUser", testClearUser},
		{"ClearAllKeepsActive", testClearAllKeepsActive},
		{"OpenSessionFirstWins", testOpenSessionFirstWins},
		{"CloseSession", testCloseSession},
		{"CloseSessionNothingOpen", testCloseSessionNothingOpen},
		{"CloseSessionClampsNegative", testCloseSessionClampsNegative},
		{"ListActive", testListActive},
		{"ListCommunitiesWithActive", testListCommunitiesWithActive},
		{"ListRecords", testListRecords},
		{"ConcurrentClose", testConcurrentClose},
		{"ConcurrentOpen", testConcurrentOpen},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := open(t)
			defer func() { _ = s.Close() }()
			tc.fn(t, s)
		})
	}
}

func testGetSecondsAbsent(t *testing.T, s storage.Store) {
	got, err := s.Totals().GetSeconds(context.Background(), "guild-1", "user-1")
	if err != nil {
		t.Fatalf("get seconds: %v", err)
	}
	if got != 0 {
		t.Fatalf("expected 0 for absent total, got %v", got)
	}
}

func testAddSeconds(t *testing.T, s storage.Store) {
	ctx := context.Background()
	totals := s.Totals()

	total, err := totals.AddSeconds(ctx, "guild-1", "user-1", 60)
	if err != nil {
		t.Fatalf("add seconds: %v", err)
	}
	if total != 60 {
		t.Fatalf("expected new total 60, got %v", total)
	}

	total, err = totals.AddSeconds(ctx, "guild-1", "user-1", 30.5)
	if err != nil {
		t.Fatalf("second add seconds: %v", err)
	}
	if total != 90.5 {
		t.Fatalf("expected new total 90.5, got %v", total)
	}

	// Negative deltas are clamped to zero, never subtracted.
	total, err = totals.AddSeconds(ctx, "guild-1", "user-1", -1e9)
	if err != nil {
		t.Fatalf("negative add seconds: %v", err)
	}
	if total != 90.5 {
		t.Fatalf("expected total unchanged at 90.5, got %v", total)
	}

	got, err := totals.GetSeconds(ctx, "guild-1", "user-1")
	if err != nil {
		t.Fatalf("get seconds: %v", err)
	}
	if got != 90.5 {
		t.Fatalf("expected stored 90.5, got %v", got)
	}
}

func testSetSecondsClamps(t *testing.T, s storage.Store) {
	ctx := context.Background()
	totals := s.Totals()

	if err := totals.SetSeconds(ctx, "guild-1", "user-1", 500); err != nil {
		t.Fatalf("set seconds: %v", err)
	}
	if err := totals.SetSeconds(ctx, "guild-1", "user-1", 200); err != nil {
		t.Fatalf("overwrite seconds: %v", err)
	}
	assertSeconds(t, totals, "guild-1", "user-1", 200)

	if err := totals.SetSeconds(ctx, "guild-1", "user-1", -50); err != nil {
		t.Fatalf("set negative seconds: %v", err)
	}
	assertSeconds(t, totals, "guild-1", "user-1", 0)
}

func testDeductSecondsFloors(t *testing.T, s storage.Store) {
	ctx := context.Background()
	totals := s.Totals()

	if _, err := totals.AddSeconds(ctx, "guild-1", "user-1", 3*3600); err != nil {
		t.Fatalf("add seconds: %v", err)
	}
	total, err := totals.DeductSeconds(ctx, "guild-1", "user-1", 2*3600)
	if err != nil {
		t.Fatalf("deduct seconds: %v", err)
	}
	if total != 3600 {
		t.Fatalf("expected 3600 after deducting 2h from 3h, got %v", total)
	}

	total, err = totals.DeductSeconds(ctx, "guild-1", "user-1", 2*3600)
	if err != nil {
		t.Fatalf("deduct past zero: %v", err)
	}
	if total != 0 {
		t.Fatalf("expected floor at 0, got %v", total)
	}
	assertSeconds(t, totals, "guild-1", "user-1", 0)

	// Deducting from an absent total creates it at zero.
	total, err = totals.DeductSeconds(ctx, "guild-1", "user-2", 10)
	if err != nil {
		t.Fatalf("deduct absent: %v", err)
	}
	if total != 0 {
		t.Fatalf("expected 0 for absent total, got %v", total)
	}

	// A negative deduction is clamped to zero rather than crediting.
	if _, err := totals.AddSeconds(ctx, "guild-1", "user-3", 100); err != nil {
		t.Fatalf("add seconds: %v", err)
	}
	total, err = totals.DeductSeconds(ctx, "guild-1", "user-3", -100)
	if err != nil {
		t.Fatalf("negative deduct: %v", err)
	}
	if total != 100 {
		t.Fatalf("expected 100 after negative deduct, got %v", total)
	}
}

func testTopNOrdering(t *testing.T, s storage.Store) {
	ctx := context.Background()
	totals := s.Totals()

	seed := map[string]float64{
		"user-a": 10,
		"user-b": 500,
		"user-c": 42,
		"user-d": 7200,
		"user-e": 42,
	}
	for member, secs := range seed {
		if err := totals.SetSeconds(ctx, "guild-1", member, secs); err != nil {
			t.Fatalf("set seconds: %v", err)
		}
	}
	if err := totals.SetSeconds(ctx, "guild-2", "user-z", 1e6); err != nil {
		t.Fatalf("set seconds other guild: %v", err)
	}

	tests := []struct {
		n       int
		wantLen int
	}{
		{n: 0, wantLen: 0},
		{n: -3, wantLen: 0},
		{n: 1, wantLen: 1},
		{n: 3, wantLen: 3},
		{n: 5, wantLen: 5},
		{n: 25, wantLen: 5},
	}

	for _, tt := range tests {
		rows, err := totals.TopN(ctx, "guild-1", tt.n)
		if err != nil {
			t.Fatalf("top %d: %v", tt.n, err)
		}
		if len(rows) != tt.wantLen {
			t.Fatalf("top %d: expected %d rows, got %d", tt.n, tt.wantLen, len(rows))
		}
		if !sort.SliceIsSorted(rows, func(i, j int) bool { return rows[i].Seconds > rows[j].Seconds }) {
			t.Fatalf("top %d: rows not sorted descending: %+v", tt.n, rows)
		}
		for _, row := range rows {
			if row.Community != "guild-1" {
				t.Fatalf("top %d: leaked row from %s", tt.n, row.Community)
			}
			if row.Seconds != seed[row.Member] {
				t.Fatalf("top %d: %s expected %v, got %v", tt.n, row.Member, seed[row.Member], row.Seconds)
			}
		}
	}

	rows, err := totals.TopN(ctx, "guild-1", 2)
	if err != nil {
		t.Fatalf("top 2: %v", err)
	}
	if rows[0].Member != "user-d" || rows[1].Member != "user-b" {
		t.Fatalf("expected user-d then user-b, got %+v", rows)
	}
}

func testClearUser(t *testing.T, s storage.Store) {
	ctx := context.Background()
	totals := s.Totals()

	_, _ = totals.AddSeconds(ctx, "guild-1", "user-1", 100)
	_, _ = totals.AddSeconds(ctx, "guild-1", "user-2", 200)

	if err := totals.ClearUser(ctx, "guild-1", "user-1"); err != nil {
		t.Fatalf("clear user: %v", err)
	}
	assertSeconds(t, totals, "guild-1", "user-1", 0)
	assertSeconds(t, totals, "guild-1", "user-2", 200)

	// Clearing an absent user is not an error.
	if err := totals.ClearUser(ctx, "guild-1", "user-404"); err != nil {
		t.Fatalf("clear absent user: %v", err)
	}

	rows, err := totals.TopN(ctx, "guild-1", 10)
	if err != nil {
		t.Fatalf("top n: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected cleared row to be removed, got %+v", rows)
	}
}

func testClearAllKeepsActive(t *testing.T, s storage.Store) {
	ctx := context.Background()
	totals := s.Totals()
	sessions := s.Sessions()

	_, _ = totals.AddSeconds(ctx, "guild-1", "user-1", 100)
	_, _ = totals.AddSeconds(ctx, "guild-1", "user-2", 200)
	_, _ = totals.AddSeconds(ctx, "guild-2", "user-1", 300)

	if _, err := sessions.OpenSession(ctx, "guild-1", "user-1", base); err != nil {
		t.Fatalf("open session: %v", err)
	}

	removed, err := totals.ClearAll(ctx, "guild-1")
	if err != nil {
		t.Fatalf("clear all: %v", err)
	}
	if removed != 2 {
		t.Fatalf("expected 2 removed totals, got %d", removed)
	}

	assertSeconds(t, totals, "guild-1", "user-1", 0)
	assertSeconds(t, totals, "guild-1", "user-2", 0)
	assertSeconds(t, totals, "guild-2", "user-1", 300)

	active, err := sessions.GetActive(ctx, "guild-1", "user-1")
	if err != nil {
		t.Fatalf("open session should survive reset: %v", err)
	}
	if !active.StartedAt.Equal(base) {
		t.Fatalf("expected started_at %v, got %v", base, active.StartedAt)
	}

	if _, err := sessions.CloseSession(ctx, "guild-1", "user-1", base.Add(90*time.Second)); err != nil {
		t.Fatalf("close session after reset: %v", err)
	}
	assertSeconds(t, totals, "guild-1", "user-1", 90)
}

func testOpenSessionFirstWins(t *testing.T, s storage.Store) {
	ctx := context.Background()
	sessions := s.Sessions()

	opened, err := sessions.OpenSession(ctx, "guild-1", "user-1", base)
	if err != nil {
		t.Fatalf("open session: %v", err)
	}
	if !opened {
		t.Fatal("expected first open to create a session")
	}

	opened, err = sessions.OpenSession(ctx, "guild-1", "user-1", base.Add(time.Minute))
	if err != nil {
		t.Fatalf("duplicate open session: %v", err)
	}
	if opened {
		t.Fatal("expected duplicate open to be a no-op")
	}

	active, err := sessions.GetActive(ctx, "guild-1", "user-1")
	if err != nil {
		t.Fatalf("get active: %v", err)
	}
	if !active.StartedAt.Equal(base) {
		t.Fatalf("expected first start %v to win, got %v", base, active.StartedAt)
	}
	if active.Community != "guild-1" || active.Member != "user-1" {
		t.Fatalf("unexpected active session key: %+v", active)
	}

	list, err := sessions.ListActive(ctx, "guild-1")
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected exactly one active session, got %d", len(list))
	}
}

func testCloseSession(t *testing.T, s storage.Store) {
	ctx := context.Background()
	sessions := s.Sessions()

	if _, err := sessions.OpenSession(ctx, "guild-1", "user-1", base); err != nil {
		t.Fatalf("open session: %v", err)
	}

	end := base.Add(125 * time.Second)
	record, err := sessions.CloseSession(ctx, "guild-1", "user-1", end)
	if err != nil {
		t.Fatalf("close session: %v", err)
	}
	if record.DurationSeconds != 125 {
		t.Fatalf("expected duration 125, got %v", record.DurationSeconds)
	}
	if !record.StartedAt.Equal(base) || !record.EndedAt.Equal(end) {
		t.Fatalf("unexpected record interval: %+v", record)
	}
	if record.ID == "" {
		t.Fatal("expected record id")
	}

	if _, err := sessions.GetActive(ctx, "guild-1", "user-1"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected active session to be gone, got %v", err)
	}
	assertSeconds(t, s.Totals(), "guild-1", "user-1", 125)

	records, err := sessions.ListRecords(ctx, "guild-1", "user-1")
	if err != nil {
		t.Fatalf("list records: %v", err)
	}
	if len(records) != 1 || records[0].DurationSeconds != 125 {
		t.Fatalf("expected one record of 125s, got %+v", records)
	}
}

func testCloseSessionNothingOpen(t *testing.T, s storage.Store) {
	ctx := context.Background()
	sessions := s.Sessions()

	if _, err := sessions.CloseSession(ctx, "guild-1", "user-1", base); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if _, err := sessions.OpenSession(ctx, "guild-1", "user-1", base); err != nil {
		t.Fatalf("open session: %v", err)
	}
	if _, err := sessions.CloseSession(ctx, "guild-1", "user-1", base.Add(10*time.Second)); err != nil {
		t.Fatalf("close session: %v", err)
	}
	if _, err := sessions.CloseSession(ctx, "guild-1", "user-1", base.Add(20*time.Second)); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected second close to find nothing, got %v", err)
	}

	assertSeconds(t, s.Totals(), "guild-1", "user-1", 10)
	records, err := sessions.ListRecords(ctx, "guild-1", "user-1")
	if err != nil {
		t.Fatalf("list records: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected one record, got %d", len(records))
	}
}

func testCloseSessionClampsNegative(t *testing.T, s storage.Store) {
	ctx := context.Background()
	sessions := s.Sessions()

	if _, err := sessions.OpenSession(ctx, "guild-1", "user-1", base); err != nil {
		t.Fatalf("open session: %v", err)
	}
	record, err := sessions.CloseSession(ctx, "guild-1", "user-1", base.Add(-time.Hour))
	if err != nil {
		t.Fatalf("close session: %v", err)
	}
	if record.DurationSeconds != 0 {
		t.Fatalf("expected clamped duration 0, got %v", record.DurationSeconds)
	}
	assertSeconds(t, s.Totals(), "guild-1", "user-1", 0)
}

func testListActive(t *testing.T, s storage.Store) {
	ctx := context.Background()
	sessions := s.Sessions()

	for i, member := range []string{"user-1", "user-2", "user-3"} {
		if _, err := sessions.OpenSession(ctx, "guild-1", member, base.Add(time.Duration(i)*time.Second)); err != nil {
			t.Fatalf("open session: %v", err)
		}
	}
	if _, err := sessions.OpenSession(ctx, "guild-2", "user-9", base); err != nil {
		t.Fatalf("open session: %v", err)
	}
	if _, err := sessions.CloseSession(ctx, "guild-1", "user-2", base.Add(time.Minute)); err != nil {
		t.Fatalf("close session: %v", err)
	}

	list, err := sessions.ListActive(ctx, "guild-1")
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	members := make([]string, 0, len(list))
	for _, a := range list {
		members = append(members, a.Member)
	}
	sort.Strings(members)
	if len(members) != 2 || members[0] != "user-1" || members[1] != "user-3" {
		t.Fatalf("expected user-1 and user-3 active, got %v", members)
	}

	empty, err := sessions.ListActive(ctx, "guild-404")
	if err != nil {
		t.Fatalf("list active empty: %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("expected no active sessions, got %d", len(empty))
	}
}

func testListCommunitiesWithActive(t *testing.T, s storage.Store) {
	ctx := context.Background()
	sessions := s.Sessions()

	none, err := sessions.ListCommunitiesWithActive(ctx)
	if err != nil {
		t.Fatalf("list communities: %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("expected no communities, got %v", none)
	}

	for _, community := range []string{"guild-2", "guild-1", "guild-3"} {
		if _, err := sessions.OpenSession(ctx, community, "user-1", base); err != nil {
			t.Fatalf("open session: %v", err)
		}
	}
	if _, err := sessions.CloseSession(ctx, "guild-3", "user-1", base.Add(time.Second)); err != nil {
		t.Fatalf("close session: %v", err)
	}

	got, err := sessions.ListCommunitiesWithActive(ctx)
	if err != nil {
		t.Fatalf("list communities: %v", err)
	}
	if len(got) != 2 || got[0] != "guild-1" || got[1] != "guild-2" {
		t.Fatalf("expected [guild-1 guild-2], got %v", got)
	}
}

func testListRecords(t *testing.T, s storage.Store) {
	ctx := context.Background()
	sessions := s.Sessions()

	start := base
	for i := 0; i < 3; i++ {
		member := "user-1"
		if i == 1 {
			member = "user-2"
		}
		if _, err := sessions.OpenSession(ctx, "guild-1", member, start); err != nil {
			t.Fatalf("open session: %v", err)
		}
		if _, err := sessions.CloseSession(ctx, "guild-1", member, start.Add(time.Duration(i+1)*time.Minute)); err != nil {
			t.Fatalf("close session: %v", err)
		}
		start = start.Add(time.Hour)
	}

	all, err := sessions.ListRecords(ctx, "guild-1", "")
	if err != nil {
		t.Fatalf("list all records: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 records, got %d", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i].EndedAt.Before(all[i-1].EndedAt) {
			t.Fatalf("records not oldest first: %+v", all)
		}
	}

	mine, err := sessions.ListRecords(ctx, "guild-1", "user-1")
	if err != nil {
		t.Fatalf("list member records: %v", err)
	}
	if len(mine) != 2 {
		t.Fatalf("expected 2 records for user-1, got %d", len(mine))
	}
	if mine[0].DurationSeconds != 60 || mine[1].DurationSeconds != 180 {
		t.Fatalf("unexpected durations: %+v", mine)
	}
}

func testConcurrentClose(t *testing.T, s storage.Store) {
	ctx := context.Background()
	sessions := s.Sessions()

	if _, err := sessions.OpenSession(ctx, "guild-1", "user-1", base); err != nil {
		t.Fatalf("open session: %v", err)
	}

	const workers = 16
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		closed int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := sessions.CloseSession(ctx, "guild-1", "user-1", base.Add(time.Minute))
			if err == nil {
				mu.Lock()
				closed++
				mu.Unlock()
				return
			}
			if !errors.Is(err, storage.ErrNotFound) {
				t.Errorf("close session: %v", err)
			}
		}()
	}
	wg.Wait()

	if closed != 1 {
		t.Fatalf("expected exactly one close to succeed, got %d", closed)
	}
	assertSeconds(t, s.Totals(), "guild-1", "user-1", 60)
	records, err := sessions.ListRecords(ctx, "guild-1", "user-1")
	if err != nil {
		t.Fatalf("list records: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected one record, got %d", len(records))
	}
}

func testConcurrentOpen(t *testing.T, s storage.Store) {
	ctx := context.Background()
	sessions := s.Sessions()

	const workers = 16
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		opened int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, err := sessions.OpenSession(ctx, "guild-1", "user-1", base.Add(time.Duration(i)*time.Second))
			if err != nil {
				t.Errorf("open session: %v", err)
				return
			}
			if ok {
				mu.Lock()
				opened++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if opened != 1 {
		t.Fatalf("expected exactly one open to succeed, got %d", opened)
	}
	list, err := sessions.ListActive(ctx, "guild-1")
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected one active session, got %d", len(list))
	}
}

func assertSeconds(t *testing.T, totals storage.TotalStore, community, member string, want float64) {
	t.Helper()

	got, err := totals.GetSeconds(context.Background(), community, member)
	if err != nil {
		t.Fatalf("get seconds %s/%s: %v", community, member, err)
	}
	if got != want {
		t.Fatalf("%s/%s: expected %v seconds, got %v", community, member, want, got)
	}
}
