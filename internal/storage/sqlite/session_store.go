package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"time"

	"github.com/goodtune/streamstats/internal/storage"
)

type sessionStore struct {
	db *sql.DB
}

func (s *sessionStore) OpenSession(ctx context.Context, community, member string, startedAt time.Time) (bool, error) {
	if err := storage.ValidatePair(community, member); err != nil {
		return false, err
	}

	res, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO active (community_id, member_id, started_at) VALUES (?, ?, ?)",
		community, member, formatTime(startedAt),
	)
	if err != nil {
		return false, storage.Fail("open session", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, storage.Fail("open session", err)
	}
	return n == 1, nil
}

func (s *sessionStore) CloseSession(ctx context.Context, community, member string, endedAt time.Time) (*storage.SessionRecord, error) {
	if err := storage.ValidatePair(community, member); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storage.Fail("close session", err)
	}
	defer func() { _ = tx.Rollback() }()

	var raw string
	err = tx.QueryRowContext(ctx,
		"DELETE FROM active WHERE community_id = ? AND member_id = ? RETURNING started_at",
		community, member,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, storage.Fail("close session", err)
	}

	startedAt, err := parseTime(raw)
	if err != nil {
		return nil, storage.Fail("close session", err)
	}

	record := &storage.SessionRecord{
		Community:       community,
		Member:          member,
		StartedAt:       startedAt,
		EndedAt:         endedAt.UTC(),
		DurationSeconds: storage.Elapsed(startedAt, endedAt),
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO sessions (community_id, member_id, started_at, ended_at, duration_seconds)
		VALUES (?, ?, ?, ?, ?)
	`, community, member, raw, formatTime(endedAt), record.DurationSeconds)
	if err != nil {
		return nil, storage.Fail("close session", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, storage.Fail("close session", err)
	}
	record.ID = strconv.FormatInt(id, 10)

	_, err = tx.ExecContext(ctx, `
		INSERT INTO totals (community_id, member_id, seconds) VALUES (?, ?, ?)
		ON CONFLICT (community_id, member_id) DO UPDATE SET seconds = totals.seconds + excluded.seconds
	`, community, member, record.DurationSeconds)
	if err != nil {
		return nil, storage.Fail("close session", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, storage.Fail("close session", err)
	}
	return record, nil
}

func (s *sessionStore) GetActive(ctx context.Context, community, member string) (*storage.ActiveSession, error) {
	if err := storage.ValidatePair(community, member); err != nil {
		return nil, err
	}

	var raw string
	err := s.db.QueryRowContext(ctx,
		"SELECT started_at FROM active WHERE community_id = ? AND member_id = ?",
		community, member,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, storage.Fail("get active", err)
	}

	startedAt, err := parseTime(raw)
	if err != nil {
		return nil, storage.Fail("get active", err)
	}
	return &storage.ActiveSession{Community: community, Member: member, StartedAt: startedAt}, nil
}

func (s *sessionStore) ListActive(ctx context.Context, community string) ([]storage.ActiveSession, error) {
	if err := storage.ValidateID("community", community); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT member_id, started_at FROM active WHERE community_id = ? ORDER BY member_id",
		community,
	)
	if err != nil {
		return nil, storage.Fail("list active", err)
	}
	defer rows.Close()

	sessions := make([]storage.ActiveSession, 0)
	for rows.Next() {
		var member, raw string
		if err := rows.Scan(&member, &raw); err != nil {
			return nil, storage.Fail("list active", err)
		}
		startedAt, err := parseTime(raw)
		if err != nil {
			return nil, storage.Fail("list active", err)
		}
		sessions = append(sessions, storage.ActiveSession{Community: community, Member: member, StartedAt: startedAt})
	}
	if err := rows.Err(); err != nil {
		return nil, storage.Fail("list active", err)
	}
	return sessions, nil
}

func (s *sessionStore) ListCommunitiesWithActive(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT DISTINCT community_id FROM active ORDER BY community_id")
	if err != nil {
		return nil, storage.Fail("list communities", err)
	}
	defer rows.Close()

	communities := make([]string, 0)
	for rows.Next() {
		var community string
		if err := rows.Scan(&community); err != nil {
			return nil, storage.Fail("list communities", err)
		}
		communities = append(communities, community)
	}
	if err := rows.Err(); err != nil {
		return nil, storage.Fail("list communities", err)
	}
	return communities, nil
}

func (s *sessionStore) ListRecords(ctx context.Context, community, member string) ([]storage.SessionRecord, error) {
	if err := storage.ValidateID("community", community); err != nil {
		return nil, err
	}

	query := "SELECT id, member_id, started_at, ended_at, duration_seconds FROM sessions WHERE community_id = ?"
	args := []any{community}
	if member != "" {
		if err := storage.ValidateID("member", member); err != nil {
			return nil, err
		}
		query += " AND member_id = ?"
		args = append(args, member)
	}
	query += " ORDER BY id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storage.Fail("list records", err)
	}
	defer rows.Close()

	records := make([]storage.SessionRecord, 0)
	for rows.Next() {
		var (
			id             int64
			started, ended string
			record         = storage.SessionRecord{Community: community}
		)
		if err := rows.Scan(&id, &record.Member, &started, &ended, &record.DurationSeconds); err != nil {
			return nil, storage.Fail("list records", err)
		}
		record.ID = strconv.FormatInt(id, 10)
		if record.StartedAt, err = parseTime(started); err != nil {
			return nil, storage.Fail("list records", err)
		}
		if record.EndedAt, err = parseTime(ended); err != nil {
			return nil, storage.Fail("list records", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, storage.Fail("list records", err)
	}
	return records, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
