package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/goodtune/streamstats/internal/storage"
)

type totalStore struct {
	db *sql.DB
}

func (s *totalStore) AddSeconds(ctx context.Context, community, member string, delta float64) (float64, error) {
	if err := storage.ValidatePair(community, member); err != nil {
		return 0, err
	}

	var seconds float64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO totals (community_id, member_id, seconds) VALUES (?, ?, ?)
		ON CONFLICT (community_id, member_id) DO UPDATE SET seconds = totals.seconds + excluded.seconds
		RETURNING seconds
	`, community, member, storage.NonNegative(delta)).Scan(&seconds)
	if err != nil {
		return 0, storage.Fail("add seconds", err)
	}
	return seconds, nil
}

func (s *totalStore) DeductSeconds(ctx context.Context, community, member string, delta float64) (float64, error) {
	if err := storage.ValidatePair(community, member); err != nil {
		return 0, err
	}

	var seconds float64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO totals (community_id, member_id, seconds) VALUES (?, ?, 0)
		ON CONFLICT (community_id, member_id) DO UPDATE SET seconds = MAX(totals.seconds - ?, 0)
		RETURNING seconds
	`, community, member, storage.NonNegative(delta)).Scan(&seconds)
	if err != nil {
		return 0, storage.Fail("deduct seconds", err)
	}
	return seconds, nil
}

func (s *totalStore) SetSeconds(ctx context.Context, community, member string, value float64) error {
	if err := storage.ValidatePair(community, member); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO totals (community_id, member_id, seconds) VALUES (?, ?, ?)
		ON CONFLICT (community_id, member_id) DO UPDATE SET seconds = excluded.seconds
	`, community, member, storage.NonNegative(value))
	if err != nil {
		return storage.Fail("set seconds", err)
	}
	return nil
}

func (s *totalStore) GetSeconds(ctx context.Context, community, member string) (float64, error) {
	if err := storage.ValidatePair(community, member); err != nil {
		return 0, err
	}

	var seconds float64
	err := s.db.QueryRowContext(ctx,
		"SELECT seconds FROM totals WHERE community_id = ? AND member_id = ?",
		community, member,
	).Scan(&seconds)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, storage.Fail("get seconds", err)
	}
	return seconds, nil
}

func (s *totalStore) TopN(ctx context.Context, community string, n int) ([]storage.Total, error) {
	if err := storage.ValidateID("community", community); err != nil {
		return nil, err
	}
	totals := make([]storage.Total, 0)
	if n <= 0 {
		return totals, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT member_id, seconds FROM totals
		WHERE community_id = ?
		ORDER BY seconds DESC, member_id ASC
		LIMIT ?
	`, community, n)
	if err != nil {
		return nil, storage.Fail("top n", err)
	}
	defer rows.Close()

	for rows.Next() {
		total := storage.Total{Community: community}
		if err := rows.Scan(&total.Member, &total.Seconds); err != nil {
			return nil, storage.Fail("top n", err)
		}
		totals = append(totals, total)
	}
	if err := rows.Err(); err != nil {
		return nil, storage.Fail("top n", err)
	}
	return totals, nil
}

func (s *totalStore) ClearAll(ctx context.Context, community string) (int, error) {
	if err := storage.ValidateID("community", community); err != nil {
		return 0, err
	}

	res, err := s.db.ExecContext(ctx, "DELETE FROM totals WHERE community_id = ?", community)
	if err != nil {
		return 0, storage.Fail("clear all", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, storage.Fail("clear all", err)
	}
	return int(n), nil
}

func (s *totalStore) ClearUser(ctx context.Context, community, member string) error {
	if err := storage.ValidatePair(community, member); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx,
		"DELETE FROM totals WHERE community_id = ? AND member_id = ?",
		community, member,
	)
	if err != nil {
		return storage.Fail("clear user", err)
	}
	return nil
}
