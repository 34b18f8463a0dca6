package bolt

import (
	"context"
	"errors"
	"sort"

	"github.com/goodtune/streamstats/internal/storage"
	"go.etcd.io/bbolt"
)

type totalStore struct {
	db *bbolt.DB
}

// adjust applies fn to the current total inside one write transaction.
func (s *totalStore) adjust(ctx context.Context, op, community, member string, fn func(float64) float64) (float64, error) {
	if err := storage.ValidatePair(community, member); err != nil {
		return 0, err
	}

	var result float64
	err := s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b, err := ensureCommunityBucket(tx, bucketTotals, community)
		if err != nil {
			return err
		}
		total := storage.Total{Community: community, Member: member}
		if existing, err := getValue[storage.Total](b, member); err == nil {
			total = *existing
		} else if !errors.Is(err, storage.ErrNotFound) {
			return err
		}
		total.Seconds = storage.NonNegative(fn(total.Seconds))
		result = total.Seconds
		return putValue(b, member, total)
	})
	return result, wrap(op, err)
}

func (s *totalStore) AddSeconds(ctx context.Context, community, member string, delta float64) (float64, error) {
	delta = storage.NonNegative(delta)
	return s.adjust(ctx, "add seconds", community, member, func(v float64) float64 { return v + delta })
}

func (s *totalStore) DeductSeconds(ctx context.Context, community, member string, delta float64) (float64, error) {
	delta = storage.NonNegative(delta)
	return s.adjust(ctx, "deduct seconds", community, member, func(v float64) float64 { return v - delta })
}

func (s *totalStore) SetSeconds(ctx context.Context, community, member string, value float64) error {
	_, err := s.adjust(ctx, "set seconds", community, member, func(float64) float64 { return value })
	return err
}

func (s *totalStore) GetSeconds(ctx context.Context, community, member string) (float64, error) {
	if err := storage.ValidatePair(community, member); err != nil {
		return 0, err
	}

	var seconds float64
	err := s.db.View(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		total, err := getValue[storage.Total](communityBucket(tx, bucketTotals, community), member)
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		seconds = total.Seconds
		return nil
	})
	return seconds, wrap("get seconds", err)
}

func (s *totalStore) TopN(ctx context.Context, community string, n int) ([]storage.Total, error) {
	if err := storage.ValidateID("community", community); err != nil {
		return nil, err
	}
	if n <= 0 {
		return []storage.Total{}, nil
	}

	var totals []storage.Total
	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		totals, err = listValues[storage.Total](ctx, communityBucket(tx, bucketTotals, community))
		return err
	})
	if err != nil {
		return nil, wrap("top n", err)
	}

	sort.SliceStable(totals, func(i, j int) bool {
		if totals[i].Seconds != totals[j].Seconds {
			return totals[i].Seconds > totals[j].Seconds
		}
		return totals[i].Member < totals[j].Member
	})
	if len(totals) > n {
		totals = totals[:n]
	}
	return totals, nil
}

func (s *totalStore) ClearAll(ctx context.Context, community string) (int, error) {
	if err := storage.ValidateID("community", community); err != nil {
		return 0, err
	}

	removed := 0
	err := s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b := communityBucket(tx, bucketTotals, community)
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			removed++
		}
		return tx.Bucket([]byte(bucketTotals)).DeleteBucket([]byte(community))
	})
	if err != nil {
		return 0, wrap("clear all", err)
	}
	return removed, nil
}

func (s *totalStore) ClearUser(ctx context.Context, community, member string) error {
	if err := storage.ValidatePair(community, member); err != nil {
		return err
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b := communityBucket(tx, bucketTotals, community)
		if b == nil {
			return nil
		}
		return b.Delete([]byte(member))
	})
	return wrap("clear user", err)
}
