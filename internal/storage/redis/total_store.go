package redis

import (
	"context"
	"errors"
	"strconv"

	"github.com/goodtune/streamstats/internal/storage"
	"github.com/redis/go-redis/v9"
)

// totalStore keeps one sorted set per community so that ranking is a
// single ZREVRANGE. Ties are ordered by member, descending, as Redis does.
type totalStore struct {
	client *redis.Client
	keys   keys
}

func (s *totalStore) AddSeconds(ctx context.Context, community, member string, delta float64) (float64, error) {
	if err := storage.ValidatePair(community, member); err != nil {
		return 0, err
	}

	v, err := s.client.ZIncrBy(ctx, s.keys.totals(community), storage.NonNegative(delta), member).Result()
	if err != nil {
		return 0, storage.Fail("add seconds", err)
	}
	return v, nil
}

func (s *totalStore) DeductSeconds(ctx context.Context, community, member string, delta float64) (float64, error) {
	if err := storage.ValidatePair(community, member); err != nil {
		return 0, err
	}
	if delta < 0 {
		delta = 0
	}

	res, err := s.client.Eval(ctx, deductSecondsScript,
		[]string{s.keys.totals(community)},
		member, formatSeconds(delta),
	).Text()
	if err != nil {
		return 0, storage.Fail("deduct seconds", err)
	}

	v, err := strconv.ParseFloat(res, 64)
	if err != nil {
		return 0, storage.Fail("deduct seconds", err)
	}
	return v, nil
}

func (s *totalStore) SetSeconds(ctx context.Context, community, member string, value float64) error {
	if err := storage.ValidatePair(community, member); err != nil {
		return err
	}

	err := s.client.ZAdd(ctx, s.keys.totals(community), redis.Z{
		Score:  storage.NonNegative(value),
		Member: member,
	}).Err()
	if err != nil {
		return storage.Fail("set seconds", err)
	}
	return nil
}

func (s *totalStore) GetSeconds(ctx context.Context, community, member string) (float64, error) {
	if err := storage.ValidatePair(community, member); err != nil {
		return 0, err
	}

	v, err := s.client.ZScore(ctx, s.keys.totals(community), member).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, storage.Fail("get seconds", err)
	}
	return v, nil
}

func (s *totalStore) TopN(ctx context.Context, community string, n int) ([]storage.Total, error) {
	if err := storage.ValidateID("community", community); err != nil {
		return nil, err
	}
	if n <= 0 {
		return []storage.Total{}, nil
	}

	zs, err := s.client.ZRevRangeWithScores(ctx, s.keys.totals(community), 0, int64(n-1)).Result()
	if err != nil {
		return nil, storage.Fail("top n", err)
	}

	totals := make([]storage.Total, 0, len(zs))
	for _, z := range zs {
		member, _ := z.Member.(string)
		totals = append(totals, storage.Total{
			Community: community,
			Member:    member,
			Seconds:   z.Score,
		})
	}
	return totals, nil
}

func (s *totalStore) ClearAll(ctx context.Context, community string) (int, error) {
	if err := storage.ValidateID("community", community); err != nil {
		return 0, err
	}

	n, err := s.client.Eval(ctx, clearAllScript, []string{s.keys.totals(community)}).Int()
	if err != nil {
		return 0, storage.Fail("clear all", err)
	}
	return n, nil
}

func (s *totalStore) ClearUser(ctx context.Context, community, member string) error {
	if err := storage.ValidatePair(community, member); err != nil {
		return err
	}

	if err := s.client.ZRem(ctx, s.keys.totals(community), member).Err(); err != nil {
		return storage.Fail("clear user", err)
	}
	return nil
}
