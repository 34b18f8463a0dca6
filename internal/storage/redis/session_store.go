package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/goodtune/streamstats/internal/storage"
	"github.com/redis/go-redis/v9"
)

type sessionStore struct {
	client *redis.Client
	keys   keys
}

func (s *sessionStore) OpenSession(ctx context.Context, community, member string, startedAt time.Time) (bool, error) {
	if err := storage.ValidatePair(community, member); err != nil {
		return false, err
	}

	opened, err := s.client.Eval(ctx, openSessionScript,
		[]string{
			s.keys.active(community, member),
			s.keys.activeIndex(community),
			s.keys.communities(),
		},
		community, member,
		startedAt.UTC().Format(time.RFC3339Nano),
		startedAt.UnixMicro(),
	).Int()
	if err != nil {
		return false, storage.Fail("open session", err)
	}
	return opened == 1, nil
}

func (s *sessionStore) CloseSession(ctx context.Context, community, member string, endedAt time.Time) (*storage.SessionRecord, error) {
	if err := storage.ValidatePair(community, member); err != nil {
		return nil, err
	}

	res, err := s.client.Eval(ctx, closeSessionScript,
		[]string{
			s.keys.active(community, member),
			s.keys.activeIndex(community),
			s.keys.communities(),
			s.keys.sessions(community),
			s.keys.totals(community),
		},
		community, member,
		endedAt.UTC().Format(time.RFC3339Nano),
		endedAt.UnixMicro(),
	).StringSlice()
	if errors.Is(err, redis.Nil) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, storage.Fail("close session", err)
	}
	if len(res) != 3 {
		return nil, storage.Fail("close session", fmt.Errorf("unexpected script reply of %d values", len(res)))
	}

	startedAt, err := time.Parse(time.RFC3339Nano, res[1])
	if err != nil {
		return nil, storage.Fail("close session", err)
	}
	duration, err := strconv.ParseFloat(res[2], 64)
	if err != nil {
		return nil, storage.Fail("close session", err)
	}

	return &storage.SessionRecord{
		ID:              res[0],
		Community:       community,
		Member:          member,
		StartedAt:       startedAt,
		EndedAt:         endedAt.UTC(),
		DurationSeconds: duration,
	}, nil
}

func (s *sessionStore) GetActive(ctx context.Context, community, member string) (*storage.ActiveSession, error) {
	if err := storage.ValidatePair(community, member); err != nil {
		return nil, err
	}

	data, err := s.client.HGetAll(ctx, s.keys.active(community, member)).Result()
	if err != nil {
		return nil, storage.Fail("get active", err)
	}

	session, err := parseActiveSession(data)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, storage.Fail("get active", err)
	}
	return session, nil
}

func (s *sessionStore) ListActive(ctx context.Context, community string) ([]storage.ActiveSession, error) {
	if err := storage.ValidateID("community", community); err != nil {
		return nil, err
	}

	members, err := s.client.SMembers(ctx, s.keys.activeIndex(community)).Result()
	if err != nil {
		return nil, storage.Fail("list active", err)
	}
	sort.Strings(members)

	sessions := make([]storage.ActiveSession, 0, len(members))
	for _, member := range members {
		data, err := s.client.HGetAll(ctx, s.keys.active(community, member)).Result()
		if err != nil {
			return nil, storage.Fail("list active", err)
		}

		session, err := parseActiveSession(data)
		if errors.Is(err, storage.ErrNotFound) {
			// Closed between SMEMBERS and HGETALL
			continue
		}
		if err != nil {
			return nil, storage.Fail("list active", err)
		}
		sessions = append(sessions, *session)
	}
	return sessions, nil
}

func (s *sessionStore) ListCommunitiesWithActive(ctx context.Context) ([]string, error) {
	communities, err := s.client.SMembers(ctx, s.keys.communities()).Result()
	if err != nil {
		return nil, storage.Fail("list communities", err)
	}
	sort.Strings(communities)
	return communities, nil
}

func (s *sessionStore) ListRecords(ctx context.Context, community, member string) ([]storage.SessionRecord, error) {
	if err := storage.ValidateID("community", community); err != nil {
		return nil, err
	}
	if member != "" {
		if err := storage.ValidateID("member", member); err != nil {
			return nil, err
		}
	}

	entries, err := s.client.XRange(ctx, s.keys.sessions(community), "-", "+").Result()
	if err != nil {
		return nil, storage.Fail("list records", err)
	}

	records := make([]storage.SessionRecord, 0, len(entries))
	for _, entry := range entries {
		record, err := parseSessionRecord(entry.ID, entry.Values)
		if err != nil {
			return nil, storage.Fail("list records", err)
		}
		if member != "" && record.Member != member {
			continue
		}
		records = append(records, *record)
	}
	return records, nil
}
