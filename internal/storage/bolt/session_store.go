package bolt

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/goodtune/streamstats/internal/storage"
	"go.etcd.io/bbolt"
)

type sessionStore struct {
	db *bbolt.DB
}

func (s *sessionStore) OpenSession(ctx context.Context, community, member string, startedAt time.Time) (bool, error) {
	if err := storage.ValidatePair(community, member); err != nil {
		return false, err
	}

	opened := false
	err := s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b, err := ensureCommunityBucket(tx, bucketActive, community)
		if err != nil {
			return err
		}
		if b.Get([]byte(member)) != nil {
			return nil
		}
		opened = true
		return putValue(b, member, storage.ActiveSession{
			Community: community,
			Member:    member,
			StartedAt: startedAt.UTC(),
		})
	})
	if err != nil {
		return false, wrap("open session", err)
	}
	return opened, nil
}

func (s *sessionStore) CloseSession(ctx context.Context, community, member string, endedAt time.Time) (*storage.SessionRecord, error) {
	if err := storage.ValidatePair(community, member); err != nil {
		return nil, err
	}

	var record *storage.SessionRecord
	err := s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		active := communityBucket(tx, bucketActive, community)
		session, err := getValue[storage.ActiveSession](active, member)
		if err != nil {
			return err
		}
		if err := active.Delete([]byte(member)); err != nil {
			return err
		}

		sessions, err := ensureCommunityBucket(tx, bucketSessions, community)
		if err != nil {
			return err
		}
		seq, err := sessions.NextSequence()
		if err != nil {
			return err
		}
		record = &storage.SessionRecord{
			ID:              strconv.FormatUint(seq, 10),
			Community:       community,
			Member:          member,
			StartedAt:       session.StartedAt,
			EndedAt:         endedAt.UTC(),
			DurationSeconds: storage.Elapsed(session.StartedAt, endedAt),
		}
		data, err := marshal(record)
		if err != nil {
			return err
		}
		if err := sessions.Put(sequenceKey(seq), data); err != nil {
			return err
		}

		totals, err := ensureCommunityBucket(tx, bucketTotals, community)
		if err != nil {
			return err
		}
		total := storage.Total{Community: community, Member: member}
		if existing, err := getValue[storage.Total](totals, member); err == nil {
			total = *existing
		} else if !errors.Is(err, storage.ErrNotFound) {
			return err
		}
		total.Seconds += record.DurationSeconds
		return putValue(totals, member, total)
	})
	if err != nil {
		return nil, wrap("close session", err)
	}
	return record, nil
}

func (s *sessionStore) GetActive(ctx context.Context, community, member string) (*storage.ActiveSession, error) {
	if err := storage.ValidatePair(community, member); err != nil {
		return nil, err
	}

	var session *storage.ActiveSession
	err := s.db.View(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var err error
		session, err = getValue[storage.ActiveSession](communityBucket(tx, bucketActive, community), member)
		return err
	})
	if err != nil {
		return nil, wrap("get active", err)
	}
	return session, nil
}

func (s *sessionStore) ListActive(ctx context.Context, community string) ([]storage.ActiveSession, error) {
	if err := storage.ValidateID("community", community); err != nil {
		return nil, err
	}

	var sessions []storage.ActiveSession
	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		sessions, err = listValues[storage.ActiveSession](ctx, communityBucket(tx, bucketActive, community))
		return err
	})
	if err != nil {
		return nil, wrap("list active", err)
	}
	return sessions, nil
}

func (s *sessionStore) ListCommunitiesWithActive(ctx context.Context) ([]string, error) {
	communities := make([]string, 0)
	err := s.db.View(func(tx *bbolt.Tx) error {
		root := tx.Bucket([]byte(bucketActive))
		if root == nil {
			return nil
		}
		return root.ForEachBucket(func(name []byte) error {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// Closing the last session leaves an empty bucket behind
			if k, _ := root.Bucket(name).Cursor().First(); k != nil {
				communities = append(communities, string(name))
			}
			return nil
		})
	})
	if err != nil {
		return nil, wrap("list communities", err)
	}
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

	var records []storage.SessionRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		all, err := listValues[storage.SessionRecord](ctx, communityBucket(tx, bucketSessions, community))
		if err != nil {
			return err
		}
		records = make([]storage.SessionRecord, 0, len(all))
		for _, record := range all {
			if member == "" || record.Member == member {
				records = append(records, record)
			}
		}
		return nil
	})
	if err != nil {
		return nil, wrap("list records", err)
	}
	return records, nil
}
