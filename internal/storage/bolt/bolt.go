package bolt

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/goodtune/streamstats/internal/storage"
	"go.etcd.io/bbolt"
)

// Each top-level bucket holds one nested bucket per community.
const (
	bucketTotals   = "totals"
	bucketActive   = "active"
	bucketSessions = "sessions"
)

// Store implements the storage.Store interface using bbolt.
type Store struct {
	db *bbolt.DB
}

// Open opens a BoltDB-backed store.
func Open(path string) (*Store, error) {
	if err := ensureDir(path); err != nil {
		return nil, err
	}

	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}

	store := &Store{db: db}
	if err := store.ensureBuckets(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." {
		return nil
	}
	return storage.EnsureDir(dir)
}

func (s *Store) ensureBuckets() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{bucketTotals, bucketActive, bucketSessions} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
}

// Close closes the underlying store database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Totals returns the total store.
func (s *Store) Totals() storage.TotalStore { return &totalStore{db: s.db} }

// Sessions returns the session store.
func (s *Store) Sessions() storage.SessionStore { return &sessionStore{db: s.db} }

func marshal(value any) ([]byte, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("marshal value: %w", err)
	}
	return data, nil
}

func unmarshal(data []byte, out any) error {
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("unmarshal value: %w", err)
	}
	return nil
}

// communityBucket returns the nested bucket of a community, or nil if the
// community has never been written to.
func communityBucket(tx *bbolt.Tx, root, community string) *bbolt.Bucket {
	b := tx.Bucket([]byte(root))
	if b == nil {
		return nil
	}
	return b.Bucket([]byte(community))
}

func ensureCommunityBucket(tx *bbolt.Tx, root, community string) (*bbolt.Bucket, error) {
	b := tx.Bucket([]byte(root))
	if b == nil {
		return nil, fmt.Errorf("bucket missing: %s", root)
	}
	return b.CreateBucketIfNotExists([]byte(community))
}

// sequenceKey encodes a record sequence so that byte order matches insertion order.
func sequenceKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}

func getValue[T any](b *bbolt.Bucket, key string) (*T, error) {
	if b == nil {
		return nil, storage.ErrNotFound
	}
	value := b.Get([]byte(key))
	if value == nil {
		return nil, storage.ErrNotFound
	}
	var result T
	if err := unmarshal(value, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func putValue(b *bbolt.Bucket, key string, value any) error {
	data, err := marshal(value)
	if err != nil {
		return err
	}
	return b.Put([]byte(key), data)
}

func listValues[T any](ctx context.Context, b *bbolt.Bucket) ([]T, error) {
	items := make([]T, 0)
	if b == nil {
		return items, nil
	}
	err := b.ForEach(func(_, v []byte) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var item T
		if err := unmarshal(v, &item); err != nil {
			return err
		}
		items = append(items, item)
		return nil
	})
	return items, err
}

// wrap converts backend failures to storage.ErrStorage. Not-found passes through.
func wrap(op string, err error) error {
	if err == nil || errors.Is(err, storage.ErrNotFound) {
		return err
	}
	return storage.Fail(op, err)
}
