package infra

import (
	"context"
	"encoding/binary"
	"time"

	bolt "go.etcd.io/bbolt"

	"profile-gateway/service/facts/domain"
)

// BoltStore keeps the shared store in a local bbolt file: single-instance
// deployments get a cache and limiter state that survive restarts without
// running Redis. Update transactions are serialized by bbolt, which is what
// makes CountWindow atomic here.
type BoltStore struct {
	db *bolt.DB
}

var (
	boltValues  = []byte("values")
	boltWindows = []byte("windows")
)

var _ domain.Store = (*BoltStore)(nil)

// OpenBoltStore initializes or opens the store file at path.
func OpenBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(boltValues); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(boltWindows)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *BoltStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	var out []byte
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(boltValues).Get([]byte(key))
		if v == nil || len(v) < 8 {
			return nil
		}
		// Layout: 8 bytes big endian expiresAt (ms) || raw value
		expiresAt := int64(binary.BigEndian.Uint64(v[:8]))
		if time.Now().UnixMilli() >= expiresAt {
			return nil
		}
		out = append([]byte(nil), v[8:]...)
		found = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return out, found, nil
}

func (s *BoltStore) SetEX(_ context.Context, key string, value []byte, ttl time.Duration) error {
	buf := make([]byte, 8+len(value))
	binary.BigEndian.PutUint64(buf[:8], uint64(time.Now().Add(ttl).UnixMilli()))
	copy(buf[8:], value)

	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(boltValues).Put([]byte(key), buf)
	})
}

func (s *BoltStore) PTTL(_ context.Context, key string) (time.Duration, bool, error) {
	var remaining time.Duration
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(boltValues).Get([]byte(key))
		if v == nil || len(v) < 8 {
			return nil
		}
		expiresAt := int64(binary.BigEndian.Uint64(v[:8]))
		d := expiresAt - time.Now().UnixMilli()
		if d <= 0 {
			return nil
		}
		remaining = time.Duration(d) * time.Millisecond
		found = true
		return nil
	})
	if err != nil {
		return 0, false, err
	}
	return remaining, found, nil
}

func (s *BoltStore) CountWindow(_ context.Context, key string, window time.Duration) (int64, error) {
	now := time.Now().UnixMilli()
	cutoff := now - window.Milliseconds()

	var count int64
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(boltWindows)
		prev := b.Get([]byte(key))

		// Layout: sequence of 8-byte big endian attempt timestamps (ms).
		next := make([]byte, 0, len(prev)+8)
		for i := 0; i+8 <= len(prev); i += 8 {
			t := int64(binary.BigEndian.Uint64(prev[i : i+8]))
			if t > cutoff {
				next = append(next, prev[i:i+8]...)
			}
		}
		next = binary.BigEndian.AppendUint64(next, uint64(now))

		if err := b.Put([]byte(key), next); err != nil {
			return err
		}
		count = int64(len(next) / 8)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}
