package knowledge

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"
)

var boltBucketTargets = []byte("targets")

// BoltStore persists records in a bbolt database, one key per target.
// bbolt's single-writer transactions give Update its read-modify-write
// exclusion for free.
type BoltStore struct {
	db *bolt.DB
}

func NewBoltStore(path string) (*BoltStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, ErrInvalidInput
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(boltBucketTargets)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Get(ctx context.Context, targetID string) (Record, error) {
	var record Record
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(boltBucketTargets).Get([]byte(targetID))
		if raw == nil {
			return ErrNotFound
		}
		return json.Unmarshal(raw, &record)
	})
	return record, err
}

func (s *BoltStore) Update(ctx context.Context, targetID string, mutate func(*Record) error) (Record, error) {
	if strings.TrimSpace(targetID) == "" {
		return Record{}, ErrInvalidInput
	}
	var out Record
	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(boltBucketTargets)
		record := emptyRecord()
		if raw := bucket.Get([]byte(targetID)); raw != nil {
			if err := json.Unmarshal(raw, &record); err != nil {
				return err
			}
		}
		if err := mutate(&record); err != nil {
			return err
		}
		raw, err := json.Marshal(record)
		if err != nil {
			return err
		}
		if err := bucket.Put([]byte(targetID), raw); err != nil {
			return err
		}
		out = record
		return nil
	})
	return out, err
}

func (s *BoltStore) Delete(ctx context.Context, targetID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(boltBucketTargets)
		if bucket.Get([]byte(targetID)) == nil {
			return ErrNotFound
		}
		return bucket.Delete([]byte(targetID))
	})
}

func (s *BoltStore) List(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(boltBucketTargets).ForEach(func(k, v []byte) error {
			ids = append(ids, string(k))
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *BoltStore) Close() error { return s.db.Close() }
