package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/boltdb/bolt"

	"objectos/internal/apierr"
	"objectos/internal/storage"
)

// BucketName is the bolt bucket holding audit entries, keyed by entry id.
// The audit_<unixMillis>_ prefix keeps bucket order chronological.
const BucketName = "audit"

// BoltStore persists audit entries in the shared bolt file.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore creates a bolt-backed store on an opened database.
func NewBoltStore(db *storage.DB) (*BoltStore, error) {
	if err := db.EnsureBucket(BucketName); err != nil {
		return nil, fmt.Errorf("creating audit bucket: %w", err)
	}
	return &BoltStore{db: db.Bolt()}, nil
}

// Append implements Store.
func (s *BoltStore) Append(_ context.Context, entry *Entry) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("failed to marshal audit entry: %w", err)
		}
		return tx.Bucket([]byte(BucketName)).Put([]byte(entry.ID), data)
	})
}

// Query implements Store with a full-bucket scan; the reference deployment
// sizes stay small enough for retention to keep this cheap.
func (s *BoltStore) Query(_ context.Context, q Query) ([]*Entry, int, error) {
	var matched []*Entry
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(BucketName)).ForEach(func(_, v []byte) error {
			var entry Entry
			if err := json.Unmarshal(v, &entry); err != nil {
				return fmt.Errorf("failed to unmarshal audit entry: %w", err)
			}
			if q.matches(&entry) {
				matched = append(matched, &entry)
			}
			return nil
		})
	})
	if err != nil {
		return nil, 0, err
	}

	page, total := paginate(matched, q)
	return page, total, nil
}

// Get implements Store.
func (s *BoltStore) Get(_ context.Context, id string) (*Entry, error) {
	var entry Entry
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket([]byte(BucketName)).Get([]byte(id))
		if data == nil {
			return apierr.NewNotFoundError("audit entry", id)
		}
		return json.Unmarshal(data, &entry)
	})
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// DeleteOlderThan implements Store.
func (s *BoltStore) DeleteOlderThan(_ context.Context, cutoff time.Time) (int, error) {
	removed := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(BucketName))
		c := b.Cursor()

		var stale [][]byte
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var entry Entry
			if err := json.Unmarshal(v, &entry); err != nil {
				continue
			}
			if entry.Timestamp.Before(cutoff) {
				stale = append(stale, append([]byte(nil), k...))
			}
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	return removed, err
}

// Count implements Store.
func (s *BoltStore) Count(_ context.Context) (int, error) {
	count := 0
	err := s.db.View(func(tx *bolt.Tx) error {
		count = tx.Bucket([]byte(BucketName)).Stats().KeyN
		return nil
	})
	return count, err
}

// Close implements Store. The shared database is owned by the storage
// layer, so closing the store is a no-op.
func (s *BoltStore) Close() error { return nil }
