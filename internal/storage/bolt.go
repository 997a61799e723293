// Package storage wraps the BoltDB file shared by components that persist
// state across restarts. Each component owns one or more buckets; the
// wrapper only manages the file lifecycle and bucket creation.
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/boltdb/bolt"

	"objectos/pkg/logging"
)

// DB wraps a BoltDB instance and manages its lifecycle.
type DB struct {
	db   *bolt.DB
	path string
}

// Open opens (creating if necessary) the bolt file at path and ensures the
// given buckets exist.
func Open(path string, buckets ...string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range buckets {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("failed to create bucket %q: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	logging.Debug("Storage", "Opened bolt database at %s", path)
	return &DB{db: db, path: path}, nil
}

// EnsureBucket creates a bucket after Open, for components wired in later.
func (d *DB) EnsureBucket(name string) error {
	return d.db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(name))
		return err
	})
}

// Path returns the location of the bolt file.
func (d *DB) Path() string {
	return d.path
}

// Bolt returns the underlying BoltDB instance.
func (d *DB) Bolt() *bolt.DB {
	return d.db
}

// Close closes the underlying BoltDB instance.
func (d *DB) Close() error {
	return d.db.Close()
}
