// Package storage is the persistent key-value store behind the verification
// cache. Reads go straight to the database; every write goes through a Guard
// that enforces the size cap.
package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	BucketVerifications = []byte("verifications")
	BucketMeta          = []byte("meta")
)

var allBuckets = [][]byte{BucketVerifications, BucketMeta}

// ErrUnknownBucket is returned for a bucket the store was not opened with
var ErrUnknownBucket = errors.New("storage: unknown bucket")

// DB wraps a bbolt database file. A file is held by one process at a time.
type DB struct {
	path string
	db   *bolt.DB
}

// Open opens or creates the database at path and ensures the buckets exist
func Open(path string) (*DB, error) {
	if path == "" {
		return nil, fmt.Errorf("storage: path required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("storage: create dir: %w", err)
	}

	bdb, err := bolt.Open(path, 0o600, &bolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("open bbolt: %w", err)
	}

	if err := bdb.Update(func(tx *bolt.Tx) error {
		for _, b := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("create bucket %s: %w", string(b), err)
			}
		}
		return nil
	}); err != nil {
		_ = bdb.Close()
		return nil, err
	}

	return &DB{path: path, db: bdb}, nil
}

func (d *DB) Close() error {
	if d == nil || d.db == nil {
		return nil
	}
	return d.db.Close()
}

func (d *DB) Path() string { return d.path }

// Get returns a copy of the value stored under key
func (d *DB) Get(bucket, key []byte) ([]byte, bool, error) {
	var out []byte
	err := d.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		if b == nil {
			return fmt.Errorf("%w: %s", ErrUnknownBucket, bucket)
		}
		v := b.Get(key)
		if v != nil {
			out = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return out, out != nil, nil
}

// ForEach calls fn for every pair in bucket in key order. The slices are
// only valid inside fn.
func (d *DB) ForEach(bucket []byte, fn func(k, v []byte) error) error {
	return d.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		if b == nil {
			return fmt.Errorf("%w: %s", ErrUnknownBucket, bucket)
		}
		return b.ForEach(fn)
	})
}

// Count returns the number of keys in bucket
func (d *DB) Count(bucket []byte) (int, error) {
	var n int
	err := d.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		if b == nil {
			return fmt.Errorf("%w: %s", ErrUnknownBucket, bucket)
		}
		n = b.Stats().KeyN
		return nil
	})
	return n, err
}

// Usage returns the logical footprint: the sum of key and value lengths
// across all buckets. Page overhead of the file is not counted.
func (d *DB) Usage() (int64, error) {
	var used int64
	err := d.db.View(func(tx *bolt.Tx) error {
		for _, name := range allBuckets {
			b := tx.Bucket(name)
			if b == nil {
				continue
			}
			if err := b.ForEach(func(k, v []byte) error {
				used += int64(len(k) + len(v))
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
	return used, err
}
