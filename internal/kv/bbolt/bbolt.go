// Package bbolt provides a BBolt-backed kv.Store.
package bbolt

import (
	"context"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/al-bashkir/implicit-session/internal/kv"
)

// DefaultBucket is the bucket used when none is configured.
const DefaultBucket = "implicit-session"

// openTimeout bounds the wait for the file lock held by another process.
const openTimeout = 2 * time.Second

// Store implements kv.Store on a single BBolt bucket.
type Store struct {
	db     *bbolt.DB
	bucket []byte
}

var _ kv.Store = (*Store)(nil)

// New returns a Store using bucket in db. The bucket is created if needed.
func New(db *bbolt.DB, bucket string) (*Store, error) {
	if bucket == "" {
		bucket = DefaultBucket
	}
	err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucket))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("creating bucket %q: %w", bucket, err)
	}
	return &Store{db: db, bucket: []byte(bucket)}, nil
}

// Open opens (or creates) the BBolt file at path and returns a Store on bucket.
func Open(path, bucket string) (*Store, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: openTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening bbolt db: %w", err)
	}
	s, err := New(db, bucket)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Get returns the value stored under key, or kv.ErrNotFound.
func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(s.bucket)
		if b == nil {
			return fmt.Errorf("%s: %w", key, kv.ErrNotFound)
		}
		data := b.Get([]byte(key))
		if data == nil {
			return fmt.Errorf("%s: %w", key, kv.ErrNotFound)
		}
		// data is only valid inside the transaction
		value = append([]byte(nil), data...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return value, nil
}

// Set stores value under key, creating the bucket on first use.
func (s *Store) Set(_ context.Context, key string, value []byte) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(s.bucket)
		if err != nil {
			return err
		}
		return b.Put([]byte(key), value)
	})
}

// Close closes the underlying BBolt database.
func (s *Store) Close() error {
	return s.db.Close()
}
