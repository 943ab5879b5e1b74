package blobstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

var partialsBucket = []byte("partials")

// Bolt stores partial blobs in a single bbolt file.
type Bolt struct {
	db *bbolt.DB
}

// OpenBolt opens (or creates) the bbolt database at path.
func OpenBolt(path string) (*Bolt, error) {
	if path == "" {
		return nil, errors.New("blobstore: bolt path must be specified")
	}

	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("blobstore: open bolt database at %s: %w", path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(partialsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("blobstore: create partials bucket: %w", err)
	}

	return &Bolt{db: db}, nil
}

// Get returns the blob stored under id.
func (s *Bolt) Get(ctx context.Context, id string) ([]byte, error) {
	var data []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(partialsBucket).Get([]byte(id))
		if v == nil {
			return ErrNotFound
		}
		// bbolt values are only valid inside the transaction.
		data = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Put replaces the blob stored under id.
func (s *Bolt) Put(ctx context.Context, id string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(partialsBucket).Put([]byte(id), data)
	})
	if err != nil {
		return fmt.Errorf("blobstore: put %s: %w", id, err)
	}
	return nil
}

// Delete removes the blob stored under id.
func (s *Bolt) Delete(ctx context.Context, id string) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(partialsBucket).Delete([]byte(id))
	})
	if err != nil {
		return fmt.Errorf("blobstore: delete %s: %w", id, err)
	}
	return nil
}

// List returns every stored blob.
func (s *Bolt) List(ctx context.Context) ([]Entry, error) {
	var entries []Entry
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(partialsBucket).ForEach(func(k, v []byte) error {
			entries = append(entries, Entry{ID: string(k), Size: int64(len(v))})
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("blobstore: list: %w", err)
	}
	return entries, nil
}

// Close closes the database.
func (s *Bolt) Close() error {
	return s.db.Close()
}
