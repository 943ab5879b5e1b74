package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob"
	"gocloud.dev/gcerrors"
)

const partSuffix = ".part"

// Bucket stores partial blobs as objects in a gocloud bucket, one object per
// task: {prefix}{id}.part
type Bucket struct {
	bucket *blob.Bucket
	prefix string
	owned  bool
}

// OpenBucket opens a gocloud bucket URL and stores blobs under prefix.
func OpenBucket(ctx context.Context, bucketURL, prefix string) (*Bucket, error) {
	b, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("blobstore: open bucket: %w", err)
	}
	return &Bucket{bucket: b, prefix: prefix, owned: true}, nil
}

// NewBucket wraps an already open bucket. Close does not close b.
func NewBucket(b *blob.Bucket, prefix string) *Bucket {
	return &Bucket{bucket: b, prefix: prefix}
}

func (s *Bucket) key(id string) string {
	return s.prefix + id + partSuffix
}

// Get returns the blob stored under id.
func (s *Bucket) Get(ctx context.Context, id string) ([]byte, error) {
	data, err := s.bucket.ReadAll(ctx, s.key(id))
	if err != nil {
		if isNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("blobstore: read %s: %w", id, err)
	}
	return data, nil
}

// Put replaces the blob stored under id.
func (s *Bucket) Put(ctx context.Context, id string, data []byte) error {
	if err := s.bucket.WriteAll(ctx, s.key(id), data, &blob.WriterOptions{
		ContentType: "application/octet-stream",
	}); err != nil {
		return fmt.Errorf("blobstore: write %s: %w", id, err)
	}
	return nil
}

// Delete removes the blob stored under id.
func (s *Bucket) Delete(ctx context.Context, id string) error {
	if err := s.bucket.Delete(ctx, s.key(id)); err != nil && !isNotExist(err) {
		return fmt.Errorf("blobstore: delete %s: %w", id, err)
	}
	return nil
}

// List returns every partial blob under the prefix.
func (s *Bucket) List(ctx context.Context) ([]Entry, error) {
	var entries []Entry
	iter := s.bucket.List(&blob.ListOptions{Prefix: s.prefix})
	for {
		obj, err := iter.Next(ctx)
		if errors.Is(err, io.EOF) {
			return entries, nil
		}
		if err != nil {
			return nil, fmt.Errorf("blobstore: list: %w", err)
		}
		if obj.IsDir || !strings.HasSuffix(obj.Key, partSuffix) {
			continue
		}
		id := strings.TrimSuffix(strings.TrimPrefix(obj.Key, s.prefix), partSuffix)
		entries = append(entries, Entry{ID: id, Size: obj.Size})
	}
}

// Close closes the bucket if it was opened by OpenBucket.
func (s *Bucket) Close() error {
	if !s.owned {
		return nil
	}
	return s.bucket.Close()
}

// isNotExist returns true if the error indicates the object doesn't exist.
func isNotExist(err error) bool {
	return gcerrors.Code(err) == gcerrors.NotFound
}
