// Package archive packages the payloads of a completed batch.
//
// Zip writes a single zip object per batch into a gocloud bucket. Entries are
// laid out as <group>/<display name>; payloads without a group sit at the
// root of the archive.
package archive

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob"
)

// ErrEmpty is returned when there is nothing to package.
var ErrEmpty = errors.New("archive: no items")

// Item is one completed payload.
type Item struct {
	DisplayName string
	GroupKey    string
	Payload     []byte
}

// Packager turns the payloads of a batch into a deliverable and returns a
// reference to it.
type Packager interface {
	Package(ctx context.Context, batchID string, items []Item) (string, error)
}

// PackagerFunc adapts a function to Packager.
type PackagerFunc func(ctx context.Context, batchID string, items []Item) (string, error)

// Package calls f.
func (f PackagerFunc) Package(ctx context.Context, batchID string, items []Item) (string, error) {
	return f(ctx, batchID, items)
}

// Zip stores batches as zip objects.
type Zip struct {
	bucket *blob.Bucket
	prefix string
	owned  bool
}

// OpenZip opens the bucket at url. The bucket is closed by Close.
func OpenZip(ctx context.Context, url, prefix string) (*Zip, error) {
	bucket, err := blob.OpenBucket(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("archive: open bucket: %w", err)
	}
	return &Zip{bucket: bucket, prefix: prefix, owned: true}, nil
}

// NewZip uses an already open bucket. Close leaves it open.
func NewZip(bucket *blob.Bucket, prefix string) *Zip {
	return &Zip{bucket: bucket, prefix: prefix}
}

// Key returns the object key of the archive for batchID.
func (z *Zip) Key(batchID string) string {
	return z.prefix + batchID + ".zip"
}

// Package writes the archive and returns its object key.
func (z *Zip) Package(ctx context.Context, batchID string, items []Item) (string, error) {
	if len(items) == 0 {
		return "", ErrEmpty
	}

	key := z.Key(batchID)
	wctx, cancel := context.WithCancel(ctx)
	defer cancel()
	w, err := z.bucket.NewWriter(wctx, key, &blob.WriterOptions{ContentType: "application/zip"})
	if err != nil {
		return "", fmt.Errorf("archive: create %s: %w", key, err)
	}

	if err := writeZip(w, items); err != nil {
		// A cancelled writer discards the object instead of committing it.
		cancel()
		w.Close()
		return "", fmt.Errorf("archive: write %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("archive: commit %s: %w", key, err)
	}
	return key, nil
}

// Close releases the bucket if Zip opened it.
func (z *Zip) Close() error {
	if z.owned {
		return z.bucket.Close()
	}
	return nil
}

func writeZip(w *blob.Writer, items []Item) error {
	zw := zip.NewWriter(w)
	now := time.Now()
	seen := make(map[string]int)

	for _, it := range items {
		name := uniqueName(entryName(it), seen)
		f, err := zw.CreateHeader(&zip.FileHeader{
			Name:     name,
			Method:   zip.Deflate,
			Modified: now,
		})
		if err != nil {
			return err
		}
		if _, err := f.Write(it.Payload); err != nil {
			return err
		}
	}
	return zw.Close()
}

// entryName places an item under its group, with path separators in either
// component replaced.
func entryName(it Item) string {
	name := clean(it.DisplayName)
	if name == "" {
		name = "unnamed"
	}
	if group := clean(it.GroupKey); group != "" {
		return path.Join(group, name)
	}
	return name
}

func clean(s string) string {
	s = strings.NewReplacer("/", "_", "\\", "_").Replace(strings.TrimSpace(s))
	if s == "." || s == ".." {
		return "_"
	}
	return s
}

// uniqueName appends " (n)" before the extension for repeated names.
func uniqueName(name string, seen map[string]int) string {
	n := seen[name]
	seen[name] = n + 1
	if n == 0 {
		return name
	}
	ext := path.Ext(name)
	base := strings.TrimSuffix(name, ext)
	for ; ; n++ {
		candidate := fmt.Sprintf("%s (%d)%s", base, n, ext)
		if seen[candidate] == 0 {
			seen[candidate] = 1
			return candidate
		}
	}
}
