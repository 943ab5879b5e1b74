package archive

import (
	"archive/zip"
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocloud.dev/blob/memblob"
)

func readZip(t *testing.T, data []byte) map[string]string {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)

	out := make(map[string]string)
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		b, err := io.ReadAll(rc)
		rc.Close()
		require.NoError(t, err)
		out[f.Name] = string(b)
	}
	return out
}

func TestZipPackage(t *testing.T) {
	ctx := context.Background()
	bucket := memblob.OpenBucket(nil)
	defer bucket.Close()

	z := NewZip(bucket, "archives/")
	key, err := z.Package(ctx, "batch-1", []Item{
		{DisplayName: "a.txt", GroupKey: "album", Payload: []byte("first")},
		{DisplayName: "a.txt", GroupKey: "album", Payload: []byte("second")},
		{DisplayName: "a.txt", GroupKey: "album", Payload: []byte("third")},
		{DisplayName: "loose.bin", Payload: []byte("root")},
		{DisplayName: "../evil", GroupKey: "x/y", Payload: []byte("flat")},
	})
	require.NoError(t, err)
	assert.Equal(t, "archives/batch-1.zip", key)

	data, err := bucket.ReadAll(ctx, key)
	require.NoError(t, err)

	assert.Equal(t, map[string]string{
		"album/a.txt":     "first",
		"album/a (1).txt": "second",
		"album/a (2).txt": "third",
		"loose.bin":       "root",
		"x_y/.._evil":     "flat",
	}, readZip(t, data))

	attrs, err := bucket.Attributes(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "application/zip", attrs.ContentType)
}

func TestZipPackageEmpty(t *testing.T) {
	z := NewZip(memblob.OpenBucket(nil), "")
	defer z.Close()

	_, err := z.Package(context.Background(), "b", nil)
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestOpenZip(t *testing.T) {
	z, err := OpenZip(context.Background(), "mem://", "")
	require.NoError(t, err)
	defer z.Close()
	assert.Equal(t, "b.zip", z.Key("b"))
}

func TestUniqueName(t *testing.T) {
	seen := map[string]int{}
	assert.Equal(t, "x", uniqueName("x", seen))
	assert.Equal(t, "x (1)", uniqueName("x", seen))
	assert.Equal(t, "x (2)", uniqueName("x", seen))
}
