package resolve

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	hoardhttp "github.com/ligustah/hoard/internal/http"
	"github.com/ligustah/hoard/internal/task"
	"github.com/ligustah/hoard/internal/testutils"
)

var fastRetry = hoardhttp.Retry{Attempts: 3, InitialDelay: time.Millisecond}

func newClient() *hoardhttp.Client {
	return hoardhttp.NewClient(hoardhttp.DefaultOptions())
}

func TestHeadResolver(t *testing.T) {
	srv := testutils.NewServer(t, map[string][]byte{"a b": testutils.GenerateTestData(1234)})

	r, err := New(KindHead, srv.URL+"/files/{id}", newClient(), Options{Timeout: time.Second, Retry: fastRetry})
	require.NoError(t, err)

	loc, err := r.Resolve(context.Background(), task.Descriptor{ID: "a b", DisplayName: "a"})
	require.NoError(t, err)
	assert.Equal(t, int64(1234), loc.Size)
	assert.Equal(t, srv.URL+"/files/a%20b", loc.URL)
	assert.Equal(t, 1, srv.HeadCount())
}

func TestJSONResolver(t *testing.T) {
	srv := testutils.NewServer(t, map[string][]byte{"doc": testutils.GenerateTestData(99)})

	r, err := New(KindJSON, srv.URL+"/meta/{id}", newClient(), Options{Timeout: time.Second, Retry: fastRetry})
	require.NoError(t, err)

	loc, err := r.Resolve(context.Background(), task.Descriptor{ID: "doc", DisplayName: "doc"})
	require.NoError(t, err)
	assert.Equal(t, task.Location{URL: srv.FileURL("doc"), Size: 99}, loc)
}

func TestResolverRetriesTransientFailures(t *testing.T) {
	srv := testutils.NewServer(t, map[string][]byte{"doc": testutils.GenerateTestData(10)})
	srv.FailNext("/meta/doc", 2)

	r, err := New(KindJSON, srv.URL+"/meta/{id}", newClient(), Options{Timeout: time.Second, Retry: fastRetry})
	require.NoError(t, err)

	loc, err := r.Resolve(context.Background(), task.Descriptor{ID: "doc", DisplayName: "doc"})
	require.NoError(t, err)
	assert.Equal(t, int64(10), loc.Size)
}

func TestResolverMissingResource(t *testing.T) {
	srv := testutils.NewServer(t, nil)

	r, err := New(KindHead, srv.URL+"/files/{id}", newClient(), Options{Timeout: time.Second, Retry: fastRetry})
	require.NoError(t, err)

	_, err = r.Resolve(context.Background(), task.Descriptor{ID: "nope", DisplayName: "nope"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, hoardhttp.ErrNotFound))
	assert.True(t, errors.Is(err, hoardhttp.ErrTransient))
}

func TestNewRejectsBadConfig(t *testing.T) {
	_, err := New("carrier-pigeon", "http://x/{id}", newClient(), Options{})
	assert.ErrorIs(t, err, ErrUnknownKind)

	_, err = New(KindHead, "http://x/static", newClient(), Options{})
	assert.Error(t, err)
}

func TestExpand(t *testing.T) {
	assert.Equal(t, "http://h/v1/x%2Fy/info", Expand("http://h/v1/{id}/info", "x/y"))
}
