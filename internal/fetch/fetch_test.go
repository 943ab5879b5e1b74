package fetch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ligustah/hoard/internal/blobstore"
	hoardhttp "github.com/ligustah/hoard/internal/http"
	"github.com/ligustah/hoard/internal/resolve"
	"github.com/ligustah/hoard/internal/task"
	"github.com/ligustah/hoard/internal/testutils"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreAnyFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreAnyFunction("net/http.(*persistConn).writeLoop"),
		// gocloud.dev starts the opencensus view worker at init.
		goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"),
	)
}

type recorder struct {
	mu     sync.Mutex
	events []task.Event
}

func (r *recorder) TaskChanged(e task.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) states() []task.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]task.State, len(r.events))
	for i, e := range r.events {
		out[i] = e.State
	}
	return out
}

type fakeRegistry struct {
	mu      sync.Mutex
	handles map[string]*hoardhttp.Handle
	seen    int
}

func (r *fakeRegistry) Register(id string, h *hoardhttp.Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.handles == nil {
		r.handles = make(map[string]*hoardhttp.Handle)
	}
	r.handles[id] = h
	r.seen++
}

func (r *fakeRegistry) Deregister(id string, h *hoardhttp.Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.handles[id] == h {
		delete(r.handles, id)
	}
}

func (r *fakeRegistry) abort(id string) {
	r.mu.Lock()
	h := r.handles[id]
	r.mu.Unlock()
	if h != nil {
		h.Abort()
	}
}

func (r *fakeRegistry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}

type failingStore struct {
	blobstore.Store
}

func (failingStore) Put(context.Context, string, []byte) error {
	return errors.New("disk full")
}

type env struct {
	srv      *testutils.Server
	store    blobstore.Store
	rec      *recorder
	reg      *fakeRegistry
	data     []byte
	fetcher  *Fetcher
	resolver resolve.Resolver
}

const testChunk = 8 << 10

func newEnv(t *testing.T, size int64) *env {
	t.Helper()

	data := testutils.GenerateTestData(size)
	srv := testutils.NewServer(t, map[string][]byte{"file": data})
	store, err := blobstore.Open(context.Background(), "mem://")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	e := &env{
		srv:   srv,
		store: store,
		rec:   &recorder{},
		reg:   &fakeRegistry{},
		data:  data,
		resolver: resolve.Func(func(ctx context.Context, d task.Descriptor) (task.Location, error) {
			return task.Location{URL: srv.FileURL(d.ID), Size: size}, nil
		}),
	}
	e.fetcher = e.build(store)
	return e
}

func (e *env) build(store blobstore.Store) *Fetcher {
	return New(hoardhttp.NewClient(hoardhttp.DefaultOptions()), e.resolver, store, Options{
		ChunkSize:    testChunk,
		Retry:        hoardhttp.Retry{Attempts: 3, InitialDelay: time.Millisecond},
		ChunkTimeout: 5 * time.Second,
		Registry:     e.reg,
		Observer:     e.rec,
	})
}

var file = task.Descriptor{ID: "file", DisplayName: "file.bin"}

func TestFetchInChunks(t *testing.T) {
	e := newEnv(t, 20<<10)

	payload, err := e.fetcher.Fetch(context.Background(), "b1", file)
	require.NoError(t, err)
	assert.Equal(t, e.data, payload)

	assert.Equal(t, []testutils.RangeRequest{
		{Path: "/files/file", Start: 0, End: 8<<10 - 1},
		{Path: "/files/file", Start: 8 << 10, End: 16<<10 - 1},
		{Path: "/files/file", Start: 16 << 10, End: 20<<10 - 1},
	}, e.srv.Ranges())

	assert.Equal(t, []task.State{
		{Status: task.StatusDownloading, Progress: 0},
		{Status: task.StatusDownloading, Progress: 40},
		{Status: task.StatusDownloading, Progress: 80},
		{Status: task.StatusDownloading, Progress: 100},
		{Status: task.StatusCompleted, Progress: 100},
	}, e.rec.states())

	_, err = e.store.Get(context.Background(), "file")
	assert.ErrorIs(t, err, blobstore.ErrNotFound, "partial should be deleted on completion")
	assert.Equal(t, 0, e.reg.len())
}

func TestFetchResumesFromPartial(t *testing.T) {
	e := newEnv(t, 20<<10)
	require.NoError(t, e.store.Put(context.Background(), "file", e.data[:8<<10]))

	payload, err := e.fetcher.Fetch(context.Background(), "b1", file)
	require.NoError(t, err)
	assert.Equal(t, e.data, payload)

	ranges := e.srv.Ranges()
	require.Len(t, ranges, 2)
	assert.Equal(t, int64(8<<10), ranges[0].Start)
	assert.Equal(t, int64(16<<10), ranges[1].Start)
}

func TestFetchCompletePartialSkipsNetwork(t *testing.T) {
	e := newEnv(t, 20<<10)
	require.NoError(t, e.store.Put(context.Background(), "file", e.data))

	payload, err := e.fetcher.Fetch(context.Background(), "b1", file)
	require.NoError(t, err)
	assert.Equal(t, e.data, payload)
	assert.Empty(t, e.srv.Ranges())
	assert.Equal(t, 0, e.reg.seen, "no handle is registered without a chunk loop")

	states := e.rec.states()
	assert.Equal(t, task.State{Status: task.StatusCompleted, Progress: 100}, states[len(states)-1])
}

func TestFetchChunksAreContiguous(t *testing.T) {
	e := newEnv(t, 50<<10+123)

	_, err := e.fetcher.Fetch(context.Background(), "b1", file)
	require.NoError(t, err)

	var next int64
	for _, r := range e.srv.Ranges() {
		assert.Equal(t, next, r.Start)
		assert.LessOrEqual(t, r.End-r.Start+1, int64(testChunk))
		next = r.End + 1
	}
	assert.Equal(t, int64(50<<10+123), next)
}

func TestFetchMetadataFailure(t *testing.T) {
	e := newEnv(t, 10)
	e.resolver = resolve.Func(func(context.Context, task.Descriptor) (task.Location, error) {
		return task.Location{}, hoardhttp.ErrNotFound
	})
	f := e.build(e.store)

	_, err := f.Fetch(context.Background(), "b1", file)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMetadata)
	assert.ErrorIs(t, err, hoardhttp.ErrNotFound)

	var te *TaskError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "file", te.TaskID)
	assert.Equal(t, "resolve", te.Op)

	states := e.rec.states()
	last := states[len(states)-1]
	assert.Equal(t, task.StatusFailed, last.Status)
	assert.Equal(t, 0, last.Progress)
	assert.NotEmpty(t, last.Note)
}

func TestFetchEmitsRetrying(t *testing.T) {
	e := newEnv(t, 4<<10)
	e.srv.FailNext("/files/file", 1)

	_, err := e.fetcher.Fetch(context.Background(), "b1", file)
	require.NoError(t, err)

	assert.Equal(t, []task.State{
		{Status: task.StatusDownloading, Progress: 0},
		{Status: task.StatusRetrying, Progress: 0, Note: "retry 1/2"},
		{Status: task.StatusDownloading, Progress: 100},
		{Status: task.StatusCompleted, Progress: 100},
	}, e.rec.states())
}

func TestFetchFailurePreservesPartial(t *testing.T) {
	e := newEnv(t, 20<<10)
	e.srv.OnRange(func(r testutils.RangeRequest) {
		if r.Start == 0 {
			e.srv.FailNext("/files/file", 100)
		}
	})

	_, err := e.fetcher.Fetch(context.Background(), "b1", file)
	require.Error(t, err)
	assert.ErrorIs(t, err, hoardhttp.ErrTransient)
	assert.ErrorIs(t, err, hoardhttp.ErrServerError)

	partial, err := e.store.Get(context.Background(), "file")
	require.NoError(t, err)
	assert.Equal(t, e.data[:8<<10], partial)
	assert.Equal(t, 0, e.reg.len())
}

func TestFetchAbortPreservesPartial(t *testing.T) {
	e := newEnv(t, 20<<10)
	e.srv.OnRange(func(r testutils.RangeRequest) {
		if r.Start == 8<<10 {
			e.reg.abort("file")
		}
	})

	_, err := e.fetcher.Fetch(context.Background(), "b1", file)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCancelled)
	assert.ErrorIs(t, err, hoardhttp.ErrAborted)

	partial, err := e.store.Get(context.Background(), "file")
	require.NoError(t, err)
	assert.Equal(t, e.data[:8<<10], partial)
	assert.Len(t, e.srv.Ranges(), 2, "no retry after abort")

	states := e.rec.states()
	assert.Equal(t, task.StatusFailed, states[len(states)-1].Status)
}

func TestFetchContextCancelled(t *testing.T) {
	e := newEnv(t, 20<<10)
	ctx, cancel := context.WithCancel(context.Background())
	e.srv.OnRange(func(r testutils.RangeRequest) {
		if r.Start == 8<<10 {
			cancel()
		}
	})

	_, err := e.fetcher.Fetch(ctx, "b1", file)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCancelled)
}

func TestFetchPersistenceFailure(t *testing.T) {
	e := newEnv(t, 20<<10)
	f := e.build(failingStore{e.store})

	_, err := f.Fetch(context.Background(), "b1", file)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPersistence)

	var te *TaskError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "store", te.Op)
}

func TestDefaultChunkSize(t *testing.T) {
	f := New(hoardhttp.NewClient(hoardhttp.DefaultOptions()), nil, nil, Options{})
	assert.Equal(t, DefaultChunkSize, f.ChunkSize())
}
