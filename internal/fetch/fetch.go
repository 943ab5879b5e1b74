// Package fetch downloads a single task in sequential byte-range chunks,
// persisting the accumulated prefix after every chunk so an interrupted task
// resumes where it stopped.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ligustah/hoard/internal/blobstore"
	hoardhttp "github.com/ligustah/hoard/internal/http"
	"github.com/ligustah/hoard/internal/metrics"
	"github.com/ligustah/hoard/internal/resolve"
	"github.com/ligustah/hoard/internal/task"
)

// DefaultChunkSize is the size of each range request.
const DefaultChunkSize int64 = 8 << 20

// Registry tracks the cancellation handles of running chunk loops.
type Registry interface {
	Register(taskID string, h *hoardhttp.Handle)
	Deregister(taskID string, h *hoardhttp.Handle)
}

// Options configures a Fetcher.
type Options struct {
	// ChunkSize is the number of bytes requested per range request.
	// Default: DefaultChunkSize
	ChunkSize int64

	// Retry applies to every chunk request.
	Retry hoardhttp.Retry

	// ChunkTimeout bounds each chunk request attempt.
	ChunkTimeout time.Duration

	// Registry, when set, receives the task handle for the duration of the
	// chunk loop.
	Registry Registry

	// Observer receives every state transition.
	Observer task.Observer

	Logger *slog.Logger
}

// Fetcher runs the resumable chunk loop for one task at a time. It is safe
// for concurrent use by different tasks; a task id must not be fetched twice
// concurrently.
type Fetcher struct {
	client   *hoardhttp.Client
	resolver resolve.Resolver
	store    blobstore.Store
	opts     Options
	log      *slog.Logger
}

// New creates a Fetcher.
func New(client *hoardhttp.Client, resolver resolve.Resolver, store blobstore.Store, opts Options) *Fetcher {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Fetcher{
		client:   client,
		resolver: resolver,
		store:    store,
		opts:     opts,
		log:      log.With("component", "fetch"),
	}
}

// ChunkSize returns the configured chunk size.
func (f *Fetcher) ChunkSize() int64 { return f.opts.ChunkSize }

// Fetch downloads d and returns its payload. Every outcome is published to
// the observer; on failure the persisted prefix is left for the next attempt.
func (f *Fetcher) Fetch(ctx context.Context, batchID string, d task.Descriptor) ([]byte, error) {
	log := f.log.With("batch", batchID, "task", d.ID)
	run := &run{f: f, batchID: batchID, id: d.ID, log: log}

	run.emit(task.State{Status: task.StatusDownloading})

	payload, err := run.fetch(ctx, d)
	if err != nil {
		log.Warn("task failed", "error", err)
		run.emit(task.State{Status: task.StatusFailed, Note: errors.Unwrap(err).Error()})
		return nil, err
	}
	return payload, nil
}

// run holds the per-call state of Fetch.
type run struct {
	f        *Fetcher
	batchID  string
	id       string
	log      *slog.Logger
	progress int
}

func (r *run) fail(op string, err error) error {
	return &TaskError{TaskID: r.id, Op: op, Err: err}
}

func (r *run) emit(s task.State) {
	if s.Status == task.StatusDownloading || s.Status == task.StatusRetrying {
		r.progress = s.Progress
	}
	metrics.TaskTransitions.WithLabelValues(s.Status.String()).Inc()
	if r.f.opts.Observer != nil {
		r.f.opts.Observer.TaskChanged(task.Event{
			BatchID: r.batchID,
			TaskID:  r.id,
			State:   s,
			At:      time.Now(),
		})
	}
}

func (r *run) fetch(ctx context.Context, d task.Descriptor) ([]byte, error) {
	f := r.f

	loc, err := f.resolver.Resolve(ctx, d)
	if err != nil {
		if cerr := cancelled(ctx, err); cerr != nil {
			return nil, r.fail("resolve", cerr)
		}
		return nil, r.fail("resolve", fmt.Errorf("%w: %w", ErrMetadata, err))
	}
	r.log.Debug("resolved", "url", loc.URL, "size", loc.Size)

	partial, err := f.store.Get(ctx, d.ID)
	switch {
	case errors.Is(err, blobstore.ErrNotFound):
		partial = nil
	case err != nil:
		return nil, r.fail("load", fmt.Errorf("%w: %w", ErrPersistence, err))
	}
	start := int64(len(partial))
	if start > 0 {
		r.log.Info("resuming", "offset", start, "size", loc.Size)
		r.emit(task.State{Status: task.StatusDownloading, Progress: task.Percent(start, loc.Size)})
	}

	if start < loc.Size {
		partial, err = r.loop(ctx, loc, partial)
		if err != nil {
			return nil, err
		}
	}

	if int64(len(partial)) < loc.Size {
		return nil, r.fail("chunk", fmt.Errorf("%w: have %d of %d bytes", ErrIncomplete, len(partial), loc.Size))
	}

	r.emit(task.State{Status: task.StatusCompleted, Progress: 100})
	if err := f.store.Delete(ctx, d.ID); err != nil {
		r.log.Warn("failed to delete partial blob", "error", err)
	}
	r.log.Info("task completed", "size", len(partial))
	return partial, nil
}

// loop requests chunks until partial covers loc.Size.
func (r *run) loop(ctx context.Context, loc task.Location, partial []byte) ([]byte, error) {
	f := r.f

	h := hoardhttp.NewHandle(ctx)
	defer h.Release()
	if f.opts.Registry != nil {
		f.opts.Registry.Register(r.id, h)
		defer f.opts.Registry.Deregister(r.id, h)
	}

	attempts := f.opts.Retry.Attempts
	if attempts < 1 {
		attempts = 1
	}
	cb := hoardhttp.Callbacks{
		OnRetry: func(attempt int, err error) {
			r.log.Debug("retrying chunk", "attempt", attempt, "error", err)
			r.emit(task.State{
				Status:   task.StatusRetrying,
				Progress: r.progress,
				Note:     fmt.Sprintf("retry %d/%d", attempt, attempts-1),
			})
		},
	}

	start := int64(len(partial))
	for start < loc.Size {
		if h.Aborted() {
			return nil, r.fail("chunk", fmt.Errorf("%w: %w", ErrCancelled, hoardhttp.ErrAborted))
		}
		if err := h.Err(); err != nil {
			return nil, r.fail("chunk", fmt.Errorf("%w: %w", ErrCancelled, err))
		}

		end := min(start+f.opts.ChunkSize-1, loc.Size-1)
		chunk, err := f.client.GetRange(h.Context(), loc.URL, start, end, f.opts.ChunkTimeout, f.opts.Retry, cb)
		if err != nil {
			if cerr := cancelled(h.Context(), err); cerr != nil {
				return nil, r.fail("chunk", cerr)
			}
			return nil, r.fail("chunk", err)
		}
		want := end - start + 1
		if len(chunk) == 0 || int64(len(chunk)) > want {
			return nil, r.fail("chunk", fmt.Errorf("%w: got %d bytes for range %d-%d", ErrBadChunk, len(chunk), start, end))
		}

		partial = append(partial, chunk...)
		if err := f.store.Put(ctx, r.id, partial); err != nil {
			return nil, r.fail("store", fmt.Errorf("%w: %w", ErrPersistence, err))
		}
		metrics.ChunkBytes.Add(float64(len(chunk)))

		start = int64(len(partial))
		r.log.Debug("chunk stored", "offset", start, "size", loc.Size)
		r.emit(task.State{Status: task.StatusDownloading, Progress: task.Percent(start, loc.Size)})
	}
	return partial, nil
}

// cancelled returns a cancellation error when err stems from an abort or a
// cancelled context, and nil otherwise.
func cancelled(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, hoardhttp.ErrAborted):
		return fmt.Errorf("%w: %w", ErrCancelled, hoardhttp.ErrAborted)
	case ctx.Err() != nil:
		return fmt.Errorf("%w: %w", ErrCancelled, context.Cause(ctx))
	}
	return nil
}
