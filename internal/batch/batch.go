// Package batch drives groups of tasks through the worker pool and the
// resumable fetcher, keeps their runtime state and hands the payloads of a
// fully completed batch to a packager.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ligustah/hoard/internal/archive"
	"github.com/ligustah/hoard/internal/blobstore"
	"github.com/ligustah/hoard/internal/fetch"
	hoardhttp "github.com/ligustah/hoard/internal/http"
	"github.com/ligustah/hoard/internal/metrics"
	"github.com/ligustah/hoard/internal/monitor"
	"github.com/ligustah/hoard/internal/pool"
	"github.com/ligustah/hoard/internal/resolve"
	"github.com/ligustah/hoard/internal/task"
)

// DefaultConcurrency is the number of tasks fetched at the same time.
const DefaultConcurrency = 10

var (
	ErrEmptyBatch    = errors.New("batch: no tasks")
	ErrDuplicateTask = errors.New("batch: duplicate task id")
	ErrNotCompleted  = errors.New("batch: not every task completed")
	ErrUnknownBatch  = errors.New("batch: unknown batch")
)

// Error is a batch-level failure.
type Error struct {
	BatchID string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("batch %s: %v", e.BatchID, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Options configures an Orchestrator.
type Options struct {
	// Concurrency bounds the tasks fetched at once. Default: DefaultConcurrency
	Concurrency int

	// Fetch configures the fetcher. Registry and Observer are set by the
	// orchestrator.
	Fetch fetch.Options

	// Packager receives the payloads of completed batches. Without one the
	// payloads are dropped once the batch completes.
	Packager archive.Packager

	// Observer receives task events and, if it implements
	// task.BatchObserver, batch events.
	Observer task.Observer

	Logger *slog.Logger
}

// Orchestrator runs batches. It owns the handle registry of its fetcher.
type Orchestrator struct {
	registry    *monitor.Registry
	fetcher     *fetch.Fetcher
	packager    archive.Packager
	observer    task.Observer
	concurrency int
	log         *slog.Logger

	mu      sync.Mutex
	batches map[string]*batchState
	order   []string

	// settling tracks members still running after their batch failed.
	settling sync.WaitGroup
}

// batchState is guarded by Orchestrator.mu except for run, which serializes
// pool runs of the batch.
type batchState struct {
	run sync.Mutex

	id       string
	members  []task.Descriptor
	states   map[string]task.State
	payloads map[string][]byte
	running  bool
	archive  string
	err      error
	updated  time.Time
}

// New creates an Orchestrator.
func New(client *hoardhttp.Client, resolver resolve.Resolver, store blobstore.Store, opts Options) *Orchestrator {
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	o := &Orchestrator{
		registry:    monitor.NewRegistry(),
		packager:    opts.Packager,
		observer:    opts.Observer,
		concurrency: opts.Concurrency,
		log:         log.With("component", "batch"),
		batches:     make(map[string]*batchState),
	}

	fopts := opts.Fetch
	fopts.Registry = o.registry
	fopts.Observer = o
	if fopts.Logger == nil {
		fopts.Logger = log
	}
	o.fetcher = fetch.New(client, resolver, store, fopts)
	return o
}

// Registry returns the registry of running chunk loops.
func (o *Orchestrator) Registry() *monitor.Registry { return o.registry }

// NewBatchID returns a fresh batch id.
func NewBatchID() string { return uuid.NewString() }

// TaskChanged records a fetcher transition and forwards it to the observer.
func (o *Orchestrator) TaskChanged(e task.Event) {
	o.mu.Lock()
	if b, ok := o.batches[e.BatchID]; ok {
		if _, known := b.states[e.TaskID]; known {
			b.states[e.TaskID] = e.State
			b.updated = e.At
		}
	}
	o.mu.Unlock()

	if o.observer != nil {
		o.observer.TaskChanged(e)
	}
}

// RunBatch fetches tasks as batch batchID and packages the payloads once
// every member has completed. An empty batchID is replaced by a generated
// one. Running an existing batch again adds the given tasks to it; members
// that already completed keep their payload and are not fetched again.
//
// The first task error is returned as a *Error as soon as it happens. The
// other members keep running until they settle; the batch reports Running
// until then and further runs of it wait. Failed members are not retried
// here; see RestartFailed.
func (o *Orchestrator) RunBatch(ctx context.Context, batchID string, tasks []task.Descriptor) error {
	if batchID == "" {
		batchID = NewBatchID()
	}
	if err := validate(tasks); err != nil {
		return &Error{BatchID: batchID, Err: err}
	}

	b := o.batch(batchID)
	b.run.Lock()

	var (
		queued []task.Descriptor
		events []task.Event
	)
	now := time.Now()
	o.mu.Lock()
	for _, d := range tasks {
		if _, known := b.states[d.ID]; !known {
			b.members = append(b.members, d)
		}
		if b.states[d.ID].Status == task.StatusCompleted && b.payloads[d.ID] != nil {
			continue
		}
		b.states[d.ID] = task.State{Status: task.StatusPending}
		queued = append(queued, d)
		events = append(events, task.Event{BatchID: batchID, TaskID: d.ID, State: task.State{Status: task.StatusPending}, At: now})
	}
	b.running = true
	b.err = nil
	o.mu.Unlock()

	o.log.Info("running batch", "batch", batchID, "tasks", len(queued))
	o.publish(events)
	return o.execute(ctx, b, queued)
}

// RestartFailed queues the failed members of every batch again, labelled
// Restarted, as a new pool run against the same batch. Completed members are
// left alone. Batches are processed one after another; a batch that is still
// running is waited for.
func (o *Orchestrator) RestartFailed(ctx context.Context) error {
	var errs []error
	for _, id := range o.Batches() {
		if err := o.restart(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RestartBatch restarts the failed members of one batch.
func (o *Orchestrator) RestartBatch(ctx context.Context, batchID string) error {
	o.mu.Lock()
	_, ok := o.batches[batchID]
	o.mu.Unlock()
	if !ok {
		return &Error{BatchID: batchID, Err: ErrUnknownBatch}
	}
	return o.restart(ctx, batchID)
}

func (o *Orchestrator) restart(ctx context.Context, batchID string) error {
	o.mu.Lock()
	b := o.batches[batchID]
	o.mu.Unlock()

	b.run.Lock()
	if err := ctx.Err(); err != nil {
		b.run.Unlock()
		return &Error{BatchID: batchID, Err: context.Cause(ctx)}
	}

	var (
		failed []task.Descriptor
		events []task.Event
	)
	now := time.Now()
	o.mu.Lock()
	for _, d := range b.members {
		if b.states[d.ID].Status != task.StatusFailed {
			continue
		}
		failed = append(failed, d)
		b.states[d.ID] = task.State{Status: task.StatusRestarted}
		events = append(events,
			task.Event{BatchID: batchID, TaskID: d.ID, State: task.State{Status: task.StatusPending}, At: now},
			task.Event{BatchID: batchID, TaskID: d.ID, State: task.State{Status: task.StatusRestarted}, At: now},
		)
	}
	if len(failed) > 0 {
		b.running = true
		b.err = nil
	}
	o.mu.Unlock()

	if len(failed) == 0 {
		b.run.Unlock()
		return nil
	}
	o.log.Info("restarting failed tasks", "batch", batchID, "tasks", len(failed))
	o.publish(events)
	return o.execute(ctx, b, failed)
}

// execute runs descs through the pool and settles the batch. b.run is held
// on entry; execute releases it once every started fetch has settled.
func (o *Orchestrator) execute(ctx context.Context, b *batchState, descs []task.Descriptor) error {
	job := pool.Start(ctx, descs, func(ctx context.Context, d task.Descriptor) (struct{}, error) {
		payload, err := o.fetcher.Fetch(ctx, b.id, d)
		if err != nil {
			return struct{}{}, err
		}
		o.mu.Lock()
		b.payloads[d.ID] = payload
		o.mu.Unlock()
		return struct{}{}, nil
	}, o.concurrency)

	if _, err := job.Result(); err != nil {
		err = o.settle(b, "", &Error{BatchID: b.id, Err: err}, true)
		o.settling.Add(1)
		go func() {
			defer o.settling.Done()
			defer b.run.Unlock()
			job.Wait()
			o.mu.Lock()
			b.running = false
			b.updated = time.Now()
			o.mu.Unlock()
			o.log.Debug("failed batch settled", "batch", b.id)
		}()
		return err
	}
	defer b.run.Unlock()

	items, ok := o.completedItems(b)
	if !ok {
		return o.finish(b, "", &Error{BatchID: b.id, Err: ErrNotCompleted})
	}

	var key string
	if o.packager != nil {
		var err error
		key, err = o.packager.Package(ctx, b.id, items)
		if err != nil {
			return o.finish(b, "", &Error{BatchID: b.id, Err: fmt.Errorf("package: %w", err)})
		}
	}

	o.mu.Lock()
	b.payloads = make(map[string][]byte)
	o.mu.Unlock()
	return o.finish(b, key, nil)
}

// Wait blocks until the members of failed batches have settled.
func (o *Orchestrator) Wait() { o.settling.Wait() }

// completedItems returns the payloads in member order if every member has
// completed.
func (o *Orchestrator) completedItems(b *batchState) ([]archive.Item, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	items := make([]archive.Item, 0, len(b.members))
	for _, d := range b.members {
		payload, ok := b.payloads[d.ID]
		if b.states[d.ID].Status != task.StatusCompleted || !ok {
			return nil, false
		}
		items = append(items, archive.Item{DisplayName: d.DisplayName, GroupKey: d.GroupKey, Payload: payload})
	}
	return items, true
}

func (o *Orchestrator) finish(b *batchState, archiveKey string, err error) error {
	return o.settle(b, archiveKey, err, false)
}

// settle records the outcome of a run and publishes it. running reports
// whether members are still in flight.
func (o *Orchestrator) settle(b *batchState, archiveKey string, err error, running bool) error {
	now := time.Now()
	o.mu.Lock()
	b.running = running
	b.err = err
	b.updated = now
	if archiveKey != "" {
		b.archive = archiveKey
	}
	o.mu.Unlock()

	if err != nil {
		metrics.Batches.WithLabelValues("failed").Inc()
		o.log.Warn("batch failed", "batch", b.id, "error", err)
	} else {
		metrics.Batches.WithLabelValues("completed").Inc()
		o.log.Info("batch completed", "batch", b.id, "archive", archiveKey)
	}

	if bo, ok := o.observer.(task.BatchObserver); ok {
		bo.BatchFinished(task.BatchEvent{BatchID: b.id, Err: err, Archive: archiveKey, At: now})
	}
	return err
}

func (o *Orchestrator) batch(id string) *batchState {
	o.mu.Lock()
	defer o.mu.Unlock()

	b, ok := o.batches[id]
	if !ok {
		b = &batchState{
			id:       id,
			states:   make(map[string]task.State),
			payloads: make(map[string][]byte),
		}
		o.batches[id] = b
		o.order = append(o.order, id)
	}
	return b
}

func (o *Orchestrator) publish(events []task.Event) {
	for _, e := range events {
		metrics.TaskTransitions.WithLabelValues(e.State.Status.String()).Inc()
		if o.observer != nil {
			o.observer.TaskChanged(e)
		}
	}
}

func validate(tasks []task.Descriptor) error {
	if len(tasks) == 0 {
		return ErrEmptyBatch
	}
	seen := make(map[string]bool, len(tasks))
	for _, d := range tasks {
		if err := d.Validate(); err != nil {
			return err
		}
		if seen[d.ID] {
			return fmt.Errorf("%w: %s", ErrDuplicateTask, d.ID)
		}
		seen[d.ID] = true
	}
	return nil
}
