// Package pool runs a list of work items with bounded concurrency.
package pool

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Job is a started pool run.
type Job[R any] struct {
	failed chan struct{}
	done   chan struct{}
	once   sync.Once

	mu      sync.Mutex
	results []R
	err     error
}

// Start dispatches exec for every item, at most n at a time, starting items
// in slice order. n < 1 is treated as 1.
//
// An error does not stop dispatching: the remaining items still run, so each
// of them reaches a terminal state. Cancelling ctx stops further dispatching.
func Start[T, R any](ctx context.Context, items []T, exec func(context.Context, T) (R, error), n int) *Job[R] {
	if n < 1 {
		n = 1
	}

	j := &Job[R]{
		failed:  make(chan struct{}),
		done:    make(chan struct{}),
		results: make([]R, 0, len(items)),
	}

	go func() {
		defer close(j.done)

		var g errgroup.Group
		g.SetLimit(n)
		for _, item := range items {
			if ctx.Err() != nil {
				break
			}
			// Go blocks until a slot is free.
			g.Go(func() error {
				if ctx.Err() != nil {
					return nil
				}
				r, err := exec(ctx, item)
				if err != nil {
					j.fail(err)
					return err
				}
				j.mu.Lock()
				j.results = append(j.results, r)
				j.mu.Unlock()
				return nil
			})
		}
		g.Wait()

		if ctx.Err() != nil {
			j.mu.Lock()
			if j.err == nil {
				j.err = context.Cause(ctx)
			}
			j.mu.Unlock()
		}
	}()
	return j
}

func (j *Job[R]) fail(err error) {
	j.once.Do(func() {
		j.mu.Lock()
		j.err = err
		j.mu.Unlock()
		close(j.failed)
	})
}

// Failed is closed when the first execution fails.
func (j *Job[R]) Failed() <-chan struct{} { return j.failed }

// Done is closed once every started execution has settled.
func (j *Job[R]) Done() <-chan struct{} { return j.done }

// Result returns as soon as the first execution fails, with that error, or
// once every item has run. Executions still running keep going; use Wait to
// block until they settle. Results of successful executions are returned in
// completion order.
func (j *Job[R]) Result() ([]R, error) {
	select {
	case <-j.failed:
		return j.snapshot()
	case <-j.done:
		return j.snapshot()
	}
}

// Wait blocks until every started execution has settled and returns the
// results and the first error.
func (j *Job[R]) Wait() ([]R, error) {
	<-j.done
	return j.snapshot()
}

func (j *Job[R]) snapshot() ([]R, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]R(nil), j.results...), j.err
}

// Run starts a Job and returns its Result. Items still running after the
// first error finish in the background.
func Run[T, R any](ctx context.Context, items []T, exec func(context.Context, T) (R, error), n int) ([]R, error) {
	return Start(ctx, items, exec, n).Result()
}
