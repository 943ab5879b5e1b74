package http

import (
	"context"
	"sync"
	"sync/atomic"
)

// Handle is a cancellation token for in-flight requests. Requests issued
// under Handle.Context fail with ErrAborted once Abort is called. Only the
// first Abort has an effect.
type Handle struct {
	ctx     context.Context
	cancel  context.CancelCauseFunc
	once    sync.Once
	aborted atomic.Bool
}

// NewHandle returns a handle whose context is derived from parent.
func NewHandle(parent context.Context) *Handle {
	ctx, cancel := context.WithCancelCause(parent)
	return &Handle{ctx: ctx, cancel: cancel}
}

// Abort cancels every request running under the handle.
func (h *Handle) Abort() {
	h.once.Do(func() {
		h.aborted.Store(true)
		h.cancel(ErrAborted)
	})
}

// Aborted reports whether Abort was called on h or on a handle h derives from.
func (h *Handle) Aborted() bool {
	if h.aborted.Load() {
		return true
	}
	return context.Cause(h.ctx) == ErrAborted
}

// Context returns the context requests should run under.
func (h *Handle) Context() context.Context {
	return h.ctx
}

// Err returns ErrAborted after an abort, the parent's cancellation cause if
// the parent is done, and nil otherwise.
func (h *Handle) Err() error {
	if h.ctx.Err() == nil {
		return nil
	}
	return context.Cause(h.ctx)
}

// Release frees the handle's context without marking it aborted.
func (h *Handle) Release() {
	h.cancel(nil)
}
