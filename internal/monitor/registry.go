package monitor

import (
	"sync"

	hoardhttp "github.com/ligustah/hoard/internal/http"
	"github.com/ligustah/hoard/internal/metrics"
)

// Registry maps task ids to the cancellation handles of their running chunk
// loops. It is safe for concurrent use.
type Registry struct {
	mu      sync.Mutex
	handles map[string]*hoardhttp.Handle
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{handles: make(map[string]*hoardhttp.Handle)}
}

// Register records h as the handle of taskID, replacing any previous one.
func (r *Registry) Register(taskID string, h *hoardhttp.Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handles[taskID] = h
	metrics.InflightFetches.Set(float64(len(r.handles)))
}

// Deregister removes the entry for taskID if it still holds h.
func (r *Registry) Deregister(taskID string, h *hoardhttp.Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.handles[taskID] == h {
		delete(r.handles, taskID)
	}
	metrics.InflightFetches.Set(float64(len(r.handles)))
}

// Len returns the number of registered handles.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}

// AbortAll empties the registry and aborts every handle it held. It returns
// the number of aborted handles.
func (r *Registry) AbortAll() int {
	r.mu.Lock()
	snapshot := r.handles
	r.handles = make(map[string]*hoardhttp.Handle)
	metrics.InflightFetches.Set(0)
	r.mu.Unlock()

	for _, h := range snapshot {
		h.Abort()
	}
	return len(snapshot)
}
