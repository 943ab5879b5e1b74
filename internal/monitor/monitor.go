// Package monitor reacts to connectivity changes. Losing connectivity aborts
// every running chunk loop; regaining it restarts the tasks that failed.
package monitor

import (
	"context"
	"log/slog"
	"sync"

	"github.com/ligustah/hoard/internal/metrics"
)

// Restarter re-runs failed tasks.
type Restarter interface {
	RestartFailed(ctx context.Context) error
}

// Monitor turns connectivity signals into aborts and restarts.
type Monitor struct {
	registry  *Registry
	restarter Restarter
	log       *slog.Logger

	mu     sync.Mutex
	online bool
	// up is closed while online.
	up chan struct{}
}

// New creates a Monitor that starts in the online state. A nil restarter
// only tracks the state; the host then restarts on its own after WaitOnline.
func New(registry *Registry, restarter Restarter, log *slog.Logger) *Monitor {
	if log == nil {
		log = slog.Default()
	}
	up := make(chan struct{})
	close(up)
	return &Monitor{
		registry:  registry,
		restarter: restarter,
		log:       log.With("component", "monitor"),
		online:    true,
		up:        up,
	}
}

// Online reports the last signalled connectivity state.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// WaitOnline blocks until the monitor is online or ctx is done.
func (m *Monitor) WaitOnline(ctx context.Context) error {
	m.mu.Lock()
	up := m.up
	m.mu.Unlock()

	select {
	case <-up:
		return nil
	case <-ctx.Done():
		return context.Cause(ctx)
	}
}

// Lost aborts every registered chunk loop. The aborted tasks fail with their
// partial blobs intact. Repeated calls are harmless.
func (m *Monitor) Lost(ctx context.Context) {
	m.mu.Lock()
	if m.online {
		m.online = false
		m.up = make(chan struct{})
	}
	m.mu.Unlock()

	metrics.ConnectivitySignals.WithLabelValues("lost").Inc()
	n := m.registry.AbortAll()
	m.log.Warn("connectivity lost", "aborted", n)
}

// Restored restarts failed tasks. It blocks until the restart runs settle.
func (m *Monitor) Restored(ctx context.Context) error {
	m.mu.Lock()
	if !m.online {
		m.online = true
		close(m.up)
	}
	m.mu.Unlock()

	metrics.ConnectivitySignals.WithLabelValues("restored").Inc()
	m.log.Info("connectivity restored, restarting failed tasks")
	if m.restarter == nil {
		return nil
	}
	return m.restarter.RestartFailed(ctx)
}
