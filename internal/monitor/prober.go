package monitor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	hoardhttp "github.com/ligustah/hoard/internal/http"
)

// ProberOptions configures a Prober.
type ProberOptions struct {
	URL      string
	Interval time.Duration // default 10s
	Timeout  time.Duration // default 3s
	Logger   *slog.Logger
}

// Prober polls a URL and reports connectivity transitions to a Monitor.
// A probe succeeds on any 2xx answer to a HEAD request.
type Prober struct {
	client  *hoardhttp.Client
	monitor *Monitor
	opts    ProberOptions
	log     *slog.Logger
}

// NewProber creates a Prober.
func NewProber(client *hoardhttp.Client, m *Monitor, opts ProberOptions) *Prober {
	if opts.Interval <= 0 {
		opts.Interval = 10 * time.Second
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 3 * time.Second
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Prober{client: client, monitor: m, opts: opts, log: log.With("component", "prober")}
}

// Probe performs a single check.
func (p *Prober) Probe(ctx context.Context) bool {
	_, err := p.client.Head(ctx, p.opts.URL, p.opts.Timeout, hoardhttp.Retry{Attempts: 1})
	if err != nil {
		p.log.Debug("probe failed", "url", p.opts.URL, "error", err)
		return false
	}
	return true
}

// Run probes until ctx is cancelled. Restarts triggered by a restored signal
// run in the background; Run waits for them before returning.
func (p *Prober) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	ticker := time.NewTicker(p.opts.Interval)
	defer ticker.Stop()

	for {
		up := p.Probe(ctx)
		if ctx.Err() != nil {
			return nil
		}
		switch online := p.monitor.Online(); {
		case online && !up:
			p.monitor.Lost(ctx)
		case !online && up:
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := p.monitor.Restored(ctx); err != nil {
					p.log.Warn("restart after reconnect failed", "error", err)
				}
			}()
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
