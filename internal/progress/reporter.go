package progress

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/ligustah/hoard/internal/task"
)

// Options configures the progress reporter.
type Options struct {
	// BatchID is displayed in the header.
	BatchID string

	// Tasks is the number of tasks in the batch.
	Tasks int

	// ChunkSize and Concurrency are displayed in the header.
	ChunkSize   int64
	Concurrency int

	// Output is where to write progress output.
	// Default: os.Stdout
	Output io.Writer

	// UpdateInterval is how often to update the progress display.
	// Default: 500ms
	UpdateInterval time.Duration
}

// Summary aggregates the task states of a batch.
type Summary struct {
	Total     int
	Pending   int
	Active    int
	Completed int
	Failed    int
	// Percent is the mean progress over all tasks.
	Percent float64
}

// Reporter outputs human-readable progress information.
type Reporter struct {
	opts Options

	mu        sync.Mutex
	states    map[string]task.State
	result    *task.BatchEvent
	startTime time.Time
	stopCh    chan struct{}
	doneCh    chan struct{}
	started   bool
	stopped   bool
}

// NewReporter creates a new progress reporter.
func NewReporter(opts Options) *Reporter {
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.UpdateInterval == 0 {
		opts.UpdateInterval = 500 * time.Millisecond
	}

	return &Reporter{
		opts:   opts,
		states: make(map[string]task.State),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start prints the header and begins periodic updates.
func (r *Reporter) Start() {
	r.mu.Lock()
	r.startTime = time.Now()
	r.started = true
	r.mu.Unlock()

	fmt.Fprintf(r.opts.Output, "[hoard] Batch %s: %d tasks | chunk size %s | concurrency %d\n",
		r.opts.BatchID,
		r.opts.Tasks,
		FormatBytes(r.opts.ChunkSize),
		r.opts.Concurrency,
	)

	go r.updateLoop()
}

// Stop stops periodic updates and prints the final status.
func (r *Reporter) Stop() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	started := r.started
	r.mu.Unlock()

	close(r.stopCh)
	if started {
		<-r.doneCh
	}
}

// TaskChanged records a task transition.
func (r *Reporter) TaskChanged(e task.Event) {
	r.mu.Lock()
	r.states[e.TaskID] = e.State
	started := r.started
	r.mu.Unlock()

	if !started {
		return
	}
	switch e.State.Status {
	case task.StatusFailed:
		fmt.Fprintf(r.opts.Output, "\n[hoard] Task %s failed: %s\n", e.TaskID, e.State.Note)
	case task.StatusRestarted:
		fmt.Fprintf(r.opts.Output, "\n[hoard] Task %s restarted\n", e.TaskID)
	}
}

// BatchFinished records the batch outcome.
func (r *Reporter) BatchFinished(e task.BatchEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.result = &e
}

// Summary returns the current aggregate.
func (r *Reporter) Summary() Summary {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := Summary{Total: max(r.opts.Tasks, len(r.states))}
	var sum int
	for _, st := range r.states {
		switch {
		case st.Status == task.StatusCompleted:
			s.Completed++
		case st.Status == task.StatusFailed:
			s.Failed++
		case st.Status.IsActive():
			s.Active++
		}
		sum += st.Progress
	}
	s.Pending = s.Total - s.Completed - s.Failed - s.Active
	if s.Total > 0 {
		s.Percent = float64(sum) / float64(s.Total)
	}
	return s
}

// updateLoop periodically updates the progress display.
func (r *Reporter) updateLoop() {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.opts.UpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			r.printFinalStatus()
			return
		case <-ticker.C:
			r.printProgress()
		}
	}
}

// printProgress outputs the current progress.
func (r *Reporter) printProgress() {
	s := r.Summary()

	eta := "calculating..."
	if elapsed := time.Since(r.startTime); s.Percent > 0 {
		remaining := time.Duration(float64(elapsed) * (100 - s.Percent) / s.Percent)
		eta = formatDuration(remaining)
	}

	fmt.Fprintf(r.opts.Output, "\r[hoard] Progress: %.1f%% | %d/%d completed | %d active | %d failed | %d pending | ETA: %s    ",
		s.Percent,
		s.Completed,
		s.Total,
		s.Active,
		s.Failed,
		s.Pending,
		eta,
	)
}

// printFinalStatus outputs the final status.
func (r *Reporter) printFinalStatus() {
	s := r.Summary()
	r.mu.Lock()
	result := r.result
	r.mu.Unlock()

	fmt.Fprintf(r.opts.Output, "\r[hoard] Progress: %.1f%% | %d/%d completed | %d failed    \n",
		s.Percent, s.Completed, s.Total, s.Failed)

	switch {
	case result == nil:
	case result.Err != nil:
		fmt.Fprintf(r.opts.Output, "[hoard] Batch failed: %v\n", result.Err)
	case result.Archive != "":
		fmt.Fprintf(r.opts.Output, "[hoard] Batch complete, archive: %s\n", result.Archive)
	default:
		fmt.Fprintf(r.opts.Output, "[hoard] Batch complete\n")
	}
	fmt.Fprintf(r.opts.Output, "[hoard] Total time: %s\n", formatDuration(time.Since(r.startTime)))
}
