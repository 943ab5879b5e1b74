package progress

import (
	"bytes"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ligustah/hoard/internal/task"
)

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		input    int64
		expected string
	}{
		{0, "0 B"},
		{100, "100 B"},
		{1024, "1.0 KiB"},
		{1536, "1.5 KiB"},
		{1024 * 1024, "1.0 MiB"},
		{8 * 1024 * 1024, "8.0 MiB"},
		{256 * 1024 * 1024, "256 MiB"},
		{1024 * 1024 * 1024, "1.0 GiB"},
		{1024 * 1024 * 1024 * 1024, "1.0 TiB"},
		{2.5 * 1024 * 1024 * 1024 * 1024, "2.5 TiB"},
	}

	for _, tt := range tests {
		result := FormatBytes(tt.input)
		if result != tt.expected {
			t.Errorf("FormatBytes(%d) = %q, want %q", tt.input, result, tt.expected)
		}
	}
}

func TestParseBytes(t *testing.T) {
	tests := []struct {
		input    string
		expected int64
	}{
		{"100", 100},
		{"100B", 100},
		{"1KiB", 1024},
		{"1.5KiB", 1536},
		{"8 MiB", 8 * 1024 * 1024},
		{"256MiB", 256 * 1024 * 1024},
		{"1GiB", 1024 * 1024 * 1024},
		{"1TiB", 1024 * 1024 * 1024 * 1024},
		// SI units
		{"1KB", 1000},
		{"1MB", 1000 * 1000},
		{"1GB", 1000 * 1000 * 1000},
	}

	for _, tt := range tests {
		result, err := ParseBytes(tt.input)
		if err != nil {
			t.Errorf("ParseBytes(%q): %v", tt.input, err)
			continue
		}
		if result != tt.expected {
			t.Errorf("ParseBytes(%q) = %d, want %d", tt.input, result, tt.expected)
		}
	}
}

func TestParseBytesInvalid(t *testing.T) {
	for _, in := range []string{"invalid", "", "-1MiB", "MiB"} {
		if _, err := ParseBytes(in); err == nil {
			t.Errorf("ParseBytes(%q): expected error", in)
		}
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{42 * time.Second, "42s"},
		{3*time.Minute + 5*time.Second, "3m 5s"},
		{2*time.Hour + 1*time.Minute + 9*time.Second, "2h 1m 9s"},
	}
	for _, tt := range tests {
		if got := formatDuration(tt.in); got != tt.want {
			t.Errorf("formatDuration(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func event(id string, status task.Status, progress int) task.Event {
	return task.Event{BatchID: "b", TaskID: id, State: task.State{Status: status, Progress: progress}}
}

func TestReporterSummary(t *testing.T) {
	reporter := NewReporter(Options{Tasks: 4})

	reporter.TaskChanged(event("a", task.StatusCompleted, 100))
	reporter.TaskChanged(event("b", task.StatusDownloading, 50))
	reporter.TaskChanged(event("c", task.StatusRetrying, 50))
	reporter.TaskChanged(event("d", task.StatusFailed, 0))

	s := reporter.Summary()
	want := Summary{Total: 4, Completed: 1, Active: 2, Failed: 1, Percent: 50}
	if s != want {
		t.Errorf("Summary() = %+v, want %+v", s, want)
	}

	// Unreported tasks count as pending.
	reporter = NewReporter(Options{Tasks: 3})
	reporter.TaskChanged(event("a", task.StatusPending, 0))
	if s := reporter.Summary(); s.Pending != 3 {
		t.Errorf("expected 3 pending, got %d", s.Pending)
	}
}

// syncBuffer is a bytes.Buffer safe for the reporter goroutine.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestReporterStartStop(t *testing.T) {
	var out syncBuffer
	reporter := NewReporter(Options{
		BatchID:        "b",
		Tasks:          2,
		ChunkSize:      8 * MiB,
		Concurrency:    10,
		Output:         &out,
		UpdateInterval: 10 * time.Millisecond,
	})

	reporter.Start()
	reporter.TaskChanged(event("a", task.StatusDownloading, 40))
	reporter.TaskChanged(event("a", task.StatusCompleted, 100))
	reporter.TaskChanged(task.Event{TaskID: "z", State: task.State{Status: task.StatusFailed, Note: "boom"}})
	time.Sleep(50 * time.Millisecond) // Let updates run
	reporter.BatchFinished(task.BatchEvent{BatchID: "b", Err: errors.New("batch b: boom")})
	reporter.Stop()
	reporter.Stop()

	got := out.String()
	for _, want := range []string{
		"[hoard] Batch b: 2 tasks | chunk size 8.0 MiB | concurrency 10",
		"[hoard] Task z failed: boom",
		"[hoard] Progress: 50.0% | 1/2 completed | 0 active | 1 failed | 0 pending",
		"[hoard] Batch failed: batch b: boom",
		"[hoard] Total time:",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
}

func TestReporterStopWithoutStart(t *testing.T) {
	reporter := NewReporter(Options{})
	reporter.Stop()
}
