// Package task defines the data model shared by the fetcher, the worker pool
// and the batch orchestrator: task descriptors, resolved locations, the task
// status machine and the events published to observers.
package task

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidDescriptor is returned by Validate for unusable descriptors.
var ErrInvalidDescriptor = errors.New("task: invalid descriptor")

// Descriptor names one resumable download unit. ID is unique within a batch
// and is also the key of the task's partial blob.
type Descriptor struct {
	ID          string `json:"id" yaml:"id"`
	DisplayName string `json:"displayName" yaml:"display_name"`
	GroupKey    string `json:"groupKey" yaml:"group_key"`
}

// Validate checks that the descriptor can be scheduled.
func (d Descriptor) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidDescriptor)
	}
	if d.DisplayName == "" {
		return fmt.Errorf("%w: task %s has no display name", ErrInvalidDescriptor, d.ID)
	}
	return nil
}

// Location is the resolved remote resource of a task. It is never persisted:
// remote URLs may expire, so it is resolved again on every fetch attempt.
type Location struct {
	URL  string `json:"url"`
	Size int64  `json:"size"`
}

// State is the externally observable runtime state of a task.
type State struct {
	Status   Status `json:"status"`
	Progress int    `json:"progress"`
	// Note is an optional short annotation, such as the error of a failed task.
	Note string `json:"note,omitempty"`
}

// Event is published on every task state transition.
type Event struct {
	BatchID string    `json:"batchId"`
	TaskID  string    `json:"taskId"`
	State   State     `json:"state"`
	At      time.Time `json:"at"`
}

// BatchEvent is published when a batch run settles.
type BatchEvent struct {
	BatchID string    `json:"batchId"`
	Err     error     `json:"-"`
	Archive string    `json:"archive,omitempty"`
	At      time.Time `json:"at"`
}

// Percent returns round(done/total*100) clamped to 0..100.
func Percent(done, total int64) int {
	if total <= 0 {
		return 0
	}
	if done >= total {
		return 100
	}
	p := (done*100 + total/2) / total
	if p > 100 {
		p = 100
	}
	return int(p)
}
