package fetch

import (
	"errors"
	"fmt"
)

// Errors returned by Fetch, wrapped in a *TaskError.
var (
	ErrCancelled   = errors.New("fetch: cancelled")
	ErrMetadata    = errors.New("fetch: metadata resolution failed")
	ErrIncomplete  = errors.New("fetch: incomplete download")
	ErrPersistence = errors.New("fetch: persistence failed")
	ErrBadChunk    = errors.New("fetch: unexpected chunk length")
)

// TaskError records the task and the step that failed.
//
// Use errors.As to extract it and errors.Is against the sentinels above to
// classify the failure.
type TaskError struct {
	TaskID string
	Op     string // "resolve", "load", "chunk", "store"
	Err    error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("task %s: %s: %v", e.TaskID, e.Op, e.Err)
}

func (e *TaskError) Unwrap() error { return e.Err }
