package task

// Status is the lifecycle state of a task.
type Status string

const (
	// StatusPending means the task is queued but has not started.
	StatusPending Status = "Pending"

	// StatusDownloading means the fetcher is resolving or transferring chunks.
	StatusDownloading Status = "Downloading"

	// StatusRetrying means a request of the task is waiting to be retried.
	StatusRetrying Status = "Retrying"

	// StatusCompleted means every byte was fetched and handed over.
	StatusCompleted Status = "Completed"

	// StatusFailed means the last attempt ended with an unrecoverable error.
	// The partial blob of a failed task is kept for resumption.
	StatusFailed Status = "Failed"

	// StatusRestarted labels a failed task that was queued again after
	// connectivity came back.
	StatusRestarted Status = "Restarted"
)

// String returns the string representation of Status.
func (s Status) String() string {
	return string(s)
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusDownloading, StatusRetrying, StatusCompleted, StatusFailed, StatusRestarted:
		return true
	}
	return false
}

// IsActive returns true if the task currently owns network or storage work.
func (s Status) IsActive() bool {
	return s == StatusDownloading || s == StatusRetrying
}

// IsFinished returns true if the task reached a terminal state.
func (s Status) IsFinished() bool {
	return s == StatusCompleted || s == StatusFailed
}
