package domain

// JobRepository defines the interface for durable job metadata
type JobRepository interface {
	// Upsert writes the full record for job.ID, replacing any existing one
	Upsert(job *Job) error

	// Get finds a job by ID
	// Returns nil if not found
	Get(id string) (*Job, error)

	// ListAll returns every job ordered by start time
	ListAll() ([]*Job, error)

	// ListByParent returns the jobs of one collection (e.g. a series) ordered by ordinal
	ListByParent(parentID string) ([]*Job, error)

	// ListByStatus returns jobs in any of the given statuses ordered by start time
	ListByStatus(statuses ...JobStatus) ([]*Job, error)

	// Delete deletes a job by ID; no-op if absent
	Delete(id string) error

	// SetProgress updates percent and segment count; percent >= 100 also completes the job.
	// No-op if the job is absent.
	SetProgress(id string, percent float64, segmentsDone int) error

	// SetStatus updates the status and error message; no-op if absent
	SetStatus(id string, status JobStatus, errMsg string) error

	// SetSegmentTotal records how many segments the manifest listed
	SetSegmentTotal(id string, total int) error

	// SetTransfer records byte counters and skipped segments
	SetTransfer(id string, stats TransferStats) error

	// GetStats returns job statistics
	GetStats() (*JobStats, error)
}

// JobStats represents job statistics
type JobStats struct {
	Total     int64 `json:"total"`
	Pending   int64 `json:"pending"`
	Running   int64 `json:"running"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Cancelled int64 `json:"cancelled"`
}
