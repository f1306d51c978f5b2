package domain

import "errors"

var (
	// ErrJobCancelled is the cancellation cause of a job cancelled by a caller
	ErrJobCancelled = errors.New("download cancelled")

	// ErrShuttingDown is the cancellation cause of jobs interrupted by shutdown
	ErrShuttingDown = errors.New("orchestrator shutting down")

	// ErrTooManySegmentFailures aborts a job once the consecutive failure budget is spent
	ErrTooManySegmentFailures = errors.New("too many consecutive segment failures")

	// ErrNoActiveWorker is returned when no cache worker is controlling the cache
	ErrNoActiveWorker = errors.New("no active cache worker")

	// ErrJobNotFound is returned when a job id has no stored record
	ErrJobNotFound = errors.New("download not found")

	// ErrJobUnwinding is returned when a deleted job has not released its slot yet
	ErrJobUnwinding = errors.New("download is still shutting down")
)
