package domain

import (
	"time"
)

// JobStatus represents the current status of an episode download job
type JobStatus string

const (
	StatusPending   JobStatus = "pending"
	StatusRunning   JobStatus = "running"
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
	StatusCancelled JobStatus = "cancelled"
)

// Job represents one episode download.
// ID is the episode id; every store and queue operation is keyed by it.
type Job struct {
	ID              string     `json:"id" gorm:"primaryKey"`
	ParentID        string     `json:"parent_id" gorm:"index"`
	Ordinal         int        `json:"ordinal"`
	Label           string     `json:"label"`
	SourceURL       string     `json:"source_url" gorm:"not null"`
	Status          JobStatus  `json:"status" gorm:"not null;index"`
	ProgressPercent float64    `json:"progress_percent"`
	SegmentTotal    int        `json:"segment_total"`
	SegmentsDone    int        `json:"segments_done"`
	SegmentsFailed  int        `json:"segments_failed"`
	BytesDone       int64      `json:"bytes_done"`
	BytesTotal      *int64     `json:"bytes_total,omitempty"`
	Error           string     `json:"error,omitempty"`
	StartedAt       time.Time  `json:"started_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	UpdatedAt       time.Time  `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName specifies the table name for GORM
func (Job) TableName() string {
	return "jobs"
}

// JobRequest carries what a caller supplies to request a download
type JobRequest struct {
	ID        string `json:"id"`
	ParentID  string `json:"parent_id"`
	Ordinal   int    `json:"ordinal"`
	Label     string `json:"label"`
	SourceURL string `json:"source_url"`
}

// NewJob creates a fresh pending job from a request
func NewJob(req JobRequest) *Job {
	now := time.Now()
	return &Job{
		ID:        req.ID,
		ParentID:  req.ParentID,
		Ordinal:   req.Ordinal,
		Label:     req.Label,
		SourceURL: req.SourceURL,
		Status:    StatusPending,
		StartedAt: now,
		UpdatedAt: now,
	}
}

// MarkRunning marks the job as running
func (j *Job) MarkRunning() {
	j.Status = StatusRunning
	j.Error = ""
	j.UpdatedAt = time.Now()
}

// MarkCompleted marks the job as completed, keeping the first completion time
func (j *Job) MarkCompleted() {
	j.Status = StatusCompleted
	j.ProgressPercent = 100
	now := time.Now()
	if j.CompletedAt == nil {
		j.CompletedAt = &now
	}
	j.UpdatedAt = now
}

// MarkFailed marks the job as failed
func (j *Job) MarkFailed(err error) {
	j.Status = StatusFailed
	if err != nil {
		j.Error = err.Error()
	}
	j.UpdatedAt = time.Now()
}

// MarkCancelled marks the job as cancelled
func (j *Job) MarkCancelled() {
	j.Status = StatusCancelled
	j.UpdatedAt = time.Now()
}

// IsTerminal checks if the job is in a terminal state
func (j *Job) IsTerminal() bool {
	return j.Status.IsTerminal()
}

// IsTerminal reports whether the orchestrator never leaves this status on its own
func (s JobStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// ValidateStatus checks if a status is known
func ValidateStatus(status JobStatus) bool {
	switch status {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// ProgressEvent is an ephemeral progress notification for one job
type ProgressEvent struct {
	ID              string  `json:"id"`
	ProgressPercent float64 `json:"progress_percent"`
	SegmentsDone    int     `json:"segments_done"`
	SegmentTotal    int     `json:"segment_total"`
	BytesDone       int64   `json:"bytes_done"`
	BytesTotal      *int64  `json:"bytes_total,omitempty"`
}

// TransferStats is the byte-level part of a progress update
type TransferStats struct {
	BytesDone      int64
	BytesTotal     *int64
	SegmentsFailed int
}

// ExtrapolateBytes estimates the total size from the segments fetched so far.
// Returns nil until at least one segment has been fetched.
func ExtrapolateBytes(bytesDone int64, segmentsDone, segmentTotal int) *int64 {
	if segmentsDone <= 0 || segmentTotal <= 0 {
		return nil
	}
	total := int64(float64(bytesDone) * (float64(segmentTotal) / float64(segmentsDone)))
	return &total
}

// Percent returns done/total as a percentage in [0, 100]
func Percent(done, total int) float64 {
	if total <= 0 {
		return 0
	}
	p := float64(done) / float64(total) * 100
	if p > 100 {
		return 100
	}
	return p
}
