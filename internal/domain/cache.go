package domain

import "context"

// CacheRequestType is the kind of request sent to the cache worker
type CacheRequestType string

const (
	CacheClear    CacheRequestType = "CLEAR_CACHE"
	CacheGetSize  CacheRequestType = "GET_CACHE_SIZE"
	CacheClearAll CacheRequestType = "CLEAR_ALL_CACHES"
)

// WorkerEventType is the kind of unsolicited notification sent by the cache worker
type WorkerEventType string

const (
	EventDownloadProgress WorkerEventType = "DOWNLOAD_PROGRESS"
	EventDownloadComplete WorkerEventType = "DOWNLOAD_COMPLETE"
	EventDownloadError    WorkerEventType = "DOWNLOAD_ERROR"
)

// CacheRequest is an outbound message to the cache worker
type CacheRequest struct {
	RequestID string           `json:"request_id"`
	Type      CacheRequestType `json:"type"`
	ID        string           `json:"id,omitempty"`
}

// CacheReply is delivered on the private reply channel of one request and
// echoes its RequestID. Exactly one of Success, Size or Error is meaningful
// for a given request type.
type CacheReply struct {
	RequestID string `json:"request_id"`
	Success   bool   `json:"success,omitempty"`
	Size      int64  `json:"size,omitempty"`
	Error     string `json:"error,omitempty"`
}

// WorkerEvent is an unsolicited notification from the cache worker
type WorkerEvent struct {
	Type WorkerEventType `json:"type"`
	ID   string          `json:"id"`
	Data any             `json:"data,omitempty"`
}

// CacheCoordinator is the boundary to the background worker that owns cached segment bodies.
// Failures never escape as errors: calls resolve to false or zero instead.
type CacheCoordinator interface {
	// IsAvailable reports whether the host supports the cache worker at all
	IsAvailable() bool

	// Install starts the worker if it is not running yet
	Install(ctx context.Context) bool

	// Evict drops every cached entry belonging to the job
	Evict(ctx context.Context, id string) bool

	// CacheSize returns the bytes cached for the job
	CacheSize(ctx context.Context, id string) int64

	// ClearAll drops every cached entry
	ClearAll(ctx context.Context) bool

	// OnMessage registers a listener for unsolicited worker notifications of one type
	OnMessage(eventType WorkerEventType, fn func(WorkerEvent)) (unsubscribe func())
}
