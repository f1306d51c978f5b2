package infrastructure

import (
	"context"
	"os"
	"sync"

	"github.com/google/uuid"
	"github.com/yourusername/episode-offline-go/internal/domain"
	"go.uber.org/zap"
)

// CacheCoordinator implements domain.CacheCoordinator on top of a SegmentCacheWorker
type CacheCoordinator struct {
	config *domain.CacheConfig
	worker *SegmentCacheWorker
	logger *zap.Logger

	mu        sync.Mutex
	installed bool
	cancel    context.CancelFunc
	nextSub   uint64
	listeners map[domain.WorkerEventType]map[uint64]func(domain.WorkerEvent)
}

// NewCacheCoordinator creates a coordinator; a nil worker makes the cache unavailable
func NewCacheCoordinator(config *domain.CacheConfig, worker *SegmentCacheWorker, logger *zap.Logger) *CacheCoordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CacheCoordinator{
		config:    config,
		worker:    worker,
		logger:    logger,
		listeners: make(map[domain.WorkerEventType]map[uint64]func(domain.WorkerEvent)),
	}
}

// IsAvailable reports whether the cache is enabled and its directory is usable
func (c *CacheCoordinator) IsAvailable() bool {
	if c.config == nil || !c.config.Enabled || c.worker == nil {
		return false
	}
	if err := os.MkdirAll(c.worker.Dir(), 0755); err != nil {
		c.logger.Warn("Segment cache directory unusable", zap.String("dir", c.worker.Dir()), zap.Error(err))
		return false
	}
	return true
}

// Install starts the worker and the notification dispatcher once
func (c *CacheCoordinator) Install(ctx context.Context) bool {
	if !c.IsAvailable() {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.installed && c.worker.Active() {
		return true
	}

	// The worker outlives the caller's ctx; Uninstall stops it
	runCtx, cancel := context.WithCancel(context.Background())
	if err := c.worker.Start(runCtx); err != nil {
		cancel()
		c.logger.Warn("Failed to install segment cache worker", zap.Error(err))
		return false
	}

	if c.cancel != nil {
		c.cancel()
	}
	c.cancel = cancel
	c.installed = true
	go c.dispatch(runCtx)

	c.logger.Info("Segment cache installed")
	return true
}

// Uninstall stops the worker and the dispatcher
func (c *CacheCoordinator) Uninstall() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	if c.worker != nil {
		c.worker.Stop()
	}
	c.installed = false
}

func (c *CacheCoordinator) dispatch(ctx context.Context) {
	for {
		select {
		case event := <-c.worker.Events():
			c.mu.Lock()
			fns := make([]func(domain.WorkerEvent), 0, len(c.listeners[event.Type]))
			for _, fn := range c.listeners[event.Type] {
				fns = append(fns, fn)
			}
			c.mu.Unlock()

			for _, fn := range fns {
				fn(event)
			}
		case <-ctx.Done():
			return
		}
	}
}

// OnMessage registers fn for one notification type; the returned func unregisters it
func (c *CacheCoordinator) OnMessage(eventType domain.WorkerEventType, fn func(domain.WorkerEvent)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextSub++
	id := c.nextSub
	if c.listeners[eventType] == nil {
		c.listeners[eventType] = make(map[uint64]func(domain.WorkerEvent))
	}
	c.listeners[eventType][id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			delete(c.listeners[eventType], id)
		})
	}
}

// request sends one message and waits for the reply on its own channel
func (c *CacheCoordinator) request(ctx context.Context, req domain.CacheRequest) (domain.CacheReply, bool) {
	if c.worker == nil {
		return domain.CacheReply{}, false
	}

	req.RequestID = uuid.New().String()
	reply := make(chan domain.CacheReply, 1)

	if err := c.worker.Deliver(ctx, req, reply); err != nil {
		c.logger.Warn("Cache request not delivered",
			zap.String("request_id", req.RequestID),
			zap.String("type", string(req.Type)),
			zap.String("id", req.ID),
			zap.Error(err))
		return domain.CacheReply{}, false
	}
	return c.receive(ctx, req, reply)
}

// receive waits for the reply to req and rejects one answering another request
func (c *CacheCoordinator) receive(ctx context.Context, req domain.CacheRequest, reply <-chan domain.CacheReply) (domain.CacheReply, bool) {
	select {
	case r := <-reply:
		if r.RequestID != req.RequestID {
			c.logger.Warn("Cache reply does not match request",
				zap.String("request_id", req.RequestID),
				zap.String("reply_id", r.RequestID),
				zap.String("type", string(req.Type)))
			return domain.CacheReply{}, false
		}
		if r.Error != "" {
			c.logger.Warn("Cache request failed",
				zap.String("request_id", req.RequestID),
				zap.String("type", string(req.Type)),
				zap.String("id", req.ID),
				zap.String("error", r.Error))
			return r, false
		}
		return r, true
	case <-ctx.Done():
		c.logger.Warn("Cache request abandoned",
			zap.String("request_id", req.RequestID),
			zap.String("type", string(req.Type)),
			zap.Error(ctx.Err()))
		return domain.CacheReply{}, false
	}
}

// Evict drops the cached segments of one job
func (c *CacheCoordinator) Evict(ctx context.Context, id string) bool {
	r, ok := c.request(ctx, domain.CacheRequest{Type: domain.CacheClear, ID: id})
	return ok && r.Success
}

// CacheSize returns the bytes cached for one job, zero on any failure
func (c *CacheCoordinator) CacheSize(ctx context.Context, id string) int64 {
	r, ok := c.request(ctx, domain.CacheRequest{Type: domain.CacheGetSize, ID: id})
	if !ok {
		return 0
	}
	return r.Size
}

// ClearAll drops every cached segment
func (c *CacheCoordinator) ClearAll(ctx context.Context) bool {
	r, ok := c.request(ctx, domain.CacheRequest{Type: domain.CacheClearAll})
	return ok && r.Success
}
