package app

import (
	"sync"

	"github.com/yourusername/episode-offline-go/internal/domain"
)

// ProgressBus fans progress events out to every subscriber of a job id
type ProgressBus struct {
	mu     sync.RWMutex
	nextID domain.SubscriptionID
	subs   map[string]map[domain.SubscriptionID]func(domain.ProgressEvent)
}

// NewProgressBus creates an empty bus
func NewProgressBus() *ProgressBus {
	return &ProgressBus{
		subs: make(map[string]map[domain.SubscriptionID]func(domain.ProgressEvent)),
	}
}

// Subscribe registers handler for future events of jobID
func (b *ProgressBus) Subscribe(jobID string, handler func(domain.ProgressEvent)) domain.SubscriptionID {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	if b.subs[jobID] == nil {
		b.subs[jobID] = make(map[domain.SubscriptionID]func(domain.ProgressEvent))
	}
	b.subs[jobID][id] = handler
	return id
}

// Unsubscribe removes a subscriber; it receives nothing published after this returns
func (b *ProgressBus) Unsubscribe(jobID string, sub domain.SubscriptionID) {
	b.mu.Lock()
	defer b.mu.Unlock()

	handlers := b.subs[jobID]
	delete(handlers, sub)
	if len(handlers) == 0 {
		delete(b.subs, jobID)
	}
}

// Publish calls the current subscribers of event.ID synchronously
func (b *ProgressBus) Publish(event domain.ProgressEvent) {
	b.mu.RLock()
	handlers := make([]func(domain.ProgressEvent), 0, len(b.subs[event.ID]))
	for _, h := range b.subs[event.ID] {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(event)
	}
}

// Subscribers returns how many handlers are registered for jobID
func (b *ProgressBus) Subscribers(jobID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[jobID])
}
