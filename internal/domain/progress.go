package domain

// SubscriptionID identifies one progress subscriber
type SubscriptionID uint64

// ProgressBus fans progress events out to the subscribers of each job id
type ProgressBus interface {
	Subscribe(jobID string, handler func(ProgressEvent)) SubscriptionID
	Unsubscribe(jobID string, sub SubscriptionID)
	Publish(event ProgressEvent)
}
