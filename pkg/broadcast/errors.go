package broadcast

import "errors"

// Common errors returned by subscribers and the broadcaster.
var (
	// ErrClosed is returned when enqueueing to a closed subscriber.
	ErrClosed = errors.New("subscriber is closed")

	// ErrQueueFull is returned when a subscriber's queue has no free slot.
	ErrQueueFull = errors.New("subscriber queue is full")

	// ErrSlowSubscriber is returned when a subscriber's unsent bytes exceed
	// the configured limit.
	ErrSlowSubscriber = errors.New("subscriber is too slow")

	// ErrWriteFailed wraps a transport write error.
	ErrWriteFailed = errors.New("write failed")

	// ErrDuplicateSubscriber is returned when adding a subscriber twice.
	ErrDuplicateSubscriber = errors.New("subscriber already registered")
)
