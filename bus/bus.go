// Package bus distributes session events to live subscribers and persists
// them for later inspection.
package bus

import "github.com/petal-labs/monkeyml/session"

// EventBus distributes events to subscribers.
type EventBus interface {
	// Publish sends an event to all matching subscribers.
	Publish(event session.Event)

	// Subscribe registers a subscriber for a single session.
	// The returned Subscription must be closed when done.
	Subscribe(sessionID string) Subscription

	// SubscribeAll registers a subscriber that receives events from every
	// session. The returned Subscription must be closed when done.
	SubscribeAll() Subscription

	// Close shuts down the bus and all subscriptions.
	Close() error
}

// Subscription receives events.
type Subscription interface {
	// Events returns the channel events are delivered on. It is closed when
	// the subscription or the bus is closed.
	Events() <-chan session.Event

	// Close unsubscribes and releases resources.
	Close() error
}
