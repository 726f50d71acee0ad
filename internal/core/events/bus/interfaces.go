package bus

import "time"

// EventBus is a thread-safe, in-process pub/sub bus.
//
// Key characteristics:
// - Type-based fan-out: handlers subscribe by Event.Type() string.
// - Synchronous delivery: Publish calls handler callbacks in the caller goroutine.
// - Error aggregation: multiple handler errors are joined and returned from Publish.
//
// Handlers should be quick or offload heavy work to avoid blocking publishers.
type EventBus interface {
	// Publish delivers the event synchronously to all active subscribers of
	// event.Type(). If one or more handlers return an error, a joined error
	// is returned.
	Publish(event Event) error
	// Subscribe registers a handler for an event type and returns a
	// Subscription handle that can be used to cancel later.
	Subscribe(eventType string, handler EventHandler) (Subscription, error)
	// Unsubscribe cancels the given Subscription. Safe to call with nil.
	Unsubscribe(Subscription) error
}

// Event is an immutable message transported by the EventBus.
type Event interface {
	Type() string
	Source() string
	Timestamp() time.Time
	Data() any
}

// EventHandler consumes one event. Returned errors are aggregated by Publish.
type EventHandler func(Event) error

// Subscription is the cancellation handle returned by Subscribe.
type Subscription interface {
	ID() string
	EventType() string
	Cancel() error
}
