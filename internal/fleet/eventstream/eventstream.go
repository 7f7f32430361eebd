package eventstream

import "context"

// EventStream is the capability contract the fleet coordinator depends
// on (spec section 6: "Examples in the target ecosystem exist; the
// core depends only on this contract"). Producers publish with
// at-least-once semantics; consumers are durable per-device
// subscriptions whose cursor advances only on Ack, so a crash between
// Next and Ack redelivers the event.
type EventStream interface {
	// Publish appends event to the stream. All events share one
	// sequence; they are not stored or filtered by Subject.
	Publish(ctx context.Context, event StateEvent) error
	// Subscribe opens (or resumes) a durable named consumer. The same
	// consumerID always resumes from its last acked position.
	Subscribe(ctx context.Context, consumerID string) (Subscription, error)
}

// Subscription delivers events to one durable consumer, in the order
// they were published by any single source device (spec section
// 4.6.1: "ordering within a source is respected"); across source
// devices no order is guaranteed.
type Subscription interface {
	// Next blocks until an event is available or ctx is cancelled;
	// Close does not interrupt a pending Next. The returned event has
	// not yet been acked: on a durable stream, a crash before Ack
	// redelivers it.
	Next(ctx context.Context) (StateEvent, error)
	// Ack advances the consumer's durable cursor past event.
	Ack(ctx context.Context, event StateEvent) error
	// Close releases the subscription's resources without deleting
	// its durable cursor.
	Close() error
}
