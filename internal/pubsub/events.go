// Package pubsub provides the subscriber lists and event channels that carry
// pipeline output to its consumers.
package pubsub

import (
	"context"
	"time"
)

// EventType represents the type of event being published.
type EventType string

const (
	// SectionsEvent carries a freshly generated section list.
	SectionsEvent EventType = "sections"
	// CompletedEvent signals that a generation finished successfully.
	CompletedEvent EventType = "completed"
	// FailedEvent signals that a generation failed.
	FailedEvent EventType = "failed"
	// ChangedEvent signals an external change, such as an edited config file.
	ChangedEvent EventType = "changed"
	// LoggedEvent carries a formatted log line.
	LoggedEvent EventType = "logged"
)

// Event represents a published event with a typed payload.
// Seq increases by one for every event a broker publishes.
type Event[T any] struct {
	Type      EventType
	Payload   T
	Seq       uint64
	Timestamp time.Time
}

// Subscriber provides a subscription channel for events.
type Subscriber[T any] interface {
	Subscribe(ctx context.Context) <-chan Event[T]
}

// Publisher allows publishing events with a typed payload.
type Publisher[T any] interface {
	Publish(eventType EventType, payload T)
}

// Unsubscribe removes a subscription. Calling it more than once is a no-op.
type Unsubscribe func()
