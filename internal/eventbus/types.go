// Package eventbus provides an in-process, typed publish/subscribe bus
// with one-level wildcard subscriptions, synchronous and asynchronous
// delivery, and backpressure on the async queue.
package eventbus

import (
	"context"
	"time"
)

// Event is a single message flowing through the bus. Type is a closed,
// dotted vocabulary (e.g. "dialogue.user_message",
// "emotion.analysis.completed"); handlers subscribe to an exact type or
// a one-level wildcard ("emotion.analysis.*").
type Event struct {
	// Type identifies the event. Required.
	Type string

	// Source names the component that published the event, for logging.
	Source string

	// SessionID scopes the event to a conversation, when applicable.
	SessionID string

	// Payload carries event-specific data. Handlers type-assert it
	// against the schema registered for Type.
	Payload any

	// Timestamp is set by Publish/PublishSync if zero.
	Timestamp time.Time
}

// Handler processes a single event. Handlers should be fast and
// non-blocking; long-running work should be dispatched to a goroutine
// by the handler itself. A returned error is logged and does not stop
// delivery to other handlers.
type Handler func(ctx context.Context, event Event) error

// Priority determines dispatch order within a single event's matching
// handlers; lower values run first.
type Priority int

const (
	PriorityHighest Priority = 0
	PriorityHigh    Priority = 25
	PriorityNormal  Priority = 50
	PriorityLow     Priority = 75
	PriorityLowest  Priority = 100
)

// Subscription is a registered handler, returned so callers can inspect
// what they subscribed with; use its ID with Unsubscribe.
type Subscription struct {
	ID       string
	Pattern  string
	Priority Priority
	Name     string
	Source   string
	handler  Handler
}

// SubscribeOption configures a Subscription at registration time.
type SubscribeOption func(*Subscription)

// WithPriority sets dispatch priority (lower runs earlier).
func WithPriority(p Priority) SubscribeOption {
	return func(s *Subscription) { s.Priority = p }
}

// WithName sets a human-readable name for debugging/logging.
func WithName(name string) SubscribeOption {
	return func(s *Subscription) { s.Name = name }
}

// WithSource identifies where the subscription came from (plugin name, etc).
func WithSource(source string) SubscribeOption {
	return func(s *Subscription) { s.Source = source }
}
