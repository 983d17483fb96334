// Package realtime provides the server-push subscription primitive: named
// channels carrying typed events for one logical owner, with broadcast
// support for heartbeats.
package realtime

import "context"

// Status is a channel lifecycle notification delivered to the status
// callback registered at Subscribe.
type Status string

const (
	StatusSubscribed   Status = "SUBSCRIBED"
	StatusChannelError Status = "CHANNEL_ERROR"
	StatusTimedOut     Status = "TIMED_OUT"
	StatusClosed       Status = "CLOSED"
)

// Message is one inbound event on a channel.
type Message struct {
	Event   string         `json:"event"`
	Payload map[string]any `json:"payload,omitempty"`
}

// EventSpec selects which inbound events a handler receives.
type EventSpec struct {
	// Event is the event name; "*" matches every event.
	Event string
	// Table scopes database change events to one table, when set.
	Table string
	// Filter is an optional row filter expression (e.g. "recipient_id=eq.<id>").
	Filter string
}

// ChannelConfig carries per-channel options.
type ChannelConfig struct {
	// Private restricts the channel to its owner.
	Private bool
}

// Channel is one live subscription.
type Channel interface {
	// On registers handler for events matching spec. Must be called before
	// Subscribe.
	On(spec EventSpec, handler func(Message))

	// Subscribe opens the channel and arms the status callback. The callback
	// receives SUBSCRIBED on success and CHANNEL_ERROR / TIMED_OUT / CLOSED
	// afterwards as the channel's fortunes change.
	Subscribe(ctx context.Context, statusCallback func(Status, error)) error

	// Send broadcasts a payload on the channel (heartbeats, presence).
	Send(ctx context.Context, event string, payload map[string]any) error

	// Unsubscribe tears the channel down. Idempotent.
	Unsubscribe() error
}

// Client creates channels.
type Client interface {
	Channel(name string, config ChannelConfig) Channel
}
