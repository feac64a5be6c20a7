package streaming

import (
	"context"
	"time"
)

// StreamEvent is a real-time notification about a chain: a committed
// version, an applied edit, a session opening or closing.
type StreamEvent struct {
	ChainID   string    `json:"chain_id"`
	SessionID string    `json:"session_id,omitempty"`
	Version   int       `json:"version,omitempty"`
	EventType string    `json:"event_type"`
	Payload   any       `json:"payload,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// EventFilter specifies which events a subscriber wants to receive.
// Zero values match everything.
type EventFilter struct {
	ChainID    string   `json:"chain_id,omitempty"`
	SessionID  string   `json:"session_id,omitempty"`
	EventTypes []string `json:"event_types,omitempty"`
}

// EventHub provides pub/sub for chain events.
type EventHub interface {
	Publish(ctx context.Context, event StreamEvent) error
	Subscribe(ctx context.Context, filter EventFilter) (<-chan StreamEvent, func(), error)
}
