// Package adapter defines the status-event bus boundary: a CM Facade's
// outward SDK callbacks are optionally fanned out to zero or more
// downstream publishers for observability. The CM itself never depends
// on an adapter publish succeeding — a missing or failed publish is
// logged and dropped, never fatal (see SPEC_FULL.md's status adapter
// bus section).
package adapter

import "context"

// StatusEvent is the payload published for one CM status transition.
// EventType names which of the four SDK callbacks produced it;
// exactly the fields relevant to that kind are populated.
type StatusEvent struct {
	EventType  string `json:"event_type"` // channel_status, link_status, connection_status, package_status
	ChannelGID string `json:"channel_gid"`
	Timestamp  string `json:"timestamp"` // ISO 8601

	// Populated for channel_status.
	ChannelStatus string `json:"channel_status,omitempty"`

	// Populated for link_status.
	LinkID     string `json:"link_id,omitempty"`
	LinkStatus string `json:"link_status,omitempty"`

	// Populated for connection_status.
	Handle           uint64 `json:"handle,omitempty"`
	ConnectionID     string `json:"connection_id,omitempty"`
	ConnectionStatus string `json:"connection_status,omitempty"`

	// Populated for package_status.
	PackageHandle string `json:"package_handle,omitempty"`
	PackageOutcome string `json:"package_outcome,omitempty"`
}

// Adapter publishes a status event to a downstream system.
// Implementations must be safe for concurrent use: the CM Facade may
// fan out events from its own dispatcher goroutine while a caller
// drains Close from elsewhere during shutdown.
type Adapter interface {
	// Publish sends a status event to the downstream system. Must
	// respect context cancellation and deadlines.
	Publish(ctx context.Context, event *StatusEvent) error

	// Close releases adapter resources.
	Close() error
}
