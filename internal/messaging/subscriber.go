package messaging

import (
	"context"

	"github.com/formweave/webhook-engine/internal/domain"
)

// EventHandler is called for each form event received from the broker.
// Returning an error asks the broker to redeliver the message.
type EventHandler func(event *domain.Event) error

// Subscriber defines the interface for consuming form events
type Subscriber interface {
	// SubscribeEvents starts consuming events, invoking handler for each.
	// Blocks until the context is canceled.
	SubscribeEvents(ctx context.Context, handler EventHandler) error

	// Close closes the connection and cleans up resources
	Close()
}
