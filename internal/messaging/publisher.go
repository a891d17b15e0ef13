package messaging

import (
	"context"

	"github.com/formweave/webhook-engine/internal/domain"
)

// Publisher defines the interface for publishing form events to the broker
type Publisher interface {
	// PublishEvent publishes a domain event for asynchronous dispatch
	PublishEvent(ctx context.Context, event *domain.Event) error
	// Close closes the connection
	Close()
}
