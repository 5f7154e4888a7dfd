// Package eventbus carries execution lifecycle events between processes.
package eventbus

import (
	"context"

	"github.com/vanyastaff/nebulav2/pkg/events"
)

// EventHandler reacts to one decoded event. A returned error nacks the
// message.
type EventHandler func(ctx context.Context, event events.Event) error

type EventPublisher interface {
	Publish(ctx context.Context, event events.Event) error
}

// EventSubscriber routes events by type. Handlers must be registered before
// Subscribe. Delivery stops when the context passed to Subscribe ends.
type EventSubscriber interface {
	Handle(eventType events.EventType, handler EventHandler) error
	Subscribe(ctx context.Context) error
}

type EventBus interface {
	EventPublisher
	EventSubscriber
	GenerateID() string
	Close() error
}
