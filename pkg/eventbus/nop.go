package eventbus

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/vanyastaff/nebulav2/pkg/events"
)

// Nop discards published events and never delivers any.
type Nop struct{}

func (Nop) Publish(context.Context, events.Event) error { return nil }
func (Nop) Handle(events.EventType, EventHandler) error { return nil }
func (Nop) Subscribe(context.Context) error { return nil }
func (Nop) Close() error { return nil }
func (Nop) GenerateID() string { return watermill.NewULID() }
