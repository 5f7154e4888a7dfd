package cmd

import (
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/vanyastaff/nebulav2/pkg/channels/gochannel"
	"github.com/vanyastaff/nebulav2/pkg/channels/kafka"
	"github.com/vanyastaff/nebulav2/pkg/eventbus"
)

// NewEventBus creates the execution event bus. "gochannel" only reaches
// subscribers in the same process; use kafka when the API and workers run
// separately. group names the Kafka consumer group and must be unique per
// process for every process to see every event.
func NewEventBus(provider string, brokers []string, group string, logger *slog.Logger) (eventbus.EventBus, error) {
	adapter := watermill.NewSlogLogger(logger)

	switch provider {
	case "", "gochannel":
		pub, sub, err := gochannel.CreateChannel(adapter)
		if err != nil {
			return nil, err
		}

		return eventbus.NewWatermillEventBus(pub, sub, logger), nil
	case "kafka":
		pub, sub, err := kafka.CreateChannel(adapter, brokers, group)
		if err != nil {
			return nil, fmt.Errorf("failed to create Kafka pub/sub: %w", err)
		}

		return eventbus.NewWatermillEventBus(pub, sub, logger), nil
	default:
		return nil, fmt.Errorf("unsupported event bus provider %q", provider)
	}
}
