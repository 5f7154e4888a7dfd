//go:build integration

package kafka_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	kafkatc "github.com/testcontainers/testcontainers-go/modules/kafka"
	"github.com/vanyastaff/nebulav2/pkg/channels/kafka"
	"github.com/vanyastaff/nebulav2/pkg/eventbus"
	"github.com/vanyastaff/nebulav2/pkg/events"
	"github.com/vanyastaff/nebulav2/pkg/models"
)

func setupKafkaContainer(t *testing.T) []string {
	t.Helper()

	ctx := context.Background()

	container, err := kafkatc.Run(ctx, "confluentinc/confluent-local:7.5.0", kafkatc.WithClusterID("test-cluster"))
	require.NoError(t, err)

	t.Cleanup(func() {
		assert.NoError(t, container.Terminate(context.Background()))
	})

	brokers, err := container.Brokers(ctx)
	require.NoError(t, err)

	config := sarama.NewConfig()
	config.Version = sarama.V2_6_0_0

	admin, err := sarama.NewClusterAdmin(brokers, config)
	require.NoError(t, err)

	defer admin.Close()

	require.NoError(t, admin.CreateTopic(events.Topic, &sarama.TopicDetail{NumPartitions: 1, ReplicationFactor: 1}, false))

	return brokers
}

func TestCreateChannel_DeliversCancellation(t *testing.T) {
	brokers := setupKafkaContainer(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	newBus := func(group string) *eventbus.WatermillEventBus {
		pub, sub, err := kafka.CreateChannel(watermill.NopLogger{}, brokers, group)
		require.NoError(t, err)

		bus := eventbus.NewWatermillEventBus(pub, sub, logger)
		t.Cleanup(func() { _ = bus.Close() })

		return bus
	}

	api := newBus("nebula-api")
	workers := []*eventbus.WatermillEventBus{newBus("nebula-worker-1"), newBus("nebula-worker-2")}

	type delivery struct {
		worker int
		key    string
	}

	received := make(chan delivery, 256)

	for i, bus := range workers {
		require.NoError(t, bus.Handle(events.ExecutionCancelledEvent, func(_ context.Context, event events.Event) error {
			received <- delivery{worker: i, key: event.Key()}

			return nil
		}))
		require.NoError(t, bus.Subscribe(ctx))
	}

	state := &models.ExecutionState{ID: "exec-kafka", WorkflowID: "wf"}
	seen := map[int]bool{}

	// consumer groups join asynchronously and start at the newest offset
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for len(seen) < len(workers) {
		select {
		case <-ctx.Done():
			t.Fatalf("only %d of %d workers saw the cancellation", len(seen), len(workers))
		case d := <-received:
			assert.Equal(t, "exec-kafka", d.key)

			seen[d.worker] = true
		case <-ticker.C:
			require.NoError(t, api.Publish(ctx, events.ExecutionCancelled{
				BaseEvent: events.NewBase(events.ExecutionCancelledEvent, api.GenerateID(), state, "", time.Now()),
			}))
		}
	}
}
