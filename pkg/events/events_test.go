package events_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vanyastaff/nebulav2/pkg/events"
	"github.com/vanyastaff/nebulav2/pkg/models"
)

func TestDecode(t *testing.T) {
	t.Parallel()

	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	state := &models.ExecutionState{ID: "exec-1", WorkflowID: "wf"}

	original := events.NodeFailed{
		BaseEvent: events.NewBase(events.NodeFailedEvent, "evt-1", state, "worker-1", at),
		NodeID:    "fetch",
		Attempt:   2,
		Kind:      "timeout",
		Message:   "deadline exceeded",
		Retryable: true,
	}

	payload, err := json.Marshal(original)
	require.NoError(t, err)

	decoded, err := events.Decode(events.NodeFailedEvent, payload)
	require.NoError(t, err)

	failed, ok := decoded.(*events.NodeFailed)
	require.True(t, ok)
	assert.Equal(t, original, *failed)
	assert.Equal(t, "exec-1", failed.Key())
	assert.Equal(t, events.NodeFailedEvent, failed.GetType())
}

func TestDecode_Errors(t *testing.T) {
	t.Parallel()

	_, err := events.Decode("workflow.unknown", []byte(`{}`))
	require.Error(t, err)

	_, err = events.Decode(events.ExecutionCancelledEvent, []byte(`{not json`))
	require.Error(t, err)
}

func TestEventTypes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		event events.Event
		want  events.EventType
	}{
		{events.ExecutionStarted{}, events.ExecutionStartedEvent},
		{events.ExecutionSucceeded{}, events.ExecutionSucceededEvent},
		{events.ExecutionFailed{}, events.ExecutionFailedEvent},
		{events.ExecutionCancelled{}, events.ExecutionCancelledEvent},
		{events.NodeStarted{}, events.NodeStartedEvent},
		{events.NodeSucceeded{}, events.NodeSucceededEvent},
		{events.NodeSkipped{}, events.NodeSkippedEvent},
		{events.NodeRetryScheduled{}, events.NodeRetryScheduledEvent},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.event.GetType())

		_, err := events.Decode(tt.want, []byte(`{}`))
		assert.NoError(t, err)
	}
}
