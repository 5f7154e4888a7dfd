// Package events defines the execution lifecycle notifications published on
// the event bus.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/vanyastaff/nebulav2/pkg/models"
)

type EventType string

const Topic = "nebula.events"

const (
	EventMetadataKey     = "key"
	EventTypeMetadataKey = "event_type"
)

const (
	ExecutionStartedEvent   EventType = "execution.started"
	ExecutionSucceededEvent EventType = "execution.succeeded"
	ExecutionFailedEvent    EventType = "execution.failed"
	ExecutionCancelledEvent EventType = "execution.cancelled"

	NodeStartedEvent        EventType = "node.started"
	NodeSucceededEvent      EventType = "node.succeeded"
	NodeFailedEvent         EventType = "node.failed"
	NodeSkippedEvent        EventType = "node.skipped"
	NodeRetryScheduledEvent EventType = "node.retry_scheduled"
)

type Event interface {
	GetType() EventType
	// Key partitions events; every event of one execution shares a key.
	Key() string
}

type BaseEvent struct {
	ID          string    `json:"id"`
	Type        EventType `json:"type"`
	Timestamp   time.Time `json:"timestamp"`
	ExecutionID string    `json:"execution_id"`
	WorkflowID  string    `json:"workflow_id,omitempty"`
	WorkerID    string    `json:"worker_id,omitempty"`
}

func (b BaseEvent) Key() string {
	return b.ExecutionID
}

// NewBase fills the common fields of an event about state.
func NewBase(eventType EventType, id string, state *models.ExecutionState, workerID string, at time.Time) BaseEvent {
	return BaseEvent{
		ID:          id,
		Type:        eventType,
		Timestamp:   at,
		ExecutionID: state.ID,
		WorkflowID:  state.WorkflowID,
		WorkerID:    workerID,
	}
}

type ExecutionStarted struct {
	BaseEvent

	WorkflowVersion int `json:"workflow_version"`
}

func (ExecutionStarted) GetType() EventType { return ExecutionStartedEvent }

type ExecutionSucceeded struct {
	BaseEvent

	Duration time.Duration `json:"duration"`
}

func (ExecutionSucceeded) GetType() EventType { return ExecutionSucceededEvent }

type ExecutionFailed struct {
	BaseEvent

	Failure  *models.ExecutionFailure `json:"failure,omitempty"`
	Duration time.Duration            `json:"duration"`
}

func (ExecutionFailed) GetType() EventType { return ExecutionFailedEvent }

// ExecutionCancelled is published when a cancel request is recorded; workers
// driving the execution stop as soon as they see it.
type ExecutionCancelled struct {
	BaseEvent
}

func (ExecutionCancelled) GetType() EventType { return ExecutionCancelledEvent }

type NodeStarted struct {
	BaseEvent

	NodeID      string   `json:"node_id"`
	Attempt     int      `json:"attempt"`
	TriggeredBy []string `json:"triggered_by,omitempty"`
}

func (NodeStarted) GetType() EventType { return NodeStartedEvent }

type NodeSucceeded struct {
	BaseEvent

	NodeID   string        `json:"node_id"`
	Attempt  int           `json:"attempt"`
	Ports    []string      `json:"ports"`
	Duration time.Duration `json:"duration"`
}

func (NodeSucceeded) GetType() EventType { return NodeSucceededEvent }

type NodeFailed struct {
	BaseEvent

	NodeID     string   `json:"node_id"`
	Attempt    int      `json:"attempt"`
	Kind       string   `json:"kind"`
	Message    string   `json:"message"`
	Retryable  bool     `json:"retryable"`
	Downstream []string `json:"downstream,omitempty"` // nodes reachable from the failed one
}

func (NodeFailed) GetType() EventType { return NodeFailedEvent }

type NodeSkipped struct {
	BaseEvent

	NodeID string            `json:"node_id"`
	Reason models.SkipReason `json:"reason"`
}

func (NodeSkipped) GetType() EventType { return NodeSkippedEvent }

type NodeRetryScheduled struct {
	BaseEvent

	NodeID        string    `json:"node_id"`
	Attempt       int       `json:"attempt"`
	NextAttemptAt time.Time `json:"next_attempt_at"`
	Error         string    `json:"error"`
}

func (NodeRetryScheduled) GetType() EventType { return NodeRetryScheduledEvent }

var constructors = map[EventType]func() Event{
	ExecutionStartedEvent:   func() Event { return &ExecutionStarted{} },
	ExecutionSucceededEvent: func() Event { return &ExecutionSucceeded{} },
	ExecutionFailedEvent:    func() Event { return &ExecutionFailed{} },
	ExecutionCancelledEvent: func() Event { return &ExecutionCancelled{} },
	NodeStartedEvent:        func() Event { return &NodeStarted{} },
	NodeSucceededEvent:      func() Event { return &NodeSucceeded{} },
	NodeFailedEvent:         func() Event { return &NodeFailed{} },
	NodeSkippedEvent:        func() Event { return &NodeSkipped{} },
	NodeRetryScheduledEvent: func() Event { return &NodeRetryScheduled{} },
}

// Decode unmarshals payload into the concrete event for eventType.
func Decode(eventType EventType, payload []byte) (Event, error) {
	constructor, ok := constructors[eventType]
	if !ok {
		return nil, fmt.Errorf("unknown event type %q", eventType)
	}

	event := constructor()
	if err := json.Unmarshal(payload, event); err != nil {
		return nil, fmt.Errorf("failed to decode %s event: %w", eventType, err)
	}

	return event, nil
}
