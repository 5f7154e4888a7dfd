package persistence

import (
	"slices"
	"time"

	"github.com/vanyastaff/nebulav2/pkg/models"
)

// Checkpoint is a durable write of one node's state. Sequence must exceed the
// execution's stored sequence; replaying an already-applied checkpoint is a no-op.
type Checkpoint struct {
	ExecutionID string
	Sequence    int64
	Node        models.NodeState
	At          time.Time
}

// Transition changes the overall status of an execution. A zero Sequence
// lets the store assign the next one.
type Transition struct {
	ExecutionID string
	From        []models.ExecutionStatus
	To          models.ExecutionStatus
	Sequence    int64
	Failure     *models.ExecutionFailure
	At          time.Time
}

// CheckCheckpoint decides whether checkpoint applies on top of the stored
// execution status, sequence and node record. Backends share it so fencing
// behaves identically everywhere.
func CheckCheckpoint(status models.ExecutionStatus, sequence int64, stored *models.NodeState, checkpoint Checkpoint) (bool, error) {
	if stored != nil && stored.Sequence == checkpoint.Sequence && stored.Status == checkpoint.Node.Status {
		return false, nil
	}

	if status.IsTerminal() {
		return false, ErrExecutionTerminal
	}

	if checkpoint.Sequence <= sequence {
		return false, ErrCheckpointConflict
	}

	return true, nil
}

// CheckTransition decides whether transition applies and returns the sequence to store.
func CheckTransition(status models.ExecutionStatus, sequence int64, transition Transition) (int64, bool, error) {
	if status == transition.To {
		return sequence, false, nil
	}

	if status.IsTerminal() {
		return sequence, false, ErrExecutionTerminal
	}

	if len(transition.From) > 0 && !slices.Contains(transition.From, status) {
		return sequence, false, ErrInvalidTransition
	}

	next := transition.Sequence
	if next == 0 {
		next = sequence + 1
	} else if next <= sequence {
		return sequence, false, ErrCheckpointConflict
	}

	return next, true, nil
}

// ApplyCheckpoint applies checkpoint to an in-memory execution.
func ApplyCheckpoint(state *models.ExecutionState, checkpoint Checkpoint) error {
	stored := state.Nodes[checkpoint.Node.NodeID]

	apply, err := CheckCheckpoint(state.Status, state.Sequence, stored, checkpoint)
	if err != nil || !apply {
		return err
	}

	node := checkpoint.Node.Clone()
	node.Sequence = checkpoint.Sequence

	if state.Nodes == nil {
		state.Nodes = map[string]*models.NodeState{}
	}

	state.Nodes[node.NodeID] = node
	state.Sequence = checkpoint.Sequence
	state.UpdatedAt = checkpoint.At

	return nil
}

// ApplyTransition applies transition to an in-memory execution.
func ApplyTransition(state *models.ExecutionState, transition Transition) error {
	next, apply, err := CheckTransition(state.Status, state.Sequence, transition)
	if err != nil || !apply {
		return err
	}

	state.Status = transition.To
	state.Sequence = next
	state.UpdatedAt = transition.At

	if transition.Failure != nil {
		failure := *transition.Failure
		state.Failure = &failure
	}

	at := transition.At

	if transition.To == models.ExecutionRunning && state.StartedAt == nil {
		state.StartedAt = &at
	}

	if transition.To.IsTerminal() {
		state.CompletedAt = &at
	}

	return nil
}
