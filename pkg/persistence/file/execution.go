package file

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/vanyastaff/nebulav2/pkg/models"
	"github.com/vanyastaff/nebulav2/pkg/persistence"
)

// ExecutionRepository stores each execution as executions/{id}.json.
type ExecutionRepository struct {
	store *Persistence
}

func (er *ExecutionRepository) path(id string) string {
	return er.store.dir("executions", id+".json")
}

func (er *ExecutionRepository) load(op, id string) (*models.ExecutionState, error) {
	err := validateID(id)
	if err != nil {
		return nil, &persistence.ExecutionError{Op: op, ExecutionID: id, Err: err}
	}

	var state models.ExecutionState

	found, err := readJSON(er.path(id), &state)
	if err != nil {
		return nil, &persistence.ExecutionError{Op: op, ExecutionID: id, Err: err}
	}

	if !found {
		return nil, &persistence.ExecutionError{Op: op, ExecutionID: id, Err: persistence.ErrExecutionNotFound}
	}

	return &state, nil
}

func (er *ExecutionRepository) Create(_ context.Context, state *models.ExecutionState) error {
	err := validateID(state.ID)
	if err != nil {
		return &persistence.ExecutionError{Op: "Create", ExecutionID: state.ID, Err: err}
	}

	er.store.mu.Lock()
	defer er.store.mu.Unlock()

	if _, err := os.Stat(er.path(state.ID)); err == nil {
		return &persistence.ExecutionError{Op: "Create", ExecutionID: state.ID, Err: persistence.ErrExecutionExists}
	}

	return writeJSON(er.path(state.ID), state)
}

func (er *ExecutionRepository) Get(_ context.Context, id string) (*models.ExecutionState, error) {
	er.store.mu.Lock()
	defer er.store.mu.Unlock()

	return er.load("Get", id)
}

func (er *ExecutionRepository) ListByStatus(_ context.Context, status models.ExecutionStatus) ([]*models.ExecutionState, error) {
	er.store.mu.Lock()
	defer er.store.mu.Unlock()

	ids, err := listJSON(er.store.dir("executions"))
	if err != nil {
		return nil, err
	}

	var result []*models.ExecutionState

	for _, id := range ids {
		state, err := er.load("ListByStatus", id)
		if err != nil {
			return nil, err
		}

		if state.Status == status {
			result = append(result, state)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})

	return result, nil
}

func (er *ExecutionRepository) Checkpoint(_ context.Context, checkpoint persistence.Checkpoint) error {
	er.store.mu.Lock()
	defer er.store.mu.Unlock()

	state, err := er.load("Checkpoint", checkpoint.ExecutionID)
	if err != nil {
		return err
	}

	stored := state.Nodes[checkpoint.Node.NodeID]

	apply, err := persistence.CheckCheckpoint(state.Status, state.Sequence, stored, checkpoint)
	if err != nil {
		return &persistence.ExecutionError{
			Op:          "Checkpoint",
			ExecutionID: checkpoint.ExecutionID,
			NodeID:      checkpoint.Node.NodeID,
			Err:         fmt.Errorf("sequence %d: %w", checkpoint.Sequence, err),
		}
	}

	if !apply {
		return nil
	}

	err = persistence.ApplyCheckpoint(state, checkpoint)
	if err != nil {
		return err
	}

	return writeJSON(er.path(state.ID), state)
}

func (er *ExecutionRepository) Transition(_ context.Context, transition persistence.Transition) error {
	er.store.mu.Lock()
	defer er.store.mu.Unlock()

	state, err := er.load("Transition", transition.ExecutionID)
	if err != nil {
		return err
	}

	from := state.Status

	_, apply, err := persistence.CheckTransition(state.Status, state.Sequence, transition)
	if err != nil {
		return &persistence.ExecutionError{
			Op:          "Transition",
			ExecutionID: transition.ExecutionID,
			Err:         fmt.Errorf("%s -> %s: %w", from, transition.To, err),
		}
	}

	if !apply {
		return nil
	}

	err = persistence.ApplyTransition(state, transition)
	if err != nil {
		return err
	}

	return writeJSON(er.path(state.ID), state)
}
