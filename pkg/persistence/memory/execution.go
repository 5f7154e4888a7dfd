package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/vanyastaff/nebulav2/pkg/models"
	"github.com/vanyastaff/nebulav2/pkg/persistence"
)

// ExecutionRepository is the execution arena.
type ExecutionRepository struct {
	mu    *sync.Mutex
	arena map[string]*models.ExecutionState
}

func (r *ExecutionRepository) Create(_ context.Context, state *models.ExecutionState) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.arena[state.ID]; exists {
		return &persistence.ExecutionError{Op: "Create", ExecutionID: state.ID, Err: persistence.ErrExecutionExists}
	}

	r.arena[state.ID] = state.Clone()

	return nil
}

func (r *ExecutionRepository) Get(_ context.Context, id string) (*models.ExecutionState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	state, ok := r.arena[id]
	if !ok {
		return nil, &persistence.ExecutionError{Op: "Get", ExecutionID: id, Err: persistence.ErrExecutionNotFound}
	}

	return state.Clone(), nil
}

func (r *ExecutionRepository) ListByStatus(_ context.Context, status models.ExecutionStatus) ([]*models.ExecutionState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var result []*models.ExecutionState

	for _, state := range r.arena {
		if state.Status == status {
			result = append(result, state.Clone())
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})

	return result, nil
}

func (r *ExecutionRepository) Checkpoint(_ context.Context, checkpoint persistence.Checkpoint) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	state, ok := r.arena[checkpoint.ExecutionID]
	if !ok {
		return &persistence.ExecutionError{
			Op:          "Checkpoint",
			ExecutionID: checkpoint.ExecutionID,
			NodeID:      checkpoint.Node.NodeID,
			Err:         persistence.ErrExecutionNotFound,
		}
	}

	err := persistence.ApplyCheckpoint(state, checkpoint)
	if err != nil {
		return &persistence.ExecutionError{
			Op:          "Checkpoint",
			ExecutionID: checkpoint.ExecutionID,
			NodeID:      checkpoint.Node.NodeID,
			Err:         fmt.Errorf("sequence %d: %w", checkpoint.Sequence, err),
		}
	}

	return nil
}

func (r *ExecutionRepository) Transition(_ context.Context, transition persistence.Transition) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	state, ok := r.arena[transition.ExecutionID]
	if !ok {
		return &persistence.ExecutionError{Op: "Transition", ExecutionID: transition.ExecutionID, Err: persistence.ErrExecutionNotFound}
	}

	err := persistence.ApplyTransition(state, transition)
	if err != nil {
		return &persistence.ExecutionError{
			Op:          "Transition",
			ExecutionID: transition.ExecutionID,
			Err:         fmt.Errorf("%s -> %s: %w", state.Status, transition.To, err),
		}
	}

	return nil
}
