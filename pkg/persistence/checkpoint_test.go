package persistence_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vanyastaff/nebulav2/pkg/models"
	"github.com/vanyastaff/nebulav2/pkg/persistence"
	"github.com/vanyastaff/nebulav2/pkg/testutil"
)

func checkpoint(seq int64, node string, status models.NodeStatus) persistence.Checkpoint {
	return persistence.Checkpoint{
		ExecutionID: "exec-test",
		Sequence:    seq,
		Node:        models.NodeState{NodeID: node, Status: status},
		At:          time.Now(),
	}
}

func TestApplyCheckpoint(t *testing.T) {
	t.Parallel()

	state := testutil.Running(testutil.Diamond())

	require.NoError(t, persistence.ApplyCheckpoint(state, checkpoint(1, "a", models.NodeRunning)))
	assert.Equal(t, int64(1), state.Sequence)
	assert.Equal(t, int64(1), state.Nodes["a"].Sequence)

	t.Run("replay is a no-op", func(t *testing.T) {
		require.NoError(t, persistence.ApplyCheckpoint(state, checkpoint(1, "a", models.NodeRunning)))
		assert.Equal(t, int64(1), state.Sequence)
	})

	t.Run("stale writer conflicts", func(t *testing.T) {
		require.NoError(t, persistence.ApplyCheckpoint(state, checkpoint(2, "a", models.NodeSucceeded)))

		err := persistence.ApplyCheckpoint(state, checkpoint(2, "b", models.NodeRunning))
		assert.ErrorIs(t, err, persistence.ErrCheckpointConflict)
		assert.True(t, persistence.IsConflict(err))
		assert.Equal(t, models.NodeNotStarted, state.Nodes["b"].Status)
	})

	t.Run("terminal execution rejects writes", func(t *testing.T) {
		require.NoError(t, persistence.ApplyTransition(state, persistence.Transition{
			To: models.ExecutionCancelled,
			At: time.Now(),
		}))

		err := persistence.ApplyCheckpoint(state, checkpoint(10, "b", models.NodeRunning))
		assert.ErrorIs(t, err, persistence.ErrExecutionTerminal)
	})
}

func TestApplyTransition(t *testing.T) {
	t.Parallel()

	def := testutil.Diamond()
	state := models.NewExecutionState("exec-1", def, nil, time.Now())

	err := persistence.ApplyTransition(state, persistence.Transition{
		From: []models.ExecutionStatus{models.ExecutionRunning},
		To:   models.ExecutionSucceeded,
	})
	assert.ErrorIs(t, err, persistence.ErrInvalidTransition)

	require.NoError(t, persistence.ApplyTransition(state, persistence.Transition{
		From: []models.ExecutionStatus{models.ExecutionPending},
		To:   models.ExecutionRunning,
		At:   time.Now(),
	}))
	assert.Equal(t, int64(1), state.Sequence)
	assert.NotNil(t, state.StartedAt)

	err = persistence.ApplyTransition(state, persistence.Transition{To: models.ExecutionFailed, Sequence: 1})
	assert.ErrorIs(t, err, persistence.ErrCheckpointConflict)

	failure := &models.ExecutionFailure{NodeID: "b", Kind: "failure", Message: "boom"}
	require.NoError(t, persistence.ApplyTransition(state, persistence.Transition{
		To:       models.ExecutionFailed,
		Sequence: 5,
		Failure:  failure,
		At:       time.Now(),
	}))
	assert.Equal(t, int64(5), state.Sequence)
	assert.Equal(t, "b", state.Failure.NodeID)
	assert.NotNil(t, state.CompletedAt)

	require.NoError(t, persistence.ApplyTransition(state, persistence.Transition{To: models.ExecutionFailed}),
		"repeating the terminal transition is a no-op")

	err = persistence.ApplyTransition(state, persistence.Transition{To: models.ExecutionCancelled})
	assert.ErrorIs(t, err, persistence.ErrExecutionTerminal)
}

func TestErrorHelpers(t *testing.T) {
	t.Parallel()

	execErr := &persistence.ExecutionError{Op: "Get", ExecutionID: "exec-1", Err: persistence.ErrExecutionNotFound}
	assert.True(t, persistence.IsExecutionNotFound(execErr))
	assert.Contains(t, execErr.Error(), "exec-1")

	jobErr := &persistence.JobError{Op: "Heartbeat", JobID: "job-1", WorkerID: "w1", Err: persistence.ErrLockExpired}
	assert.True(t, persistence.IsLockExpired(jobErr))
	assert.True(t, errors.Is(jobErr, persistence.ErrLockExpired))
	assert.Contains(t, jobErr.Error(), "job-1")

	assert.True(t, persistence.IsWorkflowNotFound(persistence.ErrWorkflowNotFound))
}
