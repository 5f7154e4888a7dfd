package state_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/vanyastaff/nebulav2/pkg/blob"
	"github.com/vanyastaff/nebulav2/pkg/models"
	"github.com/vanyastaff/nebulav2/pkg/persistence"
	"github.com/vanyastaff/nebulav2/pkg/persistence/memory"
	"github.com/vanyastaff/nebulav2/pkg/state"
	"github.com/vanyastaff/nebulav2/pkg/testutil"
)

var fixedNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newManager(t *testing.T, opts ...state.Option) (*state.Manager, *memory.Persistence, *models.WorkflowDefinition) {
	t.Helper()

	store := memory.NewPersistence()
	def := testutil.Diamond()
	require.NoError(t, store.WorkflowRepository().Save(context.Background(), def))

	opts = append([]state.Option{state.WithClock(func() time.Time { return fixedNow })}, opts...)

	return state.NewManager(store, discardLogger(), opts...), store, def
}

func succeeded(id string, output map[string]any) *models.NodeState {
	return &models.NodeState{NodeID: id, Status: models.NodeSucceeded, Output: output, Attempts: 1}
}

func TestManager_Lifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	manager, _, def := newManager(t)

	exec, err := manager.Create(ctx, def, map[string]any{"user": "ada"})
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionPending, exec.Status)
	assert.Len(t, exec.Nodes, 4)

	require.NoError(t, manager.Start(ctx, exec))
	assert.Equal(t, models.ExecutionRunning, exec.Status)
	require.NoError(t, manager.Start(ctx, exec), "starting twice is a no-op")

	require.NoError(t, manager.Record(ctx, exec, succeeded("a", map[string]any{"main": 1.0})))
	assert.Equal(t, int64(2), exec.Sequence)

	loaded, err := manager.Load(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, exec.Sequence, loaded.Sequence)
	assert.Equal(t, models.NodeSucceeded, loaded.Nodes["a"].Status)
	assert.Equal(t, map[string]any{"user": "ada"}, loaded.TriggerData)

	workflow, err := manager.Workflow(ctx, loaded)
	require.NoError(t, err)
	assert.Equal(t, def.ID, workflow.ID)

	require.NoError(t, manager.Finish(ctx, exec, nil))
	assert.Equal(t, models.ExecutionSucceeded, exec.Status)
	require.NotNil(t, exec.CompletedAt)

	err = manager.Record(ctx, exec, succeeded("b", nil))
	require.ErrorIs(t, err, state.ErrExecutionTerminal)
	assert.False(t, state.IsPersistenceError(err))
}

func TestManager_CheckpointFencing(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	manager, _, def := newManager(t)

	exec, err := manager.Create(ctx, def, nil)
	require.NoError(t, err)
	require.NoError(t, manager.Start(ctx, exec))

	checkpoint := persistence.Checkpoint{
		ExecutionID: exec.ID,
		Sequence:    manager.NextSequence(exec),
		Node:        *succeeded("a", map[string]any{"main": "x"}),
	}

	require.NoError(t, manager.Checkpoint(ctx, checkpoint))
	require.NoError(t, manager.Checkpoint(ctx, checkpoint), "replay is a no-op")

	stale := checkpoint
	stale.Node = *succeeded("b", nil)

	err = manager.Checkpoint(ctx, stale)
	require.ErrorIs(t, err, state.ErrCheckpointConflict)
	assert.False(t, state.IsPersistenceError(err))
}

func TestManager_Cancel(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	manager, _, def := newManager(t)

	exec, err := manager.Create(ctx, def, nil)
	require.NoError(t, err)

	require.NoError(t, manager.Cancel(ctx, exec.ID))
	require.NoError(t, manager.Cancel(ctx, exec.ID), "cancel is idempotent")

	loaded, err := manager.Status(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionCancelled, loaded.Status)

	err = manager.Start(ctx, loaded)
	require.ErrorIs(t, err, state.ErrExecutionTerminal)

	err = manager.Cancel(ctx, "missing")
	require.ErrorIs(t, err, state.ErrExecutionNotFound)
}

func TestManager_CancelFinished(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	manager, _, def := newManager(t)

	exec, err := manager.Create(ctx, def, nil)
	require.NoError(t, err)
	require.NoError(t, manager.Start(ctx, exec))
	require.NoError(t, manager.Finish(ctx, exec, &models.ExecutionFailure{NodeID: "a", Kind: "failure", Message: "boom"}))

	require.ErrorIs(t, manager.Cancel(ctx, exec.ID), state.ErrExecutionTerminal)

	loaded, err := manager.Status(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionFailed, loaded.Status)
	assert.Equal(t, "boom", loaded.Failure.Message)
}

func TestManager_Recover(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	manager, _, def := newManager(t)

	exec, err := manager.Create(ctx, def, nil)
	require.NoError(t, err)
	require.NoError(t, manager.Start(ctx, exec))
	require.NoError(t, manager.Record(ctx, exec, succeeded("a", map[string]any{"main": 1.0})))

	started := fixedNow
	for _, id := range []string{"b", "c"} {
		require.NoError(t, manager.Record(ctx, exec, &models.NodeState{
			NodeID: id, Status: models.NodeRunning, Attempts: 1, StartedAt: &started,
		}))
	}

	// Simulate a worker crash: a new lease holder loads from the store.
	reloaded, err := manager.Load(ctx, exec.ID)
	require.NoError(t, err)

	recovered, err := manager.Recover(ctx, reloaded)
	require.NoError(t, err)
	assert.Equal(t, 2, recovered)

	after, err := manager.Load(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.NodeNotStarted, after.Nodes["b"].Status)
	assert.Equal(t, models.NodeNotStarted, after.Nodes["c"].Status)
	assert.Equal(t, 1, after.Nodes["b"].Attempts, "attempt count survives recovery")
	assert.Equal(t, models.NodeSucceeded, after.Nodes["a"].Status)

	recovered, err = manager.Recover(ctx, after)
	require.NoError(t, err)
	assert.Zero(t, recovered)
}

func TestManager_BlobOffload(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	blobs := blob.NewMemoryStore()
	manager, store, def := newManager(t, state.WithBlobStore(blobs, 32))

	exec, err := manager.Create(ctx, def, nil)
	require.NoError(t, err)
	require.NoError(t, manager.Start(ctx, exec))

	large := strings.Repeat("x", 100)
	require.NoError(t, manager.Record(ctx, exec, succeeded("a", map[string]any{"main": large, "small": "ok"})))

	assert.Equal(t, large, exec.Nodes["a"].Output["main"], "caller copy keeps outputs inline")

	raw, err := store.ExecutionRepository().Get(ctx, exec.ID)
	require.NoError(t, err)

	ref, ok := raw.Nodes["a"].Output["main"].(map[string]any)
	require.True(t, ok)
	key, ok := ref[state.BlobRefKey].(string)
	require.True(t, ok)
	assert.Equal(t, exec.ID+"/a/2/main", key)
	assert.Equal(t, "ok", raw.Nodes["a"].Output["small"])

	loaded, err := manager.Load(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, large, loaded.Nodes["a"].Output["main"])

	require.NoError(t, blobs.Delete(ctx, key))

	_, err = manager.Load(ctx, exec.ID)
	require.Error(t, err)
	assert.True(t, state.IsPersistenceError(err))
	assert.ErrorIs(t, err, blob.ErrBlobNotFound)
}

type failingExecutions struct {
	mock.Mock
	persistence.ExecutionRepository
}

func (f *failingExecutions) Checkpoint(ctx context.Context, checkpoint persistence.Checkpoint) error {
	args := f.Called(ctx, checkpoint.ExecutionID)

	return args.Error(0)
}

type failingStore struct {
	*memory.Persistence
	executions *failingExecutions
}

func (s *failingStore) ExecutionRepository() persistence.ExecutionRepository {
	return s.executions
}

func TestManager_WriteFailureIsPersistenceError(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	base := memory.NewPersistence()
	executions := &failingExecutions{ExecutionRepository: base.ExecutionRepository()}
	executions.On("Checkpoint", mock.Anything, "exec-1").Return(errors.New("connection reset")).Once()

	manager := state.NewManager(&failingStore{Persistence: base, executions: executions}, discardLogger())

	err := manager.Checkpoint(ctx, persistence.Checkpoint{
		ExecutionID: "exec-1",
		Sequence:    1,
		Node:        *succeeded("a", nil),
	})
	require.Error(t, err)

	var persistErr *state.PersistenceError
	require.ErrorAs(t, err, &persistErr)
	assert.Equal(t, "checkpoint", persistErr.Op)
	assert.Equal(t, "exec-1", persistErr.ExecutionID)

	executions.AssertExpectations(t)
}
