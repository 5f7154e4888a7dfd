// Package persistencetest holds the behaviour every persistence backend must share.
package persistencetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vanyastaff/nebulav2/pkg/models"
	"github.com/vanyastaff/nebulav2/pkg/persistence"
	"github.com/vanyastaff/nebulav2/pkg/testutil"
)

// Factory returns a fresh, empty backend.
type Factory func(t *testing.T) persistence.Persistence

// Run executes the shared backend suite.
func Run(t *testing.T, factory Factory) {
	t.Helper()

	t.Run("workflows are versioned", func(t *testing.T) { testWorkflowVersions(t, factory(t)) })
	t.Run("execution checkpoints are fenced", func(t *testing.T) { testExecutionCheckpoints(t, factory(t)) })
	t.Run("executions list by status", func(t *testing.T) { testListByStatus(t, factory(t)) })
	t.Run("claim order", func(t *testing.T) { testClaimOrder(t, factory(t)) })
	t.Run("claim exclusivity", func(t *testing.T) { testClaimExclusivity(t, factory(t)) })
	t.Run("lease expiry", func(t *testing.T) { testLeaseExpiry(t, factory(t)) })
	t.Run("one live lease per execution", func(t *testing.T) { testExecutionLeaseExclusive(t, factory(t)) })
	t.Run("retry release and purge", func(t *testing.T) { testRetryReleasePurge(t, factory(t)) })
}

// NewJob builds a pending advance job for executionID.
func NewJob(executionID string, priority int, scheduledAt time.Time) *models.WorkflowJob {
	return &models.WorkflowJob{
		ID:          "job-" + uuid.New().String(),
		ExecutionID: executionID,
		Kind:        models.JobKindAdvance,
		Priority:    priority,
		ScheduledAt: scheduledAt,
		MaxRetries:  3,
		Status:      models.JobPending,
		Payload:     map[string]any{"execution_id": executionID},
		CreatedAt:   scheduledAt,
		UpdatedAt:   scheduledAt,
	}
}

func testWorkflowVersions(t *testing.T, store persistence.Persistence) {
	ctx := context.Background()
	repo := store.WorkflowRepository()

	first := testutil.Diamond()
	require.NoError(t, repo.Save(ctx, first))
	assert.Equal(t, 1, first.Version)

	second := testutil.Diamond()
	second.Name = "renamed"
	require.NoError(t, repo.Save(ctx, second))
	assert.Equal(t, 2, second.Version)

	latest, err := repo.GetLatest(ctx, "diamond")
	require.NoError(t, err)
	assert.Equal(t, 2, latest.Version)
	assert.Equal(t, "renamed", latest.Name)
	assert.Len(t, latest.Nodes, 4)
	assert.Len(t, latest.Connections, 4)

	v1, err := repo.GetVersion(ctx, "diamond", 1)
	require.NoError(t, err)
	assert.Equal(t, first.Name, v1.Name)

	_, err = repo.GetVersion(ctx, "diamond", 3)
	assert.True(t, persistence.IsWorkflowNotFound(err))

	_, err = repo.GetLatest(ctx, "missing")
	assert.True(t, persistence.IsWorkflowNotFound(err))

	require.NoError(t, repo.Save(ctx, testutil.Branch("condition")))

	all, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "branch", all[0].ID)
	assert.Equal(t, "diamond", all[1].ID)
	assert.Equal(t, 2, all[1].Version)
}

func newExecution(t *testing.T, store persistence.Persistence, def *models.WorkflowDefinition) *models.ExecutionState {
	t.Helper()

	state := models.NewExecutionState("exec-"+uuid.New().String()[:8], def, map[string]any{"source": "test"}, time.Now().UTC())
	require.NoError(t, store.ExecutionRepository().Create(context.Background(), state))

	return state
}

func testExecutionCheckpoints(t *testing.T, store persistence.Persistence) {
	ctx := context.Background()
	repo := store.ExecutionRepository()
	state := newExecution(t, store, testutil.Diamond())

	err := repo.Create(ctx, state)
	assert.ErrorIs(t, err, persistence.ErrExecutionExists)

	now := time.Now().UTC().Truncate(time.Millisecond)

	require.NoError(t, repo.Transition(ctx, persistence.Transition{
		ExecutionID: state.ID,
		From:        []models.ExecutionStatus{models.ExecutionPending},
		To:          models.ExecutionRunning,
		At:          now,
	}))

	done := persistence.Checkpoint{
		ExecutionID: state.ID,
		Sequence:    2,
		Node: models.NodeState{
			NodeID:      "a",
			Status:      models.NodeSucceeded,
			Output:      map[string]any{"main": map[string]any{"value": float64(42)}},
			Attempts:    1,
			TriggeredBy: []string{"x"},
			CompletedAt: &now,
		},
		At: now,
	}
	require.NoError(t, repo.Checkpoint(ctx, done))
	require.NoError(t, repo.Checkpoint(ctx, done), "replaying a checkpoint is a no-op")

	stale := done
	stale.Node = models.NodeState{NodeID: "b", Status: models.NodeRunning}
	err = repo.Checkpoint(ctx, stale)
	assert.ErrorIs(t, err, persistence.ErrCheckpointConflict)

	loaded, err := repo.Get(ctx, state.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionRunning, loaded.Status)
	assert.Equal(t, int64(2), loaded.Sequence)
	assert.NotNil(t, loaded.StartedAt)
	assert.Equal(t, "test", loaded.TriggerData["source"])
	assert.Equal(t, models.NodeSucceeded, loaded.Nodes["a"].Status)
	assert.Equal(t, map[string]any{"value": float64(42)}, loaded.Nodes["a"].Output["main"])
	assert.Equal(t, 1, loaded.Nodes["a"].Attempts)
	assert.Equal(t, int64(2), loaded.Nodes["a"].Sequence)
	assert.Equal(t, models.NodeNotStarted, loaded.Nodes["b"].Status)

	require.NoError(t, repo.Transition(ctx, persistence.Transition{
		ExecutionID: state.ID,
		To:          models.ExecutionFailed,
		Sequence:    3,
		Failure:     &models.ExecutionFailure{NodeID: "b", Kind: "failure", Message: "boom"},
		At:          now,
	}))

	err = repo.Checkpoint(ctx, persistence.Checkpoint{
		ExecutionID: state.ID,
		Sequence:    4,
		Node:        models.NodeState{NodeID: "c", Status: models.NodeRunning},
		At:          now,
	})
	assert.ErrorIs(t, err, persistence.ErrExecutionTerminal)

	loaded, err = repo.Get(ctx, state.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionFailed, loaded.Status)
	require.NotNil(t, loaded.Failure)
	assert.Equal(t, "b", loaded.Failure.NodeID)
	assert.NotNil(t, loaded.CompletedAt)

	_, err = repo.Get(ctx, "exec-missing")
	assert.True(t, persistence.IsExecutionNotFound(err))
}

func testListByStatus(t *testing.T, store persistence.Persistence) {
	ctx := context.Background()
	repo := store.ExecutionRepository()

	running := newExecution(t, store, testutil.Diamond())
	newExecution(t, store, testutil.Diamond())

	require.NoError(t, repo.Transition(ctx, persistence.Transition{
		ExecutionID: running.ID,
		To:          models.ExecutionRunning,
		At:          time.Now(),
	}))

	list, err := repo.ListByStatus(ctx, models.ExecutionRunning)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, running.ID, list[0].ID)
	assert.Len(t, list[0].Nodes, 4)

	pending, err := repo.ListByStatus(ctx, models.ExecutionPending)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func testClaimOrder(t *testing.T, store persistence.Persistence) {
	ctx := context.Background()
	jobs := store.JobRepository()
	now := time.Now().UTC().Truncate(time.Millisecond)

	low := NewJob("exec-low", 0, now.Add(-time.Minute))
	highLate := NewJob("exec-high-late", 5, now.Add(-time.Second))
	highEarly := NewJob("exec-high-early", 5, now.Add(-time.Hour))
	future := NewJob("exec-future", 10, now.Add(time.Hour))

	for _, job := range []*models.WorkflowJob{low, highLate, highEarly, future} {
		require.NoError(t, jobs.Push(ctx, job))
	}

	var order []string

	for {
		job, err := jobs.Claim(ctx, "worker-1", now, time.Minute)
		require.NoError(t, err)

		if job == nil {
			break
		}

		assert.Equal(t, models.JobLocked, job.Status)
		assert.Equal(t, "worker-1", job.LockedBy)
		require.NotNil(t, job.VisibilityDeadline)
		assert.WithinDuration(t, now.Add(time.Minute), *job.VisibilityDeadline, time.Second)

		order = append(order, job.ExecutionID)
	}

	assert.Equal(t, []string{"exec-high-early", "exec-high-late", "exec-low"}, order)

	active, err := jobs.CountActive(ctx, "exec-future")
	require.NoError(t, err)
	assert.Equal(t, 1, active)
}

func testClaimExclusivity(t *testing.T, store persistence.Persistence) {
	ctx := context.Background()
	jobs := store.JobRepository()
	now := time.Now().UTC()

	const total = 20

	for i := range total {
		require.NoError(t, jobs.Push(ctx, NewJob("exec-"+uuid.New().String()[:8], i%3, now.Add(-time.Second))))
	}

	var (
		mu      sync.Mutex
		claimed = map[string]string{}
		wg      sync.WaitGroup
	)

	for w := range 8 {
		wg.Add(1)

		go func(worker string) {
			defer wg.Done()

			for {
				job, err := jobs.Claim(ctx, worker, now, time.Minute)
				if !assert.NoError(t, err) || job == nil {
					return
				}

				mu.Lock()
				previous, dup := claimed[job.ID]
				claimed[job.ID] = worker
				mu.Unlock()

				assert.False(t, dup, "job %s claimed by %s and %s", job.ID, previous, worker)
			}
		}("worker-" + string(rune('a'+w)))
	}

	wg.Wait()

	assert.Len(t, claimed, total)
}

func testLeaseExpiry(t *testing.T, store persistence.Persistence) {
	ctx := context.Background()
	jobs := store.JobRepository()
	now := time.Now().UTC().Truncate(time.Millisecond)

	job := NewJob("exec-lease", 0, now)
	require.NoError(t, jobs.Push(ctx, job))

	claimed, err := jobs.Claim(ctx, "worker-a", now, 10*time.Second)
	require.NoError(t, err)
	require.NotNil(t, claimed)

	again, err := jobs.Claim(ctx, "worker-b", now.Add(5*time.Second), 10*time.Second)
	require.NoError(t, err)
	assert.Nil(t, again, "lease still valid")

	require.NoError(t, jobs.Heartbeat(ctx, job.ID, "worker-a", now.Add(5*time.Second), 10*time.Second))

	again, err = jobs.Claim(ctx, "worker-b", now.Add(12*time.Second), 10*time.Second)
	require.NoError(t, err)
	assert.Nil(t, again, "heartbeat extended the lease")

	reclaimed, err := jobs.Claim(ctx, "worker-b", now.Add(16*time.Second), 10*time.Second)
	require.NoError(t, err)
	require.NotNil(t, reclaimed)
	assert.Equal(t, job.ID, reclaimed.ID)
	assert.Equal(t, "worker-b", reclaimed.LockedBy)
	assert.Equal(t, 1, reclaimed.RetryCount, "taking over an expired lease counts as a retry")

	err = jobs.Heartbeat(ctx, job.ID, "worker-a", now.Add(17*time.Second), 10*time.Second)
	assert.True(t, persistence.IsLockExpired(err))

	err = jobs.Complete(ctx, job.ID, "worker-a", nil, now.Add(17*time.Second))
	assert.True(t, persistence.IsLockExpired(err))

	require.NoError(t, jobs.Complete(ctx, job.ID, "worker-b", map[string]any{"status": "succeeded"}, now.Add(18*time.Second)))

	stored, err := jobs.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobCompleted, stored.Status)
	assert.Empty(t, stored.LockedBy)
	assert.Equal(t, "succeeded", stored.Result["status"])

	_, err = jobs.Get(ctx, "job-missing")
	assert.ErrorIs(t, err, persistence.ErrJobNotFound)
}

func testExecutionLeaseExclusive(t *testing.T, store persistence.Persistence) {
	ctx := context.Background()
	jobs := store.JobRepository()
	now := time.Now().UTC().Truncate(time.Millisecond)

	first := NewJob("exec-shared", 0, now)
	require.NoError(t, jobs.Push(ctx, first))

	claimed, err := jobs.Claim(ctx, "worker-a", now, 10*time.Second)
	require.NoError(t, err)
	require.NotNil(t, claimed)

	resume := NewJob("exec-shared", 5, now.Add(5*time.Second))
	require.NoError(t, jobs.Push(ctx, resume))

	none, err := jobs.Claim(ctx, "worker-b", now.Add(6*time.Second), 10*time.Second)
	require.NoError(t, err)
	assert.Nil(t, none, "execution is held by worker-a")

	// Once worker-a's lease lapses both jobs are fair game, one at a time.
	later := now.Add(11 * time.Second)

	taken, err := jobs.Claim(ctx, "worker-b", later, 10*time.Second)
	require.NoError(t, err)
	require.NotNil(t, taken)
	assert.Equal(t, resume.ID, taken.ID, "higher priority wins")

	none, err = jobs.Claim(ctx, "worker-c", later, 10*time.Second)
	require.NoError(t, err)
	assert.Nil(t, none, "execution is held by worker-b")

	require.NoError(t, jobs.Complete(ctx, resume.ID, "worker-b", nil, later))

	taken, err = jobs.Claim(ctx, "worker-c", later, 10*time.Second)
	require.NoError(t, err)
	require.NotNil(t, taken)
	assert.Equal(t, first.ID, taken.ID)
	assert.Equal(t, 1, taken.RetryCount)
}

func testRetryReleasePurge(t *testing.T, store persistence.Persistence) {
	ctx := context.Background()
	jobs := store.JobRepository()
	now := time.Now().UTC().Truncate(time.Millisecond)

	job := NewJob("exec-retry", 0, now)
	require.NoError(t, jobs.Push(ctx, job))

	_, err := jobs.Claim(ctx, "worker-a", now, time.Minute)
	require.NoError(t, err)

	require.NoError(t, jobs.Retry(ctx, job.ID, "worker-a", "database unavailable", now.Add(time.Minute), now))

	stored, err := jobs.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobPending, stored.Status)
	assert.Equal(t, 1, stored.RetryCount)
	assert.Equal(t, "database unavailable", stored.Error)

	none, err := jobs.Claim(ctx, "worker-a", now.Add(30*time.Second), time.Minute)
	require.NoError(t, err)
	assert.Nil(t, none, "backoff not elapsed")

	_, err = jobs.Claim(ctx, "worker-a", now.Add(time.Minute), time.Minute)
	require.NoError(t, err)
	require.NoError(t, jobs.Release(ctx, job.ID, "worker-a", now.Add(time.Minute)))

	stored, err = jobs.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobPending, stored.Status)
	assert.Equal(t, 1, stored.RetryCount, "release does not consume a retry")

	_, err = jobs.Claim(ctx, "worker-a", now.Add(time.Minute), time.Minute)
	require.NoError(t, err)
	require.NoError(t, jobs.Fail(ctx, job.ID, "worker-a", "gave up", now.Add(time.Minute)))

	active, err := jobs.CountActive(ctx, "exec-retry")
	require.NoError(t, err)
	assert.Zero(t, active)

	purged, err := jobs.PurgeFinished(ctx, now.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, purged)

	_, err = jobs.Get(ctx, job.ID)
	assert.ErrorIs(t, err, persistence.ErrJobNotFound)
}
