package queue_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/vanyastaff/nebulav2/pkg/models"
	"github.com/vanyastaff/nebulav2/pkg/persistence"
	"github.com/vanyastaff/nebulav2/pkg/persistence/memory"
	"github.com/vanyastaff/nebulav2/pkg/queue"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
}

type mockFailer struct {
	mock.Mock
}

func (m *mockFailer) Fail(ctx context.Context, executionID string, failure *models.ExecutionFailure) error {
	return m.Called(ctx, executionID, failure).Error(0)
}

func newQueue(t *testing.T, clock *fakeClock, opts ...queue.Option) (*queue.Queue, persistence.JobRepository) {
	t.Helper()

	jobs := memory.NewPersistence().JobRepository()

	config := queue.DefaultConfig()
	config.VisibilityTimeout = 10 * time.Second
	config.MaxRetries = 2

	opts = append([]queue.Option{queue.WithClock(clock.Now)}, opts...)

	q, err := queue.New(jobs, slog.New(slog.NewTextHandler(io.Discard, nil)), config, opts...)
	require.NoError(t, err)

	return q, jobs
}

func TestQueue_ClaimComplete(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q, jobs := newQueue(t, newClock())

	lease, err := q.Claim(ctx, "w1")
	require.NoError(t, err)
	assert.Nil(t, lease, "empty queue")

	job, err := q.Enqueue(ctx, "exec-1", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, models.JobKindAdvance, job.Kind)

	lease, err = q.Claim(ctx, "w1")
	require.NoError(t, err)
	require.NotNil(t, lease)
	assert.Equal(t, job.ID, lease.Job.ID)
	require.NoError(t, lease.Err())

	again, err := q.Claim(ctx, "w2")
	require.NoError(t, err)
	assert.Nil(t, again, "locked job is not claimable")

	require.NoError(t, q.Heartbeat(ctx, job.ID, "w1"))
	require.NoError(t, q.Complete(ctx, job.ID, "w1", map[string]any{"status": "succeeded"}))

	stored, err := jobs.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobCompleted, stored.Status)
	assert.Empty(t, stored.LockedBy)
}

func TestQueue_LeaseExpiry(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := newClock()
	q, _ := newQueue(t, clock)

	job, err := q.Enqueue(ctx, "exec-1", 0, 0)
	require.NoError(t, err)

	first, err := q.Claim(ctx, "w1")
	require.NoError(t, err)
	require.NotNil(t, first)

	clock.Advance(11 * time.Second)

	second, err := q.Claim(ctx, "w2")
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, job.ID, second.Job.ID)

	err = q.Heartbeat(ctx, job.ID, "w1")
	require.ErrorIs(t, err, persistence.ErrLockExpired)

	err = q.Complete(ctx, job.ID, "w1", nil)
	require.ErrorIs(t, err, persistence.ErrLockExpired)

	require.NoError(t, q.Complete(ctx, job.ID, "w2", nil))
}

func TestQueue_OneLeasePerExecution(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := newClock()
	q, _ := newQueue(t, clock)

	_, err := q.Enqueue(ctx, "exec-1", 0, 0)
	require.NoError(t, err)

	first, err := q.Claim(ctx, "w1")
	require.NoError(t, err)
	require.NotNil(t, first)

	resume, err := q.Enqueue(ctx, "exec-1", 0, 5*time.Second)
	require.NoError(t, err)

	other, err := q.Enqueue(ctx, "exec-2", 0, 0)
	require.NoError(t, err)

	clock.Advance(6 * time.Second)
	require.NoError(t, q.Heartbeat(ctx, first.Job.ID, "w1"))

	second, err := q.Claim(ctx, "w2")
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, other.ID, second.Job.ID, "exec-1 is still held by w1")

	none, err := q.Claim(ctx, "w3")
	require.NoError(t, err)
	assert.Nil(t, none)

	require.NoError(t, q.Complete(ctx, first.Job.ID, "w1", nil))

	third, err := q.Claim(ctx, "w3")
	require.NoError(t, err)
	require.NotNil(t, third)
	assert.Equal(t, resume.ID, third.Job.ID)
}

func TestQueue_ExpiredLeaseTakeoverFailsDeadJob(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := newClock()
	failer := &mockFailer{}
	q, jobs := newQueue(t, clock, queue.WithExecutionFailer(failer))

	job, err := q.Enqueue(ctx, "exec-1", 0, 0)
	require.NoError(t, err)

	// Each worker dies holding the lease; MaxRetries is 2.
	for i, worker := range []string{"w1", "w2", "w3"} {
		lease, err := q.Claim(ctx, worker)
		require.NoError(t, err)
		require.NotNil(t, lease, worker)
		assert.Equal(t, i, lease.Job.RetryCount)

		clock.Advance(11 * time.Second)
	}

	failer.On("Fail", mock.Anything, "exec-1", mock.MatchedBy(func(f *models.ExecutionFailure) bool {
		return f.Message == queue.ErrLeaseAbandoned.Error()
	})).Return(nil).Once()

	lease, err := q.Claim(ctx, "w4")
	require.NoError(t, err)
	assert.Nil(t, lease)

	stored, err := jobs.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobFailed, stored.Status)
	assert.Equal(t, 3, stored.RetryCount)

	failer.AssertExpectations(t)
}

func TestQueue_FailRetriesWithBackoff(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := newClock()
	failer := &mockFailer{}
	q, jobs := newQueue(t, clock, queue.WithExecutionFailer(failer))

	job, err := q.Enqueue(ctx, "exec-1", 0, 0)
	require.NoError(t, err)

	// Backoff doubles from one second: 1s, then 2s.
	for i, delay := range []time.Duration{time.Second, 2 * time.Second} {
		lease, err := q.Claim(ctx, "w1")
		require.NoError(t, err)
		require.NotNil(t, lease, "attempt %d", i)

		retried, err := q.Fail(ctx, job.ID, "w1", errors.New("store unavailable"), true)
		require.NoError(t, err)
		assert.True(t, retried)

		stored, err := jobs.Get(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, i+1, stored.RetryCount)
		assert.Equal(t, clock.Now().Add(delay), stored.ScheduledAt)

		none, err := q.Claim(ctx, "w1")
		require.NoError(t, err)
		assert.Nil(t, none, "job waits for its backoff")

		clock.Advance(delay)
	}

	failer.On("Fail", mock.Anything, "exec-1", mock.MatchedBy(func(f *models.ExecutionFailure) bool {
		return f.Message == "store unavailable"
	})).Return(nil).Once()

	lease, err := q.Claim(ctx, "w1")
	require.NoError(t, err)
	require.NotNil(t, lease)

	retried, err := q.Fail(ctx, job.ID, "w1", errors.New("store unavailable"), true)
	require.NoError(t, err)
	assert.False(t, retried, "retries exhausted")

	stored, err := jobs.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobFailed, stored.Status)

	failer.AssertExpectations(t)
}

func TestQueue_FailNonRetryable(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	failer := &mockFailer{}
	failer.On("Fail", mock.Anything, "exec-1", mock.Anything).Return(persistence.ErrExecutionTerminal).Once()

	q, _ := newQueue(t, newClock(), queue.WithExecutionFailer(failer))

	job, err := q.Enqueue(ctx, "exec-1", 0, 0)
	require.NoError(t, err)

	_, err = q.Claim(ctx, "w1")
	require.NoError(t, err)

	_, err = q.Fail(ctx, job.ID, "w2", errors.New("boom"), false)
	require.ErrorIs(t, err, persistence.ErrLockExpired, "only the holder may fail a job")

	retried, err := q.Fail(ctx, job.ID, "w1", errors.New("boom"), false)
	require.NoError(t, err, "an already finished execution is not an error")
	assert.False(t, retried)

	failer.AssertExpectations(t)
}

func TestQueue_ReleaseKeepsRetryBudget(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q, jobs := newQueue(t, newClock())

	job, err := q.Enqueue(ctx, "exec-1", 0, 0)
	require.NoError(t, err)

	_, err = q.Claim(ctx, "w1")
	require.NoError(t, err)
	require.NoError(t, q.Release(ctx, job.ID, "w1"))

	stored, err := jobs.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobPending, stored.Status)
	assert.Zero(t, stored.RetryCount)

	lease, err := q.Claim(ctx, "w2")
	require.NoError(t, err)
	require.NotNil(t, lease)
}

func TestQueue_EnsureAdvance(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q, _ := newQueue(t, newClock())

	pushed, err := q.EnsureAdvance(ctx, "exec-1", 0)
	require.NoError(t, err)
	assert.True(t, pushed)

	pushed, err = q.EnsureAdvance(ctx, "exec-1", 0)
	require.NoError(t, err)
	assert.False(t, pushed, "pending job already exists")

	lease, err := q.Claim(ctx, "w1")
	require.NoError(t, err)

	pushed, err = q.EnsureAdvance(ctx, "exec-1", 0)
	require.NoError(t, err)
	assert.False(t, pushed, "locked job already exists")

	require.NoError(t, q.Complete(ctx, lease.Job.ID, "w1", nil))

	pushed, err = q.EnsureAdvance(ctx, "exec-1", 0)
	require.NoError(t, err)
	assert.True(t, pushed)
}

func TestQueue_Purge(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := newClock()
	q, _ := newQueue(t, clock)

	job, err := q.Enqueue(ctx, "exec-1", 0, 0)
	require.NoError(t, err)

	_, err = q.Claim(ctx, "w1")
	require.NoError(t, err)
	require.NoError(t, q.Complete(ctx, job.ID, "w1", nil))

	_, err = q.Enqueue(ctx, "exec-2", 0, 0)
	require.NoError(t, err)

	purged, err := q.Purge(ctx, time.Hour)
	require.NoError(t, err)
	assert.Zero(t, purged)

	clock.Advance(2 * time.Hour)

	purged, err = q.Purge(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, purged, "pending jobs are never purged")
}

func TestQueue_KeepAliveRevokesLostLease(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := newClock()
	q, _ := newQueue(t, clock)

	job, err := q.Enqueue(ctx, "exec-1", 0, 0)
	require.NoError(t, err)

	lease, err := q.Claim(ctx, "w1")
	require.NoError(t, err)

	clock.Advance(11 * time.Second)

	stolen, err := q.Claim(ctx, "w2")
	require.NoError(t, err)
	require.NotNil(t, stolen)

	done := make(chan struct{})

	go func() {
		defer close(done)
		q.KeepAlive(ctx, lease, 5*time.Millisecond)
	}()

	select {
	case <-lease.Lost():
	case <-time.After(2 * time.Second):
		t.Fatal("lease was not revoked")
	}

	<-done
	require.ErrorIs(t, lease.Err(), persistence.ErrLockExpired)
	assert.Equal(t, job.ID, lease.Job.ID)
}

func TestNew_InvalidConfig(t *testing.T) {
	t.Parallel()

	_, err := queue.New(memory.NewPersistence().JobRepository(), slog.Default(), queue.Config{})
	require.Error(t, err)
}
