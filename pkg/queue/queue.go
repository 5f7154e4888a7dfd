// Package queue coordinates advance jobs between workers on top of a
// persistence.JobRepository. Every claimed job is held under a lease that
// must be renewed by heartbeats; a job whose lease lapses becomes claimable
// again.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/vanyastaff/nebulav2/pkg/metrics"
	"github.com/vanyastaff/nebulav2/pkg/models"
	"github.com/vanyastaff/nebulav2/pkg/persistence"
)

type Config struct {
	VisibilityTimeout time.Duration      `validate:"gt=0"`
	MaxRetries        int                `validate:"min=0"`
	Backoff           models.RetryPolicy
}

func DefaultConfig() Config {
	return Config{
		VisibilityTimeout: 30 * time.Second,
		MaxRetries:        5,
		Backoff: models.RetryPolicy{
			InitialDelay: models.Duration(time.Second),
			Base:         2,
			MaxDelay:     models.Duration(5 * time.Minute),
		},
	}
}

// ExecutionFailer fails the execution owning a job that ran out of retries.
type ExecutionFailer interface {
	Fail(ctx context.Context, executionID string, failure *models.ExecutionFailure) error
}

type Queue struct {
	jobs    persistence.JobRepository
	config  Config
	failer  ExecutionFailer
	metrics *metrics.Collector
	now     func() time.Time
	logger  *slog.Logger
}

type Option func(*Queue)

func WithClock(now func() time.Time) Option {
	return func(q *Queue) {
		q.now = now
	}
}

func WithExecutionFailer(failer ExecutionFailer) Option {
	return func(q *Queue) {
		q.failer = failer
	}
}

func WithMetrics(collector *metrics.Collector) Option {
	return func(q *Queue) {
		q.metrics = collector
	}
}

func New(jobs persistence.JobRepository, logger *slog.Logger, config Config, opts ...Option) (*Queue, error) {
	if err := validator.New().Struct(config); err != nil {
		return nil, fmt.Errorf("invalid queue config: %w", err)
	}

	q := &Queue{
		jobs:   jobs,
		config: config,
		now:    time.Now,
		logger: logger.With("module", "queue"),
	}

	for _, opt := range opts {
		opt(q)
	}

	return q, nil
}

func (q *Queue) Now() time.Time {
	return q.now().UTC()
}

func (q *Queue) VisibilityTimeout() time.Duration {
	return q.config.VisibilityTimeout
}

// Enqueue pushes an advance job for executionID, eligible after delay.
func (q *Queue) Enqueue(ctx context.Context, executionID string, priority int, delay time.Duration) (*models.WorkflowJob, error) {
	now := q.Now()

	job := &models.WorkflowJob{
		ID:          uuid.NewString(),
		ExecutionID: executionID,
		Kind:        models.JobKindAdvance,
		Priority:    priority,
		ScheduledAt: now.Add(delay),
		MaxRetries:  q.config.MaxRetries,
		Status:      models.JobPending,
		Payload:     map[string]any{"execution_id": executionID},
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := q.jobs.Push(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to enqueue advance job for execution %s: %w", executionID, err)
	}

	q.logger.DebugContext(ctx, "Job enqueued", "job_id", job.ID, "execution_id", executionID, "scheduled_at", job.ScheduledAt)

	return job, nil
}

// EnsureAdvance enqueues an advance job unless the execution already has a
// pending or locked one. It reports whether a job was pushed.
func (q *Queue) EnsureAdvance(ctx context.Context, executionID string, priority int) (bool, error) {
	active, err := q.jobs.CountActive(ctx, executionID)
	if err != nil {
		return false, fmt.Errorf("failed to count jobs for execution %s: %w", executionID, err)
	}

	if active > 0 {
		return false, nil
	}

	if _, err := q.Enqueue(ctx, executionID, priority, 0); err != nil {
		return false, err
	}

	return true, nil
}

// ErrLeaseAbandoned is recorded on a job whose lease lapsed more often than
// its retries allow, typically because it crashes every worker that runs it.
var ErrLeaseAbandoned = errors.New("job lease expired too many times")

// Claim leases the next claimable job to workerID. It returns nil, nil when
// the queue is empty. A reclaimed job that has exhausted its retries is
// failed along with its execution instead of being handed out again.
func (q *Queue) Claim(ctx context.Context, workerID string) (*Lease, error) {
	for {
		job, err := q.jobs.Claim(ctx, workerID, q.Now(), q.config.VisibilityTimeout)
		if err != nil {
			return nil, fmt.Errorf("failed to claim job: %w", err)
		}

		if job == nil {
			return nil, nil //nolint:nilnil // empty queue
		}

		if job.Exhausted() {
			if _, err := q.Fail(ctx, job.ID, workerID, ErrLeaseAbandoned, false); err != nil {
				return nil, err
			}

			continue
		}

		return q.leased(ctx, job, workerID), nil
	}
}

func (q *Queue) leased(ctx context.Context, job *models.WorkflowJob, workerID string) *Lease {
	q.metrics.JobClaimed()
	q.logger.DebugContext(ctx, "Job claimed", "job_id", job.ID, "execution_id", job.ExecutionID, "worker_id", workerID)

	return newLease(job, workerID)
}

func (q *Queue) Heartbeat(ctx context.Context, jobID, workerID string) error {
	return q.jobs.Heartbeat(ctx, jobID, workerID, q.Now(), q.config.VisibilityTimeout)
}

func (q *Queue) Complete(ctx context.Context, jobID, workerID string, result map[string]any) error {
	if err := q.jobs.Complete(ctx, jobID, workerID, result, q.Now()); err != nil {
		return err
	}

	q.metrics.JobCompleted()

	return nil
}

// Fail records a failed attempt of a job. A retryable failure with retries
// left reschedules the job with backoff; otherwise the job is dead and the
// owning execution is failed. It reports whether the job was rescheduled.
func (q *Queue) Fail(ctx context.Context, jobID, workerID string, cause error, retryable bool) (bool, error) {
	job, err := q.jobs.Get(ctx, jobID)
	if err != nil {
		return false, err
	}

	if !job.HeldBy(workerID) {
		return false, &persistence.JobError{Op: "Fail", JobID: jobID, WorkerID: workerID, Err: persistence.ErrLockExpired}
	}

	now := q.Now()
	reason := cause.Error()

	if retryable && job.RetryCount < job.MaxRetries {
		scheduledAt := now.Add(q.config.Backoff.Delay(job.RetryCount))

		if err := q.jobs.Retry(ctx, jobID, workerID, reason, scheduledAt, now); err != nil {
			return false, err
		}

		q.metrics.JobFailed(true)
		q.logger.WarnContext(ctx, "Job failed, retry scheduled",
			"job_id", jobID, "execution_id", job.ExecutionID, "retry_count", job.RetryCount+1,
			"scheduled_at", scheduledAt, "error", reason)

		return true, nil
	}

	if err := q.jobs.Fail(ctx, jobID, workerID, reason, now); err != nil {
		return false, err
	}

	q.metrics.JobFailed(false)
	q.logger.ErrorContext(ctx, "Job failed permanently",
		"job_id", jobID, "execution_id", job.ExecutionID, "retry_count", job.RetryCount, "error", reason)

	if q.failer != nil {
		failErr := q.failer.Fail(ctx, job.ExecutionID, &models.ExecutionFailure{
			Kind:    "job_failed",
			Message: reason,
		})
		if failErr != nil && !persistence.IsConflict(failErr) {
			return false, fmt.Errorf("failed to fail execution %s: %w", job.ExecutionID, failErr)
		}
	}

	return false, nil
}

// Release hands a job back without consuming a retry.
func (q *Queue) Release(ctx context.Context, jobID, workerID string) error {
	if err := q.jobs.Release(ctx, jobID, workerID, q.Now()); err != nil {
		return err
	}

	q.metrics.JobReleased()

	return nil
}

// Purge deletes completed and failed jobs last updated before now-olderThan.
func (q *Queue) Purge(ctx context.Context, olderThan time.Duration) (int, error) {
	purged, err := q.jobs.PurgeFinished(ctx, q.Now().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("failed to purge jobs: %w", err)
	}

	if purged > 0 {
		q.logger.InfoContext(ctx, "Purged finished jobs", "count", purged)
	}

	return purged, nil
}

// KeepAlive heartbeats lease every interval until ctx ends. When the lease is
// lost it revokes it and returns.
func (q *Queue) KeepAlive(ctx context.Context, lease *Lease, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := q.Heartbeat(ctx, lease.Job.ID, lease.WorkerID)

			switch {
			case err == nil:
			case persistence.IsLockExpired(err) || errors.Is(err, persistence.ErrJobNotFound):
				q.logger.WarnContext(ctx, "Lease lost", "job_id", lease.Job.ID, "worker_id", lease.WorkerID, "error", err)
				lease.Revoke(err)

				return
			case ctx.Err() != nil:
				return
			default:
				q.logger.ErrorContext(ctx, "Heartbeat failed", "job_id", lease.Job.ID, "error", err)
			}
		}
	}
}
