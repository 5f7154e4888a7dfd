package memory

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/vanyastaff/nebulav2/pkg/models"
	"github.com/vanyastaff/nebulav2/pkg/persistence"
)

// JobRepository is a mutex-guarded job table.
type JobRepository struct {
	mu   *sync.Mutex
	jobs map[string]*models.WorkflowJob
}

func cloneJob(job *models.WorkflowJob) *models.WorkflowJob {
	c := *job
	c.Payload = maps.Clone(job.Payload)
	c.Result = maps.Clone(job.Result)

	return &c
}

func (r *JobRepository) Push(_ context.Context, job *models.WorkflowJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.jobs[job.ID] = cloneJob(job)

	return nil
}

func (r *JobRepository) Get(_ context.Context, id string) (*models.WorkflowJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return nil, &persistence.JobError{Op: "Get", JobID: id, Err: persistence.ErrJobNotFound}
	}

	return cloneJob(job), nil
}

func (r *JobRepository) Claim(_ context.Context, workerID string, now time.Time, lease time.Duration) (*models.WorkflowJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	best := persistence.NextClaim(slices.Collect(maps.Values(r.jobs)), now)
	if best == nil {
		return nil, nil //nolint:nilnil // no job is not an error
	}

	persistence.Lease(best, workerID, now, lease)

	return cloneJob(best), nil
}

// held returns the job when workerID owns its lease.
func (r *JobRepository) held(op, jobID, workerID string) (*models.WorkflowJob, error) {
	job, ok := r.jobs[jobID]
	if !ok {
		return nil, &persistence.JobError{Op: op, JobID: jobID, WorkerID: workerID, Err: persistence.ErrJobNotFound}
	}

	if !job.HeldBy(workerID) {
		return nil, &persistence.JobError{Op: op, JobID: jobID, WorkerID: workerID, Err: persistence.ErrLockExpired}
	}

	return job, nil
}

func (r *JobRepository) Heartbeat(_ context.Context, jobID, workerID string, now time.Time, lease time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, err := r.held("Heartbeat", jobID, workerID)
	if err != nil {
		return err
	}

	deadline := now.Add(lease)
	job.VisibilityDeadline = &deadline
	job.UpdatedAt = now

	return nil
}

func (r *JobRepository) Complete(_ context.Context, jobID, workerID string, result map[string]any, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, err := r.held("Complete", jobID, workerID)
	if err != nil {
		return err
	}

	persistence.Unlock(job, models.JobCompleted, now)
	job.Result = maps.Clone(result)

	return nil
}

func (r *JobRepository) Retry(_ context.Context, jobID, workerID, reason string, scheduledAt, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, err := r.held("Retry", jobID, workerID)
	if err != nil {
		return err
	}

	persistence.Unlock(job, models.JobPending, now)
	job.RetryCount++
	job.ScheduledAt = scheduledAt
	job.Error = reason

	return nil
}

func (r *JobRepository) Fail(_ context.Context, jobID, workerID, reason string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, err := r.held("Fail", jobID, workerID)
	if err != nil {
		return err
	}

	persistence.Unlock(job, models.JobFailed, now)
	job.Error = reason

	return nil
}

func (r *JobRepository) Release(_ context.Context, jobID, workerID string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, err := r.held("Release", jobID, workerID)
	if err != nil {
		return err
	}

	persistence.Unlock(job, models.JobPending, now)

	return nil
}

func (r *JobRepository) CountActive(_ context.Context, executionID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := 0

	for _, job := range r.jobs {
		if job.ExecutionID == executionID && !job.Status.IsFinished() {
			count++
		}
	}

	return count, nil
}

func (r *JobRepository) PurgeFinished(_ context.Context, before time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	purged := 0

	for id, job := range r.jobs {
		if job.Status.IsFinished() && job.UpdatedAt.Before(before) {
			delete(r.jobs, id)
			purged++
		}
	}

	return purged, nil
}
