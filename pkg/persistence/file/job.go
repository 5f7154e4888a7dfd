package file

import (
	"context"
	"os"
	"time"

	"github.com/vanyastaff/nebulav2/pkg/models"
	"github.com/vanyastaff/nebulav2/pkg/persistence"
)

// JobRepository stores each job as jobs/{id}.json. Claim scans the directory,
// which is adequate for the job volumes a single-process deployment produces.
type JobRepository struct {
	store *Persistence
}

func (jr *JobRepository) path(id string) string {
	return jr.store.dir("jobs", id+".json")
}

func (jr *JobRepository) load(op, id, workerID string) (*models.WorkflowJob, error) {
	err := validateID(id)
	if err != nil {
		return nil, &persistence.JobError{Op: op, JobID: id, WorkerID: workerID, Err: err}
	}

	var job models.WorkflowJob

	found, err := readJSON(jr.path(id), &job)
	if err != nil {
		return nil, &persistence.JobError{Op: op, JobID: id, WorkerID: workerID, Err: err}
	}

	if !found {
		return nil, &persistence.JobError{Op: op, JobID: id, WorkerID: workerID, Err: persistence.ErrJobNotFound}
	}

	return &job, nil
}

func (jr *JobRepository) all() ([]*models.WorkflowJob, error) {
	ids, err := listJSON(jr.store.dir("jobs"))
	if err != nil {
		return nil, err
	}

	jobs := make([]*models.WorkflowJob, 0, len(ids))

	for _, id := range ids {
		job, err := jr.load("scan", id, "")
		if err != nil {
			return nil, err
		}

		jobs = append(jobs, job)
	}

	return jobs, nil
}

func (jr *JobRepository) Push(_ context.Context, job *models.WorkflowJob) error {
	err := validateID(job.ID)
	if err != nil {
		return &persistence.JobError{Op: "Push", JobID: job.ID, Err: err}
	}

	jr.store.mu.Lock()
	defer jr.store.mu.Unlock()

	return writeJSON(jr.path(job.ID), job)
}

func (jr *JobRepository) Get(_ context.Context, id string) (*models.WorkflowJob, error) {
	jr.store.mu.Lock()
	defer jr.store.mu.Unlock()

	return jr.load("Get", id, "")
}

func (jr *JobRepository) Claim(_ context.Context, workerID string, now time.Time, lease time.Duration) (*models.WorkflowJob, error) {
	jr.store.mu.Lock()
	defer jr.store.mu.Unlock()

	jobs, err := jr.all()
	if err != nil {
		return nil, err
	}

	best := persistence.NextClaim(jobs, now)
	if best == nil {
		return nil, nil //nolint:nilnil // no job is not an error
	}

	persistence.Lease(best, workerID, now, lease)

	err = writeJSON(jr.path(best.ID), best)
	if err != nil {
		return nil, err
	}

	return best, nil
}

// update loads a job held by workerID, applies fn and writes it back.
func (jr *JobRepository) update(op, jobID, workerID string, fn func(job *models.WorkflowJob)) error {
	jr.store.mu.Lock()
	defer jr.store.mu.Unlock()

	job, err := jr.load(op, jobID, workerID)
	if err != nil {
		return err
	}

	if !job.HeldBy(workerID) {
		return &persistence.JobError{Op: op, JobID: jobID, WorkerID: workerID, Err: persistence.ErrLockExpired}
	}

	fn(job)

	return writeJSON(jr.path(job.ID), job)
}

func (jr *JobRepository) Heartbeat(_ context.Context, jobID, workerID string, now time.Time, lease time.Duration) error {
	return jr.update("Heartbeat", jobID, workerID, func(job *models.WorkflowJob) {
		deadline := now.Add(lease)
		job.VisibilityDeadline = &deadline
		job.UpdatedAt = now
	})
}

func (jr *JobRepository) Complete(_ context.Context, jobID, workerID string, result map[string]any, now time.Time) error {
	return jr.update("Complete", jobID, workerID, func(job *models.WorkflowJob) {
		persistence.Unlock(job, models.JobCompleted, now)
		job.Result = result
	})
}

func (jr *JobRepository) Retry(_ context.Context, jobID, workerID, reason string, scheduledAt, now time.Time) error {
	return jr.update("Retry", jobID, workerID, func(job *models.WorkflowJob) {
		persistence.Unlock(job, models.JobPending, now)
		job.RetryCount++
		job.ScheduledAt = scheduledAt
		job.Error = reason
	})
}

func (jr *JobRepository) Fail(_ context.Context, jobID, workerID, reason string, now time.Time) error {
	return jr.update("Fail", jobID, workerID, func(job *models.WorkflowJob) {
		persistence.Unlock(job, models.JobFailed, now)
		job.Error = reason
	})
}

func (jr *JobRepository) Release(_ context.Context, jobID, workerID string, now time.Time) error {
	return jr.update("Release", jobID, workerID, func(job *models.WorkflowJob) {
		persistence.Unlock(job, models.JobPending, now)
	})
}

func (jr *JobRepository) CountActive(_ context.Context, executionID string) (int, error) {
	jr.store.mu.Lock()
	defer jr.store.mu.Unlock()

	jobs, err := jr.all()
	if err != nil {
		return 0, err
	}

	count := 0

	for _, job := range jobs {
		if job.ExecutionID == executionID && !job.Status.IsFinished() {
			count++
		}
	}

	return count, nil
}

func (jr *JobRepository) PurgeFinished(_ context.Context, before time.Time) (int, error) {
	jr.store.mu.Lock()
	defer jr.store.mu.Unlock()

	jobs, err := jr.all()
	if err != nil {
		return 0, err
	}

	purged := 0

	for _, job := range jobs {
		if !job.Status.IsFinished() || !job.UpdatedAt.Before(before) {
			continue
		}

		err := os.Remove(jr.path(job.ID))
		if err != nil && !os.IsNotExist(err) {
			return purged, err
		}

		purged++
	}

	return purged, nil
}
