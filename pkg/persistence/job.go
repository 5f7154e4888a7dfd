package persistence

import (
	"time"

	"github.com/vanyastaff/nebulav2/pkg/models"
)

// ClaimsBefore orders claimable jobs: highest priority first, then earliest
// scheduled, then oldest.
func ClaimsBefore(a, b *models.WorkflowJob) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}

	if !a.ScheduledAt.Equal(b.ScheduledAt) {
		return a.ScheduledAt.Before(b.ScheduledAt)
	}

	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}

	return a.ID < b.ID
}

// NextClaim picks the job to lease at now, or nil. Jobs of an execution whose
// advance lease is still live elsewhere are passed over, so at most one worker
// advances an execution at a time.
func NextClaim(jobs []*models.WorkflowJob, now time.Time) *models.WorkflowJob {
	held := make(map[string]bool)

	for _, job := range jobs {
		if job.LeaseLive(now) {
			held[job.ExecutionID] = true
		}
	}

	var best *models.WorkflowJob

	for _, job := range jobs {
		if !job.Claimable(now) || held[job.ExecutionID] {
			continue
		}

		if best == nil || ClaimsBefore(job, best) {
			best = job
		}
	}

	return best
}

// Lease locks job for workerID until now+lease. Taking over an expired lease
// counts as a retry.
func Lease(job *models.WorkflowJob, workerID string, now time.Time, lease time.Duration) {
	deadline := now.Add(lease)
	lockedAt := now

	if job.Status == models.JobLocked {
		job.RetryCount++
	}

	job.Status = models.JobLocked
	job.LockedBy = workerID
	job.LockedAt = &lockedAt
	job.VisibilityDeadline = &deadline
	job.UpdatedAt = now
}

// Unlock clears the lease fields and moves job to status.
func Unlock(job *models.WorkflowJob, status models.JobStatus, now time.Time) {
	job.Status = status
	job.LockedBy = ""
	job.LockedAt = nil
	job.VisibilityDeadline = nil
	job.UpdatedAt = now
}
