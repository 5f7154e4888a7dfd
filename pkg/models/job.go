package models

import "time"

// JobKind is the unit of dispatchable work a job represents.
type JobKind string

// JobKindAdvance asks the lease holder to drive an execution until it is
// terminal or must wait.
const JobKindAdvance JobKind = "advance_execution"

// JobStatus is the queue status of a job.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobLocked    JobStatus = "locked"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

func (s JobStatus) IsFinished() bool {
	return s == JobCompleted || s == JobFailed
}

// WorkflowJob is a queue entry claimed by workers under a time-bounded lease.
type WorkflowJob struct {
	ID                 string         `json:"id"`
	ExecutionID        string         `json:"execution_id"`
	Kind               JobKind        `json:"kind"`
	Priority           int            `json:"priority"`
	ScheduledAt        time.Time      `json:"scheduled_at"`
	LockedBy           string         `json:"locked_by,omitempty"`
	LockedAt           *time.Time     `json:"locked_at,omitempty"`
	VisibilityDeadline *time.Time     `json:"visibility_deadline,omitempty"`
	RetryCount         int            `json:"retry_count"`
	MaxRetries         int            `json:"max_retries"`
	Status             JobStatus      `json:"status"`
	Payload            map[string]any `json:"payload,omitempty"`
	Result             map[string]any `json:"result,omitempty"`
	Error              string         `json:"error,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

// Claimable reports whether a worker may take the job at the given instant.
func (j *WorkflowJob) Claimable(now time.Time) bool {
	switch j.Status {
	case JobPending:
		return !j.ScheduledAt.After(now)
	case JobLocked:
		return j.VisibilityDeadline != nil && j.VisibilityDeadline.Before(now)
	default:
		return false
	}
}

// LeaseLive reports whether some worker holds an unexpired lease on the job.
func (j *WorkflowJob) LeaseLive(now time.Time) bool {
	return j.Status == JobLocked && j.VisibilityDeadline != nil && !j.VisibilityDeadline.Before(now)
}

// Exhausted reports whether the job has used up its retries.
func (j *WorkflowJob) Exhausted() bool {
	return j.RetryCount > j.MaxRetries
}

// HeldBy reports whether the worker currently owns the job's lease.
func (j *WorkflowJob) HeldBy(workerID string) bool {
	return j.Status == JobLocked && j.LockedBy == workerID
}
