// Package persistence provides the durable store abstraction for workflow
// definitions, execution state and the job queue.
package persistence

import (
	"context"
	"time"

	"github.com/vanyastaff/nebulav2/pkg/models"
)

type Persistence interface {
	WorkflowRepository() WorkflowRepository
	ExecutionRepository() ExecutionRepository
	JobRepository() JobRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// WorkflowRepository stores immutable, versioned workflow definitions.
type WorkflowRepository interface {
	// Save stores def as the next version of its ID and updates def.Version.
	Save(ctx context.Context, def *models.WorkflowDefinition) error
	GetLatest(ctx context.Context, id string) (*models.WorkflowDefinition, error)
	GetVersion(ctx context.Context, id string, version int) (*models.WorkflowDefinition, error)
	// List returns the latest version of every workflow ordered by ID.
	List(ctx context.Context) ([]*models.WorkflowDefinition, error)
}

// ExecutionRepository stores execution state. Node writes are idempotent
// upserts keyed by (execution, node) and fenced by the execution sequence.
type ExecutionRepository interface {
	Create(ctx context.Context, state *models.ExecutionState) error
	Get(ctx context.Context, id string) (*models.ExecutionState, error)
	ListByStatus(ctx context.Context, status models.ExecutionStatus) ([]*models.ExecutionState, error)
	Checkpoint(ctx context.Context, checkpoint Checkpoint) error
	Transition(ctx context.Context, transition Transition) error
}

// JobRepository performs the atomic queue operations. Every mutating call on
// a claimed job fails with ErrLockExpired unless workerID still holds the lease.
type JobRepository interface {
	Push(ctx context.Context, job *models.WorkflowJob) error
	Get(ctx context.Context, id string) (*models.WorkflowJob, error)
	// Claim locks the highest-priority, earliest-scheduled claimable job, or returns nil.
	Claim(ctx context.Context, workerID string, now time.Time, lease time.Duration) (*models.WorkflowJob, error)
	Heartbeat(ctx context.Context, jobID, workerID string, now time.Time, lease time.Duration) error
	Complete(ctx context.Context, jobID, workerID string, result map[string]any, now time.Time) error
	// Retry returns the job to pending at scheduledAt and increments its retry count.
	Retry(ctx context.Context, jobID, workerID, reason string, scheduledAt, now time.Time) error
	Fail(ctx context.Context, jobID, workerID, reason string, now time.Time) error
	// Release returns the job to pending without consuming a retry.
	Release(ctx context.Context, jobID, workerID string, now time.Time) error
	// CountActive counts pending and locked jobs of an execution.
	CountActive(ctx context.Context, executionID string) (int, error)
	PurgeFinished(ctx context.Context, before time.Time) (int, error)
}
