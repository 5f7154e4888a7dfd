package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/vanyastaff/nebulav2/pkg/models"
	"github.com/vanyastaff/nebulav2/pkg/persistence"
)

// JobRepository implements the job queue on workflow_jobs. Claims use
// FOR UPDATE SKIP LOCKED so concurrent workers never receive the same row.
type JobRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewJobRepository creates a new job repository.
func NewJobRepository(db *sql.DB, logger *slog.Logger) *JobRepository {
	return &JobRepository{db: db, logger: logger}
}

const jobColumns = `id, execution_id, kind, priority, scheduled_at, locked_by, locked_at, visibility_deadline,
	retry_count, max_retries, status, payload, result, error, created_at, updated_at`

func (r *JobRepository) Push(ctx context.Context, job *models.WorkflowJob) error {
	payloadJSON, err := json.Marshal(job.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	resultJSON, err := json.Marshal(job.Result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO workflow_jobs (`+jobColumns+`)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8, $9, $10, $11, $12, $13, NULLIF($14, ''), $15, $16)
	`,
		job.ID,
		job.ExecutionID,
		job.Kind,
		job.Priority,
		job.ScheduledAt,
		job.LockedBy,
		job.LockedAt,
		job.VisibilityDeadline,
		job.RetryCount,
		job.MaxRetries,
		job.Status,
		payloadJSON,
		resultJSON,
		job.Error,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return &persistence.JobError{Op: "Push", JobID: job.ID, Err: err}
	}

	return nil
}

func (r *JobRepository) Get(ctx context.Context, id string) (*models.WorkflowJob, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+jobColumns+" FROM workflow_jobs WHERE id = $1", id)

	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &persistence.JobError{Op: "Get", JobID: id, Err: persistence.ErrJobNotFound}
		}

		return nil, &persistence.JobError{Op: "Get", JobID: id, Err: err}
	}

	return job, nil
}

// liveLease matches executions already advanced by an unexpired lease.
const liveLease = `SELECT 1 FROM workflow_jobs held
	WHERE held.execution_id = $1 AND held.status = 'locked' AND held.visibility_deadline >= $2`

// Claim leases the next eligible job. Jobs of an execution with a live lease
// are passed over; an advisory lock per execution closes the window between
// two claimers picking different jobs of the same execution.
func (r *JobRepository) Claim(ctx context.Context, workerID string, now time.Time, lease time.Duration) (*models.WorkflowJob, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, &persistence.JobError{Op: "Claim", WorkerID: workerID, Err: err}
	}

	defer func() { _ = tx.Rollback() }()

	var jobID, executionID string

	err = tx.QueryRowContext(ctx, `
		SELECT j.id, j.execution_id
		FROM workflow_jobs j
		WHERE ((j.status = 'pending' AND j.scheduled_at <= $1)
		    OR (j.status = 'locked' AND j.visibility_deadline < $1))
		  AND NOT EXISTS (
			SELECT 1 FROM workflow_jobs held
			WHERE held.execution_id = j.execution_id
			  AND held.status = 'locked'
			  AND held.visibility_deadline >= $1
		  )
		ORDER BY j.priority DESC, j.scheduled_at ASC, j.created_at ASC, j.id ASC
		LIMIT 1
		FOR UPDATE OF j SKIP LOCKED
	`, now).Scan(&jobID, &executionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil //nolint:nilnil // no job is not an error
		}

		return nil, &persistence.JobError{Op: "Claim", WorkerID: workerID, Err: err}
	}

	if _, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", executionID); err != nil {
		return nil, &persistence.JobError{Op: "Claim", JobID: jobID, WorkerID: workerID, Err: err}
	}

	var held bool

	err = tx.QueryRowContext(ctx, "SELECT EXISTS ("+liveLease+")", executionID, now).Scan(&held)
	if err != nil {
		return nil, &persistence.JobError{Op: "Claim", JobID: jobID, WorkerID: workerID, Err: err}
	}

	if held {
		return nil, nil //nolint:nilnil // another worker took the execution meanwhile
	}

	row := tx.QueryRowContext(ctx, `
		UPDATE workflow_jobs SET
			retry_count = retry_count + CASE WHEN status = 'locked' THEN 1 ELSE 0 END,
			status = 'locked',
			locked_by = $2,
			locked_at = $3,
			visibility_deadline = $4,
			updated_at = $3
		WHERE id = $1
		RETURNING `+jobColumns,
		jobID, workerID, now, now.Add(lease),
	)

	job, err := scanJob(row)
	if err != nil {
		return nil, &persistence.JobError{Op: "Claim", JobID: jobID, WorkerID: workerID, Err: err}
	}

	if err := tx.Commit(); err != nil {
		return nil, &persistence.JobError{Op: "Claim", JobID: jobID, WorkerID: workerID, Err: err}
	}

	return job, nil
}

// update runs a lease-guarded UPDATE and distinguishes a missing job from a lost lease.
func (r *JobRepository) update(ctx context.Context, op, jobID, workerID, set string, args ...any) error {
	query := "UPDATE workflow_jobs SET " + set +
		" WHERE id = $1 AND locked_by = $2 AND status = 'locked'"

	result, err := r.db.ExecContext(ctx, query, append([]any{jobID, workerID}, args...)...)
	if err != nil {
		return &persistence.JobError{Op: op, JobID: jobID, WorkerID: workerID, Err: err}
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return &persistence.JobError{Op: op, JobID: jobID, WorkerID: workerID, Err: err}
	}

	if affected > 0 {
		return nil
	}

	var exists bool

	err = r.db.QueryRowContext(ctx, "SELECT EXISTS (SELECT 1 FROM workflow_jobs WHERE id = $1)", jobID).Scan(&exists)
	if err != nil {
		return &persistence.JobError{Op: op, JobID: jobID, WorkerID: workerID, Err: err}
	}

	if !exists {
		return &persistence.JobError{Op: op, JobID: jobID, WorkerID: workerID, Err: persistence.ErrJobNotFound}
	}

	return &persistence.JobError{Op: op, JobID: jobID, WorkerID: workerID, Err: persistence.ErrLockExpired}
}

const unlockSet = "locked_by = NULL, locked_at = NULL, visibility_deadline = NULL, "

func (r *JobRepository) Heartbeat(ctx context.Context, jobID, workerID string, now time.Time, lease time.Duration) error {
	return r.update(ctx, "Heartbeat", jobID, workerID,
		"visibility_deadline = $3, updated_at = $4", now.Add(lease), now)
}

func (r *JobRepository) Complete(ctx context.Context, jobID, workerID string, result map[string]any, now time.Time) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	return r.update(ctx, "Complete", jobID, workerID,
		unlockSet+"status = 'completed', result = $3, updated_at = $4", resultJSON, now)
}

func (r *JobRepository) Retry(ctx context.Context, jobID, workerID, reason string, scheduledAt, now time.Time) error {
	return r.update(ctx, "Retry", jobID, workerID,
		unlockSet+"status = 'pending', retry_count = retry_count + 1, scheduled_at = $3, error = $4, updated_at = $5",
		scheduledAt, reason, now)
}

func (r *JobRepository) Fail(ctx context.Context, jobID, workerID, reason string, now time.Time) error {
	return r.update(ctx, "Fail", jobID, workerID,
		unlockSet+"status = 'failed', error = $3, updated_at = $4", reason, now)
}

func (r *JobRepository) Release(ctx context.Context, jobID, workerID string, now time.Time) error {
	return r.update(ctx, "Release", jobID, workerID,
		unlockSet+"status = 'pending', updated_at = $3", now)
}

func (r *JobRepository) CountActive(ctx context.Context, executionID string) (int, error) {
	var count int

	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM workflow_jobs WHERE execution_id = $1 AND status IN ('pending', 'locked')", executionID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count active jobs: %w", err)
	}

	return count, nil
}

func (r *JobRepository) PurgeFinished(ctx context.Context, before time.Time) (int, error) {
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM workflow_jobs WHERE status IN ('completed', 'failed') AND updated_at < $1", before)
	if err != nil {
		return 0, fmt.Errorf("failed to purge jobs: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to purge jobs: %w", err)
	}

	return int(affected), nil
}

func scanJob(row scanner) (*models.WorkflowJob, error) {
	var (
		job         models.WorkflowJob
		lockedBy    sql.NullString
		errorText   sql.NullString
		payloadJSON []byte
		resultJSON  []byte
	)

	err := row.Scan(
		&job.ID,
		&job.ExecutionID,
		&job.Kind,
		&job.Priority,
		&job.ScheduledAt,
		&lockedBy,
		&job.LockedAt,
		&job.VisibilityDeadline,
		&job.RetryCount,
		&job.MaxRetries,
		&job.Status,
		&payloadJSON,
		&resultJSON,
		&errorText,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	job.LockedBy = lockedBy.String
	job.Error = errorText.String

	if len(payloadJSON) > 0 {
		err = json.Unmarshal(payloadJSON, &job.Payload)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
		}
	}

	if len(resultJSON) > 0 {
		err = json.Unmarshal(resultJSON, &job.Result)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal result: %w", err)
		}
	}

	return &job, nil
}
