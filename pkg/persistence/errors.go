package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrWorkflowNotFound indicates a workflow (or workflow version) was not found.
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrExecutionNotFound indicates an execution was not found.
	ErrExecutionNotFound = errors.New("execution not found")

	// ErrExecutionExists indicates an execution with the same ID already exists.
	ErrExecutionExists = errors.New("execution already exists")

	// ErrExecutionTerminal indicates a write against an execution that already finished.
	ErrExecutionTerminal = errors.New("execution is terminal")

	// ErrCheckpointConflict indicates a stale or out-of-order checkpoint sequence.
	ErrCheckpointConflict = errors.New("checkpoint sequence conflict")

	// ErrInvalidTransition indicates an execution status change from a disallowed status.
	ErrInvalidTransition = errors.New("invalid execution status transition")

	// ErrJobNotFound indicates a queue job was not found.
	ErrJobNotFound = errors.New("job not found")

	// ErrLockExpired indicates the caller no longer holds the job lease.
	ErrLockExpired = errors.New("job lease expired")
)

// ExecutionError wraps execution-related errors with additional context.
type ExecutionError struct {
	Op          string // Operation being performed (e.g., "Checkpoint", "Transition")
	ExecutionID string
	NodeID      string
	Err         error
}

func (e *ExecutionError) Error() string {
	if e.NodeID != "" {
		return fmt.Sprintf("%s operation failed for node %s of execution %s: %v", e.Op, e.NodeID, e.ExecutionID, e.Err)
	}

	return fmt.Sprintf("%s operation failed for execution %s: %v", e.Op, e.ExecutionID, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

func (e *ExecutionError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// JobError wraps job-related errors with additional context.
type JobError struct {
	Op       string
	JobID    string
	WorkerID string
	Err      error
}

func (e *JobError) Error() string {
	return fmt.Sprintf("%s operation failed for job %s (worker %s): %v", e.Op, e.JobID, e.WorkerID, e.Err)
}

func (e *JobError) Unwrap() error {
	return e.Err
}

func (e *JobError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsWorkflowNotFound checks if an error indicates a workflow was not found.
func IsWorkflowNotFound(err error) bool {
	return errors.Is(err, ErrWorkflowNotFound)
}

// IsExecutionNotFound checks if an error indicates an execution was not found.
func IsExecutionNotFound(err error) bool {
	return errors.Is(err, ErrExecutionNotFound)
}

// IsLockExpired checks if an error indicates a lost job lease.
func IsLockExpired(err error) bool {
	return errors.Is(err, ErrLockExpired)
}

// IsConflict checks if an error indicates a write that lost against another writer
// or a finished execution.
func IsConflict(err error) bool {
	return errors.Is(err, ErrCheckpointConflict) ||
		errors.Is(err, ErrExecutionTerminal) ||
		errors.Is(err, ErrInvalidTransition)
}
