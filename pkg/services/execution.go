package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/vanyastaff/nebulav2/pkg/eventbus"
	"github.com/vanyastaff/nebulav2/pkg/events"
	"github.com/vanyastaff/nebulav2/pkg/models"
	"github.com/vanyastaff/nebulav2/pkg/persistence"
	"github.com/vanyastaff/nebulav2/pkg/state"
)

// Scheduler hands executions to workers.
type Scheduler interface {
	EnsureAdvance(ctx context.Context, executionID string, priority int) (bool, error)
}

type Execution struct {
	states    *state.Manager
	workflows persistence.WorkflowRepository
	scheduler Scheduler
	bus       eventbus.EventPublisher
	logger    *slog.Logger
}

func NewExecution(
	states *state.Manager,
	workflows persistence.WorkflowRepository,
	scheduler Scheduler,
	bus eventbus.EventPublisher,
	logger *slog.Logger,
) *Execution {
	if bus == nil {
		bus = eventbus.Nop{}
	}

	return &Execution{
		states:    states,
		workflows: workflows,
		scheduler: scheduler,
		bus:       bus,
		logger:    logger.With("module", "execution_service"),
	}
}

// CreateExecution creates a pending execution of the given workflow version
// (0 for the latest) with the trigger data as its initial input.
func (e *Execution) CreateExecution(
	ctx context.Context,
	workflowID string,
	version int,
	trigger map[string]any,
) (*models.ExecutionState, error) {
	if workflowID == "" {
		return nil, NewValidationError("CreateExecution", "WORKFLOW_ID_REQUIRED", "workflow ID is required", ErrInvalidRequest)
	}

	def, err := e.workflow(ctx, workflowID, version)
	if err != nil {
		return nil, err
	}

	exec, err := e.states.Create(ctx, def, trigger)
	if err != nil {
		return nil, fmt.Errorf("failed to create execution: %w", err)
	}

	return exec, nil
}

func (e *Execution) workflow(ctx context.Context, id string, version int) (*models.WorkflowDefinition, error) {
	if version > 0 {
		return e.workflows.GetVersion(ctx, id, version)
	}

	return e.workflows.GetLatest(ctx, id)
}

// StartExecution queues the execution for a worker. Starting an execution
// that is already queued or running is a no-op.
func (e *Execution) StartExecution(ctx context.Context, executionID string, priority int) error {
	exec, err := e.status(ctx, executionID)
	if err != nil {
		return err
	}

	if exec.Status.IsTerminal() {
		return &ServiceError{
			Op:      "StartExecution",
			Code:    "EXECUTION_FINISHED",
			Message: fmt.Sprintf("execution %s is %s", executionID, exec.Status),
			Err:     ErrExecutionFinished,
		}
	}

	queued, err := e.scheduler.EnsureAdvance(ctx, executionID, priority)
	if err != nil {
		return fmt.Errorf("failed to start execution: %w", err)
	}

	e.logger.InfoContext(ctx, "Execution started", "execution_id", executionID, "queued", queued)

	return nil
}

// GetExecutionStatus returns a snapshot of the execution including every
// output produced so far.
func (e *Execution) GetExecutionStatus(ctx context.Context, executionID string) (*models.ExecutionReport, error) {
	if executionID == "" {
		return nil, ErrExecutionIDMissing
	}

	exec, err := e.states.Load(ctx, executionID)
	if err != nil {
		return nil, err
	}

	return exec.Report(), nil
}

// CancelExecution durably cancels the execution and notifies workers.
// Cancelling a cancelled execution is a no-op.
func (e *Execution) CancelExecution(ctx context.Context, executionID string) error {
	if executionID == "" {
		return ErrExecutionIDMissing
	}

	err := e.states.Cancel(ctx, executionID)
	if err != nil {
		if errors.Is(err, state.ErrExecutionTerminal) || errors.Is(err, state.ErrInvalidTransition) {
			return &ServiceError{Op: "CancelExecution", Code: "EXECUTION_FINISHED", Err: ErrExecutionFinished}
		}

		return err
	}

	exec, err := e.states.Status(ctx, executionID)
	if err != nil {
		return err
	}

	event := events.ExecutionCancelled{
		BaseEvent: events.NewBase(events.ExecutionCancelledEvent, uuid.NewString(), exec, "", e.states.Now()),
	}

	if err := e.bus.Publish(ctx, event); err != nil {
		// workers still notice through status polling
		e.logger.WarnContext(ctx, "Failed to publish cancellation", "execution_id", executionID, "error", err)
	}

	e.logger.InfoContext(ctx, "Execution cancelled", "execution_id", executionID)

	return nil
}

func (e *Execution) status(ctx context.Context, executionID string) (*models.ExecutionState, error) {
	if executionID == "" {
		return nil, ErrExecutionIDMissing
	}

	exec, err := e.states.Status(ctx, executionID)
	if err != nil {
		if persistence.IsExecutionNotFound(err) {
			return nil, err
		}

		return nil, fmt.Errorf("failed to load execution: %w", err)
	}

	return exec, nil
}
