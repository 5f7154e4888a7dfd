// Package state is the only writer of execution state. It turns node results
// into fenced checkpoints, moves large outputs to the blob store, and drives
// execution status transitions.
package state

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/vanyastaff/nebulav2/pkg/blob"
	"github.com/vanyastaff/nebulav2/pkg/models"
	"github.com/vanyastaff/nebulav2/pkg/persistence"
)

// DefaultOutputInlineLimit is the largest JSON-encoded port value kept inline.
const DefaultOutputInlineLimit = 64 * 1024

type Manager struct {
	executions  persistence.ExecutionRepository
	workflows   persistence.WorkflowRepository
	blobs       blob.Store
	inlineLimit int
	now         func() time.Time
	newID       func() string
	logger      *slog.Logger
}

type Option func(*Manager)

// WithBlobStore offloads port values whose JSON exceeds limit bytes.
func WithBlobStore(store blob.Store, limit int) Option {
	return func(m *Manager) {
		m.blobs = store
		if limit > 0 {
			m.inlineLimit = limit
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

func WithIDGenerator(newID func() string) Option {
	return func(m *Manager) {
		m.newID = newID
	}
}

func NewManager(p persistence.Persistence, logger *slog.Logger, opts ...Option) *Manager {
	m := &Manager{
		executions:  p.ExecutionRepository(),
		workflows:   p.WorkflowRepository(),
		inlineLimit: DefaultOutputInlineLimit,
		now:         time.Now,
		newID:       uuid.NewString,
		logger:      logger.With("module", "state_manager"),
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

func (m *Manager) Now() time.Time {
	return m.now().UTC()
}

// Create stores a pending execution of def with every node not started.
func (m *Manager) Create(ctx context.Context, def *models.WorkflowDefinition, trigger map[string]any) (*models.ExecutionState, error) {
	state := models.NewExecutionState(m.newID(), def, trigger, m.Now())

	if err := m.executions.Create(ctx, state); err != nil {
		return nil, wrap("create", state.ID, err)
	}

	m.logger.InfoContext(ctx, "Execution created",
		"execution_id", state.ID, "workflow_id", def.ID, "workflow_version", def.Version)

	return state, nil
}

// Load returns the execution with offloaded outputs hydrated.
func (m *Manager) Load(ctx context.Context, executionID string) (*models.ExecutionState, error) {
	state, err := m.executions.Get(ctx, executionID)
	if err != nil {
		return nil, wrap("load", executionID, err)
	}

	if err := m.hydrate(ctx, state); err != nil {
		return nil, wrap("load", executionID, err)
	}

	return state, nil
}

// Status returns the execution without hydrating offloaded outputs.
func (m *Manager) Status(ctx context.Context, executionID string) (*models.ExecutionState, error) {
	state, err := m.executions.Get(ctx, executionID)
	if err != nil {
		return nil, wrap("status", executionID, err)
	}

	return state, nil
}

// Workflow returns the definition version the execution was created from.
func (m *Manager) Workflow(ctx context.Context, state *models.ExecutionState) (*models.WorkflowDefinition, error) {
	def, err := m.workflows.GetVersion(ctx, state.WorkflowID, state.WorkflowVersion)
	if err != nil {
		return nil, wrap("workflow", state.ID, err)
	}

	return def, nil
}

func (m *Manager) ListByStatus(ctx context.Context, status models.ExecutionStatus) ([]*models.ExecutionState, error) {
	states, err := m.executions.ListByStatus(ctx, status)
	if err != nil {
		return nil, wrap("list", "", err)
	}

	return states, nil
}

// NextSequence is the sequence the next write against state must carry.
func (m *Manager) NextSequence(state *models.ExecutionState) int64 {
	return state.Sequence + 1
}

// Checkpoint durably writes one node record. Replaying an applied checkpoint
// is a no-op; a stale sequence fails with ErrCheckpointConflict.
func (m *Manager) Checkpoint(ctx context.Context, checkpoint persistence.Checkpoint) error {
	if checkpoint.At.IsZero() {
		checkpoint.At = m.Now()
	}

	output, err := m.offload(ctx, checkpoint.ExecutionID, checkpoint.Sequence, &checkpoint.Node)
	if err != nil {
		return wrap("checkpoint", checkpoint.ExecutionID, err)
	}

	checkpoint.Node.Output = output

	if err := m.executions.Checkpoint(ctx, checkpoint); err != nil {
		return wrap("checkpoint", checkpoint.ExecutionID, err)
	}

	return nil
}

// Record checkpoints node at the next sequence and, once durable, applies it
// to the caller's copy of state. The in-memory copy keeps outputs inline.
func (m *Manager) Record(ctx context.Context, state *models.ExecutionState, node *models.NodeState) error {
	checkpoint := persistence.Checkpoint{
		ExecutionID: state.ID,
		Sequence:    m.NextSequence(state),
		Node:        *node.Clone(),
		At:          m.Now(),
	}

	if err := m.Checkpoint(ctx, checkpoint); err != nil {
		return err
	}

	checkpoint.Node = *node.Clone()

	return persistence.ApplyCheckpoint(state, checkpoint)
}

// Start moves a pending execution to running. Starting a running execution
// is a no-op.
func (m *Manager) Start(ctx context.Context, state *models.ExecutionState) error {
	return m.transition(ctx, state, persistence.Transition{
		From: []models.ExecutionStatus{models.ExecutionPending},
		To:   models.ExecutionRunning,
	})
}

// Finish moves a running execution to succeeded, or to failed when failure is set.
func (m *Manager) Finish(ctx context.Context, state *models.ExecutionState, failure *models.ExecutionFailure) error {
	to := models.ExecutionSucceeded
	if failure != nil {
		to = models.ExecutionFailed
	}

	return m.transition(ctx, state, persistence.Transition{
		From:    []models.ExecutionStatus{models.ExecutionRunning},
		To:      to,
		Failure: failure,
	})
}

// Fail marks a non-terminal execution failed without a running lease holder,
// e.g. when its advance job ran out of retries.
func (m *Manager) Fail(ctx context.Context, executionID string, failure *models.ExecutionFailure) error {
	return m.transition(ctx, &models.ExecutionState{ID: executionID}, persistence.Transition{
		From:    []models.ExecutionStatus{models.ExecutionPending, models.ExecutionRunning},
		To:      models.ExecutionFailed,
		Failure: failure,
	})
}

// Cancel durably cancels a non-terminal execution. Cancelling an already
// cancelled execution is a no-op; any other terminal status is an error.
func (m *Manager) Cancel(ctx context.Context, executionID string) error {
	return m.transition(ctx, &models.ExecutionState{ID: executionID}, persistence.Transition{
		From: []models.ExecutionStatus{models.ExecutionPending, models.ExecutionRunning},
		To:   models.ExecutionCancelled,
	})
}

// Recover returns nodes left running or ready by a lost lease holder to
// not_started so the scheduler picks them up again. It reports how many
// nodes were reset.
func (m *Manager) Recover(ctx context.Context, state *models.ExecutionState) (int, error) {
	recovered := 0

	for _, id := range sortedNodeIDs(state) {
		node := state.Nodes[id]
		if node.Status != models.NodeRunning && node.Status != models.NodeReady {
			continue
		}

		reset := node.Clone()
		reset.Status = models.NodeNotStarted
		reset.StartedAt = nil
		reset.NextAttemptAt = nil

		if err := m.Record(ctx, state, reset); err != nil {
			return recovered, err
		}

		recovered++

		m.logger.WarnContext(ctx, "Recovered interrupted node",
			"execution_id", state.ID, "node_id", id, "attempts", node.Attempts)
	}

	return recovered, nil
}

// transition applies t to the store and, when state carries a loaded
// execution, mirrors it in memory.
func (m *Manager) transition(ctx context.Context, state *models.ExecutionState, t persistence.Transition) error {
	t.ExecutionID = state.ID
	t.At = m.Now()

	if err := m.executions.Transition(ctx, t); err != nil {
		return wrap("transition", state.ID, err)
	}

	if state.Status != "" {
		if err := persistence.ApplyTransition(state, t); err != nil {
			return err
		}
	}

	m.logger.InfoContext(ctx, "Execution status changed", "execution_id", state.ID, "status", t.To)

	return nil
}
