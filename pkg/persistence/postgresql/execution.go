package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lib/pq"
	"github.com/vanyastaff/nebulav2/pkg/models"
	"github.com/vanyastaff/nebulav2/pkg/persistence"
)

const uniqueViolation = "23505"

// ExecutionRepository handles execution state. Node records live in
// execution_nodes; the executions row carries the fencing sequence.
type ExecutionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewExecutionRepository creates a new execution repository.
func NewExecutionRepository(db *sql.DB, logger *slog.Logger) *ExecutionRepository {
	return &ExecutionRepository{db: db, logger: logger}
}

func (r *ExecutionRepository) Create(ctx context.Context, state *models.ExecutionState) error {
	triggerJSON, err := json.Marshal(state.TriggerData)
	if err != nil {
		return fmt.Errorf("failed to marshal trigger data: %w", err)
	}

	failureJSON, err := marshalNullable(state.Failure)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer rollback(ctx, r.logger, tx)

	_, err = tx.ExecContext(ctx, `
		INSERT INTO executions (id, workflow_id, workflow_version, status, sequence, trigger_data,
			failure, created_at, updated_at, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		state.ID,
		state.WorkflowID,
		state.WorkflowVersion,
		state.Status,
		state.Sequence,
		triggerJSON,
		failureJSON,
		state.CreatedAt,
		state.UpdatedAt,
		state.StartedAt,
		state.CompletedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return &persistence.ExecutionError{Op: "Create", ExecutionID: state.ID, Err: persistence.ErrExecutionExists}
		}

		return &persistence.ExecutionError{Op: "Create", ExecutionID: state.ID, Err: err}
	}

	for _, node := range state.Nodes {
		err = upsertNode(ctx, tx, state.ID, node)
		if err != nil {
			return &persistence.ExecutionError{Op: "Create", ExecutionID: state.ID, NodeID: node.NodeID, Err: err}
		}
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("failed to commit execution: %w", err)
	}

	return nil
}

func (r *ExecutionRepository) Get(ctx context.Context, id string) (*models.ExecutionState, error) {
	row := r.db.QueryRowContext(ctx, selectExecution+" WHERE id = $1", id)

	state, err := scanExecution(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &persistence.ExecutionError{Op: "Get", ExecutionID: id, Err: persistence.ErrExecutionNotFound}
		}

		return nil, &persistence.ExecutionError{Op: "Get", ExecutionID: id, Err: err}
	}

	err = r.loadNodes(ctx, state)
	if err != nil {
		return nil, &persistence.ExecutionError{Op: "Get", ExecutionID: id, Err: err}
	}

	return state, nil
}

func (r *ExecutionRepository) ListByStatus(ctx context.Context, status models.ExecutionStatus) ([]*models.ExecutionState, error) {
	rows, err := r.db.QueryContext(ctx, selectExecution+" WHERE status = $1 ORDER BY created_at, id", status)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}

	var result []*models.ExecutionState

	func() {
		defer closeRows(ctx, r.logger, rows)

		for rows.Next() {
			var state *models.ExecutionState

			state, err = scanExecution(rows)
			if err != nil {
				return
			}

			result = append(result, state)
		}

		err = rows.Err()
	}()

	if err != nil {
		return nil, fmt.Errorf("failed to scan executions: %w", err)
	}

	for _, state := range result {
		err = r.loadNodes(ctx, state)
		if err != nil {
			return nil, &persistence.ExecutionError{Op: "ListByStatus", ExecutionID: state.ID, Err: err}
		}
	}

	return result, nil
}

// Checkpoint locks the executions row so that the sequence check and the node
// upsert are atomic with respect to every other writer.
func (r *ExecutionRepository) Checkpoint(ctx context.Context, checkpoint persistence.Checkpoint) error {
	wrap := func(err error) error {
		return &persistence.ExecutionError{
			Op:          "Checkpoint",
			ExecutionID: checkpoint.ExecutionID,
			NodeID:      checkpoint.Node.NodeID,
			Err:         err,
		}
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return wrap(fmt.Errorf("failed to begin transaction: %w", err))
	}

	defer rollback(ctx, r.logger, tx)

	status, sequence, err := lockExecution(ctx, tx, checkpoint.ExecutionID)
	if err != nil {
		return wrap(err)
	}

	stored, err := loadNode(ctx, tx, checkpoint.ExecutionID, checkpoint.Node.NodeID)
	if err != nil {
		return wrap(err)
	}

	apply, err := persistence.CheckCheckpoint(status, sequence, stored, checkpoint)
	if err != nil {
		return wrap(fmt.Errorf("sequence %d: %w", checkpoint.Sequence, err))
	}

	if !apply {
		return nil
	}

	node := checkpoint.Node.Clone()
	node.Sequence = checkpoint.Sequence

	err = upsertNode(ctx, tx, checkpoint.ExecutionID, node)
	if err != nil {
		return wrap(err)
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE executions SET sequence = $2, updated_at = $3 WHERE id = $1",
		checkpoint.ExecutionID, checkpoint.Sequence, checkpoint.At)
	if err != nil {
		return wrap(fmt.Errorf("failed to advance sequence: %w", err))
	}

	err = tx.Commit()
	if err != nil {
		return wrap(fmt.Errorf("failed to commit checkpoint: %w", err))
	}

	return nil
}

func (r *ExecutionRepository) Transition(ctx context.Context, transition persistence.Transition) error {
	wrap := func(err error) error {
		return &persistence.ExecutionError{Op: "Transition", ExecutionID: transition.ExecutionID, Err: err}
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return wrap(fmt.Errorf("failed to begin transaction: %w", err))
	}

	defer rollback(ctx, r.logger, tx)

	status, sequence, err := lockExecution(ctx, tx, transition.ExecutionID)
	if err != nil {
		return wrap(err)
	}

	next, apply, err := persistence.CheckTransition(status, sequence, transition)
	if err != nil {
		return wrap(fmt.Errorf("%s -> %s: %w", status, transition.To, err))
	}

	if !apply {
		return nil
	}

	failureJSON, err := marshalNullable(transition.Failure)
	if err != nil {
		return wrap(err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE executions SET
			status = $2,
			sequence = $3,
			updated_at = $4,
			failure = COALESCE($5, failure),
			started_at = CASE WHEN $6 AND started_at IS NULL THEN $4 ELSE started_at END,
			completed_at = CASE WHEN $7 THEN $4 ELSE completed_at END
		WHERE id = $1
	`,
		transition.ExecutionID,
		transition.To,
		next,
		transition.At,
		failureJSON,
		transition.To == models.ExecutionRunning,
		transition.To.IsTerminal(),
	)
	if err != nil {
		return wrap(fmt.Errorf("failed to update execution status: %w", err))
	}

	err = tx.Commit()
	if err != nil {
		return wrap(fmt.Errorf("failed to commit transition: %w", err))
	}

	return nil
}

func (r *ExecutionRepository) loadNodes(ctx context.Context, state *models.ExecutionState) error {
	rows, err := r.db.QueryContext(ctx, "SELECT state FROM execution_nodes WHERE execution_id = $1", state.ID)
	if err != nil {
		return fmt.Errorf("failed to query nodes: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	state.Nodes = map[string]*models.NodeState{}

	for rows.Next() {
		var raw []byte

		err = rows.Scan(&raw)
		if err != nil {
			return fmt.Errorf("failed to scan node: %w", err)
		}

		var node models.NodeState

		err = json.Unmarshal(raw, &node)
		if err != nil {
			return fmt.Errorf("failed to unmarshal node: %w", err)
		}

		state.Nodes[node.NodeID] = &node
	}

	return rows.Err()
}

const selectExecution = `
	SELECT id, workflow_id, workflow_version, status, sequence, trigger_data, failure,
		created_at, updated_at, started_at, completed_at
	FROM executions`

func scanExecution(row scanner) (*models.ExecutionState, error) {
	var (
		state       models.ExecutionState
		triggerJSON []byte
		failureJSON []byte
	)

	err := row.Scan(
		&state.ID,
		&state.WorkflowID,
		&state.WorkflowVersion,
		&state.Status,
		&state.Sequence,
		&triggerJSON,
		&failureJSON,
		&state.CreatedAt,
		&state.UpdatedAt,
		&state.StartedAt,
		&state.CompletedAt,
	)
	if err != nil {
		return nil, err
	}

	err = json.Unmarshal(triggerJSON, &state.TriggerData)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal trigger data: %w", err)
	}

	if len(failureJSON) > 0 {
		state.Failure = &models.ExecutionFailure{}

		err = json.Unmarshal(failureJSON, state.Failure)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal failure: %w", err)
		}
	}

	return &state, nil
}

func lockExecution(ctx context.Context, tx *sql.Tx, id string) (models.ExecutionStatus, int64, error) {
	var (
		status   models.ExecutionStatus
		sequence int64
	)

	err := tx.QueryRowContext(ctx,
		"SELECT status, sequence FROM executions WHERE id = $1 FOR UPDATE", id,
	).Scan(&status, &sequence)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", 0, persistence.ErrExecutionNotFound
		}

		return "", 0, fmt.Errorf("failed to lock execution: %w", err)
	}

	return status, sequence, nil
}

func loadNode(ctx context.Context, tx *sql.Tx, executionID, nodeID string) (*models.NodeState, error) {
	var raw []byte

	err := tx.QueryRowContext(ctx,
		"SELECT state FROM execution_nodes WHERE execution_id = $1 AND node_id = $2", executionID, nodeID,
	).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil //nolint:nilnil // absent node is a valid answer
		}

		return nil, fmt.Errorf("failed to load node: %w", err)
	}

	var node models.NodeState

	err = json.Unmarshal(raw, &node)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal node: %w", err)
	}

	return &node, nil
}

func upsertNode(ctx context.Context, tx *sql.Tx, executionID string, node *models.NodeState) error {
	stateJSON, err := json.Marshal(node)
	if err != nil {
		return fmt.Errorf("failed to marshal node: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO execution_nodes (execution_id, node_id, status, sequence, state)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (execution_id, node_id) DO UPDATE SET
			status = EXCLUDED.status,
			sequence = EXCLUDED.sequence,
			state = EXCLUDED.state
	`, executionID, node.NodeID, node.Status, node.Sequence, stateJSON)
	if err != nil {
		return fmt.Errorf("failed to upsert node: %w", err)
	}

	return nil
}

// marshalNullable encodes v as JSON, or SQL NULL when v is a nil pointer.
func marshalNullable[T any](v *T) (any, error) {
	if v == nil {
		return nil, nil
	}

	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %T: %w", v, err)
	}

	return data, nil
}
