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

// WorkflowRepository handles workflow definition database operations.
type WorkflowRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewWorkflowRepository creates a new workflow repository.
func NewWorkflowRepository(db *sql.DB, logger *slog.Logger) *WorkflowRepository {
	return &WorkflowRepository{db: db, logger: logger}
}

// Save inserts def as the next version of its ID. The (id, version) primary
// key makes concurrent saves of the same ID fail rather than overwrite.
func (r *WorkflowRepository) Save(ctx context.Context, def *models.WorkflowDefinition) error {
	now := time.Now().UTC()

	if def.CreatedAt.IsZero() {
		def.CreatedAt = now
	}

	def.UpdatedAt = now

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer rollback(ctx, r.logger, tx)

	var current int

	err = tx.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(version), 0) FROM workflow_definitions WHERE id = $1", def.ID,
	).Scan(&current)
	if err != nil {
		return fmt.Errorf("failed to query workflow version: %w", err)
	}

	def.Version = current + 1

	definitionJSON, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("failed to marshal workflow: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO workflow_definitions (id, version, name, definition, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, def.ID, def.Version, def.Name, definitionJSON, def.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save workflow %s version %d: %w", def.ID, def.Version, err)
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("failed to commit workflow: %w", err)
	}

	return nil
}

func (r *WorkflowRepository) GetLatest(ctx context.Context, id string) (*models.WorkflowDefinition, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT definition
		FROM workflow_definitions
		WHERE id = $1
		ORDER BY version DESC
		LIMIT 1
	`, id)

	def, err := scanDefinition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("workflow %s: %w", id, persistence.ErrWorkflowNotFound)
	}

	return def, err
}

func (r *WorkflowRepository) GetVersion(ctx context.Context, id string, version int) (*models.WorkflowDefinition, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT definition FROM workflow_definitions WHERE id = $1 AND version = $2", id, version)

	def, err := scanDefinition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("workflow %s version %d: %w", id, version, persistence.ErrWorkflowNotFound)
	}

	return def, err
}

func (r *WorkflowRepository) List(ctx context.Context) ([]*models.WorkflowDefinition, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT DISTINCT ON (id) definition
		FROM workflow_definitions
		ORDER BY id, version DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflows: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	workflows := make([]*models.WorkflowDefinition, 0)

	for rows.Next() {
		def, err := scanDefinition(rows)
		if err != nil {
			return nil, err
		}

		workflows = append(workflows, def)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating workflows: %w", err)
	}

	return workflows, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDefinition(row scanner) (*models.WorkflowDefinition, error) {
	var raw []byte

	err := row.Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}

		return nil, fmt.Errorf("failed to scan workflow: %w", err)
	}

	var def models.WorkflowDefinition

	err = json.Unmarshal(raw, &def)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal workflow: %w", err)
	}

	return &def, nil
}
