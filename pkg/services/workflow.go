package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/vanyastaff/nebulav2/pkg/graph"
	"github.com/vanyastaff/nebulav2/pkg/models"
	"github.com/vanyastaff/nebulav2/pkg/persistence"
)

// ActionCatalog reports which action types a runtime can execute.
type ActionCatalog interface {
	Has(actionType string) bool
}

type Workflow struct {
	persistence persistence.Persistence
	actions     ActionCatalog
	logger      *slog.Logger
}

// NewWorkflow creates a new workflow service. When actions is nil, deploy
// does not check that action types are registered.
func NewWorkflow(persistence persistence.Persistence, actions ActionCatalog, logger *slog.Logger) *Workflow {
	return &Workflow{
		persistence: persistence,
		actions:     actions,
		logger:      logger.With("module", "workflow_service"),
	}
}

// HealthCheck checks the health of the persistence layer.
func (w *Workflow) HealthCheck(ctx context.Context) (string, bool) {
	if w.persistence == nil {
		return "Persistence layer not initialized", false
	}

	err := w.persistence.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// Deploy validates def and stores it as the next version of its ID. The
// stored definition, with its assigned version, is returned.
func (w *Workflow) Deploy(ctx context.Context, def *models.WorkflowDefinition) (*models.WorkflowDefinition, error) {
	if def == nil {
		return nil, ErrWorkflowNil
	}

	if err := graph.Validate(def); err != nil {
		return nil, NewValidationError("Deploy", "INVALID_WORKFLOW", err.Error(), err)
	}

	if err := w.checkActions(def); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if def.CreatedAt.IsZero() {
		def.CreatedAt = now
	}

	def.UpdatedAt = now

	if err := w.persistence.WorkflowRepository().Save(ctx, def); err != nil {
		return nil, fmt.Errorf("failed to deploy workflow: %w", err)
	}

	w.logger.InfoContext(ctx, "Workflow deployed", "workflow_id", def.ID, "version", def.Version, "nodes", len(def.Nodes))

	return def, nil
}

func (w *Workflow) checkActions(def *models.WorkflowDefinition) error {
	if w.actions == nil {
		return nil
	}

	var unknown []string

	for _, node := range def.Nodes {
		if !w.actions.Has(node.ActionTypeID) {
			unknown = append(unknown, fmt.Sprintf("%s (node %s)", node.ActionTypeID, node.ID))
		}
	}

	if len(unknown) == 0 {
		return nil
	}

	return NewValidationError("Deploy", "UNKNOWN_ACTION_TYPE",
		"unknown action types: "+strings.Join(unknown, ", "), ErrUnknownActionType)
}

// Get returns the given version of a workflow, or the latest when version is 0.
func (w *Workflow) Get(ctx context.Context, id string, version int) (*models.WorkflowDefinition, error) {
	if version > 0 {
		return w.persistence.WorkflowRepository().GetVersion(ctx, id, version)
	}

	return w.persistence.WorkflowRepository().GetLatest(ctx, id)
}

// List returns the latest version of every workflow.
func (w *Workflow) List(ctx context.Context) ([]*models.WorkflowDefinition, error) {
	workflows, err := w.persistence.WorkflowRepository().List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}

	return workflows, nil
}
