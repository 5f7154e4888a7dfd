package web

import (
	"time"

	"github.com/vanyastaff/nebulav2/pkg/models"
)

// CreateExecutionRequest is the body of POST /workflows/:id/executions.
type CreateExecutionRequest struct {
	// Version pins the workflow version; 0 runs the latest.
	Version  int            `json:"version"  validate:"min=0"`
	Trigger  map[string]any `json:"trigger"`
	Start    bool           `json:"start"`
	Priority int            `json:"priority" validate:"min=0,max=100"`
}

// StartExecutionRequest is the optional body of POST /executions/:id/start.
type StartExecutionRequest struct {
	Priority int `json:"priority" validate:"min=0,max=100"`
}

// ExecutionResponse describes a freshly created execution.
type ExecutionResponse struct {
	ExecutionID     string                 `json:"execution_id"`
	WorkflowID      string                 `json:"workflow_id"`
	WorkflowVersion int                    `json:"workflow_version"`
	Status          models.ExecutionStatus `json:"status"`
	Started         bool                   `json:"started"`
	CreatedAt       time.Time              `json:"created_at"`
}

// WorkflowSummary is the list view of a deployed workflow.
type WorkflowSummary struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Version   int       `json:"version"`
	Nodes     int       `json:"nodes"`
	UpdatedAt time.Time `json:"updated_at"`
}

func summarize(def *models.WorkflowDefinition) WorkflowSummary {
	return WorkflowSummary{
		ID:        def.ID,
		Name:      def.Name,
		Version:   def.Version,
		Nodes:     len(def.Nodes),
		UpdatedAt: def.UpdatedAt,
	}
}
