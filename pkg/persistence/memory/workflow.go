package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/vanyastaff/nebulav2/pkg/models"
	"github.com/vanyastaff/nebulav2/pkg/persistence"
)

// WorkflowRepository keeps every deployed version of every workflow.
type WorkflowRepository struct {
	mu       *sync.Mutex
	versions map[string][]*models.WorkflowDefinition
}

func (r *WorkflowRepository) Save(_ context.Context, def *models.WorkflowDefinition) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	def.Version = len(r.versions[def.ID]) + 1

	stored, err := cloneDefinition(def)
	if err != nil {
		return err
	}

	r.versions[def.ID] = append(r.versions[def.ID], stored)

	return nil
}

func (r *WorkflowRepository) GetLatest(_ context.Context, id string) (*models.WorkflowDefinition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	versions := r.versions[id]
	if len(versions) == 0 {
		return nil, fmt.Errorf("workflow %s: %w", id, persistence.ErrWorkflowNotFound)
	}

	return cloneDefinition(versions[len(versions)-1])
}

func (r *WorkflowRepository) GetVersion(_ context.Context, id string, version int) (*models.WorkflowDefinition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	versions := r.versions[id]
	if version < 1 || version > len(versions) {
		return nil, fmt.Errorf("workflow %s version %d: %w", id, version, persistence.ErrWorkflowNotFound)
	}

	return cloneDefinition(versions[version-1])
}

func (r *WorkflowRepository) List(_ context.Context) ([]*models.WorkflowDefinition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.versions))
	for id := range r.versions {
		ids = append(ids, id)
	}

	sort.Strings(ids)

	result := make([]*models.WorkflowDefinition, 0, len(ids))

	for _, id := range ids {
		versions := r.versions[id]

		def, err := cloneDefinition(versions[len(versions)-1])
		if err != nil {
			return nil, err
		}

		result = append(result, def)
	}

	return result, nil
}

// cloneDefinition isolates stored definitions from caller mutation.
func cloneDefinition(def *models.WorkflowDefinition) (*models.WorkflowDefinition, error) {
	data, err := json.Marshal(def)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal workflow %s: %w", def.ID, err)
	}

	var clone models.WorkflowDefinition

	err = json.Unmarshal(data, &clone)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal workflow %s: %w", def.ID, err)
	}

	return &clone, nil
}
