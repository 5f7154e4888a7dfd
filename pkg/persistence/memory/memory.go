// Package memory provides an in-process persistence implementation. Executions
// live in an arena keyed by execution ID and are only mutated through the
// checkpoint and transition operations.
package memory

import (
	"context"
	"sync"

	"github.com/vanyastaff/nebulav2/pkg/models"
	"github.com/vanyastaff/nebulav2/pkg/persistence"
)

// Persistence implements persistence.Persistence in memory.
type Persistence struct {
	mu         sync.Mutex
	workflows  *WorkflowRepository
	executions *ExecutionRepository
	jobs       *JobRepository
}

func NewPersistence() *Persistence {
	p := &Persistence{}
	p.workflows = &WorkflowRepository{mu: &p.mu, versions: map[string][]*models.WorkflowDefinition{}}
	p.executions = &ExecutionRepository{mu: &p.mu, arena: map[string]*models.ExecutionState{}}
	p.jobs = &JobRepository{mu: &p.mu, jobs: map[string]*models.WorkflowJob{}}

	return p
}

func (p *Persistence) WorkflowRepository() persistence.WorkflowRepository {
	return p.workflows
}

func (p *Persistence) ExecutionRepository() persistence.ExecutionRepository {
	return p.executions
}

func (p *Persistence) JobRepository() persistence.JobRepository {
	return p.jobs
}

func (p *Persistence) HealthCheck(_ context.Context) error {
	return nil
}

func (p *Persistence) Close(_ context.Context) error {
	return nil
}
