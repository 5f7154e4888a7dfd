package file

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"

	"github.com/vanyastaff/nebulav2/pkg/models"
	"github.com/vanyastaff/nebulav2/pkg/persistence"
)

// WorkflowRepository stores each version as workflows/{id}/{version}.json.
type WorkflowRepository struct {
	store *Persistence
}

func (wr *WorkflowRepository) versions(id string) ([]int, error) {
	names, err := listJSON(wr.store.dir("workflows", id))
	if err != nil {
		return nil, err
	}

	versions := make([]int, 0, len(names))

	for _, name := range names {
		version, err := strconv.Atoi(name)
		if err != nil {
			continue
		}

		versions = append(versions, version)
	}

	sort.Ints(versions)

	return versions, nil
}

func (wr *WorkflowRepository) Save(_ context.Context, def *models.WorkflowDefinition) error {
	err := validateID(def.ID)
	if err != nil {
		return err
	}

	wr.store.mu.Lock()
	defer wr.store.mu.Unlock()

	versions, err := wr.versions(def.ID)
	if err != nil {
		return err
	}

	def.Version = 1
	if len(versions) > 0 {
		def.Version = versions[len(versions)-1] + 1
	}

	return writeJSON(wr.store.dir("workflows", def.ID, strconv.Itoa(def.Version)+".json"), def)
}

func (wr *WorkflowRepository) GetLatest(ctx context.Context, id string) (*models.WorkflowDefinition, error) {
	err := validateID(id)
	if err != nil {
		return nil, err
	}

	wr.store.mu.Lock()
	versions, err := wr.versions(id)
	wr.store.mu.Unlock()

	if err != nil {
		return nil, err
	}

	if len(versions) == 0 {
		return nil, fmt.Errorf("workflow %s: %w", id, persistence.ErrWorkflowNotFound)
	}

	return wr.GetVersion(ctx, id, versions[len(versions)-1])
}

func (wr *WorkflowRepository) GetVersion(_ context.Context, id string, version int) (*models.WorkflowDefinition, error) {
	err := validateID(id)
	if err != nil {
		return nil, err
	}

	wr.store.mu.Lock()
	defer wr.store.mu.Unlock()

	var def models.WorkflowDefinition

	found, err := readJSON(wr.store.dir("workflows", id, strconv.Itoa(version)+".json"), &def)
	if err != nil {
		return nil, err
	}

	if !found {
		return nil, fmt.Errorf("workflow %s version %d: %w", id, version, persistence.ErrWorkflowNotFound)
	}

	return &def, nil
}

func (wr *WorkflowRepository) List(ctx context.Context) ([]*models.WorkflowDefinition, error) {
	entries, err := os.ReadDir(wr.store.dir("workflows"))
	if err != nil {
		if os.IsNotExist(err) {
			return []*models.WorkflowDefinition{}, nil
		}

		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}

	result := make([]*models.WorkflowDefinition, 0, len(entries))

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		def, err := wr.GetLatest(ctx, entry.Name())
		if err != nil {
			if persistence.IsWorkflowNotFound(err) {
				continue
			}

			return nil, err
		}

		result = append(result, def)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].ID < result[j].ID
	})

	return result, nil
}
