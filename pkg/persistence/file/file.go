// Package file provides file-based persistence for single-process deployments
// and local development. Every record is one JSON document under the root directory.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/vanyastaff/nebulav2/pkg/persistence"
)

var errInvalidID = errors.New("identifier contains invalid characters")

// Persistence implements the persistence.Persistence interface using the file system.
// A process-wide mutex makes read-modify-write cycles atomic; it does not
// coordinate separate processes sharing the same root.
type Persistence struct {
	root          string
	mu            sync.Mutex
	workflowRepo  *WorkflowRepository
	executionRepo *ExecutionRepository
	jobRepo       *JobRepository
}

// NewPersistence stores all data under root. A leading file:// is stripped.
func NewPersistence(root string) *Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	p := &Persistence{root: cleanRoot}
	p.workflowRepo = &WorkflowRepository{store: p}
	p.executionRepo = &ExecutionRepository{store: p}
	p.jobRepo = &JobRepository{store: p}

	return p
}

// Close performs any necessary cleanup. For file-based persistence, there is nothing to clean up.
func (fp *Persistence) Close(_ context.Context) error {
	return nil
}

// HealthCheck checks if the file persistence layer is healthy by verifying the root directory exists.
func (fp *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(fp.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

func (fp *Persistence) WorkflowRepository() persistence.WorkflowRepository {
	return fp.workflowRepo
}

func (fp *Persistence) ExecutionRepository() persistence.ExecutionRepository {
	return fp.executionRepo
}

func (fp *Persistence) JobRepository() persistence.JobRepository {
	return fp.jobRepo
}

// validateID rejects identifiers that could escape the root directory.
func validateID(id string) error {
	if id == "" {
		return fmt.Errorf("empty identifier: %w", errInvalidID)
	}

	if strings.Contains(id, "..") || strings.ContainsAny(id, `/\`) {
		return fmt.Errorf("%q: %w", id, errInvalidID)
	}

	return nil
}

func (fp *Persistence) dir(parts ...string) string {
	return filepath.Join(append([]string{fp.root}, parts...)...)
}

// writeJSON writes value atomically through a temporary file and rename.
func writeJSON(path string, value any) error {
	err := os.MkdirAll(filepath.Dir(path), 0750)
	if err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", path, err)
	}

	tmp := path + ".tmp"

	err = os.WriteFile(tmp, data, 0600)
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", tmp, err)
	}

	err = os.Rename(tmp, path)
	if err != nil {
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}

	return nil
}

// readJSON reads path into value and reports whether the file existed.
func readJSON(path string, value any) (bool, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path built from validated identifiers
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}

		return false, fmt.Errorf("failed to read %s: %w", path, err)
	}

	err = json.Unmarshal(data, value)
	if err != nil {
		return false, fmt.Errorf("failed to unmarshal %s: %w", path, err)
	}

	return true, nil
}

// listJSON returns the base names (without extension) of the JSON files in dir.
func listJSON(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}

	names := make([]string, 0, len(entries))

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}

		names = append(names, strings.TrimSuffix(name, ".json"))
	}

	return names, nil
}
