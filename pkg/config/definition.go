// Package config loads workflow definitions and trigger payloads from files.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/vanyastaff/nebulav2/pkg/models"
	"gopkg.in/yaml.v3"
)

var ErrEmptyDefinition = errors.New("workflow definition is empty")

// LoadWorkflow reads a workflow definition from a YAML or JSON file. Unknown
// fields are rejected so typos do not silently drop configuration.
func LoadWorkflow(path string) (*models.WorkflowDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow file %s: %w", path, err)
	}

	def, err := ParseWorkflow(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return def, nil
}

// ParseWorkflow decodes a YAML or JSON workflow definition.
func ParseWorkflow(data []byte) (*models.WorkflowDefinition, error) {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)

	var def models.WorkflowDefinition
	if err := decoder.Decode(&def); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrEmptyDefinition
		}

		return nil, fmt.Errorf("failed to parse workflow definition: %w", err)
	}

	return &def, nil
}

// LoadTrigger reads trigger data for an execution. An empty path yields an
// empty payload.
func LoadTrigger(path string) (map[string]any, error) {
	if path == "" {
		return map[string]any{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read trigger file %s: %w", path, err)
	}

	trigger := map[string]any{}
	if err := yaml.Unmarshal(data, &trigger); err != nil {
		return nil, fmt.Errorf("failed to parse trigger data: %w", err)
	}

	return trigger, nil
}
