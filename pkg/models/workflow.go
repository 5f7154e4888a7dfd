// Package models defines the workflow graph, execution state and queue job models.
package models

import "time"

// WorkflowDefinition is an immutable, versioned DAG of nodes and connections.
// Deploying a definition with an existing ID stores it as the next version.
type WorkflowDefinition struct {
	ID          string            `json:"id"                    yaml:"id"                    validate:"required"`
	Name        string            `json:"name"                  yaml:"name"                  validate:"required,min=1"`
	Version     int               `json:"version"               yaml:"version"`
	Nodes       []*NodeDefinition `json:"nodes"                 yaml:"nodes"                 validate:"required,min=1,dive,required"`
	Connections []*Connection     `json:"connections"           yaml:"connections"           validate:"dive,required"`
	Metadata    map[string]any    `json:"metadata,omitempty"    yaml:"metadata,omitempty"`
	CreatedAt   time.Time         `json:"created_at"            yaml:"-"`
	UpdatedAt   time.Time         `json:"updated_at"            yaml:"-"`
}

// Node returns the node with the given ID, or nil.
func (w *WorkflowDefinition) Node(id string) *NodeDefinition {
	for _, node := range w.Nodes {
		if node.ID == id {
			return node
		}
	}

	return nil
}
