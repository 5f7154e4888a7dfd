// Package testutil provides test data builders and utilities for testing.
package testutil

import (
	"time"

	"github.com/google/uuid"
	"github.com/vanyastaff/nebulav2/pkg/models"
)

// Node creates a test NodeDefinition with default values that can be overridden.
func Node(id, actionType string, overrides ...func(*models.NodeDefinition)) *models.NodeDefinition {
	node := &models.NodeDefinition{
		ID:           id,
		ActionTypeID: actionType,
		Parameters:   map[string]any{},
	}

	for _, override := range overrides {
		override(node)
	}

	return node
}

// WithParameters sets the node parameter template.
func WithParameters(params map[string]any) func(*models.NodeDefinition) {
	return func(n *models.NodeDefinition) {
		n.Parameters = params
	}
}

// WithOutputs declares the node output ports.
func WithOutputs(ports ...string) func(*models.NodeDefinition) {
	return func(n *models.NodeDefinition) {
		n.Outputs = ports
	}
}

// WithInputs declares the node input ports.
func WithInputs(ports ...string) func(*models.NodeDefinition) {
	return func(n *models.NodeDefinition) {
		n.Inputs = ports
	}
}

// WithJoin sets the join policy.
func WithJoin(policy models.JoinPolicy) func(*models.NodeDefinition) {
	return func(n *models.NodeDefinition) {
		n.JoinPolicy = policy
	}
}

// WithFailurePolicy sets the failure policy.
func WithFailurePolicy(policy models.FailurePolicy) func(*models.NodeDefinition) {
	return func(n *models.NodeDefinition) {
		n.FailurePolicy = policy
	}
}

// WithRetry sets a retry policy with the given retry count and fixed tiny delays.
func WithRetry(maxRetries int, initial time.Duration) func(*models.NodeDefinition) {
	return func(n *models.NodeDefinition) {
		n.Retry = &models.RetryPolicy{
			MaxRetries:   maxRetries,
			InitialDelay: models.Duration(initial),
			Base:         2,
			MaxDelay:     models.Duration(10 * initial),
		}
	}
}

// WithTimeout sets the node timeout.
func WithTimeout(timeout time.Duration) func(*models.NodeDefinition) {
	return func(n *models.NodeDefinition) {
		n.Timeout = models.Duration(timeout)
	}
}

// Connect creates a connection; empty ports mean the main port.
func Connect(from, fromPort, to, toPort string) *models.Connection {
	return &models.Connection{
		FromNode: from,
		FromPort: fromPort,
		ToNode:   to,
		ToPort:   toPort,
	}
}

// Workflow creates a version 1 definition.
func Workflow(id string, nodes []*models.NodeDefinition, connections []*models.Connection) *models.WorkflowDefinition {
	if id == "" {
		id = "wf-" + uuid.New().String()[:8]
	}

	now := time.Now().UTC()

	return &models.WorkflowDefinition{
		ID:          id,
		Name:        "Test Workflow " + id,
		Version:     1,
		Nodes:       nodes,
		Connections: connections,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Diamond builds a -> {b, c} -> d with every node using the given action type
// (default "echo").
func Diamond(actionType ...string) *models.WorkflowDefinition {
	action := "echo"
	if len(actionType) > 0 {
		action = actionType[0]
	}

	return Workflow("diamond",
		[]*models.NodeDefinition{
			Node("a", action),
			Node("b", action),
			Node("c", action),
			Node("d", action),
		},
		[]*models.Connection{
			Connect("a", "", "b", ""),
			Connect("a", "", "c", ""),
			Connect("b", "", "d", ""),
			Connect("c", "", "d", ""),
		},
	)
}

// Branch builds a condition node "a" with true/false ports feeding "b" and "c".
func Branch(action string) *models.WorkflowDefinition {
	return Workflow("branch",
		[]*models.NodeDefinition{
			Node("a", action, WithOutputs("true", "false")),
			Node("b", "echo"),
			Node("c", "echo"),
		},
		[]*models.Connection{
			Connect("a", "true", "b", ""),
			Connect("a", "false", "c", ""),
		},
	)
}
