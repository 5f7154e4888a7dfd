package testutil

import (
	"time"

	"github.com/vanyastaff/nebulav2/pkg/models"
)

// Running creates a running execution of def with every node not started.
func Running(def *models.WorkflowDefinition) *models.ExecutionState {
	state := models.NewExecutionState("exec-test", def, nil, time.Now().UTC())
	state.Status = models.ExecutionRunning

	return state
}

// Succeed marks a node succeeded with the given produced ports.
func Succeed(state *models.ExecutionState, nodeID string, output map[string]any) {
	node := state.Node(nodeID)
	node.Status = models.NodeSucceeded
	node.Output = output
	state.Nodes[nodeID] = node
}

// Fail marks a node failed.
func Fail(state *models.ExecutionState, nodeID string) {
	node := state.Node(nodeID)
	node.Status = models.NodeFailed
	node.Error = &models.NodeError{Kind: "failure", Message: "failed"}
	state.Nodes[nodeID] = node
}

// SetStatus forces a node status.
func SetStatus(state *models.ExecutionState, nodeID string, status models.NodeStatus) {
	node := state.Node(nodeID)
	node.Status = status
	state.Nodes[nodeID] = node
}
