package models

import (
	"maps"
	"time"
)

// ExecutionStatus is the overall status of a workflow execution.
type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "pending"
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionSucceeded ExecutionStatus = "succeeded"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionCancelled ExecutionStatus = "cancelled"
)

// IsTerminal reports whether no further transition is allowed.
func (s ExecutionStatus) IsTerminal() bool {
	return s == ExecutionSucceeded || s == ExecutionFailed || s == ExecutionCancelled
}

// NodeStatus is the status of one node within an execution.
type NodeStatus string

const (
	NodeNotStarted NodeStatus = "not_started"
	NodeReady      NodeStatus = "ready"
	NodeRunning    NodeStatus = "running"
	NodeSucceeded  NodeStatus = "succeeded"
	NodeFailed     NodeStatus = "failed"
	NodeSkipped    NodeStatus = "skipped"
)

func (s NodeStatus) IsTerminal() bool {
	return s == NodeSucceeded || s == NodeFailed || s == NodeSkipped
}

// SkipReason records why the scheduler skipped a node.
type SkipReason string

const (
	SkipBranch          SkipReason = "branch"           // no input port was produced upstream
	SkipUpstreamFailure SkipReason = "upstream_failure" // a required input failed
)

// NodeError is the persisted form of a node failure.
type NodeError struct {
	Kind      string `json:"kind"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// NodeState is the per-node slice of an execution.
type NodeState struct {
	NodeID        string         `json:"node_id"`
	Status        NodeStatus     `json:"status"`
	Output        map[string]any `json:"output,omitempty"` // produced port -> value
	Error         *NodeError     `json:"error,omitempty"`
	Attempts      int            `json:"attempts"`
	Sequence      int64          `json:"sequence"`
	TriggeredBy   []string       `json:"triggered_by,omitempty"`
	SkipReason    SkipReason     `json:"skip_reason,omitempty"`
	NextAttemptAt *time.Time     `json:"next_attempt_at,omitempty"`
	StartedAt     *time.Time     `json:"started_at,omitempty"`
	CompletedAt   *time.Time     `json:"completed_at,omitempty"`
}

// Produced reports whether the node emitted a value on the given port.
func (n *NodeState) Produced(port string) bool {
	if n == nil || n.Status != NodeSucceeded {
		return false
	}

	_, ok := n.Output[port]

	return ok
}

// Clone returns a deep-enough copy for snapshot use; output values are shared.
func (n *NodeState) Clone() *NodeState {
	if n == nil {
		return nil
	}

	c := *n
	c.Output = maps.Clone(n.Output)
	c.TriggeredBy = append([]string(nil), n.TriggeredBy...)

	if n.Error != nil {
		e := *n.Error
		c.Error = &e
	}

	return &c
}

// ExecutionFailure identifies the node and error that ended an execution.
type ExecutionFailure struct {
	NodeID  string `json:"node_id,omitempty"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// ExecutionState is the durable state of one run of a workflow version.
type ExecutionState struct {
	ID              string                `json:"id"`
	WorkflowID      string                `json:"workflow_id"`
	WorkflowVersion int                   `json:"workflow_version"`
	Status          ExecutionStatus       `json:"status"`
	Nodes           map[string]*NodeState `json:"nodes"`
	TriggerData     map[string]any        `json:"trigger_data,omitempty"`
	Sequence        int64                 `json:"sequence"`
	Failure         *ExecutionFailure     `json:"failure,omitempty"`
	CreatedAt       time.Time             `json:"created_at"`
	UpdatedAt       time.Time             `json:"updated_at"`
	StartedAt       *time.Time            `json:"started_at,omitempty"`
	CompletedAt     *time.Time            `json:"completed_at,omitempty"`
}

// NewExecutionState creates a pending execution with every node not started.
func NewExecutionState(id string, def *WorkflowDefinition, trigger map[string]any, now time.Time) *ExecutionState {
	nodes := make(map[string]*NodeState, len(def.Nodes))
	for _, node := range def.Nodes {
		nodes[node.ID] = &NodeState{NodeID: node.ID, Status: NodeNotStarted}
	}

	if trigger == nil {
		trigger = map[string]any{}
	}

	return &ExecutionState{
		ID:              id,
		WorkflowID:      def.ID,
		WorkflowVersion: def.Version,
		Status:          ExecutionPending,
		Nodes:           nodes,
		TriggerData:     trigger,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// Node returns the state of a node, treating unknown nodes as not started.
func (e *ExecutionState) Node(id string) *NodeState {
	if state, ok := e.Nodes[id]; ok && state != nil {
		return state
	}

	return &NodeState{NodeID: id, Status: NodeNotStarted}
}

// Clone copies the execution so callers can mutate the snapshot freely.
func (e *ExecutionState) Clone() *ExecutionState {
	c := *e
	c.Nodes = make(map[string]*NodeState, len(e.Nodes))

	for id, node := range e.Nodes {
		c.Nodes[id] = node.Clone()
	}

	c.TriggerData = maps.Clone(e.TriggerData)

	if e.Failure != nil {
		f := *e.Failure
		c.Failure = &f
	}

	return &c
}

// Outputs returns the outputs of every succeeded node keyed by node ID.
func (e *ExecutionState) Outputs() map[string]map[string]any {
	outputs := make(map[string]map[string]any)

	for id, node := range e.Nodes {
		if node.Status == NodeSucceeded {
			outputs[id] = node.Output
		}
	}

	return outputs
}

// ExecutionReport is the user-visible summary of an execution.
type ExecutionReport struct {
	ExecutionID string                    `json:"execution_id"`
	WorkflowID  string                    `json:"workflow_id"`
	Version     int                       `json:"version"`
	Status      ExecutionStatus           `json:"status"`
	Nodes       map[string]NodeStatus     `json:"nodes"`
	Failure     *ExecutionFailure         `json:"failure,omitempty"`
	Outputs     map[string]map[string]any `json:"outputs"`
	StartedAt   *time.Time                `json:"started_at,omitempty"`
	CompletedAt *time.Time                `json:"completed_at,omitempty"`
}

// Report summarises the execution, including the outputs produced before any failure.
func (e *ExecutionState) Report() *ExecutionReport {
	nodes := make(map[string]NodeStatus, len(e.Nodes))
	for id, node := range e.Nodes {
		nodes[id] = node.Status
	}

	return &ExecutionReport{
		ExecutionID: e.ID,
		WorkflowID:  e.WorkflowID,
		Version:     e.WorkflowVersion,
		Status:      e.Status,
		Nodes:       nodes,
		Failure:     e.Failure,
		Outputs:     e.Outputs(),
		StartedAt:   e.StartedAt,
		CompletedAt: e.CompletedAt,
	}
}
