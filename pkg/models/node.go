package models

import (
	"math"
	"time"
)

// JoinPolicy decides how many incoming connections must be satisfied before a node runs.
type JoinPolicy string

const (
	JoinAll JoinPolicy = "all" // every live input must be satisfied
	JoinAny JoinPolicy = "any" // first satisfied input triggers the node
)

// FailurePolicy decides what an unrecovered node failure does to the execution.
type FailurePolicy string

const (
	FailureHalt     FailurePolicy = "halt"
	FailureContinue FailurePolicy = "continue"
)

// NodeDefinition is a single step in a workflow graph.
type NodeDefinition struct {
	ID             string         `json:"id"                        yaml:"id"                        validate:"required"`
	ActionTypeID   string         `json:"action_type_id"            yaml:"action_type_id"            validate:"required"`
	Parameters     map[string]any `json:"parameters,omitempty"      yaml:"parameters,omitempty"`
	Inputs         []string       `json:"inputs,omitempty"          yaml:"inputs,omitempty"          validate:"dive,required"`
	Outputs        []string       `json:"outputs,omitempty"         yaml:"outputs,omitempty"         validate:"dive,required"`
	JoinPolicy     JoinPolicy     `json:"join_policy,omitempty"     yaml:"join_policy,omitempty"     validate:"omitempty,oneof=all any"`
	FailurePolicy  FailurePolicy  `json:"failure_policy,omitempty"  yaml:"failure_policy,omitempty"  validate:"omitempty,oneof=halt continue"`
	Retry          *RetryPolicy   `json:"retry,omitempty"           yaml:"retry,omitempty"`
	Timeout        Duration       `json:"timeout,omitempty"         yaml:"timeout,omitempty"         validate:"min=0"`
	EditorMetadata map[string]any `json:"editor_metadata,omitempty" yaml:"editor_metadata,omitempty"`
}

// InputPorts returns the declared input ports, defaulting to the main port.
func (n *NodeDefinition) InputPorts() []string {
	if len(n.Inputs) == 0 {
		return []string{DefaultPort}
	}

	return n.Inputs
}

// OutputPorts returns the declared output ports, defaulting to the main port.
func (n *NodeDefinition) OutputPorts() []string {
	if len(n.Outputs) == 0 {
		return []string{DefaultPort}
	}

	return n.Outputs
}

func (n *NodeDefinition) Join() JoinPolicy {
	if n.JoinPolicy == "" {
		return JoinAll
	}

	return n.JoinPolicy
}

func (n *NodeDefinition) OnFailure() FailurePolicy {
	if n.FailurePolicy == "" {
		return FailureHalt
	}

	return n.FailurePolicy
}

// Connection carries the value of one output port into an input port of another node.
type Connection struct {
	ID       string `json:"id,omitempty" yaml:"id,omitempty"`
	FromNode string `json:"from_node"    yaml:"from_node"    validate:"required"`
	FromPort string `json:"from_port"    yaml:"from_port"`
	ToNode   string `json:"to_node"      yaml:"to_node"      validate:"required"`
	ToPort   string `json:"to_port"      yaml:"to_port"`
}

// SourcePort returns the output port, defaulting to the main port.
func (c *Connection) SourcePort() string {
	if c.FromPort == "" {
		return DefaultPort
	}

	return c.FromPort
}

// TargetPort returns the input port, defaulting to the main port.
func (c *Connection) TargetPort() string {
	if c.ToPort == "" {
		return DefaultPort
	}

	return c.ToPort
}

// Key identifies the connection within its workflow.
func (c *Connection) Key() string {
	if c.ID != "" {
		return c.ID
	}

	return MakePortID(c.FromNode, c.SourcePort()) + "->" + MakePortID(c.ToNode, c.TargetPort())
}

// RetryPolicy bounds how often and how fast a failing node is retried.
type RetryPolicy struct {
	MaxRetries   int      `json:"max_retries"   yaml:"max_retries"   validate:"min=0"`
	InitialDelay Duration `json:"initial_delay" yaml:"initial_delay" validate:"min=0"`
	Base         float64  `json:"base"          yaml:"base"          validate:"min=0"`
	MaxDelay     Duration `json:"max_delay"     yaml:"max_delay"     validate:"min=0"`
}

// DefaultRetryPolicy retries three times, doubling from one second up to one minute.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:   3,
		InitialDelay: Duration(time.Second),
		Base:         2,
		MaxDelay:     Duration(time.Minute),
	}
}

// Delay returns min(InitialDelay * Base^attempt, MaxDelay). Attempt 0 is the first retry.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	base := p.Base
	if base <= 0 {
		base = 1
	}

	delay := float64(p.InitialDelay) * math.Pow(base, float64(attempt))

	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		return time.Duration(p.MaxDelay)
	}

	if delay > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}

	return time.Duration(delay)
}
