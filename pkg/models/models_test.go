package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestRetryPolicy_Delay(t *testing.T) {
	t.Parallel()

	policy := RetryPolicy{
		MaxRetries:   3,
		InitialDelay: Duration(100 * time.Millisecond),
		Base:         2,
		MaxDelay:     Duration(300 * time.Millisecond),
	}

	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{2, 300 * time.Millisecond},
		{10, 300 * time.Millisecond},
		{-1, 100 * time.Millisecond},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, policy.Delay(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestRetryPolicy_DelayWithoutCap(t *testing.T) {
	t.Parallel()

	policy := RetryPolicy{InitialDelay: Duration(time.Second), Base: 3}

	assert.Equal(t, 9*time.Second, policy.Delay(2))
}

func TestDuration_JSONAndYAML(t *testing.T) {
	t.Parallel()

	var fromJSON RetryPolicy
	require.NoError(t, json.Unmarshal([]byte(`{"max_retries":2,"initial_delay":"250ms","base":2,"max_delay":"5s"}`), &fromJSON))
	assert.Equal(t, 250*time.Millisecond, fromJSON.InitialDelay.Std())
	assert.Equal(t, 5*time.Second, fromJSON.MaxDelay.Std())

	data, err := json.Marshal(fromJSON)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"initial_delay":"250ms"`)

	var fromYAML NodeDefinition
	require.NoError(t, yaml.Unmarshal([]byte("id: a\naction_type_id: log\ntimeout: 2s\n"), &fromYAML))
	assert.Equal(t, 2*time.Second, fromYAML.Timeout.Std())

	var bad Duration
	assert.Error(t, bad.UnmarshalText([]byte("soon")))
}

func TestNodeDefinition_Defaults(t *testing.T) {
	t.Parallel()

	node := &NodeDefinition{ID: "a", ActionTypeID: "log"}

	assert.Equal(t, []string{DefaultPort}, node.InputPorts())
	assert.Equal(t, []string{DefaultPort}, node.OutputPorts())
	assert.Equal(t, JoinAll, node.Join())
	assert.Equal(t, FailureHalt, node.OnFailure())
}

func TestConnection_Key(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "a:true->b:main", (&Connection{FromNode: "a", FromPort: "true", ToNode: "b"}).Key())
	assert.Equal(t, "c1", (&Connection{ID: "c1", FromNode: "a", ToNode: "b"}).Key())
}

func TestWorkflowJob_Claimable(t *testing.T) {
	t.Parallel()

	now := time.Now()
	past := now.Add(-time.Second)
	future := now.Add(time.Second)

	assert.True(t, (&WorkflowJob{Status: JobPending, ScheduledAt: now}).Claimable(now))
	assert.False(t, (&WorkflowJob{Status: JobPending, ScheduledAt: future}).Claimable(now))
	assert.True(t, (&WorkflowJob{Status: JobLocked, VisibilityDeadline: &past}).Claimable(now))
	assert.False(t, (&WorkflowJob{Status: JobLocked, VisibilityDeadline: &future}).Claimable(now))
	assert.False(t, (&WorkflowJob{Status: JobCompleted}).Claimable(now))

	assert.True(t, (&WorkflowJob{Status: JobLocked, VisibilityDeadline: &now}).LeaseLive(now))
	assert.False(t, (&WorkflowJob{Status: JobLocked, VisibilityDeadline: &past}).LeaseLive(now))
	assert.False(t, (&WorkflowJob{Status: JobPending}).LeaseLive(now))

	assert.False(t, (&WorkflowJob{RetryCount: 2, MaxRetries: 2}).Exhausted())
	assert.True(t, (&WorkflowJob{RetryCount: 3, MaxRetries: 2}).Exhausted())
}

func TestExecutionState_Report(t *testing.T) {
	t.Parallel()

	def := &WorkflowDefinition{
		ID:      "wf",
		Version: 2,
		Nodes: []*NodeDefinition{
			{ID: "a", ActionTypeID: "log"},
			{ID: "b", ActionTypeID: "log"},
		},
	}

	state := NewExecutionState("exec-1", def, nil, time.Now())
	state.Nodes["a"].Status = NodeSucceeded
	state.Nodes["a"].Output = map[string]any{"main": 1}
	state.Nodes["b"].Status = NodeFailed
	state.Status = ExecutionFailed
	state.Failure = &ExecutionFailure{NodeID: "b", Kind: "failure", Message: "boom"}

	report := state.Report()

	assert.Equal(t, "wf", report.WorkflowID)
	assert.Equal(t, 2, report.Version)
	assert.Equal(t, "b", report.Failure.NodeID)
	assert.Equal(t, map[string]map[string]any{"a": {"main": 1}}, report.Outputs)
	assert.Equal(t, NodeFailed, report.Nodes["b"])
}

func TestExecutionState_CloneIsIndependent(t *testing.T) {
	t.Parallel()

	def := &WorkflowDefinition{ID: "wf", Nodes: []*NodeDefinition{{ID: "a", ActionTypeID: "log"}}}
	state := NewExecutionState("exec-1", def, map[string]any{"k": "v"}, time.Now())

	clone := state.Clone()
	clone.Nodes["a"].Status = NodeRunning
	clone.TriggerData["k"] = "changed"

	assert.Equal(t, NodeNotStarted, state.Nodes["a"].Status)
	assert.Equal(t, "v", state.TriggerData["k"])
	assert.Equal(t, NodeNotStarted, state.Node("missing").Status)
}
