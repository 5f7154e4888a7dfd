package runner

import (
	"maps"
	"time"

	"github.com/vanyastaff/nebulav2/pkg/models"
	"github.com/vanyastaff/nebulav2/pkg/protocol"
	"github.com/vanyastaff/nebulav2/pkg/template"
)

// collect gathers the values delivered to nodeID by the connections that
// activated it. input merges object values; a non-object value is keyed by
// its source node. inputs holds each port's value, or a list when several
// connections feed one port. Root nodes receive the trigger data.
func (s *session) collect(nodeID string, triggeredBy []string) (map[string]any, map[string]any) {
	incoming := s.graph.Incoming(nodeID)
	if len(incoming) == 0 {
		input := maps.Clone(s.exec.TriggerData)
		if input == nil {
			input = map[string]any{}
		}

		return input, map[string]any{models.DefaultPort: input}
	}

	active := make(map[string]bool, len(triggeredBy))
	for _, key := range triggeredBy {
		active[key] = true
	}

	input := map[string]any{}
	inputs := map[string]any{}
	fanIn := map[string]int{}

	for _, conn := range incoming {
		if !active[conn.Key()] {
			continue
		}

		value := s.exec.Node(conn.FromNode).Output[conn.SourcePort()]

		if object, ok := value.(map[string]any); ok {
			maps.Copy(input, object)
		} else {
			input[conn.FromNode] = value
		}

		port := conn.TargetPort()
		fanIn[port]++

		switch fanIn[port] {
		case 1:
			inputs[port] = value
		case 2:
			inputs[port] = []any{inputs[port], value}
		default:
			inputs[port] = append(inputs[port].([]any), value)
		}
	}

	return input, inputs
}

func (s *session) scope(node *models.NodeDefinition, attempt int, input, inputs map[string]any) protocol.Scope {
	nodes := map[string]any{}
	for id, output := range s.exec.Outputs() {
		nodes[id] = maps.Clone(output)
	}

	execution := map[string]any{
		"id":               s.exec.ID,
		"workflow_version": s.exec.WorkflowVersion,
		"node_id":          node.ID,
		"attempt":          attempt,
	}
	if s.exec.StartedAt != nil {
		execution["started_at"] = s.exec.StartedAt.Format(time.RFC3339)
	}

	return protocol.Scope{
		protocol.ScopeInput:     input,
		protocol.ScopeInputs:    inputs,
		protocol.ScopeNodes:     nodes,
		protocol.ScopeTrigger:   maps.Clone(s.exec.TriggerData),
		protocol.ScopeEnv:       template.Env(),
		protocol.ScopeExecution: execution,
		protocol.ScopeWorkflow: map[string]any{
			"id":      s.workflow.ID,
			"name":    s.workflow.Name,
			"version": s.workflow.Version,
		},
		protocol.ScopeSystem: template.System(s.states.Now()),
	}
}
