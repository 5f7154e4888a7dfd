package switchaction

import (
	"context"

	"github.com/vanyastaff/nebulav2/pkg/protocol"
)

type ActionFactory struct{}

func NewActionFactory() *ActionFactory {
	return &ActionFactory{}
}

func (f *ActionFactory) Create(_ context.Context, params map[string]any) (protocol.Action, error) {
	return NewAction(params)
}

func (f *ActionFactory) ID() string {
	return "switch"
}

func (f *ActionFactory) Name() string {
	return "Switch"
}

func (f *ActionFactory) Description() string {
	return "Routes execution to the output port of the first case matching a value, or to 'default'."
}

func (f *ActionFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"value": map[string]any{
				"description": "Value to match. Supports templating.",
				"examples": []string{
					"{{ .trigger.event_type }}",
					`{{ (node "check_status").main.status }}`,
				},
			},
			"cases": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"value":       map[string]any{},
						"output_port": map[string]any{"type": "string", "minLength": 1},
					},
					"required": []string{"value", "output_port"},
				},
			},
		},
		"required": []string{"value"},
		"examples": []map[string]any{
			{
				"value": "{{ .trigger.environment }}",
				"cases": []map[string]any{
					{"value": "production", "output_port": "prod"},
					{"value": "staging", "output_port": "staging"},
				},
			},
		},
	}
}
