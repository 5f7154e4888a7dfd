package condition

import (
	"context"

	"github.com/vanyastaff/nebulav2/pkg/protocol"
)

// ActionFactory creates condition actions.
type ActionFactory struct{}

func NewActionFactory() *ActionFactory {
	return &ActionFactory{}
}

func (f *ActionFactory) Create(_ context.Context, params map[string]any) (protocol.Action, error) {
	return NewAction(params)
}

func (f *ActionFactory) ID() string {
	return "condition"
}

func (f *ActionFactory) Name() string {
	return "Condition"
}

func (f *ActionFactory) Description() string {
	return "Evaluates a condition and routes execution to the true or false port."
}

func (f *ActionFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"expression": map[string]any{
				"type":        "string",
				"description": "JavaScript expression with input and inputs in scope.",
				"examples": []string{
					`input.status == "active"`,
					`input.main.status_code === 200 && input.main.body.items.length > 0`,
				},
			},
			"value": map[string]any{
				"description": "Pre-computed condition value, usually a template such as {{ gt .input.count 10 }}.",
			},
		},
		"anyOf": []any{
			map[string]any{"required": []string{"expression"}},
			map[string]any{"required": []string{"value"}},
		},
	}
}
