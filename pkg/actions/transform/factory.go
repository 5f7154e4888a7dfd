package transform

import (
	"context"

	"github.com/vanyastaff/nebulav2/pkg/protocol"
)

// ActionFactory creates transform actions.
type ActionFactory struct{}

func NewActionFactory() *ActionFactory {
	return &ActionFactory{}
}

func (f *ActionFactory) Create(_ context.Context, params map[string]any) (protocol.Action, error) {
	return NewAction(params)
}

func (f *ActionFactory) ID() string {
	return "transform"
}

func (f *ActionFactory) Name() string {
	return "Transform"
}

func (f *ActionFactory) Description() string {
	return "Produces a templated value, reshaping upstream data for downstream nodes."
}

func (f *ActionFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"value": map[string]any{
				"description": "Value to produce. Strings, objects and arrays may contain templates.",
				"examples": []any{
					`{"id": {{ .input.id }}, "name": "{{ .input.first }} {{ .input.last }}"}`,
					map[string]any{"total": "{{ len .input.items }}"},
				},
			},
			"port": map[string]any{
				"type":    "string",
				"default": "main",
			},
		},
		"required": []string{"value"},
	}
}
