package merge

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
	return "merge"
}

func (f *ActionFactory) Name() string {
	return "Merge"
}

func (f *ActionFactory) Description() string {
	return "Combines the values delivered on all satisfied input ports."
}

func (f *ActionFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"mode": map[string]any{
				"type":        "string",
				"enum":        []string{ModeObject, ModeList},
				"default":     ModeObject,
				"description": "object merges input maps key by key; list collects port values in port order.",
			},
		},
	}
}
