// Package merge provides the merge action, which combines the values arriving
// on several input ports into one output. Waiting for the inputs is the
// node's join policy, not the action's concern.
package merge

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/vanyastaff/nebulav2/pkg/models"
	"github.com/vanyastaff/nebulav2/pkg/protocol"
)

const (
	ModeObject = "object"
	ModeList   = "list"
)

type Action struct {
	Mode string
}

func NewAction(params map[string]any) (*Action, error) {
	mode, _ := params["mode"].(string)
	if mode == "" {
		mode = ModeObject
	}

	if mode != ModeObject && mode != ModeList {
		return nil, protocol.Permanent(fmt.Errorf("unknown merge mode '%s'", mode))
	}

	return &Action{Mode: mode}, nil
}

func (a *Action) Execute(_ context.Context, actionCtx protocol.ActionContext) (map[string]any, error) {
	received := slices.Sorted(maps.Keys(actionCtx.Inputs))

	var merged any

	switch a.Mode {
	case ModeList:
		list := make([]any, 0, len(received))
		for _, port := range received {
			list = append(list, actionCtx.Inputs[port])
		}

		merged = list
	default:
		merged = actionCtx.Input
	}

	return map[string]any{
		models.DefaultPort: map[string]any{
			"merged":          merged,
			"inputs":          actionCtx.Inputs,
			"inputs_received": received,
		},
	}, nil
}
