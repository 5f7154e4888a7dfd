// Package transform provides the data transformation action. Its value
// parameter is rendered by the parameter evaluator before the action runs, so
// the action only shapes the result onto an output port.
package transform

import (
	"context"
	"errors"

	"github.com/vanyastaff/nebulav2/pkg/models"
	"github.com/vanyastaff/nebulav2/pkg/protocol"
)

var ErrValueMissing = errors.New("missing required field 'value'")

type Action struct {
	Value any
	Port  string
}

func NewAction(params map[string]any) (*Action, error) {
	value, ok := params["value"]
	if !ok {
		return nil, protocol.Permanent(ErrValueMissing)
	}

	port, _ := params["port"].(string)
	if port == "" {
		port = models.DefaultPort
	}

	return &Action{Value: value, Port: port}, nil
}

func (a *Action) Execute(_ context.Context, _ protocol.ActionContext) (map[string]any, error) {
	return map[string]any{a.Port: a.Value}, nil
}
