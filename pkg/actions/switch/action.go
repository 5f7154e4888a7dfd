// Package switchaction provides multi-way branching on a resolved value.
package switchaction

import (
	"context"
	"errors"
	"fmt"

	"github.com/vanyastaff/nebulav2/pkg/protocol"
)

const OutputPortDefault = "default"

var ErrSwitchValueMissing = errors.New("missing required field 'value'")

// Case routes to OutputPort when the switch value matches Value.
type Case struct {
	Value      string `json:"value"`
	OutputPort string `json:"output_port"`
}

// Action produces exactly one port: the first matching case, or default.
type Action struct {
	Value string
	Cases []Case
}

func NewAction(params map[string]any) (*Action, error) {
	value, ok := params["value"]
	if !ok {
		return nil, protocol.Permanent(ErrSwitchValueMissing)
	}

	var cases []Case

	if raw, present := params["cases"]; present {
		list, ok := raw.([]any)
		if !ok {
			return nil, protocol.Permanent(errors.New("'cases' must be an array"))
		}

		cases = make([]Case, 0, len(list))

		for i, item := range list {
			caseMap, ok := item.(map[string]any)
			if !ok {
				return nil, protocol.Permanent(fmt.Errorf("case %d must be an object", i))
			}

			caseValue, ok := caseMap["value"]
			if !ok {
				return nil, protocol.Permanent(fmt.Errorf("case %d missing 'value'", i))
			}

			port, _ := caseMap["output_port"].(string)
			if port == "" {
				return nil, protocol.Permanent(fmt.Errorf("case %d missing 'output_port'", i))
			}

			cases = append(cases, Case{Value: stringify(caseValue), OutputPort: port})
		}
	}

	return &Action{Value: stringify(value), Cases: cases}, nil
}

func (a *Action) Execute(_ context.Context, actionCtx protocol.ActionContext) (map[string]any, error) {
	port := OutputPortDefault

	for _, c := range a.Cases {
		if c.Value == a.Value {
			port = c.OutputPort

			break
		}
	}

	return map[string]any{
		port: map[string]any{
			"matched_value": a.Value,
			"output_port":   port,
			"no_match":      port == OutputPortDefault,
			"input":         actionCtx.Input,
		},
	}, nil
}

// stringify compares numbers the way they were written: 2.0 and "2" match.
func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return fmt.Sprintf("%g", t)
	default:
		return fmt.Sprint(t)
	}
}
