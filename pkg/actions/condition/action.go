// Package condition provides the conditional branching action. It evaluates a
// JavaScript expression and produces its input on either the true or false port.
package condition

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/robertkrimen/otto"
	"github.com/vanyastaff/nebulav2/pkg/protocol"
)

const (
	OutputPortTrue  = "true"
	OutputPortFalse = "false"
)

var (
	// ErrConditionMissing is returned when neither expression nor value is set.
	ErrConditionMissing = errors.New("missing required field 'expression' or 'value'")

	errHalted = errors.New("expression evaluation halted")
)

// Action routes execution by the truthiness of its condition.
type Action struct {
	expression string
	value      any
	hasValue   bool
}

// NewAction creates a condition action. An expression is evaluated as
// JavaScript with input and inputs in scope; a value (typically the output of
// a parameter template) is used directly.
func NewAction(params map[string]any) (*Action, error) {
	expression, _ := params["expression"].(string)
	value, hasValue := params["value"]

	if expression == "" && !hasValue {
		return nil, ErrConditionMissing
	}

	return &Action{expression: expression, value: value, hasValue: hasValue}, nil
}

func (a *Action) Execute(ctx context.Context, actionCtx protocol.ActionContext) (map[string]any, error) {
	result := a.value

	if a.expression != "" {
		var err error

		result, err = evaluate(ctx, a.expression, actionCtx)
		if err != nil {
			return nil, err
		}
	}

	port := OutputPortFalse
	if Truthy(result) {
		port = OutputPortTrue
	}

	actionCtx.Log().DebugContext(ctx, "Condition evaluated", "result", result, "port", port)

	return map[string]any{
		port: map[string]any{
			"condition_result": port == OutputPortTrue,
			"evaluated_value":  result,
			"input":            actionCtx.Input,
		},
	}, nil
}

// evaluate runs expression in a fresh VM; the VM is interrupted when ctx ends.
func evaluate(ctx context.Context, expression string, actionCtx protocol.ActionContext) (result any, err error) {
	vm := otto.New()
	vm.Interrupt = make(chan func(), 1)

	for key, value := range map[string]any{
		"input":  actionCtx.Input,
		"inputs": actionCtx.Inputs,
	} {
		if setErr := vm.Set(key, value); setErr != nil {
			return nil, protocol.Permanent(fmt.Errorf("failed to bind %s: %w", key, setErr))
		}
	}

	done := make(chan struct{})
	defer close(done)

	go func() {
		select {
		case <-ctx.Done():
			vm.Interrupt <- func() { panic(errHalted) }
		case <-done:
		}
	}()

	defer func() {
		if recovered := recover(); recovered != nil {
			if recovered != errHalted { //nolint:errorlint // sentinel identity
				panic(recovered)
			}

			result, err = nil, ctx.Err()
		}
	}()

	value, runErr := vm.Run(expression)
	if runErr != nil {
		return nil, protocol.NewError(protocol.KindExpression, false,
			fmt.Errorf("failed to evaluate expression '%s': %w", expression, runErr))
	}

	exported, exportErr := value.Export()
	if exportErr != nil {
		return nil, protocol.Permanent(fmt.Errorf("failed to convert result to Go value: %w", exportErr))
	}

	return exported, nil
}

// Truthy converts a condition result to a boolean.
func Truthy(value any) bool {
	switch v := value.(type) {
	case bool:
		return v
	case string:
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}

		return v != ""
	case int:
		return v != 0
	case int32:
		return v != 0
	case int64:
		return v != 0
	case float32:
		return v != 0
	case float64:
		return v != 0
	case []any:
		return len(v) > 0
	case map[string]any:
		return len(v) > 0
	default:
		return false
	}
}
