// Package protocol defines the contracts between the runtime and pluggable actions.
package protocol

import (
	"context"
	"log/slog"
)

// ActionContext is what an action sees of the execution while it runs.
type ActionContext struct {
	ExecutionID string
	WorkflowID  string
	NodeID      string
	// Attempt is 1 for the first try and increments with every retry.
	Attempt int
	// Input merges the values of every satisfied input connection.
	Input map[string]any
	// Inputs holds the value delivered to each input port.
	Inputs map[string]any
	Logger *slog.Logger
}

// Action executes one node. It returns the value produced on each output
// port; ports absent from the map are not produced and their downstream
// branches are skipped.
type Action interface {
	Execute(ctx context.Context, actionCtx ActionContext) (map[string]any, error)
}

// ActionFactory creates actions from resolved node parameters and provides
// metadata about the action type.
type ActionFactory interface {
	// Create builds an action from parameters that already passed Schema validation.
	Create(ctx context.Context, params map[string]any) (Action, error)

	// ID returns the action type referenced by NodeDefinition.ActionTypeID.
	ID() string

	Name() string

	Description() string

	// Schema returns the JSON schema the resolved parameters must satisfy.
	Schema() map[string]any
}

// ActionFunc adapts a plain function to the Action interface.
type ActionFunc func(ctx context.Context, actionCtx ActionContext) (map[string]any, error)

func (f ActionFunc) Execute(ctx context.Context, actionCtx ActionContext) (map[string]any, error) {
	return f(ctx, actionCtx)
}

// Log returns the node-scoped logger, falling back to the default logger.
func (c ActionContext) Log() *slog.Logger {
	if c.Logger == nil {
		return slog.Default()
	}

	return c.Logger
}
