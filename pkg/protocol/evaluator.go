package protocol

import "context"

// Scope keys available to parameter templates.
const (
	ScopeInput     = "input"
	ScopeInputs    = "inputs"
	ScopeNodes     = "nodes"
	ScopeTrigger   = "trigger"
	ScopeEnv       = "env"
	ScopeExecution = "execution"
	ScopeWorkflow  = "workflow"
	ScopeSystem    = "system"
)

// Scope is the data a parameter template is evaluated against.
type Scope map[string]any

// Evaluator resolves expressions embedded in node parameters. Resolve walks
// maps and slices and returns a value of the same shape with every
// expression replaced by its result.
type Evaluator interface {
	Resolve(ctx context.Context, template any, scope Scope) (any, error)
}
