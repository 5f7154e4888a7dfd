package log

import (
	"context"

	"github.com/vanyastaff/nebulav2/pkg/protocol"
)

// ActionFactory creates log actions.
type ActionFactory struct{}

func NewActionFactory() *ActionFactory {
	return &ActionFactory{}
}

func (f *ActionFactory) Create(_ context.Context, params map[string]any) (protocol.Action, error) {
	return NewAction(params)
}

func (f *ActionFactory) ID() string {
	return "log"
}

func (f *ActionFactory) Name() string {
	return "Log"
}

func (f *ActionFactory) Description() string {
	return "Logs a message at the given level (debug, info, warn, error)."
}

func (f *ActionFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"message": map[string]any{
				"description": "Message to log. Supports templating.",
				"examples": []string{
					"Processing user: {{ .input.user_name }}",
					"Execution {{ .execution.id }} reached the notifier",
				},
			},
			"level": map[string]any{
				"type":    "string",
				"enum":    []string{"debug", "info", "warn", "error"},
				"default": "info",
			},
		},
		"required": []string{"message"},
	}
}
