// Package log provides the logging action.
package log

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/vanyastaff/nebulav2/pkg/models"
	"github.com/vanyastaff/nebulav2/pkg/protocol"
)

var levels = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

// Action logs a message through the node logger and passes its input on.
type Action struct {
	Message string
	Level   string
}

func NewAction(params map[string]any) (*Action, error) {
	message, ok := params["message"]
	if !ok {
		return nil, protocol.Permanent(fmt.Errorf("missing required field 'message'"))
	}

	level, _ := params["level"].(string)
	if level == "" {
		level = "info"
	}

	if _, known := levels[level]; !known {
		return nil, protocol.Permanent(fmt.Errorf("invalid log level '%s' (must be debug, info, warn, or error)", level))
	}

	return &Action{Message: fmt.Sprint(message), Level: level}, nil
}

func (a *Action) Execute(ctx context.Context, actionCtx protocol.ActionContext) (map[string]any, error) {
	actionCtx.Log().Log(ctx, levels[a.Level], a.Message, "module", "log_action")

	return map[string]any{
		models.DefaultPort: map[string]any{
			"message": a.Message,
			"level":   a.Level,
			"input":   actionCtx.Input,
		},
	}, nil
}
