package template

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/vanyastaff/nebulav2/pkg/protocol"
)

// Evaluator implements protocol.Evaluator with text/template.
type Evaluator struct{}

// NewEvaluator returns the default parameter evaluator.
func NewEvaluator() *Evaluator {
	return &Evaluator{}
}

// Resolve renders every string containing a template action inside value.
// Failures are non-retryable expression errors.
func (e *Evaluator) Resolve(ctx context.Context, value any, scope protocol.Scope) (any, error) {
	resolved, err := e.resolve(ctx, value, map[string]any(scope), "")
	if err != nil {
		return nil, protocol.NewError(protocol.KindExpression, false, err)
	}

	return resolved, nil
}

func (e *Evaluator) resolve(ctx context.Context, value any, data map[string]any, path string) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	switch v := value.(type) {
	case string:
		if !NeedsTemplating(v) {
			return v, nil
		}

		out, err := Render(v, data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", displayPath(path), err)
		}

		return out, nil
	case map[string]any:
		out := make(map[string]any, len(v))

		for key, item := range v {
			resolved, err := e.resolve(ctx, item, data, path+"."+key)
			if err != nil {
				return nil, err
			}

			out[key] = resolved
		}

		return out, nil
	case []any:
		out := make([]any, len(v))

		for i, item := range v {
			resolved, err := e.resolve(ctx, item, data, fmt.Sprintf("%s[%d]", path, i))
			if err != nil {
				return nil, err
			}

			out[i] = resolved
		}

		return out, nil
	default:
		return v, nil
	}
}

func displayPath(path string) string {
	if path == "" {
		return "parameters"
	}

	return "parameters" + path
}

// Env returns the process environment as a scope value.
func Env() map[string]any {
	envMap := make(map[string]any)

	for _, env := range os.Environ() {
		parts := strings.SplitN(env, "=", 2)
		if len(parts) == 2 {
			envMap[parts[0]] = parts[1]
		}
	}

	return envMap
}

// System returns runtime values exposed under the system scope key.
func System(now time.Time) map[string]any {
	hostname, _ := os.Hostname()

	return map[string]any{
		"now":       now.UTC().Format(time.RFC3339),
		"timestamp": now.Unix(),
		"hostname":  hostname,
	}
}
