package template

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vanyastaff/nebulav2/pkg/protocol"
)

func TestRender_SimpleExpression(t *testing.T) {
	data := map[string]any{
		"name":  "John",
		"age":   30,
		"isNew": true,
	}

	result, err := Render("{{ .name }}", data)
	require.NoError(t, err)
	assert.Equal(t, "John", result)

	result, err = Render("{{ .isNew }}", data)
	require.NoError(t, err)
	assert.Equal(t, true, result)

	// numbers always come back as float64
	result, err = Render("{{ .age }}", data)
	require.NoError(t, err)
	assert.Equal(t, 30.0, result)
}

func TestRender_ObjectConstruction(t *testing.T) {
	data := map[string]any{
		"user": map[string]any{
			"name": "Alice",
		},
		"orders": []any{
			map[string]any{"id": 1, "total": 100.50},
			map[string]any{"id": 2, "total": 75.25},
		},
	}

	result, err := Render(`{
		"user_name": "{{ .user.name }}",
		"total_orders": {{ len .orders }}
	}`, data)
	require.NoError(t, err)

	resultMap, ok := result.(map[string]any)

	require.True(t, ok)
	assert.Equal(t, "Alice", resultMap["user_name"])
	assert.Equal(t, 2.0, resultMap["total_orders"])
}

func TestRender_ErrorHandling(t *testing.T) {
	data := map[string]any{"test": "value"}

	_, err := Render("{ invalid..expression }}", data)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse json")

	_, err = Render("{{ nonexistent.field }}", data)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "function \"nonexistent\" not defined")
}

func TestRender_MissingKeyIsNil(t *testing.T) {
	result, err := Render("{{ .missing }}", map[string]any{})
	require.NoError(t, err)
	assert.Nil(t, result)
}

func TestRender_Functions(t *testing.T) {
	data := map[string]any{
		"nodes": map[string]any{
			"fetch": map[string]any{"main": map[string]any{"status": 200}},
		},
		"input": map[string]any{"tags": []any{"a", "b"}},
	}

	result, err := Render(`{{ (index (node "fetch") "main").status }}`, data)
	require.NoError(t, err)
	assert.Equal(t, 200.0, result)

	result, err = Render(`{{ json .input.tags }}`, data)
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b"}, result)

	result, err = Render(`{{ default "anonymous" .input.user }}`, data)
	require.NoError(t, err)
	assert.Equal(t, "anonymous", result)

	result, err = Render(`{{ upper (index .input.tags 0) }}{{ lower "B" }}`, data)
	require.NoError(t, err)
	assert.Equal(t, "Ab", result)
}

func TestEvaluator_Resolve(t *testing.T) {
	scope := protocol.Scope{
		"input":   map[string]any{"user": map[string]any{"id": 7, "name": "Ada"}},
		"trigger": map[string]any{"source": "webhook"},
	}

	params := map[string]any{
		"url":     "https://api.example.com/users/{{ .input.user.id }}",
		"static":  "no templating here: 42",
		"retries": 3,
		"headers": map[string]any{"X-Source": "{{ .trigger.source }}"},
		"tags":    []any{"{{ .input.user.name }}", "fixed"},
	}

	resolved, err := NewEvaluator().Resolve(context.Background(), params, scope)
	require.NoError(t, err)

	out, ok := resolved.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "https://api.example.com/users/7", out["url"])
	assert.Equal(t, "no templating here: 42", out["static"])
	assert.Equal(t, 3, out["retries"])
	assert.Equal(t, map[string]any{"X-Source": "webhook"}, out["headers"])
	assert.Equal(t, []any{"Ada", "fixed"}, out["tags"])

	assert.Equal(t, "{{ .input.user.id }}", params["url"], "input is not mutated")
}

func TestEvaluator_ResolveErrorIsExpressionKind(t *testing.T) {
	_, err := NewEvaluator().Resolve(context.Background(), map[string]any{
		"bad": "{{ .input.user",
	}, protocol.Scope{})
	require.Error(t, err)

	classified := protocol.Classify(err)
	assert.Equal(t, protocol.KindExpression, classified.Kind)
	assert.False(t, classified.Retryable)
	assert.Contains(t, err.Error(), "parameters.bad")
}

func TestEnvAndSystem(t *testing.T) {
	t.Setenv("NEBULA_TEMPLATE_TEST", "test_value")

	assert.Equal(t, "test_value", Env()["NEBULA_TEMPLATE_TEST"])

	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	system := System(now)
	assert.Equal(t, "2025-01-02T03:04:05Z", system["now"])
	assert.Equal(t, now.Unix(), system["timestamp"])
}
