package transform_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vanyastaff/nebulav2/pkg/actions/transform"
	"github.com/vanyastaff/nebulav2/pkg/protocol"
	"github.com/vanyastaff/nebulav2/pkg/template"
)

func TestTransformAction_WithResolvedTemplate(t *testing.T) {
	t.Parallel()

	params := map[string]any{
		"value": map[string]any{
			"full_name": "{{ .input.first }} {{ .input.last }}",
			"count":     "{{ len .input.items }}",
		},
	}

	resolved, err := template.NewEvaluator().Resolve(context.Background(), params, protocol.Scope{
		"input": map[string]any{"first": "Ada", "last": "Lovelace", "items": []any{1, 2, 3}},
	})
	require.NoError(t, err)

	action, err := transform.NewActionFactory().Create(context.Background(), resolved.(map[string]any))
	require.NoError(t, err)

	out, err := action.Execute(context.Background(), protocol.ActionContext{})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"full_name": "Ada Lovelace", "count": 3.0}, out["main"])
}

func TestTransformAction_CustomPort(t *testing.T) {
	t.Parallel()

	action, err := transform.NewAction(map[string]any{"value": "x", "port": "result"})
	require.NoError(t, err)

	out, err := action.Execute(context.Background(), protocol.ActionContext{})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"result": "x"}, out)
}

func TestTransformAction_MissingValue(t *testing.T) {
	t.Parallel()

	_, err := transform.NewAction(map[string]any{})
	require.ErrorIs(t, err, transform.ErrValueMissing)
	assert.False(t, protocol.IsRetryable(err))
}
