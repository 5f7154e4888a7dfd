package registry_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vanyastaff/nebulav2/pkg/protocol"
	"github.com/vanyastaff/nebulav2/pkg/registry"
)

type stubFactory struct {
	id string
}

func (f *stubFactory) Create(_ context.Context, _ map[string]any) (protocol.Action, error) {
	return protocol.ActionFunc(func(context.Context, protocol.ActionContext) (map[string]any, error) {
		return map[string]any{"main": f.id}, nil
	}), nil
}

func (f *stubFactory) ID() string { return f.id }
func (f *stubFactory) Name() string { return f.id }
func (f *stubFactory) Description() string { return "" }
func (f *stubFactory) Schema() map[string]any { return map[string]any{"type": "object"} }

func newRegistry() *registry.Registry {
	return registry.NewRegistry(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	t.Parallel()

	reg := newRegistry()
	require.NoError(t, reg.RegisterAction(&stubFactory{id: "echo"}))

	factory, err := reg.Get("echo")
	require.NoError(t, err)

	action, err := factory.Create(context.Background(), nil)
	require.NoError(t, err)

	out, err := action.Execute(context.Background(), protocol.ActionContext{})
	require.NoError(t, err)
	assert.Equal(t, "echo", out["main"])
	assert.True(t, reg.Has("echo"))
}

func TestRegistry_Duplicate(t *testing.T) {
	t.Parallel()

	reg := newRegistry()
	require.NoError(t, reg.RegisterAction(&stubFactory{id: "echo"}))

	err := reg.RegisterAction(&stubFactory{id: "echo"})
	require.ErrorIs(t, err, registry.ErrDuplicateAction)
}

func TestRegistry_UnknownAction(t *testing.T) {
	t.Parallel()

	_, err := newRegistry().Get("missing")
	require.Error(t, err)

	var actionErr *protocol.ActionError
	require.True(t, errors.As(err, &actionErr))
	assert.Equal(t, protocol.KindUnknownAction, actionErr.Kind)
	assert.False(t, actionErr.Retryable)
}

func TestRegistry_DefaultActions(t *testing.T) {
	t.Parallel()

	reg := newRegistry()
	require.NoError(t, reg.RegisterDefaultActions(nil))

	ids := make([]string, 0)
	for _, factory := range reg.List() {
		ids = append(ids, factory.ID())
	}

	assert.Equal(t, []string{"condition", "http_request", "log", "merge", "switch", "transform"}, ids)

	require.Error(t, reg.RegisterDefaultActions(nil))
}
