package cmd_test

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vanyastaff/nebulav2/pkg/cmd"
	"github.com/vanyastaff/nebulav2/pkg/persistence/file"
	"github.com/vanyastaff/nebulav2/pkg/persistence/memory"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewPersistence(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name     string
		url      string
		expected any
	}{
		{"memory", "memory://", &memory.Persistence{}},
		{"file scheme", "file://" + filepath.Join(dir, "a"), &file.Persistence{}},
		{"bare path", filepath.Join(dir, "b"), &file.Persistence{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := cmd.NewPersistence(t.Context(), discard(), tt.url)
			require.NoError(t, err)
			assert.IsType(t, tt.expected, p)
			require.NoError(t, p.HealthCheck(t.Context()))
		})
	}
}

func TestNewPersistence_Unsupported(t *testing.T) {
	_, err := cmd.NewPersistence(t.Context(), discard(), "mongodb://localhost")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mongodb")

	_, err = cmd.NewPersistence(t.Context(), discard(), "file://")
	require.Error(t, err)
}

func TestNewEventBus(t *testing.T) {
	bus, err := cmd.NewEventBus("gochannel", nil, "test", discard())
	require.NoError(t, err)
	require.NoError(t, bus.Close())

	_, err = cmd.NewEventBus("rabbitmq", nil, "test", discard())
	require.Error(t, err)
}

func TestNewRegistry(t *testing.T) {
	reg, err := cmd.NewRegistry(discard())
	require.NoError(t, err)

	for _, id := range []string{"log", "transform", "http_request", "condition", "switch", "merge"} {
		assert.True(t, reg.Has(id), id)
	}
}

func TestNewStateManager(t *testing.T) {
	p := memory.NewPersistence()

	manager, store, err := cmd.NewStateManager(t.Context(), discard(), p, "", 0)
	require.NoError(t, err)
	assert.NotNil(t, manager)
	assert.Nil(t, store)

	manager, store, err = cmd.NewStateManager(t.Context(), discard(), p, "memory://", 1024)
	require.NoError(t, err)
	assert.NotNil(t, manager)
	require.NotNil(t, store)
	require.NoError(t, store.Close())

	_, _, err = cmd.NewStateManager(t.Context(), discard(), p, "s3://bucket", 1024)
	require.Error(t, err)
}
