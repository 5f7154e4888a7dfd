package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vanyastaff/nebulav2/pkg/config"
	"github.com/vanyastaff/nebulav2/pkg/graph"
)

const orderWorkflow = `
id: orders
name: Order fulfilment
nodes:
  - id: fetch
    action_type_id: http_request
    parameters:
      url: "https://example.com/orders/{{ .trigger.order_id }}"
    retry:
      max_retries: 3
      initial_delay: 500ms
      base: 2
      max_delay: 10s
    timeout: 30s
  - id: check
    action_type_id: condition
    parameters:
      expression: "input.total > 100"
    outputs: ["true", "false"]
  - id: notify
    action_type_id: log
    parameters:
      message: "big order"
connections:
  - from_node: fetch
    to_node: check
  - from_node: check
    from_port: "true"
    to_node: notify
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestLoadWorkflow_YAML(t *testing.T) {
	t.Parallel()

	def, err := config.LoadWorkflow(writeFile(t, "orders.yaml", orderWorkflow))
	require.NoError(t, err)

	assert.Equal(t, "orders", def.ID)
	require.Len(t, def.Nodes, 3)
	require.NotNil(t, def.Nodes[0].Retry)
	assert.Equal(t, 3, def.Nodes[0].Retry.MaxRetries)
	assert.Equal(t, 500*time.Millisecond, def.Nodes[0].Retry.InitialDelay.Std())
	assert.Equal(t, 30*time.Second, def.Nodes[0].Timeout.Std())
	assert.Equal(t, []string{"true", "false"}, def.Nodes[1].Outputs)

	require.NoError(t, graph.Validate(def))
}

func TestLoadWorkflow_JSON(t *testing.T) {
	t.Parallel()

	def, err := config.LoadWorkflow(writeFile(t, "wf.json", `{"id": "single", "name": "Single", "nodes": [{"id": "a", "action_type_id": "log", "parameters": {"message": "hi"}}], "connections": []}`))
	require.NoError(t, err)
	assert.Equal(t, "single", def.ID)
	assert.Equal(t, map[string]any{"message": "hi"}, def.Nodes[0].Parameters)
}

func TestLoadWorkflow_Errors(t *testing.T) {
	t.Parallel()

	_, err := config.LoadWorkflow(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	_, err = config.LoadWorkflow(writeFile(t, "empty.yaml", ""))
	require.ErrorIs(t, err, config.ErrEmptyDefinition)

	_, err = config.LoadWorkflow(writeFile(t, "typo.yaml", "id: x\nnodez: []\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nodez")
}

func TestLoadTrigger(t *testing.T) {
	t.Parallel()

	trigger, err := config.LoadTrigger("")
	require.NoError(t, err)
	assert.Empty(t, trigger)

	trigger, err = config.LoadTrigger(writeFile(t, "trigger.json", `{"order_id": "o-1", "total": 120}`))
	require.NoError(t, err)
	assert.Equal(t, "o-1", trigger["order_id"])
	assert.Equal(t, 120, trigger["total"])
}
