package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vanyastaff/nebulav2/pkg/models"
)

const pipeline = `
id: pipeline
name: Pipeline
nodes:
  - id: greet
    action_type_id: transform
    parameters:
      value:
        greeting: "hello {{ .trigger.name }}"
  - id: shout
    action_type_id: transform
    parameters:
      value:
        upper: "{{ upper .input.greeting }}"
connections:
  - from_node: greet
    to_node: shout
`

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer

	command := newCommand()
	command.Writer = &out

	err := command.Run(t.Context(), append([]string{"nebula"}, args...))

	return out.String(), err
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestValidate(t *testing.T) {
	dir := t.TempDir()

	out, err := execute(t, "validate", writeFile(t, dir, "wf.yaml", pipeline))
	require.NoError(t, err)
	assert.Contains(t, out, "pipeline: 2 nodes, 1 connections, valid")
	assert.Contains(t, out, "entry: greet\n")
	assert.Contains(t, out, "  greet -> shout\n")

	cyclic := pipeline + "  - from_node: shout\n    to_node: greet\n"

	_, err = execute(t, "validate", writeFile(t, dir, "cyclic.yaml", cyclic))
	require.Error(t, err)
}

func TestRun(t *testing.T) {
	dir := t.TempDir()
	workflow := writeFile(t, dir, "wf.yaml", pipeline)
	trigger := writeFile(t, dir, "trigger.json", `{"name": "nebula"}`)

	out, err := execute(t, "--database-url", "file://"+filepath.Join(dir, "data"),
		"run", "--trigger", trigger, workflow)
	require.NoError(t, err)

	var report models.ExecutionReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, models.ExecutionSucceeded, report.Status)
	assert.Equal(t, map[string]any{"upper": "HELLO NEBULA"}, report.Outputs["shout"]["main"])

	out, err = execute(t, "--database-url", "file://"+filepath.Join(dir, "data"), "status", report.ExecutionID)
	require.NoError(t, err)
	assert.Contains(t, out, `"status": "succeeded"`)

	_, err = execute(t, "--database-url", "file://"+filepath.Join(dir, "data"), "cancel", report.ExecutionID)
	require.Error(t, err)
}

func TestDeployAssignsVersions(t *testing.T) {
	dir := t.TempDir()
	workflow := writeFile(t, dir, "wf.yaml", pipeline)
	database := "file://" + filepath.Join(dir, "data")

	out, err := execute(t, "--database-url", database, "deploy", workflow)
	require.NoError(t, err)
	assert.Equal(t, "deployed pipeline version 1\n", out)

	out, err = execute(t, "--database-url", database, "deploy", workflow)
	require.NoError(t, err)
	assert.Equal(t, "deployed pipeline version 2\n", out)
}
