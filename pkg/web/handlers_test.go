package web_test

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vanyastaff/nebulav2/pkg/models"
	"github.com/vanyastaff/nebulav2/pkg/persistence/memory"
	"github.com/vanyastaff/nebulav2/pkg/queue"
	"github.com/vanyastaff/nebulav2/pkg/registry"
	"github.com/vanyastaff/nebulav2/pkg/services"
	"github.com/vanyastaff/nebulav2/pkg/state"
	"github.com/vanyastaff/nebulav2/pkg/testutil"
	"github.com/vanyastaff/nebulav2/pkg/web"
)

func setupTestApp(t *testing.T) (*fiber.App, *memory.Persistence) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memory.NewPersistence()

	actions := registry.NewRegistry(logger)
	require.NoError(t, actions.RegisterDefaultActions(http.DefaultClient))

	jobs, err := queue.New(store.JobRepository(), logger, queue.DefaultConfig())
	require.NoError(t, err)

	handlers := web.NewAPIHandlers(
		services.NewWorkflow(store, actions, logger),
		services.NewExecution(state.NewManager(store, logger), store.WorkflowRepository(), jobs, nil, logger),
		validator.New(validator.WithRequiredStructEnabled()),
		actions,
	)

	app := fiber.New()
	handlers.Register(app)

	return app, store
}

func do(t *testing.T, app *fiber.App, method, path string, body any) (int, []byte) {
	t.Helper()

	var reader io.Reader

	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)

		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := app.Test(req)
	require.NoError(t, err)

	defer func() {
		if err := resp.Body.Close(); err != nil {
			t.Logf("Failed to close response body: %v", err)
		}
	}()

	payload, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp.StatusCode, payload
}

func deploy(t *testing.T, app *fiber.App) *models.WorkflowDefinition {
	t.Helper()

	status, body := do(t, app, http.MethodPost, "/workflows", testutil.Diamond("log"))
	require.Equal(t, http.StatusCreated, status, string(body))

	var def models.WorkflowDefinition
	require.NoError(t, json.Unmarshal(body, &def))

	return &def
}

func TestAPIHandlers_DeployWorkflow(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		body           any
		expectedStatus int
		expectedType   string
	}{
		{
			name:           "valid definition",
			body:           testutil.Diamond("log"),
			expectedStatus: http.StatusCreated,
		},
		{
			name: "cycle",
			body: testutil.Workflow("cyclic",
				[]*models.NodeDefinition{testutil.Node("a", "log"), testutil.Node("b", "log")},
				[]*models.Connection{testutil.Connect("a", "", "b", ""), testutil.Connect("b", "", "a", "")},
			),
			expectedStatus: http.StatusBadRequest,
			expectedType:   "validation_error",
		},
		{
			name:           "unregistered action",
			body:           testutil.Diamond("teleport"),
			expectedStatus: http.StatusUnprocessableEntity,
			expectedType:   "unknown_action_type",
		},
		{
			name:           "malformed json",
			body:           "not a workflow",
			expectedStatus: http.StatusBadRequest,
			expectedType:   "validation_error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			app, _ := setupTestApp(t)

			status, body := do(t, app, http.MethodPost, "/workflows", tt.body)
			assert.Equal(t, tt.expectedStatus, status, string(body))

			if tt.expectedType != "" {
				var problem map[string]any
				require.NoError(t, json.Unmarshal(body, &problem))
				assert.Equal(t, tt.expectedType, problem["type"])
				assert.Equal(t, "/workflows", problem["instance"])
			}
		})
	}
}

func TestAPIHandlers_GetWorkflow(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)
	deploy(t, app)
	deploy(t, app)

	status, body := do(t, app, http.MethodGet, "/workflows/diamond", nil)
	require.Equal(t, http.StatusOK, status)

	var latest models.WorkflowDefinition
	require.NoError(t, json.Unmarshal(body, &latest))
	assert.Equal(t, 2, latest.Version)
	assert.Len(t, latest.Nodes, 4)

	status, body = do(t, app, http.MethodGet, "/workflows/diamond?version=1", nil)
	require.Equal(t, http.StatusOK, status)

	var first models.WorkflowDefinition
	require.NoError(t, json.Unmarshal(body, &first))
	assert.Equal(t, 1, first.Version)

	status, _ = do(t, app, http.MethodGet, "/workflows/diamond?version=zero", nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = do(t, app, http.MethodGet, "/workflows/missing", nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, body = do(t, app, http.MethodGet, "/workflows", nil)
	require.Equal(t, http.StatusOK, status)

	var list struct {
		Workflows  []web.WorkflowSummary `json:"workflows"`
		TotalCount int                   `json:"total_count"`
	}
	require.NoError(t, json.Unmarshal(body, &list))
	assert.Equal(t, 1, list.TotalCount)
	assert.Equal(t, 2, list.Workflows[0].Version)
}

func TestAPIHandlers_ExecutionLifecycle(t *testing.T) {
	t.Parallel()

	app, store := setupTestApp(t)
	deploy(t, app)

	status, body := do(t, app, http.MethodPost, "/workflows/diamond/executions", web.CreateExecutionRequest{
		Trigger: map[string]any{"order_id": "o-1"},
		Start:   true,
	})
	require.Equal(t, http.StatusCreated, status, string(body))

	var created web.ExecutionResponse
	require.NoError(t, json.Unmarshal(body, &created))
	assert.Equal(t, "diamond", created.WorkflowID)
	assert.Equal(t, 1, created.WorkflowVersion)
	assert.Equal(t, models.ExecutionPending, created.Status)
	assert.True(t, created.Started)

	active, err := store.JobRepository().CountActive(t.Context(), created.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, 1, active)

	status, _ = do(t, app, http.MethodPost, "/executions/"+created.ExecutionID+"/start", nil)
	assert.Equal(t, http.StatusAccepted, status)

	active, err = store.JobRepository().CountActive(t.Context(), created.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, 1, active, "starting a queued execution does not add a job")

	status, body = do(t, app, http.MethodGet, "/executions/"+created.ExecutionID, nil)
	require.Equal(t, http.StatusOK, status)

	var report models.ExecutionReport
	require.NoError(t, json.Unmarshal(body, &report))
	assert.Equal(t, models.ExecutionPending, report.Status)
	assert.Len(t, report.Nodes, 4)

	status, _ = do(t, app, http.MethodPost, "/executions/"+created.ExecutionID+"/cancel", nil)
	assert.Equal(t, http.StatusAccepted, status)

	status, body = do(t, app, http.MethodPost, "/executions/"+created.ExecutionID+"/start", nil)
	assert.Equal(t, http.StatusConflict, status, string(body))
}

func TestAPIHandlers_ExecutionErrors(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)
	deploy(t, app)

	status, body := do(t, app, http.MethodPost, "/workflows/missing/executions", nil)
	assert.Equal(t, http.StatusNotFound, status)

	var problem map[string]any
	require.NoError(t, json.Unmarshal(body, &problem))
	assert.Equal(t, "workflow_not_found", problem["type"])

	status, _ = do(t, app, http.MethodPost, "/workflows/diamond/executions", web.CreateExecutionRequest{Priority: 500})
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = do(t, app, http.MethodGet, "/executions/nope", nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = do(t, app, http.MethodPost, "/executions/nope/cancel", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestAPIHandlers_GetActions(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)

	status, body := do(t, app, http.MethodGet, "/actions", nil)
	require.Equal(t, http.StatusOK, status)

	var actions []map[string]any
	require.NoError(t, json.Unmarshal(body, &actions))

	ids := make([]string, 0, len(actions))
	for _, action := range actions {
		ids = append(ids, action["id"].(string))
	}

	assert.Contains(t, ids, "log")
	assert.Contains(t, ids, "condition")
}

func TestAPIHandlers_HealthCheck(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)

	status, body := do(t, app, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), `"status":"healthy"`)
}
