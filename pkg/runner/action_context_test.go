package runner_test

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/vanyastaff/nebulav2/pkg/mocks"
	"github.com/vanyastaff/nebulav2/pkg/models"
	"github.com/vanyastaff/nebulav2/pkg/persistence/memory"
	"github.com/vanyastaff/nebulav2/pkg/protocol"
	"github.com/vanyastaff/nebulav2/pkg/registry"
	"github.com/vanyastaff/nebulav2/pkg/runner"
	"github.com/vanyastaff/nebulav2/pkg/state"
	"github.com/vanyastaff/nebulav2/pkg/template"
	"github.com/vanyastaff/nebulav2/pkg/testutil"
)

func TestRun_ActionContext(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memory.NewPersistence()
	states := state.NewManager(store, logger)

	action := &mocks.MockAction{}
	action.On("Execute", mock.Anything, mock.MatchedBy(func(actx protocol.ActionContext) bool {
		return actx.NodeID == "only" && actx.WorkflowID == "single" && actx.Attempt == 1 &&
			actx.Input["order"] == "o-1" && actx.Logger != nil
	})).Return(map[string]any{"main": "done"}, nil).Once()

	factory := &mocks.MockActionFactory{}
	factory.On("ID").Return("mocked")
	factory.On("Schema").Return(nil)
	factory.On("Create", mock.Anything, map[string]any{"greeting": "hi o-1"}).Return(action, nil).Once()

	reg := registry.NewRegistry(logger)
	require.NoError(t, reg.RegisterAction(factory))

	r, err := runner.New(states, reg, template.NewEvaluator(), logger, testConfig())
	require.NoError(t, err)

	def := testutil.Workflow("single",
		[]*models.NodeDefinition{
			testutil.Node("only", "mocked", testutil.WithParameters(map[string]any{
				"greeting": "hi {{ .trigger.order }}",
			})),
		}, nil)
	require.NoError(t, store.WorkflowRepository().Save(context.Background(), def))

	exec, err := states.Create(context.Background(), def, map[string]any{"order": "o-1"})
	require.NoError(t, err)

	outcome, err := r.Run(context.Background(), exec.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionSucceeded, outcome.Status)

	final, err := states.Load(context.Background(), exec.ID)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"main": "done"}, final.Nodes["only"].Output)

	factory.AssertExpectations(t)
	action.AssertExpectations(t)
}
