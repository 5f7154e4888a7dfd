package graph_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vanyastaff/nebulav2/pkg/graph"
	"github.com/vanyastaff/nebulav2/pkg/models"
	"github.com/vanyastaff/nebulav2/pkg/testutil"
)

func TestNew_ValidDiamond(t *testing.T) {
	t.Parallel()

	g, err := graph.New(testutil.Diamond())
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b", "c", "d"}, g.Order())
	assert.Equal(t, []string{"a"}, g.Roots())
	assert.Len(t, g.Incoming("d"), 2)
	assert.Len(t, g.Outgoing("a"), 2)
	assert.Equal(t, []string{"b", "c", "d"}, g.Downstream("a"))
	assert.Equal(t, "d", g.Node("d").ID)
}

func TestNew_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		def      *models.WorkflowDefinition
		contains string
	}{
		{
			name: "duplicate node ids",
			def: testutil.Workflow("wf",
				[]*models.NodeDefinition{testutil.Node("a", "log"), testutil.Node("a", "log")},
				nil,
			),
			contains: `duplicate node id "a"`,
		},
		{
			name: "unknown target node",
			def: testutil.Workflow("wf",
				[]*models.NodeDefinition{testutil.Node("a", "log")},
				[]*models.Connection{testutil.Connect("a", "", "ghost", "")},
			),
			contains: `unknown node "ghost"`,
		},
		{
			name: "undeclared output port",
			def: testutil.Workflow("wf",
				[]*models.NodeDefinition{testutil.Node("a", "log"), testutil.Node("b", "log")},
				[]*models.Connection{testutil.Connect("a", "true", "b", "")},
			),
			contains: `undeclared output port "true"`,
		},
		{
			name: "undeclared input port",
			def: testutil.Workflow("wf",
				[]*models.NodeDefinition{testutil.Node("a", "log"), testutil.Node("b", "log")},
				[]*models.Connection{testutil.Connect("a", "", "b", "left")},
			),
			contains: `undeclared input port "left"`,
		},
		{
			name: "cycle",
			def: testutil.Workflow("wf",
				[]*models.NodeDefinition{testutil.Node("a", "log"), testutil.Node("b", "log"), testutil.Node("c", "log")},
				[]*models.Connection{
					testutil.Connect("a", "", "b", ""),
					testutil.Connect("b", "", "c", ""),
					testutil.Connect("c", "", "b", ""),
				},
			),
			contains: "cycle detected through nodes b, c",
		},
		{
			name: "self loop",
			def: testutil.Workflow("wf",
				[]*models.NodeDefinition{testutil.Node("a", "log")},
				[]*models.Connection{testutil.Connect("a", "", "a", "")},
			),
			contains: `connects node "a" to itself`,
		},
		{
			name:     "no nodes",
			def:      &models.WorkflowDefinition{ID: "wf", Name: "empty"},
			contains: "Nodes",
		},
		{
			name: "bad join policy",
			def: testutil.Workflow("wf",
				[]*models.NodeDefinition{{ID: "a", ActionTypeID: "log", JoinPolicy: "most"}},
				nil,
			),
			contains: "JoinPolicy",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := graph.New(tt.def)
			require.Error(t, err)
			assert.True(t, graph.IsValidationError(err))
			assert.Contains(t, err.Error(), tt.contains)
		})
	}
}

func TestValidate_Nil(t *testing.T) {
	t.Parallel()

	err := graph.Validate(nil)
	assert.True(t, graph.IsValidationError(err))
}
