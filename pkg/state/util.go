package state

import (
	"maps"
	"slices"

	"github.com/vanyastaff/nebulav2/pkg/models"
)

func sortedNodeIDs(state *models.ExecutionState) []string {
	return slices.Sorted(maps.Keys(state.Nodes))
}
