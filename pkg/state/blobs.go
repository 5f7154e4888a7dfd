package state

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"

	"github.com/vanyastaff/nebulav2/pkg/models"
)

// BlobRefKey marks an output value that was moved to the blob store.
const BlobRefKey = "$blob"

func blobKey(executionID, nodeID string, sequence int64, port string) string {
	return fmt.Sprintf("%s/%s/%d/%s", executionID, nodeID, sequence, port)
}

func blobRef(value any) (string, bool) {
	ref, ok := value.(map[string]any)
	if !ok || len(ref) != 1 {
		return "", false
	}

	key, ok := ref[BlobRefKey].(string)

	return key, ok
}

// offload returns output with every port value above the inline limit
// replaced by a blob reference.
func (m *Manager) offload(ctx context.Context, executionID string, sequence int64, node *models.NodeState) (map[string]any, error) {
	if m.blobs == nil || len(node.Output) == 0 {
		return node.Output, nil
	}

	var out map[string]any

	for port, value := range node.Output {
		data, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("output port %s of node %s is not serialisable: %w", port, node.NodeID, err)
		}

		if len(data) <= m.inlineLimit {
			continue
		}

		key := blobKey(executionID, node.NodeID, sequence, port)
		if err := m.blobs.Put(ctx, key, data); err != nil {
			return nil, err
		}

		if out == nil {
			out = maps.Clone(node.Output)
		}

		out[port] = map[string]any{BlobRefKey: key}

		m.logger.DebugContext(ctx, "Offloaded node output",
			"execution_id", executionID, "node_id", node.NodeID, "port", port, "bytes", len(data))
	}

	if out == nil {
		return node.Output, nil
	}

	return out, nil
}

func (m *Manager) hydrate(ctx context.Context, state *models.ExecutionState) error {
	for _, node := range state.Nodes {
		for port, value := range node.Output {
			key, ok := blobRef(value)
			if !ok {
				continue
			}

			if m.blobs == nil {
				return fmt.Errorf("node %s port %s references blob %s but no blob store is configured", node.NodeID, port, key)
			}

			data, err := m.blobs.Get(ctx, key)
			if err != nil {
				return fmt.Errorf("failed to load blob %s: %w", key, err)
			}

			var decoded any
			if err := json.Unmarshal(data, &decoded); err != nil {
				return fmt.Errorf("failed to decode blob %s: %w", key, err)
			}

			node.Output[port] = decoded
		}
	}

	return nil
}
