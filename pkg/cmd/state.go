package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/vanyastaff/nebulav2/pkg/blob"
	"github.com/vanyastaff/nebulav2/pkg/persistence"
	"github.com/vanyastaff/nebulav2/pkg/state"
)

// NewStateManager builds the state manager, offloading outputs larger than
// blobLimit bytes to the store at blobURL. An empty blobURL keeps every output
// inline. The returned store is nil in that case.
func NewStateManager(
	ctx context.Context,
	logger *slog.Logger,
	p persistence.Persistence,
	blobURL string,
	blobLimit int,
) (*state.Manager, blob.Store, error) {
	if blobURL == "" {
		return state.NewManager(p, logger), nil, nil
	}

	store, err := blob.Open(ctx, logger, blobURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open blob store: %w", err)
	}

	return state.NewManager(p, logger, state.WithBlobStore(store, blobLimit)), store, nil
}
