package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/vanyastaff/nebulav2/pkg/persistence"
	"github.com/vanyastaff/nebulav2/pkg/persistence/file"
	"github.com/vanyastaff/nebulav2/pkg/persistence/memory"
	"github.com/vanyastaff/nebulav2/pkg/persistence/postgresql"
)

// NewPersistence opens the store named by databaseURL. Supported schemes are
// memory://, file://<dir> and postgres(ql)://; a URL without a scheme is a
// directory for the file store.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	provider, rest := parsePersistenceProvider(databaseURL)

	switch provider {
	case "memory":
		return memory.NewPersistence(), nil
	case "postgres", "postgresql":
		p, err := postgresql.NewPersistence(ctx, logger, databaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres persistence: %w", err)
		}

		return p, nil
	case "file":
		if rest == "" {
			return nil, fmt.Errorf("file persistence needs a directory: %q", databaseURL)
		}

		if err := os.MkdirAll(rest, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}

		return file.NewPersistence(rest), nil
	default:
		return nil, fmt.Errorf("unsupported persistence provider %q", provider)
	}
}

func parsePersistenceProvider(databaseURL string) (string, string) {
	provider, rest, found := strings.Cut(databaseURL, "://")
	if !found {
		return "file", databaseURL
	}

	return provider, rest
}
