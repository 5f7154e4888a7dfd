// Package blob stores node outputs too large to keep inline in execution
// state.
package blob

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

var ErrBlobNotFound = errors.New("blob not found")

type Store interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	Close() error
}

// Open returns the store named by url: "memory://" or a redis:// URL.
func Open(ctx context.Context, logger *slog.Logger, url string) (Store, error) {
	switch {
	case url == "" || strings.HasPrefix(url, "memory://"):
		return NewMemoryStore(), nil
	case strings.HasPrefix(url, "redis://"), strings.HasPrefix(url, "rediss://"):
		return NewRedisStore(ctx, logger, url)
	default:
		return nil, fmt.Errorf("unsupported blob store url: %s", url)
	}
}
