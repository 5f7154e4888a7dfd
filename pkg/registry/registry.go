// Package registry holds the action factories available to a runtime. A
// Registry is built explicitly and injected; there is no global instance.
package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/vanyastaff/nebulav2/pkg/protocol"
)

var ErrDuplicateAction = errors.New("action type already registered")

type Registry struct {
	logger    *slog.Logger
	mu        sync.RWMutex
	factories map[string]protocol.ActionFactory
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		logger:    logger.With("module", "registry"),
		factories: make(map[string]protocol.ActionFactory),
	}
}

// RegisterAction adds a factory under its ID. Registering the same ID twice
// is a programming error and is rejected.
func (r *Registry) RegisterAction(factory protocol.ActionFactory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[factory.ID()]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateAction, factory.ID())
	}

	r.factories[factory.ID()] = factory
	r.logger.Debug("Registered action", "action_type", factory.ID())

	return nil
}

// Get returns the factory for actionType. A missing type is reported as a
// non-retryable unknown_action error.
func (r *Registry) Get(actionType string) (protocol.ActionFactory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	factory, ok := r.factories[actionType]
	if !ok {
		return nil, protocol.NewError(protocol.KindUnknownAction, false,
			fmt.Errorf("action type '%s' not registered", actionType))
	}

	return factory, nil
}

func (r *Registry) Has(actionType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.factories[actionType]

	return ok
}

// List returns the registered factories ordered by ID.
func (r *Registry) List() []protocol.ActionFactory {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := slices.Sorted(maps.Keys(r.factories))

	factories := make([]protocol.ActionFactory, 0, len(ids))
	for _, id := range ids {
		factories = append(factories, r.factories[id])
	}

	return factories
}
