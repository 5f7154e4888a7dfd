package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"
	"github.com/vanyastaff/nebulav2/pkg/protocol"
)

// MockActionFactory is a mock implementation of protocol.ActionFactory.
type MockActionFactory struct {
	mock.Mock
}

func (m *MockActionFactory) Create(ctx context.Context, params map[string]any) (protocol.Action, error) {
	args := m.Called(ctx, params)

	action, _ := args.Get(0).(protocol.Action)

	return action, args.Error(1)
}

func (m *MockActionFactory) ID() string {
	return m.Called().String(0)
}

func (m *MockActionFactory) Name() string {
	return m.Called().String(0)
}

func (m *MockActionFactory) Description() string {
	return m.Called().String(0)
}

func (m *MockActionFactory) Schema() map[string]any {
	schema, _ := m.Called().Get(0).(map[string]any)

	return schema
}

// MockAction is a mock implementation of protocol.Action.
type MockAction struct {
	mock.Mock
}

func (m *MockAction) Execute(ctx context.Context, actx protocol.ActionContext) (map[string]any, error) {
	args := m.Called(ctx, actx)

	out, _ := args.Get(0).(map[string]any)

	return out, args.Error(1)
}
