package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockScheduler mocks the job queue as seen by the execution service.
type MockScheduler struct {
	mock.Mock
}

func (m *MockScheduler) EnsureAdvance(ctx context.Context, executionID string, priority int) (bool, error) {
	args := m.Called(ctx, executionID, priority)

	return args.Bool(0), args.Error(1)
}
