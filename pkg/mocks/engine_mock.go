package mocks

import (
	"context"

	"github.com/dukex/autoflow/pkg/engine"
	"github.com/dukex/autoflow/pkg/models"
	"github.com/stretchr/testify/mock"
)

// MockEngine is a mock implementation of the dispatch side of engine.Engine.
type MockEngine struct {
	mock.Mock
}

func (m *MockEngine) Start(ctx context.Context, workflow *models.Workflow, tc models.TriggerContext) (*engine.Run, error) {
	args := m.Called(ctx, workflow, tc)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*engine.Run), args.Error(1)
}

func (m *MockEngine) RunTask(ctx context.Context, task *models.ScheduledTask) engine.TaskResult {
	args := m.Called(ctx, task)

	return args.Get(0).(engine.TaskResult)
}
