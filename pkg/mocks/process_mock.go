package mocks

import (
	"context"

	"github.com/dukex/callchain/pkg/events"
	"github.com/dukex/callchain/pkg/models"
	"github.com/stretchr/testify/mock"
)

// MockContextService is a mock implementation of process.ContextService interface.
type MockContextService struct {
	mock.Mock
}

func (m *MockContextService) Pause(ctx context.Context, execCtx *models.ExecutionContext) error {
	args := m.Called(ctx, execCtx)

	return args.Error(0)
}

func (m *MockContextService) UpdateContext(ctx context.Context, execCtx *models.ExecutionContext) error {
	args := m.Called(ctx, execCtx)

	return args.Error(0)
}

func (m *MockContextService) Finish(ctx context.Context, execCtx *models.ExecutionContext) error {
	args := m.Called(ctx, execCtx)

	return args.Error(0)
}

func (m *MockContextService) Fail(ctx context.Context, execCtx *models.ExecutionContext) error {
	args := m.Called(ctx, execCtx)

	return args.Error(0)
}

func (m *MockContextService) FailByTimeout(ctx context.Context, execCtx *models.ExecutionContext) error {
	args := m.Called(ctx, execCtx)

	return args.Error(0)
}

// MockSituationExecutor is a mock implementation of process.SituationExecutor interface.
type MockSituationExecutor struct {
	mock.Mock
}

func (m *MockSituationExecutor) ExecuteInstance(
	ctx context.Context,
	deferred models.DeferredSituation,
	execCtx *models.ExecutionContext,
	resumeEvent events.Event,
) error {
	args := m.Called(ctx, deferred, execCtx, resumeEvent)

	return args.Error(0)
}

// MockEventPoster is a mock implementation of process.EventPoster interface.
type MockEventPoster struct {
	mock.Mock
}

func (m *MockEventPoster) Post(ctx context.Context, event events.Event) {
	m.Called(ctx, event)
}
