package mocks

import (
	"context"

	"github.com/dukex/callchain/pkg/models"
	"github.com/stretchr/testify/mock"
)

// MockStepExecutor is a mock implementation of dispatch.Executor interface.
type MockStepExecutor struct {
	mock.Mock
}

func (m *MockStepExecutor) Execute(
	ctx context.Context,
	instance *models.StepInstance,
	execCtx *models.ExecutionContext,
) error {
	args := m.Called(ctx, instance, execCtx)

	return args.Error(0)
}

// MockSituationService is a mock implementation of dispatch.SituationService interface.
type MockSituationService struct {
	mock.Mock
}

func (m *MockSituationService) Execute(
	ctx context.Context,
	situationID string,
	execCtx *models.ExecutionContext,
	source *models.StepInstance,
) error {
	args := m.Called(ctx, situationID, execCtx, source)

	return args.Error(0)
}
