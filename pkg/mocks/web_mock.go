package mocks

import (
	"context"

	"github.com/dukex/callchain/pkg/models"
	"github.com/stretchr/testify/mock"
)

// MockStarter is a mock implementation of web.Starter interface.
type MockStarter struct {
	mock.Mock
}

func (m *MockStarter) StartChain(
	ctx context.Context,
	chainID string,
	values map[string]any,
	parentSubscriberID string,
) (*models.ExecutionContext, error) {
	args := m.Called(ctx, chainID, values, parentSubscriberID)

	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.ExecutionContext), args.Error(1)
}

func (m *MockStarter) StartSituation(
	ctx context.Context,
	situationID string,
	values map[string]any,
	parentSubscriberID string,
) (*models.ExecutionContext, error) {
	args := m.Called(ctx, situationID, values, parentSubscriberID)

	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.ExecutionContext), args.Error(1)
}

// MockLifecycle is a mock implementation of web.Lifecycle interface.
type MockLifecycle struct {
	mock.Mock
}

func (m *MockLifecycle) AwaitingReply(contextID string) bool {
	args := m.Called(contextID)

	return args.Bool(0)
}

func (m *MockLifecycle) UpdateContext(ctx context.Context, execCtx *models.ExecutionContext) error {
	args := m.Called(ctx, execCtx)

	return args.Error(0)
}

func (m *MockLifecycle) Resume(ctx context.Context, execCtx *models.ExecutionContext) error {
	args := m.Called(ctx, execCtx)

	return args.Error(0)
}

func (m *MockLifecycle) Fail(ctx context.Context, execCtx *models.ExecutionContext) error {
	args := m.Called(ctx, execCtx)

	return args.Error(0)
}

func (m *MockLifecycle) Terminate(ctx context.Context, execCtx *models.ExecutionContext, reason string) error {
	args := m.Called(ctx, execCtx, reason)

	return args.Error(0)
}
