package mocks

import (
	"context"

	"github.com/dukex/callchain/pkg/models"
	"github.com/stretchr/testify/mock"
)

// MockEngine is a mock implementation of template.Engine interface.
type MockEngine struct {
	mock.Mock
}

func (m *MockEngine) Process(tmpl *models.Template, text string, execCtx *models.ExecutionContext) (string, error) {
	args := m.Called(tmpl, text, execCtx)

	return args.String(0), args.Error(1)
}

// MockTemplateLoader is a mock implementation of template.Loader interface.
type MockTemplateLoader struct {
	mock.Mock
}

func (m *MockTemplateLoader) Template(ctx context.Context, id string) (*models.Template, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Template), args.Error(1)
}
