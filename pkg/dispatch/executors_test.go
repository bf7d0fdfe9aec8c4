package dispatch_test

import (
	"context"
	"errors"
	"testing"

	"github.com/dukex/callchain/pkg/dispatch"
	"github.com/dukex/callchain/pkg/mocks"
	"github.com/dukex/callchain/pkg/models"
	"github.com/dukex/callchain/pkg/template"
	"github.com/dukex/callchain/pkg/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type echoTransport struct {
	name string
	sent []transport.Message
	err  error
}

func (e *echoTransport) Name() string { return e.name }

func (e *echoTransport) Send(_ context.Context, msg transport.Message) (*transport.Reply, error) {
	if e.err != nil {
		return nil, e.err
	}

	e.sent = append(e.sent, msg)

	return &transport.Reply{Body: "ack:" + msg.Body, StatusCode: 200}, nil
}

func (e *echoTransport) Close() error { return nil }

func TestSituationStepExecutor_Execute(t *testing.T) {
	pipeline := template.NewPipeline(template.NewTextEngine(), nil, newTestLogger())
	service := &mocks.MockSituationService{}
	executor := dispatch.NewSituationStepExecutor(pipeline, service)

	execCtx := newExecCtx()
	execCtx.Set("orderId", "o-1")

	instance := models.NewStepInstance("i-1", &models.Step{
		ID:               "s-1",
		Name:             "place order",
		Kind:             models.StepKindSituation,
		SituationID:      "place-order",
		PreScript:        `{{ set "channel" "web" }}`,
		KeysToRegenerate: map[string]string{"reference": "{{ .vars.orderId }}-{{ .vars.channel }}"},
	}, execCtx.ID)

	service.On("Execute", mock.Anything, "place-order", execCtx, instance).Return(nil)

	require.NoError(t, executor.Execute(context.Background(), instance, execCtx))

	reference, _ := execCtx.Get("reference")
	assert.Equal(t, "o-1-web", reference)
	service.AssertExpectations(t)
}

func TestSituationStepExecutor_Execute_PreScriptError(t *testing.T) {
	pipeline := template.NewPipeline(template.NewTextEngine(), nil, newTestLogger())
	service := &mocks.MockSituationService{}
	executor := dispatch.NewSituationStepExecutor(pipeline, service)

	instance := models.NewStepInstance("i-1", &models.Step{
		Name:              "broken",
		Kind:              models.StepKindSituation,
		SituationID:       "x",
		PreScript:         "throw new Error('bad')",
		PreScriptLanguage: models.ScriptLanguageJavaScript,
	}, "ctx-1")

	err := executor.Execute(context.Background(), instance, newExecCtx())

	require.Error(t, err)
	service.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestIntegrationStepExecutor_Execute(t *testing.T) {
	loader := &mocks.MockTemplateLoader{}
	pipeline := template.NewPipeline(template.NewTextEngine(), loader, newTestLogger())
	registry := transport.NewRegistry()
	echo := &echoTransport{name: "billing"}
	require.NoError(t, registry.Register(echo))

	loader.On("Template", mock.Anything, "invoice").Return(&models.Template{
		ID:   "invoice",
		Name: "invoice",
		Text: `{{ define "amount" }}{{ .vars.amount }} EUR{{ end }}`,
	}, nil)

	executor := dispatch.NewIntegrationStepExecutor(pipeline, registry)
	execCtx := newExecCtx()
	execCtx.Set("amount", 10)

	instance := models.NewStepInstance("i-1", &models.Step{
		Name:       "charge",
		Kind:       "integration.http",
		Transport:  "billing",
		TemplateID: "invoice",
		Body:       `charge {{ template "amount" . }}`,
		Properties: map[string]any{"path": "/charges"},
	}, execCtx.ID)

	require.NoError(t, executor.Execute(context.Background(), instance, execCtx))

	require.Len(t, echo.sent, 1)
	assert.Equal(t, "charge 10 EUR", echo.sent[0].Body)
	assert.Equal(t, "/charges", echo.sent[0].Properties["path"])

	response, ok := execCtx.Get("charge" + dispatch.ResponseKeySuffix)
	require.True(t, ok)
	assert.Equal(t, "ack:charge 10 EUR", response)
}

func TestIntegrationStepExecutor_Execute_TemplateReference(t *testing.T) {
	loader := &mocks.MockTemplateLoader{}
	pipeline := template.NewPipeline(template.NewTextEngine(), loader, newTestLogger())
	registry := transport.NewRegistry()
	echo := &echoTransport{name: "sms"}
	require.NoError(t, registry.Register(echo))

	loader.On("Template", mock.Anything, "welcome").Return(&models.Template{
		ID:   "welcome",
		Name: "welcome",
		Text: "Welcome {{ .tc.name }}",
	}, nil)

	step := &models.Step{
		Name:       "notify",
		Kind:       models.StepKindIntegration,
		Transport:  "sms",
		Properties: map[string]any{template.TemplateRefProperty: "welcome"},
	}

	executor := dispatch.NewIntegrationStepExecutor(pipeline, registry)

	require.NoError(t, executor.Execute(context.Background(), models.NewStepInstance("i-1", step, "ctx-1"), newExecCtx()))

	require.Len(t, echo.sent, 1)
	assert.Equal(t, "Welcome chain", echo.sent[0].Body)
	assert.Equal(t, "welcome", step.Properties[template.TemplateRefProperty], "step configuration must not be mutated")
}

func TestIntegrationStepExecutor_Execute_UnknownTransport(t *testing.T) {
	pipeline := template.NewPipeline(template.NewTextEngine(), nil, newTestLogger())
	executor := dispatch.NewIntegrationStepExecutor(pipeline, transport.NewRegistry())

	instance := models.NewStepInstance("i-1", &models.Step{
		Name:      "charge",
		Kind:      models.StepKindIntegration,
		Transport: "missing",
	}, "ctx-1")

	err := executor.Execute(context.Background(), instance, newExecCtx())

	require.ErrorIs(t, err, transport.ErrTransportNotFound)
}

func TestIntegrationStepExecutor_Execute_SendError(t *testing.T) {
	pipeline := template.NewPipeline(template.NewTextEngine(), nil, newTestLogger())
	registry := transport.NewRegistry()
	sendErr := errors.New("connection reset")
	require.NoError(t, registry.Register(&echoTransport{name: "billing", err: sendErr}))

	executor := dispatch.NewIntegrationStepExecutor(pipeline, registry)
	instance := models.NewStepInstance("i-1", &models.Step{
		Name:      "charge",
		Kind:      models.StepKindIntegration,
		Transport: "billing",
		Body:      "x",
	}, "ctx-1")

	err := executor.Execute(context.Background(), instance, newExecCtx())

	require.ErrorIs(t, err, sendErr)
}
