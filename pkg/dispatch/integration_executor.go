package dispatch

import (
	"context"
	"fmt"

	"github.com/dukex/callchain/pkg/models"
	"github.com/dukex/callchain/pkg/template"
	"github.com/dukex/callchain/pkg/transport"
)

// ResponseKeySuffix is appended to the step name to form the context key holding the reply.
const ResponseKeySuffix = ".response"

// IntegrationStepExecutor renders a step message and sends it through the step's transport.
type IntegrationStepExecutor struct {
	pipeline   *template.Pipeline
	transports *transport.Registry
}

func NewIntegrationStepExecutor(pipeline *template.Pipeline, transports *transport.Registry) *IntegrationStepExecutor {
	return &IntegrationStepExecutor{
		pipeline:   pipeline,
		transports: transports,
	}
}

func (e *IntegrationStepExecutor) Execute(
	ctx context.Context,
	instance *models.StepInstance,
	execCtx *models.ExecutionContext,
) error {
	step := instance.Step

	err := e.pipeline.RunScript(ctx, execCtx, step.PreScript, step.PreScriptLanguage)
	if err != nil {
		return fmt.Errorf("failed to run pre-script: %w", err)
	}

	err = e.pipeline.RegenerateKeys(ctx, execCtx, step.KeysToRegenerate)
	if err != nil {
		return err
	}

	t, err := e.transports.Get(step.Transport)
	if err != nil {
		return err
	}

	body, properties, err := e.pipeline.Compose(ctx, step.TemplateID, step.Body, execCtx, step.Properties)
	if err != nil {
		return err
	}

	reply, err := t.Send(ctx, transport.Message{Body: body, Properties: properties})
	if err != nil {
		return err
	}

	execCtx.Set(step.Name+ResponseKeySuffix, reply.Body)

	return nil
}
