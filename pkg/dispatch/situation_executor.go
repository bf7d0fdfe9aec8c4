package dispatch

import (
	"context"
	"fmt"

	"github.com/dukex/callchain/pkg/models"
	"github.com/dukex/callchain/pkg/template"
)

// SituationService runs a situation against a context on behalf of a step instance.
type SituationService interface {
	Execute(
		ctx context.Context,
		situationID string,
		execCtx *models.ExecutionContext,
		source *models.StepInstance,
	) error
}

// SituationStepExecutor prepares the context for a situation step and hands the
// situation to the SituationService.
type SituationStepExecutor struct {
	pipeline   *template.Pipeline
	situations SituationService
}

func NewSituationStepExecutor(pipeline *template.Pipeline, situations SituationService) *SituationStepExecutor {
	return &SituationStepExecutor{
		pipeline:   pipeline,
		situations: situations,
	}
}

func (e *SituationStepExecutor) Execute(
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

	return e.situations.Execute(ctx, step.SituationID, execCtx, instance)
}
