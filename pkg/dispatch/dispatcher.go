// Package dispatch routes step instances to the executor of their step kind.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/callchain/pkg/models"
	"github.com/dukex/callchain/pkg/otelhelper"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Executor runs the side effects of one step instance against its execution context.
// An executor that starts an asynchronous exchange marks the instance waiting.
type Executor interface {
	Execute(ctx context.Context, instance *models.StepInstance, execCtx *models.ExecutionContext) error
}

// Dispatcher holds one executor per dispatchable step kind. Embedded steps are expanded
// by the chain runner and never reach the dispatcher.
type Dispatcher struct {
	situation   Executor
	integration Executor
	logger      *slog.Logger
	tracer      trace.Tracer
	now         func() time.Time
}

func NewDispatcher(situation, integration Executor, logger *slog.Logger, tracer trace.Tracer) *Dispatcher {
	return &Dispatcher{
		situation:   situation,
		integration: integration,
		logger:      logger.With("module", "dispatcher"),
		tracer:      tracer,
		now:         time.Now,
	}
}

// Dispatch executes the instance synchronously. On return the instance is passed, failed,
// or handed to an asynchronous reply, which may already have completed it.
func (d *Dispatcher) Dispatch(
	ctx context.Context,
	instance *models.StepInstance,
	execCtx *models.ExecutionContext,
) error {
	ctx, span := otelhelper.StartSpan(ctx, d.tracer, "dispatch.step",
		attribute.String(otelhelper.ContextIDKey, execCtx.ID),
		attribute.String(otelhelper.StepInstanceIDKey, instance.ID),
		attribute.String(otelhelper.StepNameKey, instance.Step.Name),
		attribute.String(otelhelper.StepKindKey, string(instance.Step.Kind)),
	)
	defer span.End()

	logger := d.logger.With(
		"context_id", execCtx.ID,
		"step_instance_id", instance.ID,
		"step_kind", instance.Step.Kind,
	)

	executor, err := d.Resolve(instance)
	if err != nil {
		instance.Fail(d.now(), err)
		otelhelper.SetError(span, err)
		logger.ErrorContext(ctx, "Unable to resolve step executor", "error", err)

		return err
	}

	instance.Start(d.now())

	logger.DebugContext(ctx, "Dispatching step", "step_name", instance.Step.Name)

	err = executor.Execute(ctx, instance, execCtx)
	if err != nil {
		instance.Fail(d.now(), err)
		otelhelper.SetError(span, err)
		logger.ErrorContext(ctx, "Step execution failed", "error", err)

		return fmt.Errorf("failed to execute step %s: %w", instance.Step.Name, err)
	}

	if !instance.Settle(d.now()) {
		logger.InfoContext(ctx, "Step is waiting for an asynchronous reply")
	}

	return nil
}

// Resolve returns the executor serving the instance's step kind. Sub-kinds such as
// "integration.http" are served by their base kind.
func (d *Dispatcher) Resolve(instance *models.StepInstance) (Executor, error) {
	var executor Executor

	switch instance.Step.Kind.Base() {
	case models.StepKindSituation:
		executor = d.situation
	case models.StepKindIntegration:
		executor = d.integration
	case models.StepKindEmbedded:
	}

	if executor == nil {
		return nil, &ConfigurationError{StepInstanceID: instance.ID, Kind: instance.Step.Kind}
	}

	return executor, nil
}
