// Package chain runs call chains and the situations their steps reference.
package chain

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/callchain/pkg/dispatch"
	"github.com/dukex/callchain/pkg/events"
	"github.com/dukex/callchain/pkg/models"
	"github.com/dukex/callchain/pkg/resumption"
	"github.com/dukex/callchain/pkg/template"
	"github.com/dukex/callchain/pkg/transport"
)

// Catalog serves the definitions the executors need.
type Catalog interface {
	Situation(ctx context.Context, id string) (*models.Situation, error)
	CallChain(ctx context.Context, id string) (*models.CallChain, error)
	Template(ctx context.Context, id string) (*models.Template, error)
}

// Deadlines persists reply deadlines of suspended contexts.
type Deadlines interface {
	TightenDeadline(ctx context.Context, execCtx *models.ExecutionContext, deadline time.Time) error
}

// SituationExecutor sends a situation's message through its transport. Situations that
// await a reply leave a deferred situation behind and mark the step instance waiting
// before the message leaves, so a reply may complete the instance while Send is still
// in flight.
type SituationExecutor struct {
	catalog    Catalog
	pipeline   *template.Pipeline
	transports *transport.Registry
	registry   *resumption.Registry
	deadlines  Deadlines
	logger     *slog.Logger
	now        func() time.Time
}

func NewSituationExecutor(
	catalog Catalog,
	pipeline *template.Pipeline,
	transports *transport.Registry,
	registry *resumption.Registry,
	deadlines Deadlines,
	logger *slog.Logger,
) *SituationExecutor {
	return &SituationExecutor{
		catalog:    catalog,
		pipeline:   pipeline,
		transports: transports,
		registry:   registry,
		deadlines:  deadlines,
		logger:     logger.With("module", "situation_executor"),
		now:        time.Now,
	}
}

func (e *SituationExecutor) Execute(
	ctx context.Context,
	situationID string,
	execCtx *models.ExecutionContext,
	source *models.StepInstance,
) error {
	situation, err := e.catalog.Situation(ctx, situationID)
	if err != nil {
		return err
	}

	if situation.AwaitReply {
		return e.suspend(ctx, situation, execCtx, source)
	}

	t, msg, err := e.compose(ctx, situation, execCtx)
	if err != nil {
		return fmt.Errorf("failed to execute situation %s: %w", situation.ID, err)
	}

	reply, err := t.Send(ctx, msg)
	if err != nil {
		return fmt.Errorf("failed to execute situation %s: %w", situation.ID, err)
	}

	execCtx.Set(source.Step.Name+dispatch.ResponseKeySuffix, reply.Body)

	return e.pipeline.RegenerateKeys(ctx, execCtx, situation.ReplyKeys)
}

// suspend registers the deferred situation and only then sends the message. A failed
// send takes the registration back unless a reply has already consumed it.
func (e *SituationExecutor) suspend(
	ctx context.Context,
	situation *models.Situation,
	execCtx *models.ExecutionContext,
	source *models.StepInstance,
) error {
	logger := e.logger.With("context_id", execCtx.ID, "situation_id", situation.ID, "step_instance_id", source.ID)

	t, msg, err := e.compose(ctx, situation, execCtx)
	if err != nil {
		return fmt.Errorf("failed to execute situation %s: %w", situation.ID, err)
	}

	if situation.ReplyTimeout > 0 {
		err = e.deadlines.TightenDeadline(ctx, execCtx, e.now().Add(situation.ReplyTimeout))
		if err != nil {
			return err
		}
	}

	source.Wait()
	e.registry.PutDeferred(models.DeferredSituation{
		ContextID:    execCtx.ID,
		SituationID:  situation.ID,
		StepInstance: source,
		SuspendedAt:  e.now().UTC(),
	})

	logger.InfoContext(ctx, "Situation is waiting for a reply")

	reply, err := t.Send(ctx, msg)
	if err != nil {
		if _, ok := e.registry.TakeDeferred(execCtx.ID); !ok {
			logger.WarnContext(ctx, "Send failed after the reply was delivered", "error", err)

			return nil
		}

		return fmt.Errorf("failed to execute situation %s: %w", situation.ID, err)
	}

	execCtx.Set(source.Step.Name+dispatch.ResponseKeySuffix, reply.Body)

	return nil
}

// ExecuteInstance completes a deferred situation. The reply has already been merged into
// the context by the caller.
func (e *SituationExecutor) ExecuteInstance(
	ctx context.Context,
	deferred models.DeferredSituation,
	execCtx *models.ExecutionContext,
	resumeEvent events.Event,
) error {
	situation, err := e.catalog.Situation(ctx, deferred.SituationID)
	if err != nil {
		return err
	}

	err = e.pipeline.RegenerateKeys(ctx, execCtx, situation.ReplyKeys)
	if err != nil {
		if deferred.StepInstance != nil {
			deferred.StepInstance.Fail(e.now(), err)
		}

		return fmt.Errorf("failed to apply reply of situation %s: %w", situation.ID, err)
	}

	if deferred.StepInstance != nil {
		deferred.StepInstance.Pass(e.now())
	}

	var resumeType events.EventType
	if resumeEvent != nil {
		resumeType = resumeEvent.GetType()
	}

	e.logger.InfoContext(ctx, "Deferred situation completed",
		"context_id", execCtx.ID,
		"situation_id", situation.ID,
		"resume_event", resumeType,
		"waited", e.now().Sub(deferred.SuspendedAt).String(),
	)

	return nil
}

//nolint:ireturn // transports are resolved by name
func (e *SituationExecutor) compose(
	ctx context.Context,
	situation *models.Situation,
	execCtx *models.ExecutionContext,
) (transport.Transport, transport.Message, error) {
	t, err := e.transports.Get(situation.Transport)
	if err != nil {
		return nil, transport.Message{}, err
	}

	body, properties, err := e.pipeline.Compose(ctx, situation.TemplateID, situation.Body, execCtx, situation.Properties)
	if err != nil {
		return nil, transport.Message{}, err
	}

	return t, transport.Message{Body: body, Properties: properties}, nil
}
