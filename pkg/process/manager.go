// Package process coordinates pausing, resuming and terminating execution contexts.
package process

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dukex/callchain/pkg/events"
	"github.com/dukex/callchain/pkg/models"
	"github.com/dukex/callchain/pkg/otelhelper"
	"github.com/dukex/callchain/pkg/resumption"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ContextService owns the context state machine and its persistence.
type ContextService interface {
	Pause(ctx context.Context, execCtx *models.ExecutionContext) error
	UpdateContext(ctx context.Context, execCtx *models.ExecutionContext) error
	Finish(ctx context.Context, execCtx *models.ExecutionContext) error
	Fail(ctx context.Context, execCtx *models.ExecutionContext) error
	FailByTimeout(ctx context.Context, execCtx *models.ExecutionContext) error
}

// SituationExecutor completes a deferred situation once its reply is in the context.
type SituationExecutor interface {
	ExecuteInstance(
		ctx context.Context,
		deferred models.DeferredSituation,
		execCtx *models.ExecutionContext,
		resumeEvent events.Event,
	) error
}

type EventPoster interface {
	Post(ctx context.Context, event events.Event)
}

// Manager orchestrates context transitions over the resumption registry and the event bus.
// It is safe for concurrent use; operations on different contexts never share state.
type Manager struct {
	contexts   ContextService
	situations SituationExecutor
	registry   *resumption.Registry
	bus        EventPoster
	logger     *slog.Logger
	tracer     trace.Tracer
}

func NewManager(
	contexts ContextService,
	situations SituationExecutor,
	registry *resumption.Registry,
	bus EventPoster,
	logger *slog.Logger,
	tracer trace.Tracer,
) *Manager {
	return &Manager{
		contexts:   contexts,
		situations: situations,
		registry:   registry,
		bus:        bus,
		logger:     logger.With("module", "process_manager"),
		tracer:     tracer,
	}
}

// Subscribe registers who is notified about the context. A later call replaces the
// previous subscriber.
func (m *Manager) Subscribe(contextID, subscriberID, parentSubscriberID string, needToContinue bool) {
	m.registry.AddSubscriber(contextID, subscriberID, parentSubscriberID, needToContinue)

	m.logger.Debug("Subscriber registered",
		"context_id", contextID,
		"subscriber_id", subscriberID,
		"parent_subscriber_id", parentSubscriberID,
		"need_to_continue", needToContinue,
	)
}

// Pause trusts the caller to have checked that the context is running and was started by
// a call chain.
func (m *Manager) Pause(ctx context.Context, execCtx *models.ExecutionContext) error {
	ctx, span := m.startSpan(ctx, "process.pause", execCtx)
	defer span.End()

	err := m.contexts.Pause(ctx, execCtx)
	if err != nil {
		otelhelper.SetError(span, err)

		return fmt.Errorf("failed to pause context %s: %w", execCtx.ID, err)
	}

	sub, ok := m.registry.Subscriber(execCtx.ID)
	if !ok {
		return nil
	}

	m.post(ctx, m.buildEvent(ctx, events.PausedEvent, execCtx, sub))

	return nil
}

// UpdateContext is a no-op when nobody is subscribed to the context.
//
// The ContextUpdated event is delivered twice: once while it is built and once more
// here. Subscribers must tolerate the duplicate.
// TODO: drop one of the two posts once we know whether any subscriber relies on it.
func (m *Manager) UpdateContext(ctx context.Context, execCtx *models.ExecutionContext) error {
	sub, ok := m.registry.Subscriber(execCtx.ID)
	if !ok {
		return nil
	}

	ctx, span := m.startSpan(ctx, "process.update_context", execCtx)
	defer span.End()

	err := m.contexts.UpdateContext(ctx, execCtx)
	if err != nil {
		otelhelper.SetError(span, err)

		return fmt.Errorf("failed to update context %s: %w", execCtx.ID, err)
	}

	event := m.buildEvent(ctx, events.ContextUpdatedEvent, execCtx, sub)
	m.post(ctx, event)

	return nil
}

// AwaitingReply reports whether a deferred situation of the context is held by this
// manager. Replies for other contexts must not reach Resume, which would fail them.
func (m *Manager) AwaitingReply(contextID string) bool {
	_, ok := m.registry.Deferred(contextID)

	return ok
}

// Resume consumes the context's deferred situation and completes it. A missing deferred
// situation fails the context instead of returning an error.
func (m *Manager) Resume(ctx context.Context, execCtx *models.ExecutionContext) error {
	ctx, span := m.startSpan(ctx, "process.resume", execCtx)
	defer span.End()

	deferred, ok := m.registry.TakeDeferred(execCtx.ID)
	if !ok {
		m.logger.ErrorContext(ctx, "Unable to resume context", "context_id", execCtx.ID, "error", ErrNothingToResume)
		otelhelper.SetError(span, ErrNothingToResume)

		return m.Fail(ctx, execCtx)
	}

	var event events.Event

	sub, hasSubscriber := m.registry.Subscriber(execCtx.ID)
	if hasSubscriber {
		eventType := events.ResumedWithoutContinueEvent
		if sub.NeedToContinue {
			eventType = events.ResumedEvent
		}

		event = m.buildEvent(ctx, eventType, execCtx, sub)
	}

	err := m.situations.ExecuteInstance(ctx, deferred, execCtx, event)
	if err != nil {
		otelhelper.SetError(span, err)
		m.logger.ErrorContext(ctx, "Deferred situation failed", "context_id", execCtx.ID, "error", err)

		failErr := m.Fail(ctx, execCtx)
		if failErr != nil {
			m.logger.ErrorContext(ctx, "Unable to fail context", "context_id", execCtx.ID, "error", failErr)
		}

		return fmt.Errorf("failed to resume context %s: %w", execCtx.ID, err)
	}

	m.post(ctx, event)

	return nil
}

func (m *Manager) Finish(ctx context.Context, execCtx *models.ExecutionContext) error {
	ctx, span := m.startSpan(ctx, "process.finish", execCtx)
	defer span.End()

	m.registry.RemoveDeferred(execCtx.ID)

	err := m.contexts.Finish(ctx, execCtx)

	m.registry.Remove(execCtx.ID)

	if err != nil {
		otelhelper.SetError(span, err)

		return fmt.Errorf("failed to finish context %s: %w", execCtx.ID, err)
	}

	return nil
}

func (m *Manager) Fail(ctx context.Context, execCtx *models.ExecutionContext) error {
	return m.terminate(ctx, "process.fail", execCtx, m.contexts.Fail)
}

// FailByTimeout is called by the timeout watchdog.
func (m *Manager) FailByTimeout(ctx context.Context, execCtx *models.ExecutionContext) error {
	return m.terminate(ctx, "process.fail_by_timeout", execCtx, m.contexts.FailByTimeout)
}

// Terminate notifies the subscriber with the reason and fails the context.
func (m *Manager) Terminate(ctx context.Context, execCtx *models.ExecutionContext, reason string) error {
	if sub, ok := m.registry.Subscriber(execCtx.ID); ok {
		event := m.buildEvent(ctx, events.TerminatedEvent, execCtx, sub)
		if terminated, ok := event.(events.Terminated); ok {
			terminated.Reason = reason
			event = terminated
		}

		m.post(ctx, event)
	}

	return m.Fail(ctx, execCtx)
}

// Notify sends a free-form message to the context's subscriber, if any.
func (m *Manager) Notify(ctx context.Context, execCtx *models.ExecutionContext, message string) {
	sub, ok := m.registry.Subscriber(execCtx.ID)
	if !ok {
		return
	}

	event := m.buildEvent(ctx, events.NotifiedEvent, execCtx, sub)
	if notified, ok := event.(events.Notified); ok {
		notified.Message = message
		event = notified
	}

	m.post(ctx, event)
}

func (m *Manager) terminate(
	ctx context.Context,
	spanName string,
	execCtx *models.ExecutionContext,
	transition func(context.Context, *models.ExecutionContext) error,
) error {
	ctx, span := m.startSpan(ctx, spanName, execCtx)
	defer span.End()

	err := transition(ctx, execCtx)

	m.registry.Remove(execCtx.ID)

	if err != nil {
		otelhelper.SetError(span, err)

		return fmt.Errorf("failed to fail context %s: %w", execCtx.ID, err)
	}

	return nil
}

// buildEvent returns nil for event types that carry no notification.
func (m *Manager) buildEvent(
	ctx context.Context,
	eventType events.EventType,
	execCtx *models.ExecutionContext,
	sub models.SubscriberData,
) events.Event {
	base := events.NewBaseEvent(eventType, execCtx.ID, sub.SubscriberID, sub.ParentSubscriberID)
	if execCtx.InitiatedByCallChain() {
		base.ChainID = execCtx.Initiator.ID
	}

	switch eventType {
	case events.PausedEvent:
		return events.Paused{BaseEvent: base}
	case events.ResumedEvent:
		return events.Resumed{BaseEvent: base}
	case events.ResumedWithoutContinueEvent:
		return events.ResumedWithoutContinue{BaseEvent: base}
	case events.ContextUpdatedEvent:
		event := events.ContextUpdated{BaseEvent: base, Values: execCtx.Values()}
		m.post(ctx, event)

		return event
	case events.NotifiedEvent:
		return events.Notified{BaseEvent: base}
	case events.TerminatedEvent:
		return events.Terminated{BaseEvent: base}
	default:
		return nil
	}
}

func (m *Manager) post(ctx context.Context, event events.Event) {
	if event == nil {
		return
	}

	m.logger.DebugContext(ctx, "Posting lifecycle event",
		"event_type", event.GetType(),
		"context_id", event.GetBase().ContextID,
		"subscriber_id", event.GetBase().SubscriberID,
	)

	m.bus.Post(ctx, event)
}

// nolint:spancheck // callers end the span
func (m *Manager) startSpan(ctx context.Context, name string, execCtx *models.ExecutionContext) (context.Context, trace.Span) {
	return otelhelper.StartSpan(ctx, m.tracer, name,
		attribute.String(otelhelper.ContextIDKey, execCtx.ID),
		attribute.String(otelhelper.ContextStateKey, string(execCtx.State())),
	)
}
