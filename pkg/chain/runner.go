package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/dukex/callchain/pkg/dispatch"
	"github.com/dukex/callchain/pkg/eventbus"
	"github.com/dukex/callchain/pkg/events"
	"github.com/dukex/callchain/pkg/models"
	"github.com/dukex/callchain/pkg/process"
	"github.com/google/uuid"
)

var (
	ErrEmbeddedCycle = errors.New("call chain embeds itself")
	ErrRunNotFound   = errors.New("no active run for context")
)

// ContextService is the part of the context state machine the runner drives directly.
type ContextService interface {
	Create(
		ctx context.Context,
		name, projectID string,
		initiator *models.Initiator,
		values map[string]any,
	) (*models.ExecutionContext, error)
	Get(ctx context.Context, id string) (*models.ExecutionContext, error)
	Start(ctx context.Context, execCtx *models.ExecutionContext) error
	Resume(ctx context.Context, execCtx *models.ExecutionContext) error
}

// Subscriptions is the part of the event bus the runner registers parent relays on.
type Subscriptions interface {
	Register(subscriber eventbus.Subscriber, priority eventbus.Priority)
	Post(ctx context.Context, event events.Event)
}

type run struct {
	steps []*models.Step
	next  int
}

// Runner executes call chains step by step. The chain is paused before a step that awaits
// a reply is dispatched; the runner subscribes to the context and continues when the
// Resumed event reaches it, possibly while that dispatch is still sending.
type Runner struct {
	id         string
	catalog    Catalog
	contexts   ContextService
	dispatcher *dispatch.Dispatcher
	manager    *process.Manager
	bus        Subscriptions
	logger     *slog.Logger

	mu   sync.Mutex
	runs map[string]*run
}

func NewRunner(
	id string,
	catalog Catalog,
	contexts ContextService,
	dispatcher *dispatch.Dispatcher,
	manager *process.Manager,
	bus Subscriptions,
	logger *slog.Logger,
) *Runner {
	return &Runner{
		id:         id,
		catalog:    catalog,
		contexts:   contexts,
		dispatcher: dispatcher,
		manager:    manager,
		bus:        bus,
		logger:     logger.With("module", "chain_runner", "subscriber_id", id),
		runs:       make(map[string]*run),
	}
}

func (r *Runner) SubscriberID() string {
	return r.id
}

// StartChain creates a context for the call chain and runs it until it finishes, fails,
// or pauses on a step waiting for a reply.
func (r *Runner) StartChain(
	ctx context.Context,
	chainID string,
	values map[string]any,
	parentSubscriberID string,
) (*models.ExecutionContext, error) {
	chain, err := r.catalog.CallChain(ctx, chainID)
	if err != nil {
		return nil, err
	}

	steps, err := r.flatten(ctx, chain, nil)
	if err != nil {
		return nil, err
	}

	initiator := &models.Initiator{Kind: models.InitiatorCallChain, ID: chain.ID, Name: chain.Name}

	return r.start(ctx, chain.Name, chain.ProjectID, initiator, values, steps, parentSubscriberID, true)
}

// StartSituation runs a single situation in its own context. Its reply ends the context.
func (r *Runner) StartSituation(
	ctx context.Context,
	situationID string,
	values map[string]any,
	parentSubscriberID string,
) (*models.ExecutionContext, error) {
	situation, err := r.catalog.Situation(ctx, situationID)
	if err != nil {
		return nil, err
	}

	steps := []*models.Step{{
		ID:          situation.ID,
		Name:        situation.Name,
		Kind:        models.StepKindSituation,
		SituationID: situation.ID,
	}}
	initiator := &models.Initiator{Kind: models.InitiatorSituation, ID: situation.ID, Name: situation.Name}

	return r.start(ctx, situation.Name, "", initiator, values, steps, parentSubscriberID, false)
}

// HandleEvent continues or stops runs targeted at this runner.
func (r *Runner) HandleEvent(ctx context.Context, event events.Event) error {
	base := event.GetBase()
	if base.SubscriberID != r.id {
		return nil
	}

	switch event.(type) {
	case events.Resumed:
		execCtx, err := r.contexts.Get(ctx, base.ContextID)
		if err != nil {
			return err
		}

		if execCtx.State() == models.ContextStatePaused {
			err = r.contexts.Resume(ctx, execCtx)
			if err != nil {
				return err
			}
		}

		return r.advance(ctx, execCtx)
	case events.ResumedWithoutContinue:
		r.forget(base.ContextID)

		execCtx, err := r.contexts.Get(ctx, base.ContextID)
		if err != nil {
			return err
		}

		return r.manager.Finish(ctx, execCtx)
	case events.Terminated:
		r.forget(base.ContextID)
	}

	return nil
}

// Active returns the IDs of contexts with a run in progress.
func (r *Runner) Active() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.runs))
	for id := range r.runs {
		ids = append(ids, id)
	}

	slices.Sort(ids)

	return ids
}

func (r *Runner) start(
	ctx context.Context,
	name, projectID string,
	initiator *models.Initiator,
	values map[string]any,
	steps []*models.Step,
	parentSubscriberID string,
	needToContinue bool,
) (*models.ExecutionContext, error) {
	execCtx, err := r.contexts.Create(ctx, name, projectID, initiator, values)
	if err != nil {
		return nil, err
	}

	r.manager.Subscribe(execCtx.ID, r.id, parentSubscriberID, needToContinue)

	if parentSubscriberID != "" {
		relay := newParentRelay(r.id, execCtx.ID, parentSubscriberID, r.bus)
		r.bus.Register(eventbus.BindToContext(relay, execCtx.ID), eventbus.PriorityNormal)
	}

	r.mu.Lock()
	r.runs[execCtx.ID] = &run{steps: steps}
	r.mu.Unlock()

	err = r.contexts.Start(ctx, execCtx)
	if err != nil {
		r.forget(execCtx.ID)

		return execCtx, r.fail(ctx, execCtx, err)
	}

	return execCtx, r.advance(ctx, execCtx)
}

func (r *Runner) advance(ctx context.Context, execCtx *models.ExecutionContext) error {
	logger := r.logger.With("context_id", execCtx.ID)

	for {
		step, ok := r.nextStep(execCtx.ID)
		if !ok {
			return fmt.Errorf("%w: %s", ErrRunNotFound, execCtx.ID)
		}

		if step == nil {
			r.forget(execCtx.ID)
			logger.InfoContext(ctx, "Call chain finished")

			return r.manager.Finish(ctx, execCtx)
		}

		suspends, err := r.awaitsReply(ctx, step)
		if err == nil && suspends && execCtx.InitiatedByCallChain() {
			err = r.manager.Pause(ctx, execCtx)
		}

		if err != nil {
			r.forget(execCtx.ID)

			return r.fail(ctx, execCtx, err)
		}

		instance := models.NewStepInstance(uuid.New().String(), step, execCtx.ID)

		err = r.dispatcher.Dispatch(ctx, instance, execCtx)
		if err != nil {
			r.forget(execCtx.ID)

			return r.fail(ctx, execCtx, err)
		}

		if !suspends {
			continue
		}

		// The run now belongs to whoever delivers the reply.
		logger.InfoContext(ctx, "Call chain suspended", "step_instance_id", instance.ID, "step_name", step.Name)

		return nil
	}
}

// awaitsReply reports whether dispatching the step leaves it waiting for a reply.
func (r *Runner) awaitsReply(ctx context.Context, step *models.Step) (bool, error) {
	if step.Kind.Base() != models.StepKindSituation {
		return false, nil
	}

	situation, err := r.catalog.Situation(ctx, step.SituationID)
	if err != nil {
		return false, err
	}

	return situation.AwaitReply, nil
}

// nextStep returns the step to run and moves the cursor; a nil step means the run is done.
func (r *Runner) nextStep(contextID string) (*models.Step, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.runs[contextID]
	if !ok {
		return nil, false
	}

	if current.next >= len(current.steps) {
		return nil, true
	}

	step := current.steps[current.next]
	current.next++

	return step, true
}

func (r *Runner) forget(contextID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.runs, contextID)
}

func (r *Runner) fail(ctx context.Context, execCtx *models.ExecutionContext, cause error) error {
	r.logger.ErrorContext(ctx, "Call chain failed", "context_id", execCtx.ID, "error", cause)

	err := r.manager.Fail(ctx, execCtx)
	if err != nil {
		return errors.Join(cause, err)
	}

	return cause
}

// flatten expands embedded steps into the steps of the chains they reference.
func (r *Runner) flatten(ctx context.Context, chain *models.CallChain, path []string) ([]*models.Step, error) {
	if slices.Contains(path, chain.ID) {
		return nil, fmt.Errorf("%w: %s", ErrEmbeddedCycle, strings.Join(append(path, chain.ID), " -> "))
	}

	path = append(slices.Clip(path), chain.ID)

	steps := make([]*models.Step, 0, len(chain.Steps))

	for _, step := range chain.Steps {
		if step.Kind.Base() != models.StepKindEmbedded {
			steps = append(steps, step)

			continue
		}

		embedded, err := r.catalog.CallChain(ctx, step.ChainID)
		if err != nil {
			return nil, err
		}

		embeddedSteps, err := r.flatten(ctx, embedded, path)
		if err != nil {
			return nil, err
		}

		steps = append(steps, embeddedSteps...)
	}

	return steps, nil
}
