package process

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/dukex/callchain/pkg/events"
	"github.com/dukex/callchain/pkg/mocks"
	"github.com/dukex/callchain/pkg/models"
	"github.com/dukex/callchain/pkg/otelhelper"
	"github.com/dukex/callchain/pkg/resumption"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	contexts   *mocks.MockContextService
	situations *mocks.MockSituationExecutor
	bus        *mocks.MockEventPoster
	registry   *resumption.Registry
	manager    *Manager
	execCtx    *models.ExecutionContext
}

func newFixture() *fixture {
	f := &fixture{
		contexts:   &mocks.MockContextService{},
		situations: &mocks.MockSituationExecutor{},
		bus:        &mocks.MockEventPoster{},
		registry:   resumption.NewRegistry(),
		execCtx: models.NewExecutionContext("ctx-1", "checkout", "project-1", &models.Initiator{
			Kind: models.InitiatorCallChain,
			ID:   "chain-1",
			Name: "checkout",
		}),
	}

	f.manager = NewManager(f.contexts, f.situations, f.registry, f.bus,
		slog.New(slog.NewTextHandler(io.Discard, nil)), otelhelper.NoopTracer())

	return f
}

func (f *fixture) deferred() models.DeferredSituation {
	return models.DeferredSituation{
		ContextID:    f.execCtx.ID,
		SituationID:  "payment-callback",
		StepInstance: models.NewStepInstance("i-1", &models.Step{Name: "pay", Kind: models.StepKindSituation}, f.execCtx.ID),
	}
}

func postedOfType(eventType events.EventType) any {
	return mock.MatchedBy(func(event events.Event) bool {
		return event.GetType() == eventType
	})
}

func TestManager_Resume_WithoutDeferredFailsContext(t *testing.T) {
	f := newFixture()
	f.manager.Subscribe(f.execCtx.ID, "runner", "parent", true)
	f.contexts.On("Fail", mock.Anything, f.execCtx).Return(nil)

	err := f.manager.Resume(context.Background(), f.execCtx)

	require.NoError(t, err)
	f.contexts.AssertCalled(t, "Fail", mock.Anything, f.execCtx)
	f.bus.AssertNotCalled(t, "Post", mock.Anything, mock.Anything)
	f.situations.AssertNotCalled(t, "ExecuteInstance", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	assert.Equal(t, 0, f.registry.Len())
}

func TestManager_AwaitingReply(t *testing.T) {
	f := newFixture()

	assert.False(t, f.manager.AwaitingReply(f.execCtx.ID))

	f.registry.PutDeferred(f.deferred())
	assert.True(t, f.manager.AwaitingReply(f.execCtx.ID))

	f.registry.RemoveDeferred(f.execCtx.ID)
	assert.False(t, f.manager.AwaitingReply(f.execCtx.ID))
}

func TestManager_Resume_PostsResumed(t *testing.T) {
	f := newFixture()
	f.manager.Subscribe(f.execCtx.ID, "runner", "parent", true)
	f.registry.PutDeferred(f.deferred())

	f.situations.On("ExecuteInstance", mock.Anything, f.deferred(), f.execCtx, postedOfType(events.ResumedEvent)).Return(nil)
	f.bus.On("Post", mock.Anything, mock.Anything).Return()

	require.NoError(t, f.manager.Resume(context.Background(), f.execCtx))

	f.bus.AssertNumberOfCalls(t, "Post", 1)

	event, ok := f.bus.Calls[0].Arguments.Get(1).(events.Resumed)
	require.True(t, ok)
	assert.Equal(t, "runner", event.SubscriberID)
	assert.Equal(t, "parent", event.ParentSubscriberID)
	assert.Equal(t, "chain-1", event.ChainID)
	assert.Equal(t, f.execCtx.ID, event.ContextID)

	_, stillDeferred := f.registry.Deferred(f.execCtx.ID)
	assert.False(t, stillDeferred)
}

func TestManager_Resume_PostsResumedWithoutContinue(t *testing.T) {
	f := newFixture()
	f.manager.Subscribe(f.execCtx.ID, "runner", "", false)
	f.registry.PutDeferred(f.deferred())

	f.situations.On("ExecuteInstance", mock.Anything, mock.Anything, f.execCtx, mock.Anything).Return(nil)
	f.bus.On("Post", mock.Anything, postedOfType(events.ResumedWithoutContinueEvent)).Return()

	require.NoError(t, f.manager.Resume(context.Background(), f.execCtx))

	f.bus.AssertExpectations(t)
	f.bus.AssertNumberOfCalls(t, "Post", 1)
}

func TestManager_Resume_WithoutSubscriberPostsNothing(t *testing.T) {
	f := newFixture()
	f.registry.PutDeferred(f.deferred())

	f.situations.On("ExecuteInstance", mock.Anything, mock.Anything, f.execCtx, nil).Return(nil)

	require.NoError(t, f.manager.Resume(context.Background(), f.execCtx))

	f.situations.AssertExpectations(t)
	f.bus.AssertNotCalled(t, "Post", mock.Anything, mock.Anything)
}

func TestManager_Resume_OnlyOnce(t *testing.T) {
	f := newFixture()
	f.manager.Subscribe(f.execCtx.ID, "runner", "", true)
	f.registry.PutDeferred(f.deferred())

	f.situations.On("ExecuteInstance", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	f.bus.On("Post", mock.Anything, mock.Anything).Return()
	f.contexts.On("Fail", mock.Anything, f.execCtx).Return(nil)

	require.NoError(t, f.manager.Resume(context.Background(), f.execCtx))
	require.NoError(t, f.manager.Resume(context.Background(), f.execCtx))

	f.situations.AssertNumberOfCalls(t, "ExecuteInstance", 1)
	f.bus.AssertNumberOfCalls(t, "Post", 1)
	f.contexts.AssertNumberOfCalls(t, "Fail", 1)
}

func TestManager_Resume_ExecuteInstanceErrorFailsContext(t *testing.T) {
	f := newFixture()
	f.manager.Subscribe(f.execCtx.ID, "runner", "", true)
	f.registry.PutDeferred(f.deferred())
	execErr := errors.New("reply rejected")

	f.situations.On("ExecuteInstance", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(execErr)
	f.contexts.On("Fail", mock.Anything, f.execCtx).Return(nil)

	err := f.manager.Resume(context.Background(), f.execCtx)

	require.ErrorIs(t, err, execErr)
	f.contexts.AssertCalled(t, "Fail", mock.Anything, f.execCtx)
	f.bus.AssertNotCalled(t, "Post", mock.Anything, mock.Anything)
	assert.Equal(t, 0, f.registry.Len())
}

func TestManager_TerminalOperations_AreIdempotentWithoutSubscriber(t *testing.T) {
	operations := map[string]func(m *Manager, ctx context.Context, execCtx *models.ExecutionContext) error{
		"Finish":        (*Manager).Finish,
		"Fail":          (*Manager).Fail,
		"FailByTimeout": (*Manager).FailByTimeout,
	}

	for method, operation := range operations {
		t.Run(method, func(t *testing.T) {
			f := newFixture()
			f.registry.AddSubscriber("other", "runner", "", true)
			f.contexts.On(method, mock.Anything, f.execCtx).Return(nil)

			require.NoError(t, operation(f.manager, context.Background(), f.execCtx))
			require.NoError(t, operation(f.manager, context.Background(), f.execCtx))

			assert.Equal(t, []string{"other"}, f.registry.ContextIDs())
			f.contexts.AssertNumberOfCalls(t, method, 2)
			f.bus.AssertNotCalled(t, "Post", mock.Anything, mock.Anything)
		})
	}
}

func TestManager_TerminalOperations_RemoveRecord(t *testing.T) {
	for _, method := range []string{"Finish", "Fail", "FailByTimeout"} {
		t.Run(method, func(t *testing.T) {
			f := newFixture()
			f.manager.Subscribe(f.execCtx.ID, "runner", "", true)
			f.registry.PutDeferred(f.deferred())
			f.contexts.On(method, mock.Anything, f.execCtx).Return(errors.New("store unavailable"))

			var err error

			switch method {
			case "Finish":
				err = f.manager.Finish(context.Background(), f.execCtx)
			case "Fail":
				err = f.manager.Fail(context.Background(), f.execCtx)
			default:
				err = f.manager.FailByTimeout(context.Background(), f.execCtx)
			}

			require.Error(t, err)
			assert.Equal(t, 0, f.registry.Len())
		})
	}
}

func TestManager_Pause(t *testing.T) {
	f := newFixture()
	f.manager.Subscribe(f.execCtx.ID, "runner", "parent", true)
	f.contexts.On("Pause", mock.Anything, f.execCtx).Return(nil)
	f.bus.On("Post", mock.Anything, postedOfType(events.PausedEvent)).Return()

	require.NoError(t, f.manager.Pause(context.Background(), f.execCtx))

	f.bus.AssertExpectations(t)

	event := f.bus.Calls[0].Arguments.Get(1).(events.Paused)
	assert.Equal(t, "parent", event.ParentSubscriberID)
}

func TestManager_Pause_WithoutSubscriber(t *testing.T) {
	f := newFixture()
	f.contexts.On("Pause", mock.Anything, f.execCtx).Return(nil)

	require.NoError(t, f.manager.Pause(context.Background(), f.execCtx))

	f.contexts.AssertExpectations(t)
	f.bus.AssertNotCalled(t, "Post", mock.Anything, mock.Anything)
}

func TestManager_Pause_ServiceError(t *testing.T) {
	f := newFixture()
	f.manager.Subscribe(f.execCtx.ID, "runner", "", true)
	f.contexts.On("Pause", mock.Anything, f.execCtx).Return(errors.New("not running"))

	require.Error(t, f.manager.Pause(context.Background(), f.execCtx))
	f.bus.AssertNotCalled(t, "Post", mock.Anything, mock.Anything)
}

func TestManager_UpdateContext_WithoutSubscriberIsNoop(t *testing.T) {
	f := newFixture()

	require.NoError(t, f.manager.UpdateContext(context.Background(), f.execCtx))

	f.contexts.AssertNotCalled(t, "UpdateContext", mock.Anything, mock.Anything)
	f.bus.AssertNotCalled(t, "Post", mock.Anything, mock.Anything)
}

func TestManager_UpdateContext_PostsEventTwice(t *testing.T) {
	f := newFixture()
	f.execCtx.Set("reply", "ok")
	f.manager.Subscribe(f.execCtx.ID, "runner", "", true)
	f.contexts.On("UpdateContext", mock.Anything, f.execCtx).Return(nil)
	f.bus.On("Post", mock.Anything, postedOfType(events.ContextUpdatedEvent)).Return()

	require.NoError(t, f.manager.UpdateContext(context.Background(), f.execCtx))

	f.bus.AssertNumberOfCalls(t, "Post", 2)

	first := f.bus.Calls[0].Arguments.Get(1).(events.ContextUpdated)
	second := f.bus.Calls[1].Arguments.Get(1).(events.ContextUpdated)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "ok", first.Values["reply"])
}

func TestManager_Terminate(t *testing.T) {
	f := newFixture()
	f.manager.Subscribe(f.execCtx.ID, "runner", "", true)
	f.bus.On("Post", mock.Anything, postedOfType(events.TerminatedEvent)).Return()
	f.contexts.On("Fail", mock.Anything, f.execCtx).Return(nil)

	require.NoError(t, f.manager.Terminate(context.Background(), f.execCtx, "cancelled by user"))

	event := f.bus.Calls[0].Arguments.Get(1).(events.Terminated)
	assert.Equal(t, "cancelled by user", event.Reason)
	f.contexts.AssertExpectations(t)
	assert.Equal(t, 0, f.registry.Len())
}

func TestManager_Notify(t *testing.T) {
	f := newFixture()

	f.manager.Notify(context.Background(), f.execCtx, "ignored")
	f.bus.AssertNotCalled(t, "Post", mock.Anything, mock.Anything)

	f.manager.Subscribe(f.execCtx.ID, "runner", "", true)
	f.bus.On("Post", mock.Anything, postedOfType(events.NotifiedEvent)).Return()

	f.manager.Notify(context.Background(), f.execCtx, "step 2 of 5")

	event := f.bus.Calls[0].Arguments.Get(1).(events.Notified)
	assert.Equal(t, "step 2 of 5", event.Message)
}

func TestManager_BuildEvent_UnknownTypeReturnsNil(t *testing.T) {
	f := newFixture()

	event := f.manager.buildEvent(context.Background(), "context.unknown", f.execCtx,
		models.SubscriberData{SubscriberID: "runner"})

	assert.Nil(t, event)
	f.bus.AssertNotCalled(t, "Post", mock.Anything, mock.Anything)
}

func TestManager_Subscribe_ReplacesPrevious(t *testing.T) {
	f := newFixture()

	f.manager.Subscribe(f.execCtx.ID, "first", "", true)
	f.manager.Subscribe(f.execCtx.ID, "second", "p", false)

	sub, ok := f.registry.Subscriber(f.execCtx.ID)
	require.True(t, ok)
	assert.Equal(t, models.SubscriberData{SubscriberID: "second", ParentSubscriberID: "p"}, sub)
}
