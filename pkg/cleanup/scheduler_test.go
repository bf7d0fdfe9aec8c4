package cleanup_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/dukex/callchain/pkg/cleanup"
	"github.com/dukex/callchain/pkg/contexts"
	"github.com/dukex/callchain/pkg/eventbus"
	"github.com/dukex/callchain/pkg/events"
	"github.com/dukex/callchain/pkg/models"
	"github.com/dukex/callchain/pkg/resumption"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type timeoutRecorder struct {
	service *contexts.Service
	failed  []string
	err     error
}

func (r *timeoutRecorder) FailByTimeout(ctx context.Context, execCtx *models.ExecutionContext) error {
	if r.err != nil {
		return r.err
	}

	r.failed = append(r.failed, execCtx.ID)

	return r.service.FailByTimeout(ctx, execCtx)
}

type fixture struct {
	logger    *slog.Logger
	bus       *eventbus.EventBus
	contexts  *contexts.Service
	registry  *resumption.Registry
	timeouts  *timeoutRecorder
	scheduler *cleanup.Scheduler
}

func newFixture(t *testing.T, timeout time.Duration) *fixture {
	t.Helper()

	f := &fixture{
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		registry: resumption.NewRegistry(),
	}

	f.bus = eventbus.NewEventBus(f.logger, eventbus.NewSubscriberCache(time.Hour, time.Hour))
	f.contexts = contexts.NewService(contexts.NewMemoryStore(), timeout, f.logger)
	f.timeouts = &timeoutRecorder{service: f.contexts}

	scheduler, err := cleanup.NewScheduler("@every 1h", f.bus, f.contexts, f.timeouts, f.registry, f.logger)
	require.NoError(t, err)

	f.scheduler = scheduler

	return f
}

func noop(context.Context, events.Event) error { return nil }

func TestNewScheduler_InvalidSpec(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	_, err := cleanup.NewScheduler("every now and then", nil, nil, nil, nil, logger)

	require.Error(t, err)
}

func TestScheduler_EvictSubscribers(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)

	active, err := f.contexts.Create(ctx, "active", "", nil, nil)
	require.NoError(t, err)

	done, err := f.contexts.Create(ctx, "done", "", nil, nil)
	require.NoError(t, err)
	require.NoError(t, f.contexts.Fail(ctx, done))

	f.bus.Register(eventbus.BindToContext(eventbus.NewSubscriberFunc("active-sub", noop), active.ID), eventbus.PriorityNormal)
	f.bus.Register(eventbus.BindToContext(eventbus.NewSubscriberFunc("done-sub", noop), done.ID), eventbus.PriorityNormal)
	f.bus.Register(eventbus.BindToContext(eventbus.NewSubscriberFunc("gone-sub", noop), "gone"), eventbus.PriorityHigh)
	f.bus.Register(eventbus.NewSubscriberFunc("global", noop), eventbus.PriorityHigh)

	assert.Equal(t, 2, f.scheduler.EvictSubscribers(ctx))

	ids := make([]string, 0)
	for _, entry := range f.bus.Subscribers() {
		ids = append(ids, entry.Subscriber.SubscriberID())
	}

	assert.ElementsMatch(t, []string{"active-sub", "global"}, ids)
}

func TestScheduler_PruneRegistry(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)

	active, err := f.contexts.Create(ctx, "active", "", nil, nil)
	require.NoError(t, err)

	done, err := f.contexts.Create(ctx, "done", "", nil, nil)
	require.NoError(t, err)
	require.NoError(t, f.contexts.Fail(ctx, done))

	f.registry.AddSubscriber(active.ID, "runner", "", true)
	f.registry.AddSubscriber(done.ID, "runner", "", true)
	f.registry.AddSubscriber("gone", "runner", "", true)

	assert.Equal(t, 2, f.scheduler.PruneRegistry(ctx))
	assert.Equal(t, []string{active.ID}, f.registry.ContextIDs())
}

func TestScheduler_FailExpired(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)

	execCtx, err := f.contexts.Create(ctx, "slow", "", nil, nil)
	require.NoError(t, err)

	past := time.Now().Add(-time.Second)
	execCtx.SetTimeoutAt(past)

	fresh, err := f.contexts.Create(ctx, "fresh", "", nil, nil)
	require.NoError(t, err)

	future := time.Now().Add(time.Hour)
	fresh.SetTimeoutAt(future)

	assert.Equal(t, 1, f.scheduler.FailExpired(ctx))
	assert.Equal(t, []string{execCtx.ID}, f.timeouts.failed)
	assert.Equal(t, models.ContextStateFailedByTimeout, execCtx.State())
	assert.Equal(t, models.ContextStateCreated, fresh.State())

	assert.Equal(t, 0, f.scheduler.FailExpired(ctx))
}

func TestScheduler_FailExpired_HandlerError(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)
	f.timeouts.err = errors.New("store down")

	execCtx, err := f.contexts.Create(ctx, "slow", "", nil, nil)
	require.NoError(t, err)

	past := time.Now().Add(-time.Second)
	execCtx.SetTimeoutAt(past)

	assert.Equal(t, 0, f.scheduler.FailExpired(ctx))
}

func TestScheduler_StartStop(t *testing.T) {
	f := newFixture(t, 0)

	require.NoError(t, f.scheduler.Start(context.Background()))
	f.scheduler.Stop()
}
