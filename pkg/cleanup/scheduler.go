// Package cleanup runs the periodic maintenance jobs: subscriber eviction, orphaned
// resumption records and the context timeout watchdog.
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/callchain/pkg/contexts"
	"github.com/dukex/callchain/pkg/eventbus"
	"github.com/dukex/callchain/pkg/models"
	"github.com/dukex/callchain/pkg/resumption"
	"github.com/robfig/cron/v3"
)

type ContextLookup interface {
	Get(ctx context.Context, id string) (*models.ExecutionContext, error)
	Expired(ctx context.Context, now time.Time) ([]*models.ExecutionContext, error)
}

type TimeoutHandler interface {
	FailByTimeout(ctx context.Context, execCtx *models.ExecutionContext) error
}

type Scheduler struct {
	spec     string
	bus      *eventbus.EventBus
	contexts ContextLookup
	timeouts TimeoutHandler
	registry *resumption.Registry
	logger   *slog.Logger
	now      func() time.Time
	cron     *cron.Cron
}

func NewScheduler(
	spec string,
	bus *eventbus.EventBus,
	contexts ContextLookup,
	timeouts TimeoutHandler,
	registry *resumption.Registry,
	logger *slog.Logger,
) (*Scheduler, error) {
	_, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid cleanup schedule: %w", err)
	}

	return &Scheduler{
		spec:     spec,
		bus:      bus,
		contexts: contexts,
		timeouts: timeouts,
		registry: registry,
		logger:   logger.With("module", "cleanup"),
		now:      time.Now,
	}, nil
}

func (s *Scheduler) Start(ctx context.Context) error {
	s.cron = cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DefaultLogger),
		cron.Recover(cron.DefaultLogger),
	))

	_, err := s.cron.AddFunc(s.spec, func() { s.EvictSubscribers(ctx) })
	if err != nil {
		return fmt.Errorf("failed to add subscriber eviction job: %w", err)
	}

	_, err = s.cron.AddFunc(s.spec, func() { s.PruneRegistry(ctx) })
	if err != nil {
		return fmt.Errorf("failed to add registry pruning job: %w", err)
	}

	_, err = s.cron.AddFunc(s.spec, func() { s.FailExpired(ctx) })
	if err != nil {
		return fmt.Errorf("failed to add timeout watchdog job: %w", err)
	}

	s.cron.Start()

	s.logger.InfoContext(ctx, "Cleanup scheduler started", "schedule", s.spec)

	return nil
}

// Stop waits for running jobs to complete.
func (s *Scheduler) Stop() {
	if s.cron == nil {
		return
	}

	<-s.cron.Stop().Done()
}

// EvictSubscribers unregisters context-bound subscribers whose context is gone or terminal.
func (s *Scheduler) EvictSubscribers(ctx context.Context) int {
	evicted := 0

	for _, entry := range s.bus.Subscribers() {
		contextID, ok := entry.ContextID()
		if !ok || !s.finished(ctx, contextID) {
			continue
		}

		s.bus.Unregister(entry.Subscriber)
		evicted++
	}

	if evicted > 0 {
		s.logger.InfoContext(ctx, "Evicted subscribers of finished contexts", "count", evicted)
	}

	return evicted
}

// PruneRegistry drops resumption records left behind by contexts that are gone or terminal.
func (s *Scheduler) PruneRegistry(ctx context.Context) int {
	pruned := 0

	for _, contextID := range s.registry.ContextIDs() {
		if !s.finished(ctx, contextID) {
			continue
		}

		s.registry.Remove(contextID)
		pruned++
	}

	if pruned > 0 {
		s.logger.InfoContext(ctx, "Pruned resumption records", "count", pruned)
	}

	return pruned
}

// FailExpired fails every context past its deadline.
func (s *Scheduler) FailExpired(ctx context.Context) int {
	expired, err := s.contexts.Expired(ctx, s.now())
	if err != nil {
		s.logger.ErrorContext(ctx, "Unable to list expired contexts", "error", err)

		return 0
	}

	failed := 0

	for _, execCtx := range expired {
		err := s.timeouts.FailByTimeout(ctx, execCtx)
		if err != nil {
			s.logger.ErrorContext(ctx, "Unable to fail expired context", "context_id", execCtx.ID, "error", err)

			continue
		}

		s.logger.WarnContext(ctx, "Context timed out", "context_id", execCtx.ID)
		failed++
	}

	return failed
}

func (s *Scheduler) finished(ctx context.Context, contextID string) bool {
	execCtx, err := s.contexts.Get(ctx, contextID)
	if err != nil {
		if errors.Is(err, contexts.ErrContextNotFound) {
			return true
		}

		s.logger.WarnContext(ctx, "Unable to load context", "context_id", contextID, "error", err)

		return false
	}

	return execCtx.State().IsTerminal()
}
