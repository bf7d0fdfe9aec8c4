// Package contexts owns the execution context state machine and its persistence.
package contexts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/dukex/callchain/pkg/models"
	"github.com/google/uuid"
)

// Store persists context snapshots. Load returns ErrContextNotFound for unknown IDs.
type Store interface {
	Save(ctx context.Context, execCtx *models.ExecutionContext) error
	Load(ctx context.Context, id string) (*models.ExecutionContext, error)
	List(ctx context.Context) ([]*models.ExecutionContext, error)
	Delete(ctx context.Context, id string) error
}

var transitions = map[models.ContextState][]models.ContextState{
	models.ContextStateCreated: {
		models.ContextStateRunning,
		models.ContextStateFailed,
		models.ContextStateFailedByTimeout,
	},
	models.ContextStateRunning: {
		models.ContextStatePaused,
		models.ContextStateFinished,
		models.ContextStateFailed,
		models.ContextStateFailedByTimeout,
	},
	models.ContextStatePaused: {
		models.ContextStateRunning,
		models.ContextStateFinished,
		models.ContextStateFailed,
		models.ContextStateFailedByTimeout,
	},
}

// Service applies state transitions and persists every change. Contexts that are not
// terminal stay live in memory so every component works on the same instance.
type Service struct {
	store   Store
	timeout time.Duration
	logger  *slog.Logger
	now     func() time.Time

	mu   sync.Mutex
	live map[string]*models.ExecutionContext
}

// NewService creates a context service. A positive timeout sets each new context's
// deadline for the timeout watchdog.
func NewService(store Store, timeout time.Duration, logger *slog.Logger) *Service {
	return &Service{
		store:   store,
		timeout: timeout,
		logger:  logger.With("module", "context_service"),
		now:     time.Now,
		live:    make(map[string]*models.ExecutionContext),
	}
}

func (s *Service) Create(
	ctx context.Context,
	name, projectID string,
	initiator *models.Initiator,
	values map[string]any,
) (*models.ExecutionContext, error) {
	execCtx := models.NewExecutionContext(uuid.New().String(), name, projectID, initiator)
	execCtx.Merge(values)

	if s.timeout > 0 {
		execCtx.SetTimeoutAt(s.now().Add(s.timeout).UTC())
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.store.Save(ctx, execCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to save context %s: %w", execCtx.ID, err)
	}

	s.live[execCtx.ID] = execCtx

	s.logger.InfoContext(ctx, "Context created", "context_id", execCtx.ID, "name", name)

	return execCtx, nil
}

// Get returns the live instance of the context, loading it from the store if needed.
func (s *Service) Get(ctx context.Context, id string) (*models.ExecutionContext, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if execCtx, ok := s.live[id]; ok {
		return execCtx, nil
	}

	execCtx, err := s.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}

	if !execCtx.State().IsTerminal() {
		s.live[id] = execCtx
	}

	return execCtx, nil
}

// List returns every stored context, live instances taking precedence.
func (s *Service) List(ctx context.Context) ([]*models.ExecutionContext, error) {
	stored, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i, execCtx := range stored {
		if live, ok := s.live[execCtx.ID]; ok {
			stored[i] = live
		}
	}

	return stored, nil
}

// Expired returns the non-terminal contexts whose deadline is before now.
func (s *Service) Expired(ctx context.Context, now time.Time) ([]*models.ExecutionContext, error) {
	all, err := s.List(ctx)
	if err != nil {
		return nil, err
	}

	var expired []*models.ExecutionContext

	for _, execCtx := range all {
		if execCtx.Expired(now) {
			expired = append(expired, execCtx)
		}
	}

	return expired, nil
}

func (s *Service) Start(ctx context.Context, execCtx *models.ExecutionContext) error {
	return s.transition(ctx, execCtx, models.ContextStateRunning)
}

func (s *Service) Pause(ctx context.Context, execCtx *models.ExecutionContext) error {
	return s.transition(ctx, execCtx, models.ContextStatePaused)
}

func (s *Service) Resume(ctx context.Context, execCtx *models.ExecutionContext) error {
	return s.transition(ctx, execCtx, models.ContextStateRunning)
}

func (s *Service) Finish(ctx context.Context, execCtx *models.ExecutionContext) error {
	return s.transition(ctx, execCtx, models.ContextStateFinished)
}

func (s *Service) Fail(ctx context.Context, execCtx *models.ExecutionContext) error {
	return s.transition(ctx, execCtx, models.ContextStateFailed)
}

func (s *Service) FailByTimeout(ctx context.Context, execCtx *models.ExecutionContext) error {
	return s.transition(ctx, execCtx, models.ContextStateFailedByTimeout)
}

// UpdateContext persists the context values. Terminal contexts are read-only.
func (s *Service) UpdateContext(ctx context.Context, execCtx *models.ExecutionContext) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := execCtx.State()
	if state.IsTerminal() {
		return &TransitionError{ContextID: execCtx.ID, From: state, To: state}
	}

	err := s.store.Save(ctx, execCtx)
	if err != nil {
		return fmt.Errorf("failed to save context %s: %w", execCtx.ID, err)
	}

	return nil
}

// TightenDeadline moves the context deadline earlier and persists it. A deadline later
// than the current one is ignored.
func (s *Service) TightenDeadline(ctx context.Context, execCtx *models.ExecutionContext, deadline time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if execCtx.State().IsTerminal() || !execCtx.TightenTimeout(deadline.UTC()) {
		return nil
	}

	err := s.store.Save(ctx, execCtx)
	if err != nil {
		return fmt.Errorf("failed to save context %s: %w", execCtx.ID, err)
	}

	s.logger.DebugContext(ctx, "Context deadline tightened", "context_id", execCtx.ID, "timeout_at", deadline.UTC())

	return nil
}

// Delete removes a terminal context from the store.
func (s *Service) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.live, id)

	err := s.store.Delete(ctx, id)
	if err != nil && !errors.Is(err, ErrContextNotFound) {
		return err
	}

	return nil
}

func (s *Service) transition(ctx context.Context, execCtx *models.ExecutionContext, to models.ContextState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	before := execCtx.Lifecycle()
	from := before.State

	if !slices.Contains(transitions[from], to) {
		return &TransitionError{ContextID: execCtx.ID, From: from, To: to}
	}

	now := s.now().UTC()

	after := before
	after.State = to

	if to == models.ContextStateRunning && after.StartedAt == nil {
		after.StartedAt = &now
	}

	if to.IsTerminal() {
		after.EndedAt = &now
	}

	execCtx.SetLifecycle(after)

	err := s.store.Save(ctx, execCtx)
	if err != nil {
		execCtx.SetLifecycle(before)

		return fmt.Errorf("failed to save context %s: %w", execCtx.ID, err)
	}

	if to.IsTerminal() {
		delete(s.live, execCtx.ID)
	} else {
		s.live[execCtx.ID] = execCtx
	}

	s.logger.InfoContext(ctx, "Context state changed", "context_id", execCtx.ID, "from", from, "to", to)

	return nil
}
