package contexts

import (
	"context"
	"sync"

	"github.com/dukex/callchain/pkg/models"
)

// MemoryStore keeps snapshots in process memory.
type MemoryStore struct {
	mu       sync.RWMutex
	contexts map[string]*models.ExecutionContext
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		contexts: make(map[string]*models.ExecutionContext),
	}
}

func (s *MemoryStore) Save(_ context.Context, execCtx *models.ExecutionContext) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.contexts[execCtx.ID] = execCtx.Clone()

	return nil
}

func (s *MemoryStore) Load(_ context.Context, id string) (*models.ExecutionContext, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	execCtx, ok := s.contexts[id]
	if !ok {
		return nil, ErrContextNotFound
	}

	return execCtx.Clone(), nil
}

func (s *MemoryStore) List(_ context.Context) ([]*models.ExecutionContext, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := make([]*models.ExecutionContext, 0, len(s.contexts))
	for _, execCtx := range s.contexts {
		all = append(all, execCtx.Clone())
	}

	return all, nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.contexts, id)

	return nil
}
