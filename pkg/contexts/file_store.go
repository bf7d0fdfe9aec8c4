package contexts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dukex/callchain/pkg/models"
)

// FileStore keeps one JSON document per context under root/execution_contexts.
type FileStore struct {
	root string
}

func NewFileStore(root string) *FileStore {
	return &FileStore{root: root}
}

func (s *FileStore) dir() string {
	return filepath.Join(s.root, "execution_contexts")
}

// validateID rejects IDs that could escape the store directory.
func validateID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty", ErrInvalidContextID)
	}

	if strings.Contains(id, "..") || strings.ContainsAny(id, `/\`) {
		return fmt.Errorf("%w: %s", ErrInvalidContextID, id)
	}

	return nil
}

func (s *FileStore) Save(_ context.Context, execCtx *models.ExecutionContext) error {
	if err := validateID(execCtx.ID); err != nil {
		return err
	}

	err := os.MkdirAll(s.dir(), 0750)
	if err != nil {
		return fmt.Errorf("failed to create execution contexts directory: %w", err)
	}

	data, err := json.Marshal(execCtx)
	if err != nil {
		return fmt.Errorf("failed to marshal execution context %s: %w", execCtx.ID, err)
	}

	err = os.WriteFile(filepath.Join(s.dir(), execCtx.ID+".json"), data, 0600)
	if err != nil {
		return fmt.Errorf("failed to write execution context %s: %w", execCtx.ID, err)
	}

	return nil
}

func (s *FileStore) Load(_ context.Context, id string) (*models.ExecutionContext, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filepath.Join(s.dir(), id+".json")) // #nosec G304 -- id is validated
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrContextNotFound, id)
		}

		return nil, fmt.Errorf("failed to read execution context %s: %w", id, err)
	}

	var execCtx models.ExecutionContext

	err = json.Unmarshal(data, &execCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal execution context %s: %w", id, err)
	}

	return &execCtx, nil
}

func (s *FileStore) List(ctx context.Context) ([]*models.ExecutionContext, error) {
	entries, err := os.ReadDir(s.dir())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []*models.ExecutionContext{}, nil
		}

		return nil, fmt.Errorf("failed to read execution contexts directory: %w", err)
	}

	all := make([]*models.ExecutionContext, 0, len(entries))

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		execCtx, err := s.Load(ctx, strings.TrimSuffix(entry.Name(), ".json"))
		if err != nil {
			// Skip invalid files
			continue
		}

		all = append(all, execCtx)
	}

	return all, nil
}

func (s *FileStore) Delete(_ context.Context, id string) error {
	if err := validateID(id); err != nil {
		return err
	}

	err := os.Remove(filepath.Join(s.dir(), id+".json"))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete execution context %s: %w", id, err)
	}

	return nil
}
