package history

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"kobold-gateway/internal/models"
)

// FileStore keeps each history in <dir>/<id>.json. The directory is created
// on the first save.
type FileStore struct {
	dir string
}

// NewFileStore returns a store rooted at dir.
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

func (s *FileStore) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

// Load reads the history for id.
func (s *FileStore) Load(ctx context.Context, id string) (models.History, error) {
	if err := ValidateID(id); err != nil {
		return models.History{}, err
	}
	if err := ctx.Err(); err != nil {
		return models.History{}, err
	}

	data, err := os.ReadFile(s.path(id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return empty(id), nil
		}
		return models.History{}, fmt.Errorf("read history %q: %w", id, err)
	}
	return decode(id, data)
}

// Save writes h, replacing any previous document for the same id.
func (s *FileStore) Save(ctx context.Context, h models.History) error {
	if err := ValidateID(h.ID); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := encode(h)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create history directory: %w", err)
	}
	if err := os.WriteFile(s.path(h.ID), data, 0o644); err != nil {
		return fmt.Errorf("write history %q: %w", h.ID, err)
	}
	return nil
}
