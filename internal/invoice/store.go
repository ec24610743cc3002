package invoice

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// ArtifactStore persists rendered documents and returns a reference to them.
type ArtifactStore interface {
	Save(ctx context.Context, name string, data []byte) (string, error)
}

type FileStore struct {
	dir string
}

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create invoice dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Save writes through a temp file so a crash never leaves a partial invoice behind.
func (s *FileStore) Save(_ context.Context, name string, data []byte) (string, error) {
	final := filepath.Join(s.dir, filepath.Base(name))

	tmp, err := os.CreateTemp(s.dir, ".invoice-*")
	if err != nil {
		return "", fmt.Errorf("create temp invoice: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write invoice: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close invoice: %w", err)
	}
	if err := os.Rename(tmp.Name(), final); err != nil {
		return "", fmt.Errorf("store invoice: %w", err)
	}
	return final, nil
}
