package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
)

// LocalStorage implements Storage interface for a local corpus directory
type LocalStorage struct {
	basePath string
}

// NewLocalStorage creates a new local storage instance
func NewLocalStorage(basePath string) (*LocalStorage, error) {
	info, err := os.Stat(basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open corpus directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("corpus path is not a directory: %s", basePath)
	}

	return &LocalStorage{
		basePath: basePath,
	}, nil
}

// List returns the corpus document names, sorted for stable ingestion order
func (s *LocalStorage) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read corpus directory: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	return names, nil
}

// Download retrieves a document from the corpus directory
func (s *LocalStorage) Download(ctx context.Context, name string) (io.ReadCloser, error) {
	fullPath := filepath.Join(s.basePath, filepath.Base(name))

	file, err := os.Open(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("document not found: %s", name)
		}
		return nil, fmt.Errorf("failed to open document: %w", err)
	}

	return file, nil
}
