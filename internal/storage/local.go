package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// LocalStorage writes artifacts under a base path and serves them from a
// public base URL. Single-instance deployments and tests.
type LocalStorage struct {
	basePath string
	baseURL  string
}

// NewLocalStorage creates a new LocalStorage instance.
func NewLocalStorage(basePath, baseURL string) (*LocalStorage, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &LocalStorage{
		basePath: basePath,
		baseURL:  strings.TrimSuffix(baseURL, "/"),
	}, nil
}

func (s *LocalStorage) Store(ctx context.Context, data []byte, fileName, mimeType, ownerID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}

	key := objectKey(ownerID, fileName)
	path := filepath.Join(s.basePath, filepath.FromSlash(key))

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("%w: failed to create owner directory: %v", ErrStorageFailure, err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("%w: failed to write artifact: %v", ErrStorageFailure, err)
	}

	return s.baseURL + "/" + key, nil
}
