package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cinegen/internal/generation"
)

// FileStore persists generated assets onto the local filesystem. The batch
// core only produces in-memory bytes; this is the CLI's way of handing them
// to the user.
type FileStore struct {
	basePath string
}

// NewFileStore initializes a FileStore rooted at basePath.
func NewFileStore(basePath string) (*FileStore, error) {
	basePath = strings.TrimSpace(basePath)
	if basePath == "" {
		return nil, errors.New("storage: base path is required")
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("storage: ensure base path: %w", err)
	}
	return &FileStore{basePath: basePath}, nil
}

// BasePath returns the configured root directory.
func (s *FileStore) BasePath() string {
	if s == nil {
		return ""
	}
	return s.basePath
}

// Write persists the provided bytes at the given relative key and returns the
// canonicalized storage key. Keys are cleaned to prevent directory traversal.
func (s *FileStore) Write(ctx context.Context, key string, data []byte) (string, error) {
	if s == nil {
		return "", errors.New("storage: no store configured")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	cleanKey, err := sanitizeKey(key)
	if err != nil {
		return "", err
	}
	fullPath := filepath.Join(s.basePath, filepath.FromSlash(cleanKey))
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return "", fmt.Errorf("storage: ensure directory: %w", err)
	}
	if err := os.WriteFile(fullPath, data, 0o644); err != nil {
		return "", fmt.Errorf("storage: write file: %w", err)
	}
	return cleanKey, nil
}

// WriteRun lays a finished run out under <base>/<runID>/: one scene_<n>.png
// per succeeded job plus the combined archive. It returns the written keys.
// Runs with zero successes yield only an error from the archive step.
func (s *FileStore) WriteRun(ctx context.Context, runID string, result *generation.Result) ([]string, error) {
	if result == nil {
		return nil, errors.New("storage: result is required")
	}
	var keys []string
	for _, job := range result.Succeeded() {
		key, err := s.Write(ctx, filepath.ToSlash(filepath.Join(runID, generation.SceneFilename(job.SceneNumber))), job.Image)
		if err != nil {
			return keys, err
		}
		keys = append(keys, key)
	}
	archive, err := generation.Package(result)
	if err != nil {
		return keys, err
	}
	key, err := s.Write(ctx, filepath.ToSlash(filepath.Join(runID, generation.ArchiveName)), archive)
	if err != nil {
		return keys, err
	}
	return append(keys, key), nil
}

// sanitizeKey normalizes a key and prevents escaping the storage root.
func sanitizeKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", errors.New("storage: key is required")
	}
	key = strings.ReplaceAll(key, "\\", "/")
	key = strings.TrimPrefix(key, "./")
	key = strings.TrimLeft(key, "/")
	cleaned := filepath.Clean(key)
	cleaned = strings.ReplaceAll(cleaned, "\\", "/")
	if cleaned == "." || strings.HasPrefix(cleaned, "../") {
		return "", errors.New("storage: invalid key")
	}
	return cleaned, nil
}
