package artifacts

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

// LocalStore implements Store on the local filesystem. Artifacts live
// under basePath/modelID/version/model.bin.
type LocalStore struct {
	logger   *logrus.Logger
	basePath string
}

// NewLocalStore creates a new local artifact store
func NewLocalStore(basePath string, logger *logrus.Logger) (*LocalStore, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create artifact directory: %w", err)
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &LocalStore{
		logger:   logger,
		basePath: basePath,
	}, nil
}

// Put stores an artifact and returns its path as the reference
func (ls *LocalStore) Put(ctx context.Context, modelID, version string, artifact io.Reader) (string, error) {
	versionDir := filepath.Join(ls.basePath, modelID, version)
	if err := os.MkdirAll(versionDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create version directory: %w", err)
	}

	ref := filepath.Join(versionDir, "model.bin")
	file, err := os.Create(ref)
	if err != nil {
		return "", fmt.Errorf("failed to create artifact file: %w", err)
	}
	defer file.Close()

	if _, err := io.Copy(file, artifact); err != nil {
		return "", fmt.Errorf("failed to store artifact: %w", err)
	}

	ls.logger.WithFields(logrus.Fields{
		"model_id": modelID,
		"version":  version,
		"ref":      ref,
	}).Info("Stored model artifact")

	return ref, nil
}

// Fetch returns the artifact bytes for a reference
func (ls *LocalStore) Fetch(ctx context.Context, ref string) ([]byte, error) {
	data, err := os.ReadFile(ref)
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact: %w", err)
	}
	return data, nil
}

// Delete removes a stored artifact and any empty parent directories
func (ls *LocalStore) Delete(ctx context.Context, ref string) error {
	if err := os.Remove(ref); err != nil {
		return fmt.Errorf("failed to delete artifact: %w", err)
	}

	dir := filepath.Dir(ref)
	for dir != ls.basePath {
		if err := os.Remove(dir); err != nil {
			break // directory not empty
		}
		dir = filepath.Dir(dir)
	}

	ls.logger.WithField("ref", ref).Info("Deleted model artifact")
	return nil
}

// Ping verifies the artifact directory is accessible
func (ls *LocalStore) Ping(ctx context.Context) error {
	if _, err := os.Stat(ls.basePath); err != nil {
		return fmt.Errorf("artifact directory unavailable: %w", err)
	}
	return nil
}

// Exists reports whether the reference resolves to a stored artifact
func (ls *LocalStore) Exists(ctx context.Context, ref string) (bool, error) {
	_, err := os.Stat(ref)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}
