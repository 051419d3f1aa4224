package sos

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/trafficwatch/sos-assistant/backend/internal/model/recording"
)

// LocalStore mirrors finished artifacts to disk under a base directory.
type LocalStore struct {
	basePath string
}

// NewLocalStore creates the base directory if missing.
func NewLocalStore(basePath string) (*LocalStore, error) {
	if strings.TrimSpace(basePath) == "" {
		return nil, fmt.Errorf("storage base path is required")
	}
	if err := os.MkdirAll(basePath, 0o700); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &LocalStore{basePath: basePath}, nil
}

// Path is where rec's artifact lives on disk.
func (s *LocalStore) Path(rec recording.Recording) string {
	return filepath.Join(s.basePath, safeSegment(rec.UserID, "anonymous"), safeSegment(rec.ExportFilename(), "recording"))
}

// Save writes the artifact under a user-specific folder.
func (s *LocalStore) Save(rec recording.Recording) error {
	if !rec.HasArtifact() {
		return nil
	}
	target := s.Path(rec)
	if err := os.MkdirAll(filepath.Dir(target), 0o700); err != nil {
		return fmt.Errorf("create user dir: %w", err)
	}
	if err := os.WriteFile(target, rec.Artifact, 0o600); err != nil {
		return fmt.Errorf("write artifact: %w", err)
	}
	return nil
}

// Delete removes the stored artifact; a missing file is not an error.
func (s *LocalStore) Delete(rec recording.Recording) error {
	err := os.Remove(s.Path(rec))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove artifact: %w", err)
	}
	return nil
}

func safeSegment(name, fallback string) string {
	name = filepath.Base(strings.TrimSpace(name))
	name = strings.ReplaceAll(name, string(os.PathSeparator), "_")
	if name == "" || name == "." || name == ".." {
		return fallback
	}
	return name
}
