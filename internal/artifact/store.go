// Package artifact stores finished presentation files on disk and expires
// them after a retention window.
package artifact

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cinedeck/cinedeck/internal/observability"
)

// Store writes deck files under a single directory. References returned by
// Save are opaque file names scoped to that directory.
type Store struct {
	dir       string
	retention time.Duration
	logger    *observability.Logger
}

// NewStore creates the artifact directory if needed.
func NewStore(dir string, retention time.Duration, logger *observability.Logger) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("artifact directory not configured")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact dir: %w", err)
	}
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	return &Store{dir: dir, retention: retention, logger: logger.WithComponent("artifact")}, nil
}

// Save persists the deck bytes and returns its reference.
func (s *Store) Save(taskID string, data []byte) (string, error) {
	name := fmt.Sprintf("%s_%s.pptx", taskID, uuid.NewString()[:8])
	path := filepath.Join(s.dir, name)

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("write artifact: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("finalize artifact: %w", err)
	}

	s.logger.Info().Str("ref", name).Int("bytes", len(data)).Msg("artifact saved")
	return name, nil
}

// Open returns a reader for a stored artifact reference.
func (s *Store) Open(ref string) (io.ReadCloser, error) {
	path, err := s.resolve(ref)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open artifact: %w", err)
	}
	return f, nil
}

// Delete removes a stored artifact.
func (s *Store) Delete(ref string) error {
	path, err := s.resolve(ref)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete artifact: %w", err)
	}
	return nil
}

// resolve validates the reference stays inside the store directory.
func (s *Store) resolve(ref string) (string, error) {
	if ref == "" || strings.Contains(ref, "/") || strings.Contains(ref, "\\") || strings.Contains(ref, "..") {
		return "", fmt.Errorf("invalid artifact reference %q", ref)
	}
	return filepath.Join(s.dir, ref), nil
}

// Sweep removes artifacts older than the retention window and returns how
// many were deleted.
func (s *Store) Sweep() (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("read artifact dir: %w", err)
	}

	cutoff := time.Now().Add(-s.retention)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(s.dir, entry.Name())); err == nil {
				removed++
			}
		}
	}

	if removed > 0 {
		s.logger.Info().Int("removed", removed).Msg("artifact sweep")
	}
	return removed, nil
}

// RunSweeper sweeps on an interval until stop is closed.
func (s *Store) RunSweeper(interval time.Duration, stop <-chan struct{}) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if _, err := s.Sweep(); err != nil {
				s.logger.Warn().Err(err).Msg("artifact sweep failed")
			}
		}
	}
}
