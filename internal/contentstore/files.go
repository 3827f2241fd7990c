package contentstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"loom/internal/config"
	"loom/internal/services"
)

// Store is a file-backed content store. Segment text and stage artifacts live
// under the configured content directory, addressed by job, stage, and
// index/unit. Writes go through a temp file plus rename so a crashed write
// never leaves a partially written artifact behind.
type Store struct {
	root string
}

// New creates a content store rooted at the configured content directory.
func New(cfg *config.Config) (*Store, error) {
	root := strings.TrimSpace(cfg.Paths.ContentDir)
	if root == "" {
		return nil, services.Wrap(services.ErrConfiguration, "content", "new", "content directory is not configured", nil)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create content root: %w", err)
	}
	return &Store{root: root}, nil
}

// Root returns the directory backing the store.
func (s *Store) Root() string {
	return s.root
}

// PutSegmentText stores one segment's text and returns its content reference.
func (s *Store) PutSegmentText(ctx context.Context, jobID string, index int, text string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	ref := segmentRef(jobID, index)
	if err := s.write(ref, []byte(text)); err != nil {
		return "", fmt.Errorf("put segment text: %w", err)
	}
	return ref, nil
}

// GetSegmentText loads one segment's text.
func (s *Store) GetSegmentText(ctx context.Context, jobID string, index int) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	data, err := s.read(segmentRef(jobID, index))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// PutStageArtifact stores one stage's output blob for a unit.
func (s *Store) PutStageArtifact(ctx context.Context, jobID, stage string, unit int, blob []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(stage) == "" {
		return services.Wrap(services.ErrValidation, "content", "put-artifact", "stage name is required", nil)
	}
	if err := s.write(artifactRef(jobID, stage, unit), blob); err != nil {
		return fmt.Errorf("put stage artifact: %w", err)
	}
	return nil
}

// GetStageArtifact loads one stage's output blob for a unit.
func (s *Store) GetStageArtifact(ctx context.Context, jobID, stage string, unit int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.read(artifactRef(jobID, stage, unit))
}

func (s *Store) write(ref string, data []byte) error {
	target := filepath.Join(s.root, filepath.FromSlash(ref))
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("create content dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write content: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close content file: %w", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("finalize content file: %w", err)
	}
	return nil
}

func (s *Store) read(ref string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(s.root, filepath.FromSlash(ref)))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, services.Wrap(services.ErrNotFound, "content", "read", ref, nil)
		}
		return nil, fmt.Errorf("read content %s: %w", ref, err)
	}
	return data, nil
}

func segmentRef(jobID string, index int) string {
	return fmt.Sprintf("%s/segments/%06d.txt", jobID, index)
}

func artifactRef(jobID, stage string, unit int) string {
	return fmt.Sprintf("%s/%s/%06d.json", jobID, stage, unit)
}
