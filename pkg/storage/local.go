package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

const metaDir = ".meta"

// LocalArchive implements Archive on the local filesystem:
// <base>/<owner>/<session>/<id8>_<name> plus a JSON sidecar per file.
type LocalArchive struct {
	basePath string
	now      func() time.Time
}

// NewLocalArchive creates the base directory when missing.
func NewLocalArchive(basePath string) (*LocalArchive, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &LocalArchive{basePath: basePath, now: time.Now}, nil
}

// Put stores r and its metadata.
func (s *LocalArchive) Put(ctx context.Context, owner, session uuid.UUID, kind ArtifactKind, name, contentType string, r io.Reader) (*FileInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fileID := uuid.New()

	sessionDir := filepath.Join(s.basePath, owner.String(), session.String())
	if err := os.MkdirAll(sessionDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create session directory: %w", err)
	}

	stored := filepath.Join(session.String(), fmt.Sprintf("%s_%s", fileID.String()[:8], sanitizeFilename(name)))
	fullPath := filepath.Join(s.basePath, owner.String(), stored)

	f, err := os.Create(fullPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}
	size, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(fullPath)
		return nil, fmt.Errorf("failed to write file: %w", err)
	}

	info := &FileInfo{
		ID:          fileID,
		SessionID:   session,
		Kind:        kind,
		Name:        name,
		Size:        size,
		ContentType: contentType,
		Path:        stored,
		CreatedAt:   s.now().UTC(),
	}
	if err := s.saveMetadata(owner, info); err != nil {
		_ = os.Remove(fullPath)
		return nil, err
	}
	return info, nil
}

// Open returns the content of a stored file.
func (s *LocalArchive) Open(_ context.Context, owner, fileID uuid.UUID) (io.ReadCloser, *FileInfo, error) {
	info, err := s.info(owner, fileID)
	if err != nil {
		return nil, nil, err
	}
	f, err := os.Open(filepath.Join(s.basePath, owner.String(), info.Path))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open file: %w", err)
	}
	return f, info, nil
}

// List returns the owner's files, oldest first.
func (s *LocalArchive) List(_ context.Context, owner uuid.UUID) ([]*FileInfo, error) {
	dir := filepath.Join(s.basePath, owner.String(), metaDir)
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return []*FileInfo{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list metadata: %w", err)
	}

	files := make([]*FileInfo, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		id, err := uuid.Parse(strings.TrimSuffix(entry.Name(), ".json"))
		if err != nil {
			continue
		}
		info, err := s.info(owner, id)
		if err != nil {
			continue
		}
		files = append(files, info)
	}
	sort.Slice(files, func(i, j int) bool {
		return files[i].CreatedAt.Before(files[j].CreatedAt)
	})
	return files, nil
}

// Delete removes a file and its metadata.
func (s *LocalArchive) Delete(_ context.Context, owner, fileID uuid.UUID) error {
	info, err := s.info(owner, fileID)
	if err != nil {
		return err
	}
	if err := os.Remove(filepath.Join(s.basePath, owner.String(), info.Path)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	_ = os.Remove(s.metaPath(owner, fileID))
	return nil
}

// PurgeOlderThan walks every owner directory.
func (s *LocalArchive) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	owners, err := os.ReadDir(s.basePath)
	if err != nil {
		return 0, fmt.Errorf("failed to list owners: %w", err)
	}

	removed := 0
	for _, o := range owners {
		owner, err := uuid.Parse(o.Name())
		if err != nil || !o.IsDir() {
			continue
		}
		files, err := s.List(ctx, owner)
		if err != nil {
			return removed, err
		}
		for _, f := range files {
			if !f.CreatedAt.Before(cutoff) {
				continue
			}
			if err := ctx.Err(); err != nil {
				return removed, err
			}
			if err := s.Delete(ctx, owner, f.ID); err != nil {
				return removed, err
			}
			removed++
		}
	}
	return removed, nil
}

func (s *LocalArchive) info(owner, fileID uuid.UUID) (*FileInfo, error) {
	data, err := os.ReadFile(s.metaPath(owner, fileID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, fileID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata: %w", err)
	}
	var info FileInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("failed to parse metadata: %w", err)
	}
	return &info, nil
}

func (s *LocalArchive) metaPath(owner, fileID uuid.UUID) string {
	return filepath.Join(s.basePath, owner.String(), metaDir, fileID.String()+".json")
}

func (s *LocalArchive) saveMetadata(owner uuid.UUID, info *FileInfo) error {
	dir := filepath.Join(s.basePath, owner.String(), metaDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create metadata directory: %w", err)
	}
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if err := os.WriteFile(s.metaPath(owner, info.ID), data, 0o644); err != nil {
		return fmt.Errorf("failed to write metadata: %w", err)
	}
	return nil
}

// sanitizeFilename removes unsafe characters from filenames
func sanitizeFilename(name string) string {
	replacer := strings.NewReplacer(
		"/", "_",
		"\\", "_",
		"..", "_",
		":", "_",
		"*", "_",
		"?", "_",
		"\"", "_",
		"<", "_",
		">", "_",
		"|", "_",
	)
	return replacer.Replace(name)
}
