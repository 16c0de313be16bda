// Package storage archives import artifacts (raw uploads, mapped snapshots,
// failed-row exports and templates) per catalog owner.
package storage

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned for unknown file ids.
var ErrNotFound = errors.New("file not found")

// ArtifactKind tags what a stored file is.
type ArtifactKind string

const (
	KindRawUpload     ArtifactKind = "raw"
	KindRawSnapshot   ArtifactKind = "raw_csv"
	KindMappedRecords ArtifactKind = "mapped"
	KindFailedRecords ArtifactKind = "failed"
	KindReport        ArtifactKind = "report"
	KindTemplate      ArtifactKind = "template"
)

// FileInfo contains metadata about a stored file
type FileInfo struct {
	ID          uuid.UUID    `json:"id"`
	SessionID   uuid.UUID    `json:"session_id"`
	Kind        ArtifactKind `json:"kind"`
	Name        string       `json:"name"`
	Size        int64        `json:"size"`
	ContentType string       `json:"content_type"`
	Path        string       `json:"path"`
	CreatedAt   time.Time    `json:"created_at"`
}

// Archive stores session artifacts under an owner.
type Archive interface {
	Put(ctx context.Context, owner, session uuid.UUID, kind ArtifactKind, name, contentType string, r io.Reader) (*FileInfo, error)
	Open(ctx context.Context, owner, fileID uuid.UUID) (io.ReadCloser, *FileInfo, error)
	List(ctx context.Context, owner uuid.UUID) ([]*FileInfo, error)
	Delete(ctx context.Context, owner, fileID uuid.UUID) error
	// PurgeOlderThan removes every artifact created before cutoff, across
	// owners, and reports how many were removed.
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}
