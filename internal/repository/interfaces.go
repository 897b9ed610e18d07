// Package repository defines data access interfaces for the recorder's
// index entities. All database access goes through these interfaces,
// keeping the rest of the tree free of GORM-specific query building.
package repository

import (
	"context"
	"time"

	"github.com/lightnvr/lightnvr/internal/models"
)

// StreamConfigRepository defines operations for camera configuration
// persistence. The stream_configs table is the source of truth for the
// set of configured cameras (spec.md §9, Open Question 1).
type StreamConfigRepository interface {
	Create(ctx context.Context, cfg *models.StreamConfig) error
	GetByID(ctx context.Context, id models.ULID) (*models.StreamConfig, error)
	GetByName(ctx context.Context, name string) (*models.StreamConfig, error)
	GetAll(ctx context.Context) ([]*models.StreamConfig, error)
	GetEnabled(ctx context.Context) ([]*models.StreamConfig, error)
	Update(ctx context.Context, cfg *models.StreamConfig) error
	Delete(ctx context.Context, id models.ULID) error
}

// RecordingRepository defines operations for the MP4 recording index.
type RecordingRepository interface {
	Create(ctx context.Context, row *models.RecordingRow) error
	GetByID(ctx context.Context, id models.ULID) (*models.RecordingRow, error)
	// ListByStream returns rows for a stream ordered by wall_start ascending.
	ListByStream(ctx context.Context, stream string, limit int) ([]*models.RecordingRow, error)
	// MarkClosed finalizes an open row with its end time and final size.
	MarkClosed(ctx context.Context, id models.ULID, wallEnd time.Time, sizeBytes int64) error
	// SetHasDetection sets the has_detection flag on row id.
	SetHasDetection(ctx context.Context, id models.ULID) error
	// UsedBytes sums size_bytes across all non-deleted, non-open rows.
	UsedBytes(ctx context.Context) (int64, error)
	// ExpiredBefore returns closed rows whose wall_end is before cutoff,
	// oldest first.
	ExpiredBefore(ctx context.Context, cutoff time.Time, limit int) ([]*models.RecordingRow, error)
	// ExpiredBeforeForStream is ExpiredBefore scoped to one stream, used
	// by the retention engine's per-stream tiered age sweep.
	ExpiredBeforeForStream(ctx context.Context, stream string, cutoff time.Time, limit int) ([]*models.RecordingRow, error)
	// OldestClosed returns closed rows ordered by wall_end ascending,
	// for quota-driven reclamation.
	OldestClosed(ctx context.Context, limit int) ([]*models.RecordingRow, error)
	// DeleteRow removes the index row. Callers unlink the file
	// themselves after this commits (two-phase delete, spec §4.7).
	DeleteRow(ctx context.Context, id models.ULID) error
	// AllFilePaths returns every non-deleted row's file path, used by the
	// weekly orphan sweep to distinguish indexed files from orphans.
	AllFilePaths(ctx context.Context) (map[string]struct{}, error)
}

// DetectionRepository defines operations for detection label persistence.
type DetectionRepository interface {
	Create(ctx context.Context, label *models.DetectionLabel) error
	// ExistsInWindow reports whether any label exists for stream within
	// [start, end).
	ExistsInWindow(ctx context.Context, stream string, start, end time.Time) (bool, error)
	// ListInWindow returns every label for stream within [start, end).
	ListInWindow(ctx context.Context, stream string, start, end time.Time) ([]*models.DetectionLabel, error)
	// DeleteOlderThan prunes labels that fall outside any retained
	// recording window, invoked by the retention sweep.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
