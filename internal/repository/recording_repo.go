package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/lightnvr/lightnvr/internal/models"
	"gorm.io/gorm"
)

// recordingRepo implements RecordingRepository using GORM.
type recordingRepo struct {
	db *gorm.DB
}

// NewRecordingRepository creates a new RecordingRepository.
func NewRecordingRepository(db *gorm.DB) *recordingRepo {
	return &recordingRepo{db: db}
}

func (r *recordingRepo) Create(ctx context.Context, row *models.RecordingRow) error {
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		return fmt.Errorf("creating recording row: %w", err)
	}
	return nil
}

func (r *recordingRepo) GetByID(ctx context.Context, id models.ULID) (*models.RecordingRow, error) {
	var row models.RecordingRow
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting recording row by ID: %w", err)
	}
	return &row, nil
}

func (r *recordingRepo) ListByStream(ctx context.Context, stream string, limit int) ([]*models.RecordingRow, error) {
	var rows []*models.RecordingRow
	q := r.db.WithContext(ctx).Where("stream = ?", stream).Order("wall_start ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("listing recording rows for stream %s: %w", stream, err)
	}
	return rows, nil
}

func (r *recordingRepo) MarkClosed(ctx context.Context, id models.ULID, wallEnd time.Time, sizeBytes int64) error {
	updates := map[string]any{
		"wall_end":   wallEnd,
		"size_bytes": sizeBytes,
		"open":       false,
	}
	if err := r.db.WithContext(ctx).Model(&models.RecordingRow{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		return fmt.Errorf("closing recording row: %w", err)
	}
	return nil
}

func (r *recordingRepo) SetHasDetection(ctx context.Context, id models.ULID) error {
	if err := r.db.WithContext(ctx).Model(&models.RecordingRow{}).
		Where("id = ?", id).
		Update("has_detection", true).Error; err != nil {
		return fmt.Errorf("setting has_detection: %w", err)
	}
	return nil
}

func (r *recordingRepo) UsedBytes(ctx context.Context) (int64, error) {
	var total int64
	if err := r.db.WithContext(ctx).Model(&models.RecordingRow{}).
		Where("open = ?", false).
		Select("COALESCE(SUM(size_bytes), 0)").
		Scan(&total).Error; err != nil {
		return 0, fmt.Errorf("summing used bytes: %w", err)
	}
	return total, nil
}

func (r *recordingRepo) ExpiredBefore(ctx context.Context, cutoff time.Time, limit int) ([]*models.RecordingRow, error) {
	var rows []*models.RecordingRow
	q := r.db.WithContext(ctx).
		Where("open = ? AND wall_end < ?", false, cutoff).
		Order("wall_end ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("listing expired recording rows: %w", err)
	}
	return rows, nil
}

// ExpiredBeforeForStream returns stream's closed rows whose wall_end is
// before cutoff, ordered by wall_end ascending.
func (r *recordingRepo) ExpiredBeforeForStream(ctx context.Context, stream string, cutoff time.Time, limit int) ([]*models.RecordingRow, error) {
	var rows []*models.RecordingRow
	q := r.db.WithContext(ctx).
		Where("stream = ? AND open = ? AND wall_end < ?", stream, false, cutoff).
		Order("wall_end ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("listing expired recording rows for stream %s: %w", stream, err)
	}
	return rows, nil
}

// OldestClosed returns closed rows ordered by wall_end ascending. The
// caller (RetentionEngine) breaks ties using each stream's
// storage_priority, since that field lives on StreamConfig rather than
// the recording index.
func (r *recordingRepo) OldestClosed(ctx context.Context, limit int) ([]*models.RecordingRow, error) {
	var rows []*models.RecordingRow
	q := r.db.WithContext(ctx).
		Where("open = ?", false).
		Order("wall_end ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("listing oldest closed recording rows: %w", err)
	}
	return rows, nil
}

// DeleteRow hard-deletes the index row. The caller unlinks the backing
// file only after this call returns successfully (two-phase delete).
func (r *recordingRepo) DeleteRow(ctx context.Context, id models.ULID) error {
	if err := r.db.WithContext(ctx).Unscoped().Where("id = ?", id).Delete(&models.RecordingRow{}).Error; err != nil {
		return fmt.Errorf("deleting recording row: %w", err)
	}
	return nil
}

func (r *recordingRepo) AllFilePaths(ctx context.Context) (map[string]struct{}, error) {
	var paths []string
	if err := r.db.WithContext(ctx).Model(&models.RecordingRow{}).Pluck("file_path", &paths).Error; err != nil {
		return nil, fmt.Errorf("listing recording file paths: %w", err)
	}
	set := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		set[p] = struct{}{}
	}
	return set, nil
}

var _ RecordingRepository = (*recordingRepo)(nil)
