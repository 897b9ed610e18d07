package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/lightnvr/lightnvr/internal/models"
	"gorm.io/gorm"
)

// detectionRepo implements DetectionRepository using GORM.
type detectionRepo struct {
	db *gorm.DB
}

// NewDetectionRepository creates a new DetectionRepository.
func NewDetectionRepository(db *gorm.DB) *detectionRepo {
	return &detectionRepo{db: db}
}

func (r *detectionRepo) Create(ctx context.Context, label *models.DetectionLabel) error {
	if err := r.db.WithContext(ctx).Create(label).Error; err != nil {
		return fmt.Errorf("creating detection label: %w", err)
	}
	return nil
}

func (r *detectionRepo) ExistsInWindow(ctx context.Context, stream string, start, end time.Time) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.DetectionLabel{}).
		Where("stream = ? AND wall_time >= ? AND wall_time < ?", stream, start, end).
		Count(&count).Error; err != nil {
		return false, fmt.Errorf("checking detection window: %w", err)
	}
	return count > 0, nil
}

func (r *detectionRepo) ListInWindow(ctx context.Context, stream string, start, end time.Time) ([]*models.DetectionLabel, error) {
	var labels []*models.DetectionLabel
	if err := r.db.WithContext(ctx).
		Where("stream = ? AND wall_time >= ? AND wall_time < ?", stream, start, end).
		Order("wall_time ASC").
		Find(&labels).Error; err != nil {
		return nil, fmt.Errorf("listing detection labels in window: %w", err)
	}
	return labels, nil
}

func (r *detectionRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Unscoped().
		Where("wall_time < ?", cutoff).
		Delete(&models.DetectionLabel{})
	if result.Error != nil {
		return 0, fmt.Errorf("pruning detection labels: %w", result.Error)
	}
	return result.RowsAffected, nil
}

var _ DetectionRepository = (*detectionRepo)(nil)
