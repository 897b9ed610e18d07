package repository

import (
	"context"
	"fmt"

	"github.com/lightnvr/lightnvr/internal/models"
	"gorm.io/gorm"
)

// streamConfigRepo implements StreamConfigRepository using GORM.
type streamConfigRepo struct {
	db *gorm.DB
}

// NewStreamConfigRepository creates a new StreamConfigRepository.
func NewStreamConfigRepository(db *gorm.DB) *streamConfigRepo {
	return &streamConfigRepo{db: db}
}

func (r *streamConfigRepo) Create(ctx context.Context, cfg *models.StreamConfig) error {
	if err := r.db.WithContext(ctx).Create(cfg).Error; err != nil {
		return fmt.Errorf("creating stream config: %w", err)
	}
	return nil
}

func (r *streamConfigRepo) GetByID(ctx context.Context, id models.ULID) (*models.StreamConfig, error) {
	var cfg models.StreamConfig
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&cfg).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting stream config by ID: %w", err)
	}
	return &cfg, nil
}

func (r *streamConfigRepo) GetByName(ctx context.Context, name string) (*models.StreamConfig, error) {
	var cfg models.StreamConfig
	if err := r.db.WithContext(ctx).Where("name = ?", name).First(&cfg).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting stream config by name: %w", err)
	}
	return &cfg, nil
}

func (r *streamConfigRepo) GetAll(ctx context.Context) ([]*models.StreamConfig, error) {
	var rows []*models.StreamConfig
	if err := r.db.WithContext(ctx).Order("priority DESC, name ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("getting all stream configs: %w", err)
	}
	return rows, nil
}

func (r *streamConfigRepo) GetEnabled(ctx context.Context) ([]*models.StreamConfig, error) {
	var rows []*models.StreamConfig
	if err := r.db.WithContext(ctx).
		Where("enabled = ? OR enabled IS NULL", true).
		Order("priority DESC, name ASC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("getting enabled stream configs: %w", err)
	}
	return rows, nil
}

func (r *streamConfigRepo) Update(ctx context.Context, cfg *models.StreamConfig) error {
	if err := r.db.WithContext(ctx).Save(cfg).Error; err != nil {
		return fmt.Errorf("updating stream config: %w", err)
	}
	return nil
}

// Delete hard-deletes a stream config so a re-created camera with the
// same name doesn't collide with the unique index on a soft-deleted row.
func (r *streamConfigRepo) Delete(ctx context.Context, id models.ULID) error {
	if err := r.db.WithContext(ctx).Unscoped().Where("id = ?", id).Delete(&models.StreamConfig{}).Error; err != nil {
		return fmt.Errorf("deleting stream config: %w", err)
	}
	return nil
}

var _ StreamConfigRepository = (*streamConfigRepo)(nil)
