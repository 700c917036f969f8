package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/biliarchive/biliarchive/internal/models"
)

// sourceRepo implements SourceRepository using GORM.
type sourceRepo struct {
	db *gorm.DB
}

// NewSourceRepository creates a new SourceRepository.
func NewSourceRepository(db *gorm.DB) *sourceRepo {
	return &sourceRepo{db: db}
}

func (r *sourceRepo) Create(ctx context.Context, source *models.Source) error {
	if err := r.db.WithContext(ctx).Create(source).Error; err != nil {
		return fmt.Errorf("creating source: %w", err)
	}
	return nil
}

func (r *sourceRepo) GetByID(ctx context.Context, id models.ULID) (*models.Source, error) {
	var source models.Source
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&source).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting source by id: %w", err)
	}
	return &source, nil
}

func (r *sourceRepo) GetByKey(ctx context.Context, variant models.SourceVariant, identityKey string) (*models.Source, error) {
	var source models.Source
	err := r.db.WithContext(ctx).
		Where("variant = ? AND identity_key = ?", variant, identityKey).
		First(&source).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting source by key: %w", err)
	}
	return &source, nil
}

func (r *sourceRepo) GetAll(ctx context.Context) ([]*models.Source, error) {
	var sources []*models.Source
	if err := r.db.WithContext(ctx).Order("created_at ASC").Find(&sources).Error; err != nil {
		return nil, fmt.Errorf("getting all sources: %w", err)
	}
	return sources, nil
}

func (r *sourceRepo) GetEnabled(ctx context.Context) ([]*models.Source, error) {
	var sources []*models.Source
	if err := r.db.WithContext(ctx).Where("enabled = ?", true).Order("created_at ASC").Find(&sources).Error; err != nil {
		return nil, fmt.Errorf("getting enabled sources: %w", err)
	}
	return sources, nil
}

func (r *sourceRepo) Update(ctx context.Context, source *models.Source) error {
	if err := r.db.WithContext(ctx).Save(source).Error; err != nil {
		return fmt.Errorf("updating source: %w", err)
	}
	return nil
}

// UpdateCursor writes a source's scan cursor without touching its other
// columns. Stage A calls it once per run, after the whole descriptor stream
// has been drained, with the latest publish time it saw. The cursor is not
// written between pages.
func (r *sourceRepo) UpdateCursor(ctx context.Context, id models.ULID, cursor string) error {
	result := r.db.WithContext(ctx).Model(&models.Source{}).Where("id = ?", id).Update("cursor", cursor)
	if result.Error != nil {
		return fmt.Errorf("updating source cursor: %w", result.Error)
	}
	return nil
}

func (r *sourceRepo) Delete(ctx context.Context, id models.ULID) error {
	if err := r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Source{}).Error; err != nil {
		return fmt.Errorf("deleting source: %w", err)
	}
	return nil
}

func (r *sourceRepo) Transaction(ctx context.Context, fn func(SourceRepository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&sourceRepo{db: tx})
	})
}

var _ SourceRepository = (*sourceRepo)(nil)
