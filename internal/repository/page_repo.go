package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/biliarchive/biliarchive/internal/models"
)

// pageRepo implements PageRepository using GORM.
type pageRepo struct {
	db *gorm.DB
}

// NewPageRepository creates a new PageRepository.
func NewPageRepository(db *gorm.DB) *pageRepo {
	return &pageRepo{db: db}
}

func (r *pageRepo) Create(ctx context.Context, page *models.Page) error {
	if err := r.db.WithContext(ctx).Create(page).Error; err != nil {
		return fmt.Errorf("creating page: %w", err)
	}
	return nil
}

func (r *pageRepo) CreateBatch(ctx context.Context, pages []*models.Page) error {
	if len(pages) == 0 {
		return nil
	}
	if err := r.db.WithContext(ctx).Create(pages).Error; err != nil {
		return fmt.Errorf("creating page batch: %w", err)
	}
	return nil
}

func (r *pageRepo) GetByVideoID(ctx context.Context, videoID models.ULID) ([]*models.Page, error) {
	var pages []*models.Page
	if err := r.db.WithContext(ctx).Where("video_id = ?", videoID).Order("page_index ASC").Find(&pages).Error; err != nil {
		return nil, fmt.Errorf("getting pages by video id: %w", err)
	}
	return pages, nil
}

// allLanesSucceededStatus is the download_status value when all five page
// lanes (video stream, audio stream, muxed container, subtitle, cover) have
// their succeeded bit set and no attempts recorded.
const allLanesSucceededStatus = uint32(0x8) | uint32(0x8)<<4 | uint32(0x8)<<8 | uint32(0x8)<<12 | uint32(0x8)<<16

// GetRunnable returns a coarse candidate set of pages that are not fully
// succeeded, oldest first, bounded by limit. This is a pre-filter: pages
// with a permanently-failed lane are still excluded from real work by the
// pipeline's own per-lane IsRunnable checks (see internal/statemachine),
// since that determination depends on which lanes are terminal-failed vs.
// terminal-succeeded, not just "not all succeeded".
func (r *pageRepo) GetRunnable(ctx context.Context, limit int) ([]*models.Page, error) {
	if limit <= 0 {
		limit = 100
	}
	var pages []*models.Page
	err := r.db.WithContext(ctx).
		Where("download_status != ?", allLanesSucceededStatus).
		Order("created_at ASC").
		Limit(limit).
		Find(&pages).Error
	if err != nil {
		return nil, fmt.Errorf("getting runnable pages: %w", err)
	}
	return pages, nil
}

func (r *pageRepo) UpdateDownloadStatus(ctx context.Context, id models.ULID, status uint32) error {
	if err := r.db.WithContext(ctx).Model(&models.Page{}).Where("id = ?", id).Update("download_status", status).Error; err != nil {
		return fmt.Errorf("updating page download status: %w", err)
	}
	return nil
}

func (r *pageRepo) Update(ctx context.Context, page *models.Page) error {
	if err := r.db.WithContext(ctx).Save(page).Error; err != nil {
		return fmt.Errorf("updating page: %w", err)
	}
	return nil
}

var _ PageRepository = (*pageRepo)(nil)
