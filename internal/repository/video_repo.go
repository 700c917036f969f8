package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/biliarchive/biliarchive/internal/models"
)

// videoRepo implements VideoRepository using GORM.
type videoRepo struct {
	db *gorm.DB
}

// NewVideoRepository creates a new VideoRepository.
func NewVideoRepository(db *gorm.DB) *videoRepo {
	return &videoRepo{db: db}
}

// sourceColumnFor maps a source variant to its owning foreign-key column on
// the videos table (see models.Video's five nullable reference columns).
func sourceColumnFor(variant models.SourceVariant) (string, error) {
	switch variant {
	case models.SourceVariantCollection:
		return "collection_id", nil
	case models.SourceVariantFavorite:
		return "favorite_id", nil
	case models.SourceVariantWatchLater:
		return "watch_later_id", nil
	case models.SourceVariantSubmission:
		return "submission_id", nil
	case models.SourceVariantVideoSource:
		return "video_source_id", nil
	default:
		return "", models.ErrInvalidSourceVariant
	}
}

func (r *videoRepo) Create(ctx context.Context, video *models.Video) error {
	if err := r.db.WithContext(ctx).Create(video).Error; err != nil {
		return fmt.Errorf("creating video: %w", err)
	}
	return nil
}

// UpsertBatch creates or updates videos keyed by platform_id, updating the
// fields a re-scan can change without touching the download_status bitfield
// (that is owned exclusively by the pipeline).
func (r *videoRepo) UpsertBatch(ctx context.Context, videos []*models.Video) error {
	if len(videos) == 0 {
		return nil
	}
	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "platform_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"title", "description", "cover_url", "uploader_id", "uploader_name",
			"uploader_avatar_url", "publish_time", "category_code", "single_page",
			"season_number", "episode_number", "tags", "updated_at",
		}),
	}).Create(videos).Error; err != nil {
		return fmt.Errorf("upserting video batch: %w", err)
	}
	return nil
}

func (r *videoRepo) GetByID(ctx context.Context, id models.ULID) (*models.Video, error) {
	var video models.Video
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&video).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting video by id: %w", err)
	}
	return &video, nil
}

func (r *videoRepo) GetByPlatformID(ctx context.Context, platformID string) (*models.Video, error) {
	var video models.Video
	if err := r.db.WithContext(ctx).Where("platform_id = ?", platformID).First(&video).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting video by platform id: %w", err)
	}
	return &video, nil
}

// GetBySourceID streams every video owned by a source through callback,
// following the teacher's Rows()/ScanRows iteration idiom to avoid loading
// a whole collection into memory at once.
func (r *videoRepo) GetBySourceID(ctx context.Context, sourceVariant models.SourceVariant, sourceID models.ULID, callback func(*models.Video) error) error {
	column, err := sourceColumnFor(sourceVariant)
	if err != nil {
		return err
	}

	rows, err := r.db.WithContext(ctx).
		Model(&models.Video{}).
		Where(column+" = ?", sourceID).
		Order("id ASC").
		Rows()
	if err != nil {
		return fmt.Errorf("querying videos: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var video models.Video
		if err := r.db.ScanRows(rows, &video); err != nil {
			return fmt.Errorf("scanning video row: %w", err)
		}
		if err := callback(&video); err != nil {
			return err
		}
	}
	return rows.Err()
}

// GetRunnable returns videos that have not reached the completed-all state
// and are not excluded, oldest first, bounded by limit. Used by the
// pipeline to pick its next batch of work.
func (r *videoRepo) GetRunnable(ctx context.Context, limit int) ([]*models.Video, error) {
	if limit <= 0 {
		limit = 100
	}
	var videos []*models.Video
	const completedAllBit = uint32(1) << 31
	err := r.db.WithContext(ctx).
		Where("download_status & ? = 0", completedAllBit).
		Where("excluded = ?", false).
		Where("deleted = ?", 0).
		Order("created_at ASC").
		Limit(limit).
		Find(&videos).Error
	if err != nil {
		return nil, fmt.Errorf("getting runnable videos: %w", err)
	}
	return videos, nil
}

func (r *videoRepo) UpdateDownloadStatus(ctx context.Context, id models.ULID, status uint32) error {
	if err := r.db.WithContext(ctx).Model(&models.Video{}).Where("id = ?", id).Update("download_status", status).Error; err != nil {
		return fmt.Errorf("updating video download status: %w", err)
	}
	return nil
}

func (r *videoRepo) MarkDeleted(ctx context.Context, id models.ULID) error {
	if err := r.db.WithContext(ctx).Model(&models.Video{}).Where("id = ?", id).Update("deleted", 1).Error; err != nil {
		return fmt.Errorf("marking video deleted: %w", err)
	}
	return nil
}

func (r *videoRepo) MarkExcluded(ctx context.Context, id models.ULID, excluded bool) error {
	if err := r.db.WithContext(ctx).Model(&models.Video{}).Where("id = ?", id).Update("excluded", excluded).Error; err != nil {
		return fmt.Errorf("marking video excluded: %w", err)
	}
	return nil
}

// DeleteStaleBySourceID hard-deletes videos for a source not refreshed
// since olderThan (mark-and-sweep cleanup after a re-scan).
func (r *videoRepo) DeleteStaleBySourceID(ctx context.Context, sourceID models.ULID, olderThan time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Where("updated_at < ?", olderThan).Delete(&models.Video{}, "favorite_id = ? OR collection_id = ? OR watch_later_id = ? OR submission_id = ? OR video_source_id = ?",
		sourceID, sourceID, sourceID, sourceID, sourceID)
	if result.Error != nil {
		return 0, fmt.Errorf("deleting stale videos: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func (r *videoRepo) CountBySourceID(ctx context.Context, sourceID models.ULID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Video{}).
		Where("favorite_id = ? OR collection_id = ? OR watch_later_id = ? OR submission_id = ? OR video_source_id = ?",
			sourceID, sourceID, sourceID, sourceID, sourceID).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("counting videos by source id: %w", err)
	}
	return count, nil
}

func (r *videoRepo) Update(ctx context.Context, video *models.Video) error {
	if err := r.db.WithContext(ctx).Save(video).Error; err != nil {
		return fmt.Errorf("updating video: %w", err)
	}
	return nil
}

func (r *videoRepo) Transaction(ctx context.Context, fn func(VideoRepository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&videoRepo{db: tx})
	})
}

var _ VideoRepository = (*videoRepo)(nil)
