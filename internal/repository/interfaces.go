// Package repository defines data access interfaces for biliarchive
// entities. All database access goes through these interfaces, enabling
// easy testing and swapping the persistence layer in unit tests.
package repository

import (
	"context"
	"time"

	"github.com/biliarchive/biliarchive/internal/models"
)

// SourceRepository defines operations for source persistence.
type SourceRepository interface {
	Create(ctx context.Context, source *models.Source) error
	GetByID(ctx context.Context, id models.ULID) (*models.Source, error)
	GetByKey(ctx context.Context, variant models.SourceVariant, identityKey string) (*models.Source, error)
	GetAll(ctx context.Context) ([]*models.Source, error)
	GetEnabled(ctx context.Context) ([]*models.Source, error)
	Update(ctx context.Context, source *models.Source) error
	UpdateCursor(ctx context.Context, id models.ULID, cursor string) error
	Delete(ctx context.Context, id models.ULID) error
	Transaction(ctx context.Context, fn func(SourceRepository) error) error
}

// VideoRepository defines operations for video persistence.
type VideoRepository interface {
	Create(ctx context.Context, video *models.Video) error
	UpsertBatch(ctx context.Context, videos []*models.Video) error
	GetByID(ctx context.Context, id models.ULID) (*models.Video, error)
	GetByPlatformID(ctx context.Context, platformID string) (*models.Video, error)
	GetBySourceID(ctx context.Context, sourceVariant models.SourceVariant, sourceID models.ULID, callback func(*models.Video) error) error
	GetRunnable(ctx context.Context, limit int) ([]*models.Video, error)
	UpdateDownloadStatus(ctx context.Context, id models.ULID, status uint32) error
	MarkDeleted(ctx context.Context, id models.ULID) error
	MarkExcluded(ctx context.Context, id models.ULID, excluded bool) error
	DeleteStaleBySourceID(ctx context.Context, sourceID models.ULID, olderThan time.Time) (int64, error)
	CountBySourceID(ctx context.Context, sourceID models.ULID) (int64, error)
	Update(ctx context.Context, video *models.Video) error
	Transaction(ctx context.Context, fn func(VideoRepository) error) error
}

// PageRepository defines operations for page persistence.
type PageRepository interface {
	Create(ctx context.Context, page *models.Page) error
	CreateBatch(ctx context.Context, pages []*models.Page) error
	GetByVideoID(ctx context.Context, videoID models.ULID) ([]*models.Page, error)
	GetRunnable(ctx context.Context, limit int) ([]*models.Page, error)
	UpdateDownloadStatus(ctx context.Context, id models.ULID, status uint32) error
	Update(ctx context.Context, page *models.Page) error
}
