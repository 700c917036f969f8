// Package stages implements Stage A (create), Stage B (fetch-detail), and
// Stage C (download), the three sequential steps of the per-source
// pipeline (spec C6), each adapted from a distinct stage in the teacher's
// internal/pipeline/stages tree (loadchannels, ingestionguard, publish)
// generalized from "load this proxy's channel list" to "enumerate and
// materialize this source's videos".
package stages

import (
	"context"
	"fmt"

	"github.com/biliarchive/biliarchive/internal/filtering"
	"github.com/biliarchive/biliarchive/internal/models"
	"github.com/biliarchive/biliarchive/internal/pipeline"
	"github.com/biliarchive/biliarchive/internal/sources"
)

// batchSize bounds how many descriptors accumulate before a flush, so a
// long-running enumeration doesn't hold an unbounded batch in memory.
const batchSize = 50

// CreateStage consumes the source's descriptor stream and upserts video
// rows, applying should_take/allow_skip_first_old via the adapter itself
// (internal/sources already enforces the cursor cutoff) and advancing the
// source's cursor to the maximum publish_time observed. Grounded on the
// teacher's loadchannels stage, which drains a channel callback into state.
type CreateStage struct{}

// NewCreateStage builds Stage A.
func NewCreateStage() *CreateStage { return &CreateStage{} }

func (s *CreateStage) ID() string   { return "create" }
func (s *CreateStage) Name() string { return "Create" }

func (s *CreateStage) Execute(ctx context.Context, state *pipeline.State) (*pipeline.StageResult, error) {
	result := &pipeline.StageResult{}

	column, err := fkColumnSetter(state.SourceRow.Variant)
	if err != nil {
		return result, fmt.Errorf("resolving source column: %w", err)
	}

	ch := state.Adapter.Videos(ctx)

	batch := make([]*models.Video, 0, batchSize)
	maxPublishTime := state.Adapter.Cursor()

	var scanner *filtering.DeletionScanner
	if state.SourceRow.ScanDeletedVideos {
		existingCount, err := state.VideoRepo.CountBySourceID(ctx, state.SourceRow.ID)
		if err != nil {
			return result, fmt.Errorf("counting existing videos for deletion scan: %w", err)
		}
		scanner = filtering.NewDeletionScanner(int(existingCount))
	}

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := state.VideoRepo.UpsertBatch(ctx, batch); err != nil {
			return fmt.Errorf("upserting video batch: %w", err)
		}
		result.RecordsModified += len(batch)
		batch = batch[:0]
		return nil
	}

	for item := range ch {
		if item.Err != nil {
			state.AddError(item.Err)
			return result, fmt.Errorf("enumerating source %s: %w", state.SourceRow.SourceKey(), item.Err)
		}

		video := toVideo(item.Video, column, state.SourceRow.ID)

		if state.Filter != nil && state.Filter.Excluded(state.SourceRow, video.Title, video.Description) {
			video.Excluded = true
		}

		if scanner != nil {
			scanner.Observe(video.PlatformID)
		}

		batch = append(batch, video)
		result.RecordsProcessed++

		if item.Video.PublishTime > maxPublishTime {
			maxPublishTime = item.Video.PublishTime
		}

		if len(batch) >= batchSize {
			if err := flush(); err != nil {
				return result, err
			}
		}
	}

	if err := flush(); err != nil {
		return result, err
	}

	if maxPublishTime > state.Adapter.Cursor() {
		state.Adapter.SetCursor(maxPublishTime)
		if err := state.SourceRepo.UpdateCursor(ctx, state.SourceRow.ID, maxPublishTime); err != nil {
			return result, fmt.Errorf("persisting cursor: %w", err)
		}
		state.SourceRow.Cursor = maxPublishTime
	}

	if scanner != nil {
		deleted, err := markUnseenAsDeleted(ctx, state, scanner)
		if err != nil {
			return result, fmt.Errorf("running deletion scan: %w", err)
		}
		result.RecordsModified += deleted
	}

	result.Message = fmt.Sprintf("processed %d descriptors", result.RecordsProcessed)
	return result, nil
}

// markUnseenAsDeleted compares every already-known video under this source
// against scanner (populated from the pass that just completed) and marks
// any not observed this pass as deleted. A bloom filter has no false
// negatives, so scanner reporting "not seen" is an exact signal; a false
// positive only means a genuinely-deleted video survives one extra pass,
// never that a still-present video gets marked deleted.
func markUnseenAsDeleted(ctx context.Context, state *pipeline.State, scanner *filtering.DeletionScanner) (int, error) {
	var deleted int
	err := state.VideoRepo.GetBySourceID(ctx, state.SourceRow.Variant, state.SourceRow.ID, func(video *models.Video) error {
		if video.Deleted != 0 {
			return nil
		}
		if scanner.MaybeSeen(video.PlatformID) {
			return nil
		}
		if err := state.VideoRepo.MarkDeleted(ctx, video.ID); err != nil {
			return fmt.Errorf("marking video %s deleted: %w", video.PlatformID, err)
		}
		deleted++
		return nil
	})
	return deleted, err
}

// fkColumnSetter returns a function that assigns sourceID to the video's
// owning foreign key column for variant, keeping the exactly-one-reference
// invariant (models.Video.SourceReferenceID) intact at construction time.
func fkColumnSetter(variant models.SourceVariant) (func(*models.Video, models.ULID), error) {
	switch variant {
	case models.SourceVariantCollection:
		return func(v *models.Video, id models.ULID) { v.CollectionID = &id }, nil
	case models.SourceVariantFavorite:
		return func(v *models.Video, id models.ULID) { v.FavoriteID = &id }, nil
	case models.SourceVariantWatchLater:
		return func(v *models.Video, id models.ULID) { v.WatchLaterID = &id }, nil
	case models.SourceVariantSubmission:
		return func(v *models.Video, id models.ULID) { v.SubmissionID = &id }, nil
	case models.SourceVariantVideoSource:
		return func(v *models.Video, id models.ULID) { v.VideoSourceID = &id }, nil
	default:
		return nil, models.ErrInvalidSourceVariant
	}
}

func toVideo(info *sources.VideoInfo, setColumn func(*models.Video, models.ULID), sourceID models.ULID) *models.Video {
	v := &models.Video{
		PlatformID:        info.PlatformID,
		UploaderID:        info.UploaderID,
		UploaderName:      info.UploaderName,
		UploaderAvatarURL: info.UploaderAvatarURL,
		Title:             info.Title,
		Description:       info.Description,
		CoverURL:          info.CoverURL,
		PublishTime:       info.PublishTime,
		CreationTime:      info.CreationTime,
		FavoriteTime:      info.FavoriteTime,
		CategoryCode:      info.CategoryCode,
		SinglePage:        info.SinglePage,
		SeasonNumber:      info.SeasonNumber,
		EpisodeNumber:     info.EpisodeNumber,
		Tags:              info.Tags,
	}
	setColumn(v, sourceID)
	return v
}
