package stages

import (
	"context"
	"errors"
	"fmt"

	"github.com/biliarchive/biliarchive/internal/models"
	"github.com/biliarchive/biliarchive/internal/pipeline"
)

// fetchDetailBatchSize bounds how many videos are pulled per GetRunnable
// call, so a source with a large backlog doesn't load it all at once.
const fetchDetailBatchSize = 100

// FetchDetailStage materializes the page manifest for every video that
// doesn't have one yet, the stage most exposed to risk control (spec C6);
// a risk-control error aborts the stage immediately rather than continuing
// to the next video, since the remote almost certainly will reject every
// subsequent call in the same tick. Grounded on the teacher's
// ingestionguard stage, which similarly gates progression on a remote
// precondition before later stages run.
type FetchDetailStage struct{}

// NewFetchDetailStage builds Stage B.
func NewFetchDetailStage() *FetchDetailStage { return &FetchDetailStage{} }

func (s *FetchDetailStage) ID() string   { return "fetch_detail" }
func (s *FetchDetailStage) Name() string { return "Fetch Detail" }

func (s *FetchDetailStage) Execute(ctx context.Context, state *pipeline.State) (*pipeline.StageResult, error) {
	result := &pipeline.StageResult{}

	videos, err := state.VideoRepo.GetRunnable(ctx, fetchDetailBatchSize)
	if err != nil {
		return result, fmt.Errorf("listing runnable videos: %w", err)
	}

	for _, video := range videos {
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		default:
		}

		existing, err := state.PageRepo.GetByVideoID(ctx, video.ID)
		if err != nil {
			return result, fmt.Errorf("checking existing pages for %s: %w", video.PlatformID, err)
		}
		if len(existing) > 0 {
			continue
		}

		descriptors, err := state.Detail.FetchPageList(ctx, video.PlatformID)
		if err != nil {
			var unavailable *models.ContentUnavailableError
			if errors.As(err, &unavailable) {
				if err := markDeleted(ctx, state, video); err != nil {
					return result, err
				}
				result.RecordsProcessed++
				continue
			}
			return result, fmt.Errorf("fetching page list for %s: %w", video.PlatformID, err)
		}

		pages := make([]*models.Page, 0, len(descriptors))
		for _, d := range descriptors {
			pages = append(pages, &models.Page{
				VideoID:         video.ID,
				PageIndex:       d.PageIndex,
				CID:             d.CID,
				Name:            d.Name,
				DurationSeconds: d.DurationSeconds,
			})
		}
		if err := state.PageRepo.CreateBatch(ctx, pages); err != nil {
			return result, fmt.Errorf("persisting pages for %s: %w", video.PlatformID, err)
		}

		result.RecordsProcessed++
		result.RecordsModified += len(pages)
	}

	result.Message = fmt.Sprintf("materialized pages for %d videos", result.RecordsProcessed)
	return result, nil
}

func markDeleted(ctx context.Context, state *pipeline.State, video *models.Video) error {
	if err := state.VideoRepo.MarkDeleted(ctx, video.ID); err != nil {
		return fmt.Errorf("marking video deleted: %w", err)
	}
	if state.Ingest != nil {
		state.Ingest.Record(pipeline.IngestEvent{
			SourceKey:  state.SourceRow.SourceKey(),
			PlatformID: video.PlatformID,
			Status:     "deleted",
		})
	}
	return nil
}
