package stages

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/biliarchive/biliarchive/internal/downloader"
	"github.com/biliarchive/biliarchive/internal/models"
	"github.com/biliarchive/biliarchive/internal/pipeline"
	"github.com/biliarchive/biliarchive/internal/statemachine"
)

// downloadBatchSize bounds how many videos Stage C pulls per tick.
const downloadBatchSize = 20

// fetchThreads is the parallel-range thread count handed to FileFetcher for
// each stream fetch; media segments are large enough to benefit from
// ranged parallelism but a single page only needs a modest degree of it.
const fetchThreads = 4

// DownloadStage fetches, muxes, and finalizes every runnable page of every
// runnable video, bounded by a video-level and a page-level semaphore
// (spec C6, concurrency model). It is the one stage where an individual
// item's failure must not abort the batch: a CDN hiccup on one page is
// recorded against that page's own lane and retried next tick, unlike
// Stage B where any non-"deleted" error almost certainly means risk
// control and is cause to stop immediately. Grounded on the teacher's
// publish stage, which similarly fans work out under a bounded worker
// pool and tolerates per-item failure without aborting the run.
type DownloadStage struct{}

// NewDownloadStage builds Stage C.
func NewDownloadStage() *DownloadStage { return &DownloadStage{} }

func (s *DownloadStage) ID() string   { return "download" }
func (s *DownloadStage) Name() string { return "Download" }

func (s *DownloadStage) Execute(ctx context.Context, state *pipeline.State) (*pipeline.StageResult, error) {
	result := &pipeline.StageResult{}

	videoConcurrency := state.VideoConcurrency
	if videoConcurrency <= 0 {
		videoConcurrency = 1
	}
	pageConcurrency := state.PageConcurrency
	if pageConcurrency <= 0 {
		pageConcurrency = 1
	}

	videos, err := state.VideoRepo.GetRunnable(ctx, downloadBatchSize)
	if err != nil {
		return result, fmt.Errorf("listing runnable videos: %w", err)
	}

	videoSem := semaphore.NewWeighted(int64(videoConcurrency))
	pageSem := semaphore.NewWeighted(int64(pageConcurrency))

	var mu sync.Mutex
	group, gctx := errgroup.WithContext(ctx)

	for _, video := range videos {
		video := video
		if err := videoSem.Acquire(gctx, 1); err != nil {
			break
		}
		group.Go(func() error {
			defer videoSem.Release(1)

			outcome, err := s.processVideo(gctx, state, video, pageSem)

			mu.Lock()
			result.RecordsProcessed++
			result.RecordsModified += outcome.pagesModified
			mu.Unlock()

			if state.Ingest != nil {
				state.Ingest.Record(pipeline.IngestEvent{
					SourceKey:  state.SourceRow.SourceKey(),
					PlatformID: video.PlatformID,
					Status:     outcome.status,
					Message:    outcome.message,
				})
			}
			if state.Metrics != nil {
				state.Metrics.IncVideoProcessed(state.SourceRow.SourceKey(), outcome.status)
			}
			return err
		})
	}

	if err := group.Wait(); err != nil {
		return result, fmt.Errorf("downloading: %w", err)
	}

	result.Message = fmt.Sprintf("processed %d videos", result.RecordsProcessed)
	return result, nil
}

// videoOutcome summarizes one video's pass through Stage C, for the single
// ingest event emitted per video (spec C10).
type videoOutcome struct {
	pagesModified int
	status        string // "success", "failed", "deleted"
	message       string
}

func (s *DownloadStage) processVideo(ctx context.Context, state *pipeline.State, video *models.Video, pageSem *semaphore.Weighted) (videoOutcome, error) {
	pages, err := state.PageRepo.GetByVideoID(ctx, video.ID)
	if err != nil {
		return videoOutcome{status: "failed", message: err.Error()}, fmt.Errorf("listing pages for %s: %w", video.PlatformID, err)
	}

	var (
		mu        sync.Mutex
		succeeded int
		failed    int
		modified  int
	)

	group, gctx := errgroup.WithContext(ctx)
	for _, page := range pages {
		page := page
		if statemachine.AllLanesTerminal(page.DownloadStatus, statemachine.PageLaneCount()) {
			continue
		}
		if err := pageSem.Acquire(gctx, 1); err != nil {
			break
		}
		group.Go(func() error {
			defer pageSem.Release(1)

			fatal, pageErr := s.processPage(gctx, state, video, page)

			mu.Lock()
			modified++
			if pageErr != nil {
				failed++
			} else {
				succeeded++
			}
			mu.Unlock()

			if fatal {
				return pageErr
			}
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return videoOutcome{pagesModified: modified, status: "failed", message: err.Error()}, err
	}

	if err := s.finalizeVideo(ctx, state, video); err != nil {
		return videoOutcome{pagesModified: modified, status: "failed", message: err.Error()}, nil
	}

	status := "success"
	message := fmt.Sprintf("%d pages succeeded", succeeded)
	if failed > 0 {
		status = "failed"
		message = fmt.Sprintf("%d pages succeeded, %d failed", succeeded, failed)
	}
	return videoOutcome{pagesModified: modified, status: status, message: message}, nil
}

// processPage runs one page's download under the fingerprint tracker, so
// concurrent calls for the same fingerprint share a single fetch. It
// reports fatal=true when the underlying error is platform-wide (risk
// control or an expired credential) rather than page-specific, signaling
// the caller to stop the whole tick instead of just marking this page
// failed.
func (s *DownloadStage) processPage(ctx context.Context, state *pipeline.State, video *models.Video, page *models.Page) (fatal bool, err error) {
	fp := pipeline.Fingerprint{
		SourceKey:  state.SourceRow.SourceKey(),
		PlatformID: video.PlatformID,
		PageIndex:  page.PageIndex,
	}

	_, err = state.Fingerprints.Do(fp, func() error {
		return s.downloadPage(ctx, state, video, page)
	})
	if err == nil {
		return false, nil
	}
	fatal = isFatalRemoteError(err)
	if state.Metrics != nil {
		reason := "page"
		switch {
		case fatal:
			reason = "risk_control"
		case errors.Is(err, downloader.ErrDiskFull):
			reason = "disk_full"
		}
		state.Metrics.IncDownloadFailure(reason)
	}
	return fatal, err
}

func isFatalRemoteError(err error) bool {
	var riskControl *models.RiskControlError
	var riskControlVerification *models.RiskControlVerificationRequiredError
	var credentialExpired *models.CredentialExpiredError
	return errors.As(err, &riskControl) || errors.As(err, &riskControlVerification) || errors.As(err, &credentialExpired)
}

// downloadPage performs the actual stream fetch/mux/sidecar work for one
// page, updating its lanes in place and persisting the result. Video and
// audio streams are fetched concurrently (spec §5 ordering: independent
// lanes within a page run in parallel), then muxed once both succeed.
func (s *DownloadStage) downloadPage(ctx context.Context, state *pipeline.State, video *models.Video, page *models.Page) error {
	status := page.DownloadStatus
	dir := state.Paths.VideoDir(state.SourceRow, video)
	base := fmt.Sprintf("p%03d", page.PageIndex)

	videoPath := filepath.Join(dir, base+"_video.m4s")
	audioPath := filepath.Join(dir, base+"_audio.m4s")
	muxedPath := filepath.Join(dir, base+".mp4")
	coverPath := filepath.Join(dir, base+"_cover.jpg")

	needVideo := statemachine.IsRunnable(status, statemachine.PageLaneVideoStream)
	needAudio := statemachine.IsRunnable(status, statemachine.PageLaneAudioStream)

	if needVideo || needAudio {
		streams, err := state.Detail.ResolveStreams(ctx, video.PlatformID, page.CID)
		if err != nil {
			return fmt.Errorf("resolving streams for %s page %d: %w", video.PlatformID, page.PageIndex, err)
		}

		// The two lanes fetch concurrently but share the status nibble
		// layout, so status reads/writes are serialized with a mutex while
		// the actual network fetch (the slow part) runs outside the lock.
		var statusMu sync.Mutex

		group, gctx := errgroup.WithContext(ctx)
		if needVideo {
			group.Go(func() error {
				fetchErr := s.runLaneLocked(gctx, state, &status, &statusMu, statemachine.PageLaneVideoStream, func() error {
					return state.Fetcher.FetchWithFallback(gctx, streams.VideoURLs, videoPath, fetchThreads)
				})
				if fetchErr == nil {
					page.VideoStreamPath = videoPath
				}
				return fetchErr
			})
		}
		if needAudio {
			group.Go(func() error {
				fetchErr := s.runLaneLocked(gctx, state, &status, &statusMu, statemachine.PageLaneAudioStream, func() error {
					return state.Fetcher.FetchWithFallback(gctx, streams.AudioURLs, audioPath, fetchThreads)
				})
				if fetchErr == nil {
					page.AudioStreamPath = audioPath
				}
				return fetchErr
			})
		}
		if err := group.Wait(); err != nil {
			page.DownloadStatus = status
			_ = state.PageRepo.UpdateDownloadStatus(ctx, page.ID, status)
			return err
		}
	}

	if statemachine.IsRunnable(status, statemachine.PageLaneMuxedContainer) &&
		statemachine.IsSucceeded(status, statemachine.PageLaneVideoStream) &&
		statemachine.IsSucceeded(status, statemachine.PageLaneAudioStream) {
		var err error
		status, err = s.runLane(ctx, state, status, statemachine.PageLaneMuxedContainer, func() error {
			return state.Muxer.Mux(ctx, page.VideoStreamPath, page.AudioStreamPath, muxedPath)
		})
		if err != nil {
			page.DownloadStatus = status
			_ = state.PageRepo.UpdateDownloadStatus(ctx, page.ID, status)
			return err
		}
		page.MuxedPath = muxedPath
	}

	if statemachine.IsRunnable(status, statemachine.PageLaneCover) && video.CoverURL != "" {
		var err error
		status, err = s.runLane(ctx, state, status, statemachine.PageLaneCover, func() error {
			return state.Fetcher.FetchWithFallback(ctx, []string{video.CoverURL}, coverPath, 1)
		})
		if err == nil {
			page.CoverPath = coverPath
		}
	} else if statemachine.IsNotStarted(status, statemachine.PageLaneCover) {
		// No cover URL to fetch (platform omitted it); the lane has
		// nothing to do, so treat it as trivially complete rather than
		// letting it block the page's completed-all state forever.
		status = statemachine.MarkSucceeded(status, statemachine.PageLaneCover)
	}

	if statemachine.IsNotStarted(status, statemachine.PageLaneSubtitle) {
		// Subtitle tracks are platform- and video-specific; no fetch seam
		// is wired for them yet, so the lane is marked trivially complete
		// rather than left runnable forever. Revisit once a subtitle
		// source is identified.
		status = statemachine.MarkSucceeded(status, statemachine.PageLaneSubtitle)
	}

	page.DownloadStatus = status
	return state.PageRepo.UpdateDownloadStatus(ctx, page.ID, status)
}

// runLane increments lane's attempt counter, runs fn, and marks the lane
// succeeded or saturates it toward permanently-failed, per the bitfield
// transition rules (spec C5 / internal/statemachine).
func (s *DownloadStage) runLane(ctx context.Context, state *pipeline.State, status uint32, lane int, fn func() error) (uint32, error) {
	status, err := statemachine.IncrementAttempts(status, lane)
	if err != nil {
		return status, err
	}
	if err := fn(); err != nil {
		if state.Logger != nil {
			state.Logger.WarnContext(ctx, "lane attempt failed", "lane", lane, "error", err.Error())
		}
		if errors.Is(err, downloader.ErrDiskFull) {
			return statemachine.MarkPermanentlyFailed(status, lane), err
		}
		return status, err
	}
	return statemachine.MarkSucceeded(status, lane), nil
}

// runLaneLocked is runLane's concurrent-safe counterpart for the two page
// lanes that fetch in parallel: status reads/writes are serialized with mu
// so two goroutines never race on the same nibble field, while fn (the
// actual network fetch) runs outside the lock.
func (s *DownloadStage) runLaneLocked(ctx context.Context, state *pipeline.State, status *uint32, mu *sync.Mutex, lane int, fn func() error) error {
	mu.Lock()
	next, err := statemachine.IncrementAttempts(*status, lane)
	if err == nil {
		*status = next
	}
	mu.Unlock()
	if err != nil {
		return err
	}

	fetchErr := fn()

	mu.Lock()
	switch {
	case fetchErr == nil:
		*status = statemachine.MarkSucceeded(*status, lane)
	case errors.Is(fetchErr, downloader.ErrDiskFull):
		*status = statemachine.MarkPermanentlyFailed(*status, lane)
	}
	mu.Unlock()

	if fetchErr != nil && state.Logger != nil {
		state.Logger.WarnContext(ctx, "lane attempt failed", "lane", lane, "error", fetchErr.Error())
	}
	return fetchErr
}

// finalizeVideo handles the video-level lanes once every page has reached a
// terminal outcome, and sets the completed-all bit once the video and all
// of its pages are done (spec C5 transition rule 3).
func (s *DownloadStage) finalizeVideo(ctx context.Context, state *pipeline.State, video *models.Video) error {
	pages, err := state.PageRepo.GetByVideoID(ctx, video.ID)
	if err != nil {
		return fmt.Errorf("listing pages for completion check: %w", err)
	}
	for _, page := range pages {
		if !statemachine.AllLanesTerminal(page.DownloadStatus, statemachine.PageLaneCount()) {
			return nil
		}
	}

	status := video.DownloadStatus
	dir := state.Paths.VideoDir(state.SourceRow, video)

	if statemachine.IsRunnable(status, statemachine.VideoLaneCover) {
		if video.CoverURL != "" {
			var err error
			status, err = s.runLane(ctx, state, status, statemachine.VideoLaneCover, func() error {
				return state.Fetcher.FetchWithFallback(ctx, []string{video.CoverURL}, filepath.Join(dir, "cover.jpg"), 1)
			})
			if err != nil {
				video.DownloadStatus = status
				return state.VideoRepo.UpdateDownloadStatus(ctx, video.ID, status)
			}
		} else {
			status = statemachine.MarkSucceeded(status, statemachine.VideoLaneCover)
		}
	}

	// NFO, uploader avatar, and uploader NFO writers are external
	// collaborators (spec Non-goals); their lanes are marked trivially
	// complete here so a video isn't held open forever waiting on a
	// seam this repo doesn't implement.
	for _, lane := range []int{statemachine.VideoLaneNFO, statemachine.VideoLaneUploaderAvatar, statemachine.VideoLaneUploaderNFO} {
		if statemachine.IsNotStarted(status, lane) {
			status = statemachine.MarkSucceeded(status, lane)
		}
	}

	if statemachine.IsRunnable(status, statemachine.VideoLaneDanmaku) && state.Danmaku != nil {
		var err error
		status, err = s.runLane(ctx, state, status, statemachine.VideoLaneDanmaku, func() error {
			return state.Danmaku.Fetch(ctx, video.PlatformID, filepath.Join(dir, "danmaku.xml"))
		})
		if err != nil {
			video.DownloadStatus = status
			return state.VideoRepo.UpdateDownloadStatus(ctx, video.ID, status)
		}
	} else if statemachine.IsNotStarted(status, statemachine.VideoLaneDanmaku) {
		status = statemachine.MarkSucceeded(status, statemachine.VideoLaneDanmaku)
	}

	if state.SourceRow.AIRename && !video.AIRenamed && state.Renamer != nil {
		newTitle, err := state.Renamer.Rename(ctx, video)
		if err != nil {
			state.AddError(fmt.Errorf("renaming %s: %w", video.PlatformID, err))
		} else {
			video.Title = newTitle
			video.AIRenamed = true
			if err := state.VideoRepo.Update(ctx, video); err != nil {
				state.AddError(fmt.Errorf("persisting renamed title for %s: %w", video.PlatformID, err))
			}
		}
	}

	if statemachine.AllLanesTerminal(status, statemachine.VideoLaneCount()) {
		status = statemachine.MarkCompletedAll(status)
	}

	video.DownloadStatus = status
	return state.VideoRepo.UpdateDownloadStatus(ctx, video.ID, status)
}
