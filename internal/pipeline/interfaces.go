// Package pipeline implements the per-source three-stage orchestrator
// (spec C6): Stage A creates/updates video rows from a source's descriptor
// stream, Stage B materializes each video's page manifest, and Stage C
// downloads and muxes runnable pages, all under bounded
// video/page concurrency. The package is grounded on the teacher's
// internal/pipeline/core (Stage/State/Orchestrator/StageError), generalized
// from a single fixed five-stage M3U/XMLTV pipeline to a three-stage
// pipeline re-run independently per enabled source.
package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/biliarchive/biliarchive/internal/models"
	"github.com/biliarchive/biliarchive/internal/repository"
	"github.com/biliarchive/biliarchive/internal/sources"
)

// Stage is a single step of the per-source pipeline.
type Stage interface {
	ID() string
	Name() string
	Execute(ctx context.Context, state *State) (*StageResult, error)
}

// StageResult summarizes one stage's execution.
type StageResult struct {
	RecordsProcessed int
	RecordsModified  int
	Duration         time.Duration
	Message          string
}

// PageDescriptor is one entry of a video's page manifest, as materialized
// by Stage B.
type PageDescriptor struct {
	CID             int64
	PageIndex       int
	Name            string
	DurationSeconds int
}

// StreamSet is the CDN mirror URL list for one page's video and audio
// streams, in fallback order, as resolved by Stage C before handing off to
// the downloader.
type StreamSet struct {
	VideoURLs []string
	AudioURLs []string
}

// DetailClient is the subset of *remote.Client the pipeline needs to
// materialize page manifests and resolve stream URLs. Declaring it locally
// (as internal/sources.remoteClient does) keeps stages testable against a
// fake without importing internal/remote's concrete types.
type DetailClient interface {
	FetchPageList(ctx context.Context, platformID string) ([]PageDescriptor, error)
	ResolveStreams(ctx context.Context, platformID string, cid int64) (*StreamSet, error)
}

// FileFetcher is the subset of *downloader.Downloader Stage C needs.
type FileFetcher interface {
	FetchWithFallback(ctx context.Context, urls []string, destPath string, threads int) error
}

// StreamMuxer is the subset of *muxer.Muxer Stage C needs.
type StreamMuxer interface {
	Mux(ctx context.Context, videoPath, audioPath, output string) error
	Remux(ctx context.Context, input, output string) error
}

// KeywordFilter reports whether a video's title/description should be
// excluded before any download is attempted (spec C9).
type KeywordFilter interface {
	Excluded(source *models.Source, title, description string) bool
}

// IngestLogger records a single ingest event per downloaded video (spec
// C10).
type IngestLogger interface {
	Record(event IngestEvent)
}

// IngestEvent is one row of the bounded ingest-event ring.
type IngestEvent struct {
	SourceKey  string
	PlatformID string
	Status     string // "success", "failed", "deleted"
	Message    string
	At         time.Time
}

// PathResolver resolves the on-disk directory a video's artifacts are
// materialized under (spec C11).
type PathResolver interface {
	VideoDir(source *models.Source, video *models.Video) string
}

// Renamer is the subset of renamer.Renamer the pipeline calls, declared
// locally for the same fake-testability reason as DetailClient/FileFetcher.
type Renamer interface {
	Rename(ctx context.Context, video *models.Video) (string, error)
}

// Metrics is the subset of *metrics.Registry the pipeline records into,
// declared locally so stages and the orchestrator stay testable against a
// fake without importing internal/metrics' concrete Prometheus types.
type Metrics interface {
	ObserveStageDuration(stage string, d time.Duration)
	IncVideoProcessed(sourceKey, status string)
	IncDownloadFailure(reason string)
}

// DanmakuFetcher fetches and decodes a video's bullet-comment track,
// writing it to destPath. Declared locally so Stage C stays testable
// without importing internal/danmaku's concrete type.
type DanmakuFetcher interface {
	Fetch(ctx context.Context, platformID, destPath string) error
}

// State holds everything shared between a single source's Stage A/B/C
// run, the way core.State holds the teacher's per-proxy working set.
type State struct {
	SourceRow *models.Source
	Adapter   sources.Source

	SourceRepo repository.SourceRepository
	VideoRepo  repository.VideoRepository
	PageRepo   repository.PageRepository

	Detail  DetailClient
	Fetcher FileFetcher
	Muxer   StreamMuxer
	Filter  KeywordFilter
	Ingest  IngestLogger
	Paths   PathResolver
	Danmaku DanmakuFetcher
	Renamer Renamer
	Metrics Metrics

	Fingerprints *FingerprintTracker

	VideoConcurrency int
	PageConcurrency  int

	Logger *slog.Logger

	StartTime time.Time

	mu     sync.Mutex
	errors []error
}

// NewState builds a State for one source-tick run.
func NewState(sourceRow *models.Source, adapter sources.Source, logger *slog.Logger) *State {
	if logger == nil {
		logger = slog.Default()
	}
	return &State{
		SourceRow: sourceRow,
		Adapter:   adapter,
		Logger:    logger,
		StartTime: time.Now(),
	}
}

// AddError records a non-fatal error.
func (s *State) AddError(err error) {
	if err == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors = append(s.errors, err)
}

// Errors returns all non-fatal errors recorded so far.
func (s *State) Errors() []error {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]error, len(s.errors))
	copy(out, s.errors)
	return out
}

// Duration returns the elapsed time since the run started.
func (s *State) Duration() time.Duration {
	return time.Since(s.StartTime)
}
