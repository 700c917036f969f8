// Package sources implements the five source adapters (favorite,
// collection, submission, watch_later, video_source) behind a single
// Source interface, the way internal/ingestor's SourceHandler/
// HandlerFactory pair keeps per-type ingestion logic behind a common
// contract in the teacher codebase.
package sources

import (
	"context"

	"github.com/biliarchive/biliarchive/internal/models"
)

// VideoInfo is the subset of remote video metadata a source adapter can
// populate without having fetched per-video detail yet (that is stage B of
// the pipeline, internal/pipeline/stages).
type VideoInfo struct {
	PlatformID string

	Title       string
	Description string
	CoverURL    string

	UploaderID        string
	UploaderName      string
	UploaderAvatarURL string

	// PublishTime is in models.CursorLayout, Asia/Shanghai.
	PublishTime  string
	CreationTime string
	FavoriteTime string

	CategoryCode  int
	SinglePage    bool
	SeasonNumber  int
	EpisodeNumber int

	Tags string
}

// VideoOrErr is one item yielded on a Source's video channel: either a
// successfully parsed VideoInfo, or an error that terminates enumeration.
type VideoOrErr struct {
	Video *VideoInfo
	Err   error
}

// Source is the common adapter contract for all five source variants.
type Source interface {
	// Videos enumerates the source's videos newest-first until the listing
	// is exhausted or the context is cancelled. An item ShouldTake rejects
	// ends enumeration only when AllowSkipFirstOld is true; otherwise it is
	// skipped and enumeration continues. The channel is closed when
	// enumeration ends, whether by exhaustion, cursor cutoff, or error (the
	// last item may carry Err).
	Videos(ctx context.Context) <-chan VideoOrErr

	// SetRelationID records the local Source row's ULID on the adapter. The
	// built-in adapters store it and do not read it back.
	SetRelationID(id models.ULID)

	// Path is the configured on-disk materialization directory.
	Path() string

	// Cursor returns the last-persisted cursor value.
	Cursor() string

	// SetCursor updates the in-memory cursor; the caller persists it via
	// the repository layer once, after the whole descriptor stream has been
	// drained. It is not persisted between pages.
	SetCursor(cursor string)

	// ShouldTake reports whether a video with the given publish time is
	// newer than the cursor and should be taken into the pipeline.
	ShouldTake(publishTime string) bool

	// AllowSkipFirstOld reports whether this variant's listing is trusted
	// to be strictly publish-time descending, so enumeration stops at the
	// first item ShouldTake rejects. When false, every descriptor is
	// inspected and rejected items are skipped.
	AllowSkipFirstOld() bool

	// SourceKey returns the fingerprint/log identity for this source.
	SourceKey() string

	// Variant returns the source variant this adapter implements.
	Variant() models.SourceVariant
}
