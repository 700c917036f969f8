// Package cache resolves the on-disk directory each video's artifacts are
// materialized under (spec C11), sharding by source and uploader the way
// the teacher's storage.LogoCache shards cached logos by hash prefix to
// keep any one directory from accumulating too many entries.
package cache

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/biliarchive/biliarchive/internal/models"
	"github.com/biliarchive/biliarchive/internal/storage"
)

// invalidPathChars matches characters that can't safely appear in a
// directory or file name across the platforms this tool runs on.
var invalidPathChars = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f]`)

// PathCache resolves and creates a source's video directories within a
// sandbox rooted at the source's configured output path.
type PathCache struct{}

// NewPathCache builds a PathCache. It holds no state; each source owns its
// own sandbox rooted at its own Path, so there is nothing to share across
// sources.
func NewPathCache() *PathCache {
	return &PathCache{}
}

// VideoDir returns the directory a video's pages and sidecars are written
// under: <source.Path>/<uploader>/<title> (<platform_id>), sanitized for
// filesystem safety. It does not create the directory; callers that write
// into it are expected to MkdirAll as needed (internal/downloader and
// internal/muxer both do this already when writing their output file).
func (c *PathCache) VideoDir(source *models.Source, video *models.Video) string {
	uploader := sanitizeSegment(video.UploaderName)
	if uploader == "" {
		uploader = "unknown_uploader"
	}

	title := sanitizeSegment(video.Title)
	if title == "" {
		title = video.PlatformID
	}
	videoFolder := fmt.Sprintf("%s (%s)", title, video.PlatformID)

	return filepath.Join(source.Path, uploader, videoFolder)
}

// EnsureVideoDir resolves and creates a video's directory within a sandbox
// rooted at source.Path, returning the absolute path.
func (c *PathCache) EnsureVideoDir(source *models.Source, video *models.Video) (string, error) {
	sandbox, err := storage.NewSandbox(source.Path)
	if err != nil {
		return "", fmt.Errorf("opening sandbox for source %s: %w", source.SourceKey(), err)
	}

	rel, err := filepath.Rel(source.Path, c.VideoDir(source, video))
	if err != nil {
		return "", fmt.Errorf("resolving relative video dir: %w", err)
	}
	if err := sandbox.MkdirAll(rel); err != nil {
		return "", fmt.Errorf("creating video dir: %w", err)
	}
	return sandbox.ResolvePath(rel)
}

// sanitizeSegment strips characters that can't appear in a path segment and
// trims the result to a sane length so long titles don't blow past
// filesystem name limits.
func sanitizeSegment(s string) string {
	s = invalidPathChars.ReplaceAllString(s, "_")
	s = strings.TrimSpace(s)
	const maxLen = 180
	if len(s) > maxLen {
		s = s[:maxLen]
	}
	return strings.TrimRight(s, " .")
}
