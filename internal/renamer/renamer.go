// Package renamer defines the seam for the AI-based title renamer. The
// renamer itself is an external collaborator (not implemented here); this
// package carries only the interface and a no-op default so a source's
// ai_rename toggle has somewhere to plug in once one exists.
package renamer

import (
	"context"

	"github.com/biliarchive/biliarchive/internal/models"
)

// Renamer proposes a replacement title for a downloaded video. A real
// implementation would call out to an LLM; the toggle and call site exist
// here, the model does not.
type Renamer interface {
	Rename(ctx context.Context, video *models.Video) (string, error)
}

// Noop is the default Renamer: it returns the video's existing title
// unchanged, so enabling ai_rename on a source without wiring a real
// Renamer is a harmless no-op rather than a nil-pointer panic.
type Noop struct{}

// Rename returns video.Title unchanged.
func (Noop) Rename(_ context.Context, video *models.Video) (string, error) {
	return video.Title, nil
}
