package cache

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/biliarchive/biliarchive/internal/models"
)

func TestPathCache_VideoDir_SanitizesSegments(t *testing.T) {
	c := NewPathCache()
	source := &models.Source{Path: "/archive/favorites"}
	video := &models.Video{
		PlatformID:   "BV1xx411c7mD",
		UploaderName: "some/weird:uploader",
		Title:        `a "title" with <bad> chars`,
	}

	dir := c.VideoDir(source, video)
	assert.Equal(t, "/archive/favorites", filepath.Dir(filepath.Dir(dir)))
	assert.NotContains(t, dir, "<")
	assert.NotContains(t, dir, ":\"")
	assert.Contains(t, dir, "BV1xx411c7mD")
}

func TestPathCache_VideoDir_FallsBackWhenTitleEmpty(t *testing.T) {
	c := NewPathCache()
	source := &models.Source{Path: "/archive/favorites"}
	video := &models.Video{PlatformID: "BV1yy411c7mE", UploaderName: "uploader"}

	dir := c.VideoDir(source, video)
	assert.Contains(t, dir, "BV1yy411c7mE")
}

func TestPathCache_EnsureVideoDir_CreatesDirectory(t *testing.T) {
	c := NewPathCache()
	base := t.TempDir()
	source := &models.Source{Path: base}
	video := &models.Video{PlatformID: "BV1zz411c7mF", UploaderName: "uploader", Title: "title"}

	dir, err := c.EnsureVideoDir(source, video)
	require.NoError(t, err)
	assert.DirExists(t, dir)
}
