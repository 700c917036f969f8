package sources

import (
	"github.com/biliarchive/biliarchive/internal/models"
)

// base holds the fields and methods shared by every adapter, the way the
// teacher's handlers all close over a *models.StreamSource and differ only
// in their Ingest implementation.
type base struct {
	source     *models.Source
	relationID models.ULID
}

func (b *base) SetRelationID(id models.ULID) {
	b.relationID = id
}

func (b *base) Path() string {
	return b.source.Path
}

func (b *base) Cursor() string {
	return b.source.Cursor
}

func (b *base) SetCursor(cursor string) {
	b.source.Cursor = cursor
}

// ShouldTake compares publishTime against the source's cursor
// lexicographically, which is valid because models.CursorLayout sorts
// chronologically as a string. The sentinel cursor always yields true.
func (b *base) ShouldTake(publishTime string) bool {
	if b.source.Cursor == "" || b.source.Cursor == models.CursorSentinel {
		return true
	}
	return publishTime > b.source.Cursor
}

func (b *base) SourceKey() string {
	return b.source.SourceKey()
}

func (b *base) Variant() models.SourceVariant {
	return b.source.Variant
}
