package sources

import (
	"time"

	"github.com/biliarchive/biliarchive/internal/models"
)

// shanghai is the canonical location cursor timestamps are rendered in, so
// that string comparison across two differently-sourced timestamps in the
// same database remains valid.
var shanghai = func() *time.Location {
	loc, err := time.LoadLocation("Asia/Shanghai")
	if err != nil {
		return time.FixedZone("CST", 8*3600)
	}
	return loc
}()

// formatUnix renders a unix timestamp in models.CursorLayout, Asia/Shanghai.
func formatUnix(sec int64) string {
	if sec <= 0 {
		return models.CursorSentinel
	}
	return time.Unix(sec, 0).In(shanghai).Format(models.CursorLayout)
}
