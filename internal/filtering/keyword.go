// Package filtering implements keyword black/whitelist exclusion and the
// deletion-scan membership check (spec C9).
package filtering

import (
	"strings"

	"github.com/biliarchive/biliarchive/internal/models"
	"github.com/biliarchive/biliarchive/internal/pipeline"
)

// KeywordFilter decides whether a video's title/description should be
// excluded from download before any network fetch is attempted, driven by
// a source's blacklist/whitelist/case-sensitive configuration. Only the
// split blacklist/whitelist/case-sensitive triple is implemented; the
// legacy combined `keyword_filters`/`keyword_filter_mode` fields are
// treated as absent per the open question resolution in DESIGN.md.
type KeywordFilter struct{}

// NewKeywordFilter builds a KeywordFilter. It holds no state: every
// decision is derived fresh from the source row passed to Excluded.
func NewKeywordFilter() *KeywordFilter {
	return &KeywordFilter{}
}

// Excluded reports whether title/description should be excluded under
// source's filter configuration. A non-empty blacklist match excludes
// unconditionally; when a whitelist is configured, anything that fails to
// match it is also excluded. Blacklist takes precedence over whitelist when
// both match the same text.
func (f *KeywordFilter) Excluded(source *models.Source, title, description string) bool {
	blacklist := splitKeywords(source.KeywordBlacklist)
	whitelist := splitKeywords(source.KeywordWhitelist)
	if len(blacklist) == 0 && len(whitelist) == 0 {
		return false
	}

	haystack := title + "\n" + description
	if !source.KeywordCaseSensitive {
		haystack = strings.ToLower(haystack)
	}

	if matchesAny(haystack, blacklist, source.KeywordCaseSensitive) {
		return true
	}

	if len(whitelist) > 0 && !matchesAny(haystack, whitelist, source.KeywordCaseSensitive) {
		return true
	}

	return false
}

// splitKeywords parses a comma-separated keyword list, dropping empty
// entries produced by leading/trailing/double commas.
func splitKeywords(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func matchesAny(haystack string, keywords []string, caseSensitive bool) bool {
	for _, kw := range keywords {
		needle := kw
		if !caseSensitive {
			needle = strings.ToLower(needle)
		}
		if strings.Contains(haystack, needle) {
			return true
		}
	}
	return false
}

// Ensure KeywordFilter implements pipeline.KeywordFilter at compile time.
var _ pipeline.KeywordFilter = (*KeywordFilter)(nil)
