package models

import (
	"encoding/json"
	"fmt"

	"gorm.io/gorm"
)

// SourceVariant identifies which of the five source kinds a row represents.
type SourceVariant string

const (
	SourceVariantFavorite    SourceVariant = "favorite"
	SourceVariantCollection  SourceVariant = "collection"
	SourceVariantSubmission  SourceVariant = "submission"
	SourceVariantWatchLater  SourceVariant = "watch_later"
	SourceVariantVideoSource SourceVariant = "video_source"
)

// Valid reports whether v is one of the five recognized variants.
func (v SourceVariant) Valid() bool {
	switch v {
	case SourceVariantFavorite, SourceVariantCollection, SourceVariantSubmission,
		SourceVariantWatchLater, SourceVariantVideoSource:
		return true
	default:
		return false
	}
}

// CursorLayout is the canonical cursor timestamp format, rendered in the
// Asia/Shanghai location. String order over this layout is identical to
// chronological order, which is what makes lexicographic cursor comparison
// valid.
const CursorLayout = "2006-01-02 15:04:05"

// CursorSentinel is the initial cursor value for a source that has never
// completed a scan. should_take always returns true against the sentinel.
const CursorSentinel = "1970-01-01 00:00:00"

// Source is the common row shape for all five source variants. The variant
// discriminates behavior at the adapter layer (internal/sources); the
// underlying storage schema is shared because the per-row attribute set is
// identical across variants except for the uploader-only dynamic-feed
// fields, which are simply left at their zero value for non-submission rows.
type Source struct {
	BaseModel

	Variant     SourceVariant `gorm:"size:20;not null;index:idx_variant_identity,unique,priority:1" json:"variant"`
	IdentityKey string        `gorm:"size:255;not null;index:idx_variant_identity,unique,priority:2" json:"identity_key"`

	Name string `gorm:"not null;size:512" json:"name"`
	Path string `gorm:"not null;size:2048" json:"path"`

	// Cursor is the latest-observed canonical timestamp; see CursorLayout.
	Cursor string `gorm:"size:32;not null;default:'1970-01-01 00:00:00'" json:"cursor"`

	Enabled *bool `gorm:"default:true" json:"enabled"`

	// CronSchedule overrides the scheduler's fixed scan-interval tick for
	// this source with a robfig/cron expression (spec C7). Empty means
	// "use the global scan interval".
	CronSchedule string `gorm:"size:128" json:"cron_schedule,omitempty"`

	ScanDeletedVideos bool `gorm:"default:false" json:"scan_deleted_videos"`
	AudioOnly         bool `gorm:"default:false" json:"audio_only"`
	AudioOnlyM4AOnly  bool `gorm:"default:false" json:"audio_only_m4a_only"`
	FlatFolder        bool `gorm:"default:false" json:"flat_folder"`
	DownloadDanmaku   bool `gorm:"default:true" json:"download_danmaku"`
	DownloadSubtitle  bool `gorm:"default:true" json:"download_subtitle"`
	AIRename          bool `gorm:"default:false" json:"ai_rename"`

	// Keyword filtering (C9). Only the blacklist/whitelist/case-sensitive
	// triple is exposed; legacy combined-expression fields are not carried
	// forward (see Open Question resolution #2).
	KeywordBlacklist     string `gorm:"type:text" json:"keyword_blacklist,omitempty"`
	KeywordWhitelist     string `gorm:"type:text" json:"keyword_whitelist,omitempty"`
	KeywordCaseSensitive bool   `gorm:"default:false" json:"keyword_case_sensitive"`

	// SelectedVideos is a JSON-encoded array of platform ids; only
	// meaningful for the submission variant.
	SelectedVideos string `gorm:"type:text" json:"selected_videos,omitempty"`

	// Submission-only dynamic feed toggles.
	UseDynamicAPI        bool `gorm:"default:false" json:"use_dynamic_api"`
	DynamicAPIFullSynced bool `gorm:"default:false" json:"dynamic_api_full_synced"`
}

// TableName returns the table name for Source.
func (Source) TableName() string {
	return "sources"
}

// SourceKey returns "<variant>_<id>" for cache keying and fingerprinting,
// per the source adapter contract (spec C4).
func (s *Source) SourceKey() string {
	return fmt.Sprintf("%s_%s", s.Variant, s.IdentityKey)
}

// IsEnabled returns the enabled flag, defaulting to true when unset.
func (s *Source) IsEnabled() bool {
	return BoolVal(s.Enabled)
}

// HasSelectedVideos reports whether the submission variant's selected-videos
// whitelist is populated.
func (s *Source) HasSelectedVideos() bool {
	return s.SelectedVideos != "" && s.SelectedVideos != "[]"
}

// SelectedVideoSet parses SelectedVideos into a membership set. Returns nil
// (not an error) when the whitelist is empty.
func (s *Source) SelectedVideoSet() (map[string]struct{}, error) {
	if !s.HasSelectedVideos() {
		return nil, nil
	}
	var ids []string
	if err := json.Unmarshal([]byte(s.SelectedVideos), &ids); err != nil {
		return nil, fmt.Errorf("parsing selected_videos: %w", err)
	}
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set, nil
}

// Validate performs basic validation on the source row.
func (s *Source) Validate() error {
	if !s.Variant.Valid() {
		return ErrInvalidSourceVariant
	}
	if s.IdentityKey == "" {
		return ErrSourceKeyRequired
	}
	if s.Name == "" {
		return ErrNameRequired
	}
	if s.Path == "" {
		return ErrPathRequired
	}
	return nil
}

// BeforeCreate is a GORM hook that validates the source and generates a ULID.
func (s *Source) BeforeCreate(tx *gorm.DB) error {
	if err := s.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	if s.Cursor == "" {
		s.Cursor = CursorSentinel
	}
	return s.Validate()
}

// BeforeUpdate is a GORM hook that validates the source before update.
func (s *Source) BeforeUpdate(tx *gorm.DB) error {
	return s.Validate()
}
