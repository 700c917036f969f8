package models

import (
	"gorm.io/gorm"
)

// Video represents a single platform video mirrored locally. Exactly one of
// the five source-reference columns is non-null (spec invariant 1); which
// one is set determines the owning source variant. Using five distinct
// nullable foreign keys (rather than a single polymorphic column) makes the
// invariant checkable as an ordinary SQL CHECK-style validation and lets
// each variant's source table relationship stay a plain GORM belongs-to.
type Video struct {
	BaseModel

	PlatformID string `gorm:"size:64;not null;index" json:"platform_id"`

	CollectionID  *ULID `gorm:"type:varchar(26);index;uniqueIndex:idx_collection_platform,priority:1" json:"collection_id,omitempty"`
	FavoriteID    *ULID `gorm:"type:varchar(26);index;uniqueIndex:idx_favorite_platform,priority:1" json:"favorite_id,omitempty"`
	WatchLaterID  *ULID `gorm:"type:varchar(26);index;uniqueIndex:idx_watch_later_platform,priority:1" json:"watch_later_id,omitempty"`
	SubmissionID  *ULID `gorm:"type:varchar(26);index;uniqueIndex:idx_submission_platform,priority:1" json:"submission_id,omitempty"`
	VideoSourceID *ULID `gorm:"type:varchar(26);index;uniqueIndex:idx_video_source_platform,priority:1" json:"video_source_id,omitempty"`

	UploaderID        string `gorm:"size:64;index" json:"uploader_id"`
	UploaderName       string `gorm:"size:255" json:"uploader_name"`
	UploaderAvatarURL string `gorm:"size:2048" json:"uploader_avatar_url,omitempty"`

	// Staff is an optional JSON-encoded co-staff list.
	Staff string `gorm:"type:text" json:"staff,omitempty"`

	Title       string `gorm:"not null;size:1024" json:"title"`
	Description string `gorm:"type:text" json:"description,omitempty"`
	CoverURL    string `gorm:"size:2048" json:"cover_url,omitempty"`

	// Timestamps in CursorLayout / Asia/Shanghai canonical format.
	PublishTime  string `gorm:"size:32;index" json:"publish_time"`
	CreationTime string `gorm:"size:32" json:"creation_time,omitempty"`
	FavoriteTime string `gorm:"size:32" json:"favorite_time,omitempty"`

	CategoryCode  int  `gorm:"default:0" json:"category_code,omitempty"`
	SinglePage    bool `gorm:"default:true" json:"single_page"`
	SeasonNumber  int  `gorm:"default:0" json:"season_number,omitempty"`
	EpisodeNumber int  `gorm:"default:0" json:"episode_number,omitempty"`

	Tags string `gorm:"type:text" json:"tags,omitempty"`

	// DownloadStatus is the per-video bitfield state machine (spec C5); see
	// internal/statemachine.
	DownloadStatus uint32 `gorm:"not null;default:0" json:"download_status"`

	Valid   bool `gorm:"default:true" json:"valid"`
	Deleted int  `gorm:"default:0" json:"deleted"`

	// Excluded is set by keyword filtering (C9) before any download attempt.
	Excluded bool `gorm:"default:false" json:"excluded"`

	// AIRenamed mirrors the source-level toggle at the moment of creation;
	// the actual rename is performed by an external collaborator through
	// the Renamer seam (internal/renamer).
	AIRenamed bool `gorm:"default:false" json:"ai_renamed"`

	// Path is the on-disk materialization directory for this video.
	Path string `gorm:"size:2048" json:"path,omitempty"`

	Pages []Page `gorm:"foreignKey:VideoID" json:"pages,omitempty"`
}

// TableName returns the table name for Video.
func (Video) TableName() string {
	return "videos"
}

// SourceReferenceCount returns how many of the five source-reference columns
// are non-nil. A valid row has exactly one.
func (v *Video) SourceReferenceCount() int {
	count := 0
	for _, ref := range []*ULID{v.CollectionID, v.FavoriteID, v.WatchLaterID, v.SubmissionID, v.VideoSourceID} {
		if ref != nil {
			count++
		}
	}
	return count
}

// SourceReferenceID returns the single non-nil source-reference column and
// its variant. Returns an error if zero or more than one column is set.
func (v *Video) SourceReferenceID() (ULID, SourceVariant, error) {
	switch {
	case v.CollectionID != nil && v.SourceReferenceCount() == 1:
		return *v.CollectionID, SourceVariantCollection, nil
	case v.FavoriteID != nil && v.SourceReferenceCount() == 1:
		return *v.FavoriteID, SourceVariantFavorite, nil
	case v.WatchLaterID != nil && v.SourceReferenceCount() == 1:
		return *v.WatchLaterID, SourceVariantWatchLater, nil
	case v.SubmissionID != nil && v.SourceReferenceCount() == 1:
		return *v.SubmissionID, SourceVariantSubmission, nil
	case v.VideoSourceID != nil && v.SourceReferenceCount() == 1:
		return *v.VideoSourceID, SourceVariantVideoSource, nil
	case v.SourceReferenceCount() == 0:
		return ULID{}, "", ErrNoSourceReference
	default:
		return ULID{}, "", ErrMultipleSourceReferences
	}
}

// Validate performs basic validation on the video, including the
// exactly-one-source-reference invariant.
func (v *Video) Validate() error {
	if v.PlatformID == "" {
		return ErrPlatformIDRequired
	}
	if _, _, err := v.SourceReferenceID(); err != nil {
		return err
	}
	return nil
}

// BeforeCreate is a GORM hook that validates the video and generates a ULID.
func (v *Video) BeforeCreate(tx *gorm.DB) error {
	if err := v.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	return v.Validate()
}

// BeforeUpdate is a GORM hook that validates the video before update.
func (v *Video) BeforeUpdate(tx *gorm.DB) error {
	return v.Validate()
}

// IsCompletedAll reports whether the video's bitfield has the completed-all
// high bit set (see internal/statemachine).
func (v *Video) IsCompletedAll() bool {
	const completedAllBit = uint32(1) << 31
	return v.DownloadStatus&completedAllBit != 0
}
