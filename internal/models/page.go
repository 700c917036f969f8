package models

import (
	"gorm.io/gorm"
)

// Page is a child of a Video (a multi-part upload's sub-unit). It carries
// its own download_status bitfield with lanes for video stream, audio
// stream, muxed container, subtitle, and cover (spec C5).
type Page struct {
	BaseModel

	VideoID   ULID `gorm:"type:varchar(26);not null;uniqueIndex:idx_video_page,priority:1" json:"video_id"`
	PageIndex int  `gorm:"not null;uniqueIndex:idx_video_page,priority:2" json:"page_index"`

	// CID is the platform's per-page content id, the key stage C resolves
	// stream URLs with; it is distinct from PageIndex, which is just the
	// page's ordinal position within the video.
	CID int64 `gorm:"not null" json:"cid"`

	Name            string `gorm:"size:512" json:"name,omitempty"`
	DurationSeconds int    `gorm:"default:0" json:"duration_seconds,omitempty"`
	Resolution      string `gorm:"size:32" json:"resolution,omitempty"`

	// DownloadStatus is the per-page bitfield state machine (spec C5); see
	// internal/statemachine.
	DownloadStatus uint32 `gorm:"not null;default:0" json:"download_status"`

	AIRenamed bool `gorm:"default:false" json:"ai_renamed"`

	// On-disk artifact paths, populated as each lane completes.
	VideoStreamPath string `gorm:"size:2048" json:"video_stream_path,omitempty"`
	AudioStreamPath string `gorm:"size:2048" json:"audio_stream_path,omitempty"`
	MuxedPath       string `gorm:"size:2048" json:"muxed_path,omitempty"`
	SubtitlePath    string `gorm:"size:2048" json:"subtitle_path,omitempty"`
	CoverPath       string `gorm:"size:2048" json:"cover_path,omitempty"`
}

// TableName returns the table name for Page.
func (Page) TableName() string {
	return "pages"
}

// Validate performs basic validation on the page.
func (p *Page) Validate() error {
	if p.VideoID.IsZero() {
		return ErrVideoIDRequired
	}
	return nil
}

// BeforeCreate is a GORM hook that validates the page and generates a ULID.
func (p *Page) BeforeCreate(tx *gorm.DB) error {
	if err := p.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	return p.Validate()
}

// BeforeUpdate is a GORM hook that validates the page before update.
func (p *Page) BeforeUpdate(tx *gorm.DB) error {
	return p.Validate()
}
