package models

import "time"

// SubmissionScanState is a per-uploader resumption checkpoint for the
// submission (uploader-channel) source variant, tracked beyond the single
// cursor string. It is held in the process-wide LRU tracker
// (internal/tracker), never persisted — resolving the "tracker" Open
// Question by bounding the map and evicting least-recently-used entries.
type SubmissionScanState struct {
	// PageOffset is the paged-API resumption offset.
	PageOffset int
	// DynamicCursor is the dynamic-feed cursor ("offset" from the
	// {has_more, offset, items[]} envelope).
	DynamicCursor string
	UpdatedAt     time.Time
}
