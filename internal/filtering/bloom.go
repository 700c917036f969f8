package filtering

import (
	"github.com/bits-and-blooms/bloom/v3"
)

// falsePositiveRate bounds the per-source deletion scanner's false-positive
// rate. A false positive means a platform id that was NOT seen in this
// enumeration pass is reported as "maybe seen", which is the safe
// direction for deletion: it only delays marking a genuinely deleted video,
// it never causes a still-present video to be marked deleted (a bloom
// filter has no false negatives).
const falsePositiveRate = 0.01

// DeletionScanner tracks which platform ids were observed during a single
// full-enumeration pass of a source configured with scan_deleted_videos, so
// Stage A can cheaply ask "was this previously-known video seen again in
// this pass?" without holding the full id set in memory, grounded on
// noisefs's bloom-filter membership-probable caching.
type DeletionScanner struct {
	filter *bloom.BloomFilter
}

// NewDeletionScanner builds a scanner sized for expectedCount ids observed
// in the pass (the source's current known-video count is a reasonable
// estimate; the filter still works, just with a higher false-positive rate,
// if the real count overshoots it).
func NewDeletionScanner(expectedCount int) *DeletionScanner {
	if expectedCount < 1 {
		expectedCount = 1
	}
	return &DeletionScanner{
		filter: bloom.NewWithEstimates(uint(expectedCount), falsePositiveRate),
	}
}

// Observe records that platformID was seen in the current enumeration pass.
func (d *DeletionScanner) Observe(platformID string) {
	d.filter.AddString(platformID)
}

// MaybeSeen reports whether platformID was possibly observed in the current
// pass. false is exact ("definitely not seen" -> deletion candidate); true
// may be a false positive and only means "don't mark deleted this pass".
func (d *DeletionScanner) MaybeSeen(platformID string) bool {
	return d.filter.TestString(platformID)
}
