// Package statemachine implements the bitfield-encoded per-video and
// per-page download state machine (spec C5). A download_status is a
// uint32 made of fixed-width 4-bit lanes, one per sub-task. Each lane
// nibble packs two things: the top bit is a terminal-success flag, and the
// low three bits count attempts made so far. A lane saturates at MaxRetry
// attempts, which is the permanently-failed state.
//
// Video rows additionally use the top bit of the whole uint32 (bit 31) as
// a "completed-all" flag once every lane of the video and all its pages
// have reached a terminal outcome.
package statemachine

import "errors"

// Video-level lanes.
const (
	VideoLaneCover = iota
	VideoLaneNFO
	VideoLaneUploaderAvatar
	VideoLaneUploaderNFO
	VideoLaneDanmaku
	videoLaneCount
)

// Page-level lanes.
const (
	PageLaneVideoStream = iota
	PageLaneAudioStream
	PageLaneMuxedContainer
	PageLaneSubtitle
	PageLaneCover
	pageLaneCount
)

const (
	laneWidth        = 4
	laneAttemptsMask = uint32(0x7)
	laneSucceededBit = uint32(0x8)
	laneFullMask     = uint32(0xF)

	// CompletedAllBit is the video-level "completed-all" high bit.
	CompletedAllBit = uint32(1) << 31

	// MaxRetry is the saturation point for a lane's attempt counter. It
	// must fit in the 3 attempts bits of a nibble (0..7).
	MaxRetry = 5
)

// ErrLaneSaturated is returned by IncrementAttempts when the lane has
// already reached MaxRetry (permanently failed) and cannot be retried
// further without an administrative reset.
var ErrLaneSaturated = errors.New("statemachine: lane already permanently failed")

// ErrInvalidLane is returned when a lane index is out of range for the
// given nibble width.
var ErrInvalidLane = errors.New("statemachine: invalid lane index")

func shiftFor(lane int) uint {
	return uint(lane) * laneWidth
}

// GetAttempts returns the number of attempts recorded for lane.
func GetAttempts(status uint32, lane int) int {
	return int((status >> shiftFor(lane)) & laneAttemptsMask)
}

// IsSucceeded reports whether lane has reached terminal success.
func IsSucceeded(status uint32, lane int) bool {
	return (status>>shiftFor(lane))&laneSucceededBit != 0
}

// IsPermanentlyFailed reports whether lane has saturated its retry budget
// without succeeding.
func IsPermanentlyFailed(status uint32, lane int) bool {
	return !IsSucceeded(status, lane) && GetAttempts(status, lane) >= MaxRetry
}

// IsNotStarted reports whether lane has never been attempted.
func IsNotStarted(status uint32, lane int) bool {
	return !IsSucceeded(status, lane) && GetAttempts(status, lane) == 0
}

// IsRunnable reports whether lane is neither terminal-success nor
// permanently-failed, i.e. it may still be attempted this cycle.
func IsRunnable(status uint32, lane int) bool {
	return !IsSucceeded(status, lane) && !IsPermanentlyFailed(status, lane)
}

// SetAttempts overwrites lane's attempt counter, preserving its succeeded
// bit and every other lane.
func SetAttempts(status uint32, lane int, attempts int) uint32 {
	shift := shiftFor(lane)
	status &^= laneAttemptsMask << shift
	status |= (uint32(attempts) & laneAttemptsMask) << shift
	return status
}

// IncrementAttempts records one more attempt on lane, per the transition
// rule "increment attempts before the attempt". Returns ErrLaneSaturated if
// the lane was already permanently failed.
func IncrementAttempts(status uint32, lane int) (uint32, error) {
	if IsPermanentlyFailed(status, lane) {
		return status, ErrLaneSaturated
	}
	attempts := GetAttempts(status, lane) + 1
	status = SetAttempts(status, lane, attempts)
	return status, nil
}

// MarkSucceeded sets lane's terminal-success bit.
func MarkSucceeded(status uint32, lane int) uint32 {
	return status | (laneSucceededBit << shiftFor(lane))
}

// MarkPermanentlyFailed saturates lane's attempt counter to MaxRetry and
// clears any succeeded bit, making the lane terminal-failed.
func MarkPermanentlyFailed(status uint32, lane int) uint32 {
	shift := shiftFor(lane)
	status &^= laneFullMask << shift
	status |= (uint32(MaxRetry) & laneAttemptsMask) << shift
	return status
}

// IsLaneTerminal reports whether lane has reached either terminal outcome.
func IsLaneTerminal(status uint32, lane int) bool {
	return IsSucceeded(status, lane) || IsPermanentlyFailed(status, lane)
}

// AllLanesTerminal reports whether every lane in [0, numLanes) has reached
// a terminal outcome (succeeded or permanently-failed).
func AllLanesTerminal(status uint32, numLanes int) bool {
	for lane := 0; lane < numLanes; lane++ {
		if !IsLaneTerminal(status, lane) {
			return false
		}
	}
	return true
}

// VideoLaneCount is the number of lanes in a video's download_status.
func VideoLaneCount() int { return videoLaneCount }

// PageLaneCount is the number of lanes in a page's download_status.
func PageLaneCount() int { return pageLaneCount }

// IsCompletedAll reports whether the video-level completed-all bit is set.
func IsCompletedAll(status uint32) bool {
	return status&CompletedAllBit != 0
}

// MarkCompletedAll sets the video-level completed-all bit. A video is
// completed when every runnable lane has a terminal outcome for the video
// itself and for all of its pages (spec transition rule 3); the caller is
// responsible for checking the pages before calling this.
func MarkCompletedAll(status uint32) uint32 {
	return status | CompletedAllBit
}

// AdminReset clears the completed-all bit, making the video eligible for
// reconsideration on the next scan (spec transition rule 4). It does not
// reset individual lanes; callers that want a full re-download should zero
// the status instead.
func AdminReset(status uint32) uint32 {
	return status &^ CompletedAllBit
}
