package statemachine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLaneLifecycle(t *testing.T) {
	var status uint32

	assert.True(t, IsNotStarted(status, VideoLaneCover))
	assert.True(t, IsRunnable(status, VideoLaneCover))
	assert.False(t, IsSucceeded(status, VideoLaneCover))
	assert.False(t, IsPermanentlyFailed(status, VideoLaneCover))

	var err error
	status, err = IncrementAttempts(status, VideoLaneCover)
	require.NoError(t, err)
	assert.Equal(t, 1, GetAttempts(status, VideoLaneCover))
	assert.False(t, IsNotStarted(status, VideoLaneCover))
	assert.True(t, IsRunnable(status, VideoLaneCover))

	status = MarkSucceeded(status, VideoLaneCover)
	assert.True(t, IsSucceeded(status, VideoLaneCover))
	assert.False(t, IsRunnable(status, VideoLaneCover))
	assert.True(t, IsLaneTerminal(status, VideoLaneCover))
}

func TestLaneSaturation(t *testing.T) {
	var status uint32
	var err error

	for i := 0; i < MaxRetry; i++ {
		status, err = IncrementAttempts(status, VideoLaneNFO)
		require.NoError(t, err)
	}

	assert.Equal(t, MaxRetry, GetAttempts(status, VideoLaneNFO))
	assert.True(t, IsPermanentlyFailed(status, VideoLaneNFO))
	assert.False(t, IsRunnable(status, VideoLaneNFO))

	_, err = IncrementAttempts(status, VideoLaneNFO)
	assert.ErrorIs(t, err, ErrLaneSaturated)
}

func TestMarkPermanentlyFailed(t *testing.T) {
	var status uint32
	status, err := IncrementAttempts(status, VideoLaneDanmaku)
	require.NoError(t, err)

	status = MarkPermanentlyFailed(status, VideoLaneDanmaku)
	assert.True(t, IsPermanentlyFailed(status, VideoLaneDanmaku))
	assert.False(t, IsSucceeded(status, VideoLaneDanmaku))
	assert.Equal(t, MaxRetry, GetAttempts(status, VideoLaneDanmaku))
}

func TestLanesAreIndependent(t *testing.T) {
	var status uint32
	status = MarkSucceeded(status, VideoLaneCover)
	status, err := IncrementAttempts(status, VideoLaneNFO)
	require.NoError(t, err)

	assert.True(t, IsSucceeded(status, VideoLaneCover))
	assert.False(t, IsSucceeded(status, VideoLaneNFO))
	assert.Equal(t, 0, GetAttempts(status, VideoLaneCover))
	assert.Equal(t, 1, GetAttempts(status, VideoLaneNFO))
}

func TestAllLanesTerminal(t *testing.T) {
	var status uint32
	assert.False(t, AllLanesTerminal(status, VideoLaneCount()))

	for lane := 0; lane < VideoLaneCount(); lane++ {
		status = MarkSucceeded(status, lane)
	}
	assert.True(t, AllLanesTerminal(status, VideoLaneCount()))
}

func TestCompletedAllBit(t *testing.T) {
	var status uint32
	assert.False(t, IsCompletedAll(status))

	status = MarkCompletedAll(status)
	assert.True(t, IsCompletedAll(status))

	// Lane bits are untouched by the completed-all bit.
	status, err := IncrementAttempts(status, VideoLaneCover)
	require.NoError(t, err)
	assert.True(t, IsCompletedAll(status))
	assert.Equal(t, 1, GetAttempts(status, VideoLaneCover))

	status = AdminReset(status)
	assert.False(t, IsCompletedAll(status))
	assert.Equal(t, 1, GetAttempts(status, VideoLaneCover), "admin reset only clears the completed-all bit")
}

func TestPageLaneConstantsDistinct(t *testing.T) {
	lanes := []int{PageLaneVideoStream, PageLaneAudioStream, PageLaneMuxedContainer, PageLaneSubtitle, PageLaneCover}
	seen := make(map[int]bool)
	for _, l := range lanes {
		assert.False(t, seen[l], "lane %d duplicated", l)
		seen[l] = true
	}
	assert.Equal(t, 5, PageLaneCount())
}
