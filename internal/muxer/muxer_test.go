package muxer

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/biliarchive/biliarchive/internal/config"
)

// writeFakeBinary writes a shell script standing in for ffmpeg/ffprobe so
// tests don't depend on the tools actually being installed. exitCode
// controls success/failure; stdout is written verbatim to simulate ffprobe
// csv output.
func writeFakeBinary(t *testing.T, dir, name string, exitCode int, stdout, stderr string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake binary script requires a POSIX shell")
	}

	path := filepath.Join(dir, name)
	script := "#!/bin/sh\n"
	if stdout != "" {
		script += "printf '%s' \"" + stdout + "\"\n"
	}
	if stderr != "" {
		script += "printf '%s' \"" + stderr + "\" >&2\n"
	}
	script += "exit " + string(rune('0'+exitCode)) + "\n"

	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func TestMuxer_Mux_Success(t *testing.T) {
	dir := t.TempDir()
	ffmpegPath := writeFakeBinary(t, dir, "ffmpeg", 0, "", "")

	m := &Muxer{binaryPath: ffmpegPath, cfg: config.MuxerConfig{Timeout: config.Duration(5 * time.Second)}}
	err := m.Mux(context.Background(), "video.m4s", "audio.m4s", filepath.Join(dir, "out.mp4"))
	assert.NoError(t, err)
}

func TestMuxer_Mux_Failure(t *testing.T) {
	dir := t.TempDir()
	ffmpegPath := writeFakeBinary(t, dir, "ffmpeg", 1, "", "invalid data found")

	m := &Muxer{binaryPath: ffmpegPath, cfg: config.MuxerConfig{Timeout: config.Duration(5 * time.Second)}}
	err := m.Mux(context.Background(), "video.m4s", "audio.m4s", filepath.Join(dir, "out.mp4"))
	require.Error(t, err)
	assert.ErrorContains(t, err, "invalid data found")
}

func TestMuxer_Mux_RequiresBothPaths(t *testing.T) {
	m := &Muxer{cfg: config.MuxerConfig{Timeout: config.Duration(time.Second)}}
	assert.Error(t, m.Mux(context.Background(), "", "audio.m4s", "out.mp4"))
	assert.Error(t, m.Mux(context.Background(), "video.m4s", "", "out.mp4"))
}

func TestMuxer_Remux_Success(t *testing.T) {
	dir := t.TempDir()
	ffmpegPath := writeFakeBinary(t, dir, "ffmpeg", 0, "", "")

	m := &Muxer{binaryPath: ffmpegPath, cfg: config.MuxerConfig{Timeout: config.Duration(5 * time.Second)}}
	err := m.Remux(context.Background(), "in.flv", filepath.Join(dir, "out.mp4"))
	assert.NoError(t, err)
}

func TestParseProbeOutput(t *testing.T) {
	out := []byte("video\naudio\n123.456\n")
	result := parseProbeOutput(out)
	assert.True(t, result.HasVideo)
	assert.True(t, result.HasAudio)
	assert.Equal(t, 123.456, result.DurationSeconds)
}

func TestMuxer_Probe_NoBinary(t *testing.T) {
	m := &Muxer{cfg: config.MuxerConfig{Timeout: config.Duration(time.Second)}}
	_, err := m.Probe(context.Background(), "in.mp4")
	assert.Error(t, err)
}
