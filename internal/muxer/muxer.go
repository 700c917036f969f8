// Package muxer shells out to an external media tool (ffmpeg) to combine a
// separately-downloaded video and audio stream into a single container, or
// remux a single stream into its final extension, always in stream-copy
// mode: no transcoding, no hardware acceleration, no filter graph.
package muxer

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"

	"github.com/biliarchive/biliarchive/internal/config"
	"github.com/biliarchive/biliarchive/internal/util"
)

// Muxer invokes ffmpeg/ffprobe as local subprocesses.
type Muxer struct {
	binaryPath string
	probePath  string
	cfg        config.MuxerConfig
}

// New resolves the ffmpeg/ffprobe binaries (explicit config path, or
// auto-detect via internal/util.FindBinary) and returns a Muxer.
func New(cfg config.MuxerConfig) (*Muxer, error) {
	binaryPath := cfg.BinaryPath
	if binaryPath == "" {
		found, err := util.FindBinary("ffmpeg", "BILIARCHIVE_FFMPEG_PATH")
		if err != nil {
			return nil, fmt.Errorf("locating ffmpeg: %w", err)
		}
		binaryPath = found
	}

	probePath := cfg.ProbePath
	if probePath == "" {
		if found, err := util.FindBinary("ffprobe", "BILIARCHIVE_FFPROBE_PATH"); err == nil {
			probePath = found
		}
	}

	return &Muxer{binaryPath: binaryPath, probePath: probePath, cfg: cfg}, nil
}

// runStreamCopy runs ffmpeg with the given extra args in stream-copy mode,
// capturing stderr for the error message on non-zero exit.
func (m *Muxer) runStreamCopy(ctx context.Context, args []string) error {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.Timeout.Duration())
	defer cancel()

	full := append([]string{"-hide_banner", "-loglevel", "error", "-y"}, args...)
	cmd := exec.CommandContext(ctx, m.binaryPath, full...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg %v: %w: %s", args, err, stderr.String())
	}
	return nil
}

// Mux combines a video-only stream and an audio-only stream into output,
// copying both codecs without re-encoding.
func (m *Muxer) Mux(ctx context.Context, videoPath, audioPath, output string) error {
	if videoPath == "" {
		return fmt.Errorf("video path is required")
	}
	if audioPath == "" {
		return fmt.Errorf("audio path is required")
	}

	args := []string{
		"-i", videoPath,
		"-i", audioPath,
		"-c", "copy",
		output,
	}
	return m.runStreamCopy(ctx, args)
}

// Remux copies input into output in its final container/extension without
// re-encoding, used for single-stream (already-muxed or audio-only) pages.
func (m *Muxer) Remux(ctx context.Context, input, output string) error {
	if input == "" {
		return fmt.Errorf("input path is required")
	}
	args := []string{
		"-i", input,
		"-c", "copy",
		output,
	}
	return m.runStreamCopy(ctx, args)
}

// ProbeResult is the subset of ffprobe's output this engine inspects.
type ProbeResult struct {
	DurationSeconds float64
	HasVideo        bool
	HasAudio        bool
}

// Probe inspects a media file with ffprobe. It returns an error if no
// ffprobe binary was found or resolvable at construction time.
func (m *Muxer) Probe(ctx context.Context, path string) (*ProbeResult, error) {
	if m.probePath == "" {
		return nil, fmt.Errorf("ffprobe not available")
	}

	ctx, cancel := context.WithTimeout(ctx, m.cfg.Timeout.Duration())
	defer cancel()

	cmd := exec.CommandContext(ctx, m.probePath,
		"-v", "error",
		"-show_entries", "format=duration:stream=codec_type",
		"-of", "csv=p=0",
		path,
	)

	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffprobe %s: %w", path, err)
	}

	return parseProbeOutput(out), nil
}
