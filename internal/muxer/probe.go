package muxer

import (
	"strconv"
	"strings"
)

// parseProbeOutput parses ffprobe's `-of csv=p=0` output for
// `-show_entries format=duration:stream=codec_type`: one line per stream
// holding its codec_type, plus one line holding the format duration. Lines
// are not ordered per any guarantee, so each is classified independently.
func parseProbeOutput(out []byte) *ProbeResult {
	result := &ProbeResult{}
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		switch line {
		case "video":
			result.HasVideo = true
		case "audio":
			result.HasAudio = true
		default:
			if d, err := strconv.ParseFloat(line, 64); err == nil {
				result.DurationSeconds = d
			}
		}
	}
	return result
}
