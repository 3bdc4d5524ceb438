package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"
)

// Probe is the subset of ffprobe output the pipelines rely on.
type Probe struct {
	Streams []Stream `json:"streams"`
	Format  Format   `json:"format"`
}

// Stream describes one stream in the container.
type Stream struct {
	Index     int    `json:"index"`
	CodecName string `json:"codec_name"`
	CodecType string `json:"codec_type"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	Duration  string `json:"duration"`
}

// Format captures container-level metadata.
type Format struct {
	Duration   string `json:"duration"`
	FormatName string `json:"format_name"`
}

// Inspect runs ffprobe against path.
func (r Runner) Inspect(ctx context.Context, path string) (Probe, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return Probe{}, errors.New("ffprobe inspect: empty path")
	}
	cmd := commandContext(ctx, r.ffprobe(), "-v", "error", "-hide_banner", "-show_format", "-show_streams", "-of", "json", "--", path)
	output, err := cmd.Output()
	if err != nil {
		var detail string
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			detail = lastLine(string(exitErr.Stderr))
		}
		if detail == "" {
			return Probe{}, fmt.Errorf("ffprobe inspect: %w", err)
		}
		return Probe{}, &EngineError{Message: detail, Err: err}
	}

	var probe Probe
	if err := json.Unmarshal(output, &probe); err != nil {
		return Probe{}, fmt.Errorf("ffprobe parse: %w", err)
	}
	return probe, nil
}

// DurationSeconds returns the container duration, falling back to the
// longest stream; zero when unknown.
func (p Probe) DurationSeconds() float64 {
	if d := parseSeconds(p.Format.Duration); d > 0 {
		return d
	}
	var longest float64
	for _, s := range p.Streams {
		longest = math.Max(longest, parseSeconds(s.Duration))
	}
	return longest
}

// HasVideo reports whether a video stream is present.
func (p Probe) HasVideo() bool { return p.count("video") > 0 }

// HasAudio reports whether an audio stream is present.
func (p Probe) HasAudio() bool { return p.count("audio") > 0 }

// VideoSize returns the dimensions of the first video stream.
func (p Probe) VideoSize() (int, int) {
	for _, s := range p.Streams {
		if strings.EqualFold(s.CodecType, "video") {
			return s.Width, s.Height
		}
	}
	return 0, 0
}

func (p Probe) count(kind string) int {
	n := 0
	for _, s := range p.Streams {
		if strings.EqualFold(s.CodecType, kind) {
			n++
		}
	}
	return n
}

func parseSeconds(value string) float64 {
	parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil || math.IsNaN(parsed) || parsed < 0 {
		return 0
	}
	return parsed
}
