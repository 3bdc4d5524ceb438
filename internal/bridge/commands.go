package bridge

import (
	"fmt"
	"strings"

	"framecut/internal/protocol"
	"framecut/internal/services"
)

// Input is one media file handed to the engine. Exactly one of Data or Path is
// used; Data wins when both are set. Data is moved into the execution context:
// the caller must not modify it after submitting the command.
type Input struct {
	Name string
	Data []byte
	Path string
}

func (in Input) empty() bool {
	return len(in.Data) == 0 && strings.TrimSpace(in.Path) == ""
}

// TrimSettings selects a time window in seconds. Fast mode copies streams and
// snaps to keyframes; accurate mode re-encodes for exact cut points.
type TrimSettings struct {
	StartTime float64
	EndTime   float64
	Mode      protocol.TrimMode
}

// FrameSettings sets the sampling rate in frames per second. The accepted
// range is the caller's policy.
type FrameSettings struct {
	FPS float64
}

// ConvertSettings selects the quality tier of the webm conversion.
type ConvertSettings struct {
	Quality Quality
}

// MergeClip is one merge input with its trim bounds. A zero End keeps the clip
// to its end.
type MergeClip struct {
	Input Input
	Start float64
	End   float64
}

// MergeSettings selects the output container; empty means mp4.
type MergeSettings struct {
	Format string
}

// Command is a request for one engine operation. Build it with the
// constructors below.
type Command struct {
	Kind    protocol.Kind
	Input   Input
	Clips   []MergeClip
	Trim    TrimSettings
	Frames  FrameSettings
	Convert ConvertSettings
	Merge   MergeSettings
}

func TrimCommand(in Input, s TrimSettings) Command {
	return Command{Kind: protocol.KindTrim, Input: in, Trim: s}
}

func FramesCommand(in Input, s FrameSettings) Command {
	return Command{Kind: protocol.KindFrames, Input: in, Frames: s}
}

func ConvertCommand(in Input, s ConvertSettings) Command {
	return Command{Kind: protocol.KindConvert, Input: in, Convert: s}
}

func MergeCommand(clips []MergeClip, s MergeSettings) Command {
	return Command{Kind: protocol.KindMerge, Clips: clips, Merge: s}
}

// settings validates c and resolves it into wire settings.
func (c Command) settings(quality map[Quality]int) (protocol.Settings, error) {
	invalid := func(format string, args ...any) error {
		return services.Wrap(services.ErrValidation, "bridge", string(c.Kind), fmt.Sprintf(format, args...), nil)
	}
	if c.Kind.Valid() && c.Kind != protocol.KindMerge && c.Input.empty() {
		return protocol.Settings{}, invalid("input is required")
	}

	switch c.Kind {
	case protocol.KindTrim:
		s := c.Trim
		if s.StartTime < 0 || s.EndTime <= s.StartTime {
			return protocol.Settings{}, invalid("invalid window %.3f-%.3f", s.StartTime, s.EndTime)
		}
		mode := s.Mode
		if mode == "" {
			mode = protocol.TrimFast
		}
		if mode != protocol.TrimFast && mode != protocol.TrimAccurate {
			return protocol.Settings{}, invalid("unknown trim mode %q", s.Mode)
		}
		return protocol.Settings{StartTime: s.StartTime, EndTime: s.EndTime, Mode: mode}, nil

	case protocol.KindFrames:
		if c.Frames.FPS <= 0 {
			return protocol.Settings{}, invalid("fps must be positive, got %g", c.Frames.FPS)
		}
		return protocol.Settings{FPS: c.Frames.FPS}, nil

	case protocol.KindConvert:
		tier := c.Convert.Quality
		if tier == "" {
			tier = QualityMedium
		}
		crf, ok := quality[Quality(strings.ToLower(string(tier)))]
		if !ok {
			return protocol.Settings{}, invalid("unknown quality %q", c.Convert.Quality)
		}
		return protocol.Settings{CRF: crf}, nil

	case protocol.KindMerge:
		if len(c.Clips) == 0 {
			return protocol.Settings{}, invalid("at least one clip is required")
		}
		for i, clip := range c.Clips {
			if clip.Input.empty() {
				return protocol.Settings{}, invalid("clip %d: input is required", i+1)
			}
			if clip.Start < 0 || (clip.End != 0 && clip.End <= clip.Start) {
				return protocol.Settings{}, invalid("clip %d: invalid window %.3f-%.3f", i+1, clip.Start, clip.End)
			}
		}
		format := strings.ToLower(strings.TrimSpace(c.Merge.Format))
		if format == "" {
			format = protocol.FormatMP4
		}
		if format != protocol.FormatMP4 && format != protocol.FormatWebM {
			return protocol.Settings{}, invalid("unsupported format %q", c.Merge.Format)
		}
		return protocol.Settings{Format: format}, nil

	default:
		return protocol.Settings{}, services.Wrap(services.ErrValidation, "bridge", "start", fmt.Sprintf("unknown kind %q", c.Kind), nil)
	}
}

func resolveQuality(overrides map[Quality]int) map[Quality]int {
	table := DefaultQualityTable()
	for tier, crf := range overrides {
		table[Quality(strings.ToLower(string(tier)))] = crf
	}
	return table
}
