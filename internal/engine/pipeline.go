package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"framecut/internal/protocol"
)

const (
	defaultConvertCRF = 32
	accurateTrimCRF   = 18
	mergeMP4CRF       = 20
	mergeWebMCRF      = 32
	mergeFrameRate    = "30"
	fallbackWidth     = 1280
	fallbackHeight    = 720
)

// job is one execute request in flight.
type job struct {
	id       string
	req      protocol.Execute
	outDir   string
	runner   Runner
	progress func(percent float64, step string)
	log      func(string)
}

func (j *job) run(ctx context.Context) (protocol.Output, error) {
	switch j.req.Kind {
	case protocol.KindTrim:
		return j.trim(ctx)
	case protocol.KindFrames:
		return j.frames(ctx)
	case protocol.KindConvert:
		return j.convert(ctx)
	case protocol.KindMerge:
		return j.merge(ctx)
	default:
		return protocol.Output{}, fmt.Errorf("unsupported command %q", j.req.Kind)
	}
}

func (j *job) trim(ctx context.Context) (protocol.Output, error) {
	s := j.req.Settings
	window := s.EndTime - s.StartTime
	if s.StartTime < 0 || window <= 0 {
		return protocol.Output{}, fmt.Errorf("invalid trim window %s-%s", seconds(s.StartTime), seconds(s.EndTime))
	}
	out := filepath.Join(j.outDir, "trimmed.mp4")
	args := []string{"-ss", seconds(s.StartTime), "-i", j.req.Input, "-t", seconds(window), "-map", "0:v?", "-map", "0:a?"}
	if s.Mode == protocol.TrimAccurate {
		args = append(args, h264Args(accurateTrimCRF)...)
		j.log(fmt.Sprintf("accurate trim %s-%s (re-encode)", seconds(s.StartTime), seconds(s.EndTime)))
	} else {
		args = append(args, "-c", "copy", "-avoid_negative_ts", "make_zero")
		j.log(fmt.Sprintf("fast trim %s-%s (stream copy, keyframe aligned)", seconds(s.StartTime), seconds(s.EndTime)))
	}
	args = append(args, "-movflags", "+faststart", out)
	if err := j.runner.Run(ctx, args, window, j.percent("")); err != nil {
		return protocol.Output{}, err
	}
	return protocol.Output{Path: out}, nil
}

func (j *job) frames(ctx context.Context) (protocol.Output, error) {
	fps := j.req.Settings.FPS
	if fps <= 0 {
		return protocol.Output{}, fmt.Errorf("invalid frame rate %g", fps)
	}
	probe, err := j.runner.Inspect(ctx, j.req.Input)
	if err != nil {
		return protocol.Output{}, err
	}
	if !probe.HasVideo() {
		return protocol.Output{}, errors.New("input has no video stream")
	}
	j.log(fmt.Sprintf("extracting %s frame(s) per second", strconv.FormatFloat(fps, 'f', -1, 64)))
	args := []string{
		"-i", j.req.Input,
		"-vf", "fps=" + strconv.FormatFloat(fps, 'f', -1, 64),
		"-q:v", "2",
		filepath.Join(j.outDir, "frame_%04d.jpg"),
	}
	if err := j.runner.Run(ctx, args, probe.DurationSeconds(), j.percent("")); err != nil {
		return protocol.Output{}, err
	}

	entries, err := os.ReadDir(j.outDir)
	if err != nil {
		return protocol.Output{}, fmt.Errorf("list frames: %w", err)
	}
	var out protocol.Output
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, "frame_") || !strings.HasSuffix(name, ".jpg") {
			continue
		}
		out.Frames = append(out.Frames, protocol.Frame{Name: name, Path: filepath.Join(j.outDir, name)})
	}
	if len(out.Frames) == 0 {
		return protocol.Output{}, errors.New("no frames extracted")
	}
	j.log(fmt.Sprintf("extracted %d frame(s)", len(out.Frames)))
	return out, nil
}

func (j *job) convert(ctx context.Context) (protocol.Output, error) {
	crf := j.req.Settings.CRF
	if crf <= 0 {
		crf = defaultConvertCRF
	}
	probe, err := j.runner.Inspect(ctx, j.req.Input)
	if err != nil {
		return protocol.Output{}, err
	}
	out := filepath.Join(j.outDir, "converted.webm")
	j.log(fmt.Sprintf("converting to webm (vp9/opus, crf %d)", crf))
	args := append([]string{"-i", j.req.Input}, vp9Args(crf)...)
	args = append(args, out)
	if err := j.runner.Run(ctx, args, probe.DurationSeconds(), j.percent("")); err != nil {
		return protocol.Output{}, err
	}
	return protocol.Output{Path: out}, nil
}

// merge normalizes every clip to a common codec, size and frame rate, then
// concatenates them, first by stream copy and, if that is rejected, by
// re-encoding. Normalization reports 0-50%, concatenation the rest.
func (j *job) merge(ctx context.Context) (protocol.Output, error) {
	format := j.req.Settings.Format
	if format == "" {
		format = protocol.FormatMP4
	}
	if format != protocol.FormatMP4 && format != protocol.FormatWebM {
		return protocol.Output{}, fmt.Errorf("unsupported merge format %q", format)
	}
	clips := j.req.Clips
	n := len(clips)

	probes := make([]Probe, n)
	windows := make([]float64, n)
	var total float64
	for i, clip := range clips {
		probe, err := j.runner.Inspect(ctx, clip.Path)
		if err != nil {
			return protocol.Output{}, err
		}
		if !probe.HasVideo() {
			return protocol.Output{}, fmt.Errorf("clip %d has no video stream", i+1)
		}
		window := clipWindow(clip, probe.DurationSeconds())
		if window <= 0 {
			return protocol.Output{}, fmt.Errorf("clip %d: window %s-%s is outside the media", i+1, seconds(clip.Start), seconds(clip.End))
		}
		probes[i], windows[i] = probe, window
		total += window
	}
	width, height := canvasSize(probes)
	j.log(fmt.Sprintf("merging %d clip(s) into %s at %dx%d", n, format, width, height))

	var scratch []string
	defer func() {
		for _, path := range scratch {
			_ = os.Remove(path)
		}
	}()

	parts := make([]string, n)
	span := 50 / float64(n)
	for i, clip := range clips {
		step := fmt.Sprintf("Processing clip %d/%d", i+1, n)
		base := float64(i) * span
		j.progress(base, step)
		parts[i] = filepath.Join(j.outDir, fmt.Sprintf("part_%03d.%s", i+1, format))
		scratch = append(scratch, parts[i])
		args := normalizeArgs(clip, probes[i], windows[i], width, height, format, parts[i])
		err := j.runner.Run(ctx, args, windows[i], func(p float64) {
			j.progress(base+p*span/100, step)
		})
		if err != nil {
			return protocol.Output{}, err
		}
	}

	list := filepath.Join(j.outDir, "concat.txt")
	scratch = append(scratch, list)
	if err := writeConcatList(list, parts); err != nil {
		return protocol.Output{}, err
	}

	out := filepath.Join(j.outDir, "merged."+format)
	j.progress(60, "Concatenating")
	copyArgs := []string{"-f", "concat", "-safe", "0", "-i", list, "-c", "copy"}
	if format == protocol.FormatMP4 {
		copyArgs = append(copyArgs, "-movflags", "+faststart")
	}
	err := j.runner.Run(ctx, append(copyArgs, out), 0, nil)
	if err == nil {
		j.progress(90, "Concatenating")
		j.progress(100, "Finalizing")
		return protocol.Output{Path: out}, nil
	}
	if ctx.Err() != nil || !isEngineError(err) {
		return protocol.Output{}, err
	}

	j.log("stream copy concatenation rejected (" + err.Error() + "); re-encoding")
	_ = os.Remove(out)
	j.progress(70, "Re-encoding")
	args := []string{"-f", "concat", "-safe", "0", "-i", list}
	args = append(args, encodeArgs(format)...)
	args = append(args, out)
	if err := j.runner.Run(ctx, args, total, func(p float64) {
		j.progress(70+p*25/100, "Re-encoding")
	}); err != nil {
		return protocol.Output{}, err
	}
	j.progress(100, "Finalizing")
	return protocol.Output{Path: out}, nil
}

func (j *job) percent(step string) func(float64) {
	return func(p float64) { j.progress(p, step) }
}

// clipWindow returns the trimmed length of clip; a zero End means the end of
// the media.
func clipWindow(clip protocol.Clip, duration float64) float64 {
	end := clip.End
	if end <= 0 || (duration > 0 && end > duration) {
		end = duration
	}
	return end - clip.Start
}

// canvasSize picks the first clip's dimensions, rounded down to even values.
func canvasSize(probes []Probe) (int, int) {
	for _, p := range probes {
		if w, h := p.VideoSize(); w > 1 && h > 1 {
			return w &^ 1, h &^ 1
		}
	}
	return fallbackWidth, fallbackHeight
}

func normalizeArgs(clip protocol.Clip, probe Probe, window float64, width, height int, format, out string) []string {
	args := []string{"-ss", seconds(clip.Start), "-t", seconds(window), "-i", clip.Path}
	audio := "0:a:0"
	if !probe.HasAudio() {
		args = append(args, "-f", "lavfi", "-t", seconds(window), "-i", "anullsrc=channel_layout=stereo:sample_rate=48000")
		audio = "1:a:0"
	}
	filter := fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2,setsar=1,fps=%s",
		width, height, width, height, mergeFrameRate)
	args = append(args, "-map", "0:v:0", "-map", audio, "-vf", filter, "-ar", "48000", "-ac", "2")
	args = append(args, encodeArgs(format)...)
	return append(args, out)
}

func encodeArgs(format string) []string {
	if format == protocol.FormatWebM {
		return vp9Args(mergeWebMCRF)
	}
	return append(h264Args(mergeMP4CRF), "-movflags", "+faststart")
}

func h264Args(crf int) []string {
	return []string{
		"-c:v", "libx264", "-preset", "veryfast", "-crf", strconv.Itoa(crf), "-pix_fmt", "yuv420p",
		"-c:a", "aac", "-b:a", "192k",
	}
}

func vp9Args(crf int) []string {
	return []string{
		"-c:v", "libvpx-vp9", "-crf", strconv.Itoa(crf), "-b:v", "0",
		"-deadline", "good", "-cpu-used", "4", "-row-mt", "1",
		"-c:a", "libopus", "-b:a", "128k",
	}
}

// writeConcatList writes an ffconcat script referencing parts by base name;
// they live next to the list.
func writeConcatList(path string, parts []string) error {
	var b strings.Builder
	b.WriteString("ffconcat version 1.0\n")
	for _, part := range parts {
		name := strings.ReplaceAll(filepath.Base(part), "'", `'\''`)
		fmt.Fprintf(&b, "file '%s'\n", name)
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("write concat list: %w", err)
	}
	return nil
}

func seconds(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}
