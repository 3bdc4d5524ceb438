package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"framecut/internal/artifact"
	"framecut/internal/bridge"
	"framecut/internal/config"
	"framecut/internal/fileutil"
	"framecut/internal/logging"
	"framecut/internal/protocol"
	"framecut/internal/textutil"
)

const closeTimeout = 10 * time.Second

func newOperationCommands(ctx *commandContext) []*cobra.Command {
	return []*cobra.Command{
		newTrimCommand(ctx),
		newFramesCommand(ctx),
		newConvertCommand(ctx),
		newMergeCommand(ctx),
	}
}

func newTrimCommand(ctx *commandContext) *cobra.Command {
	var start, end float64
	var mode, outDir string

	cmd := &cobra.Command{
		Use:   "trim <input>",
		Short: "Cut a time window out of a media file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			command := bridge.TrimCommand(fileInput(args[0]), bridge.TrimSettings{
				StartTime: start,
				EndTime:   end,
				Mode:      protocol.TrimMode(strings.ToLower(mode)),
			})
			return runOperation(cmd, ctx, command, args[0], outDir)
		},
	}
	cmd.Flags().Float64Var(&start, "start", 0, "Window start in seconds")
	cmd.Flags().Float64Var(&end, "end", 0, "Window end in seconds")
	cmd.Flags().StringVar(&mode, "mode", string(protocol.TrimFast), "fast (stream copy, keyframe aligned) or accurate (re-encode)")
	cmd.Flags().StringVarP(&outDir, "output", "o", ".", "Output directory")
	_ = cmd.MarkFlagRequired("end")
	return cmd
}

func newFramesCommand(ctx *commandContext) *cobra.Command {
	var fps float64
	var outDir string

	cmd := &cobra.Command{
		Use:   "frames <input>",
		Short: "Extract JPEG frames at a fixed rate",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			command := bridge.FramesCommand(fileInput(args[0]), bridge.FrameSettings{FPS: fps})
			return runOperation(cmd, ctx, command, args[0], outDir)
		},
	}
	cmd.Flags().Float64Var(&fps, "fps", 1, "Frames per second")
	cmd.Flags().StringVarP(&outDir, "output", "o", ".", "Output directory")
	return cmd
}

func newConvertCommand(ctx *commandContext) *cobra.Command {
	var quality, outDir string

	cmd := &cobra.Command{
		Use:   "convert <input>",
		Short: "Re-encode a media file to webm",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			command := bridge.ConvertCommand(fileInput(args[0]), bridge.ConvertSettings{Quality: bridge.Quality(quality)})
			return runOperation(cmd, ctx, command, args[0], outDir)
		},
	}
	cmd.Flags().StringVar(&quality, "quality", string(bridge.QualityMedium), "low, medium or high")
	cmd.Flags().StringVarP(&outDir, "output", "o", ".", "Output directory")
	return cmd
}

func newMergeCommand(ctx *commandContext) *cobra.Command {
	var format, outDir string

	cmd := &cobra.Command{
		Use:   "merge <clip>...",
		Short: "Trim and concatenate clips into one file",
		Long: `Trim and concatenate clips into one file.

Each clip is path[:start[:end]] in seconds; an omitted end keeps the clip to
its end, e.g. "intro.mp4:0:5 talk.webm:12".`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			clips := make([]bridge.MergeClip, 0, len(args))
			for _, arg := range args {
				clip, err := parseClipSpec(arg)
				if err != nil {
					return err
				}
				clips = append(clips, clip)
			}
			command := bridge.MergeCommand(clips, bridge.MergeSettings{Format: format})
			return runOperation(cmd, ctx, command, clips[0].Input.Path, outDir)
		},
	}
	cmd.Flags().StringVar(&format, "format", protocol.FormatMP4, "Output container: mp4 or webm")
	cmd.Flags().StringVarP(&outDir, "output", "o", ".", "Output directory")
	return cmd
}

func fileInput(path string) bridge.Input {
	return bridge.Input{Name: filepath.Base(path), Path: path}
}

// parseClipSpec splits path[:start[:end]]. Trailing fields are only taken as
// bounds when they are numbers, so paths containing colons still work.
func parseClipSpec(spec string) (bridge.MergeClip, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return bridge.MergeClip{}, errors.New("empty clip")
	}
	parts := strings.Split(spec, ":")
	var bounds []float64
	for len(parts) > 1 && len(bounds) < 2 {
		last := parts[len(parts)-1]
		value := 0.0
		if last != "" {
			v, err := strconv.ParseFloat(last, 64)
			if err != nil {
				break
			}
			value = v
		}
		bounds = append([]float64{value}, bounds...)
		parts = parts[:len(parts)-1]
	}
	path := strings.Join(parts, ":")
	if path == "" {
		return bridge.MergeClip{}, fmt.Errorf("clip %q: missing path", spec)
	}
	clip := bridge.MergeClip{Input: fileInput(path)}
	if len(bounds) > 0 {
		clip.Start = bounds[0]
	}
	if len(bounds) > 1 {
		clip.End = bounds[1]
	}
	return clip, nil
}

// runOperation runs one command through a fresh client, prints progress to
// stderr and the written files to stdout.
func runOperation(cmd *cobra.Command, ctx *commandContext, command bridge.Command, input, outDir string) error {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return err
	}
	logger, err := fileLogger(cfg)
	if err != nil {
		return err
	}

	runCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	recorder, err := openHistory(runCtx, cfg)
	if err != nil {
		return err
	}
	if recorder != nil {
		defer recorder.Close()
	}

	client, err := bridge.Open(runCtx, bridgeOptions(cfg, logger, nil, recorder))
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		if err := client.Close(closeCtx); err != nil {
			logger.Warn("close client", logging.Error(err))
		}
	}()

	printer := newProgressPrinter(cmd.ErrOrStderr())
	op, err := client.Start(runCtx, command, printer.update)
	if err != nil {
		return err
	}
	result, err := op.Wait(runCtx)
	if err != nil {
		return err
	}

	written, err := writeResult(outDir, input, result)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, path := range written {
		fmt.Fprintln(out, path)
	}
	return nil
}

// fileLogger keeps one-shot commands quiet on the terminal; logs only go to
// the log file.
func fileLogger(cfg *config.Config) (*slog.Logger, error) {
	retentionErr := logging.RetentionFromConfig(cfg).Apply(cfg.Paths.LogDir, time.Now())
	logger, err := logging.New(logging.Options{
		Level:       cfg.Logging.Level,
		Format:      "json",
		OutputPaths: []string{logging.LogFilePath(cfg.Paths.LogDir)},
	})
	if err != nil {
		return nil, err
	}
	logging.ReportRetention(logger, retentionErr)
	return logger, nil
}

// writeResult stores result under dir, named after input. Frames go to a
// "<stem>_frames" subdirectory. Existing files are never overwritten.
func writeResult(dir, input string, result *artifact.Result) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	if result.Kind == protocol.KindFrames {
		frameDir := filepath.Join(dir, textutil.OutputStem(input, "frames"))
		if err := os.MkdirAll(frameDir, 0o755); err != nil {
			return nil, fmt.Errorf("create frame directory: %w", err)
		}
		written := make([]string, 0, len(result.Frames))
		for _, frame := range result.Frames {
			path := filepath.Join(frameDir, textutil.SanitizeFileName(frame.Name))
			if err := writeOutput(path, frame.Data); err != nil {
				return written, err
			}
			written = append(written, path)
		}
		return written, nil
	}

	ext := textutil.Extension(result.Filename, ".mp4")
	path := filepath.Join(dir, textutil.OutputName(input, outputSuffix(result.Kind), ext))
	if err := writeOutput(path, result.Data); err != nil {
		return nil, err
	}
	return []string{path}, nil
}

func writeOutput(path string, data []byte) error {
	if err := fileutil.WriteNew(path, bytes.NewReader(data)); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("%s already exists", path)
		}
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func outputSuffix(kind protocol.Kind) string {
	switch kind {
	case protocol.KindTrim:
		return "trimmed"
	case protocol.KindConvert:
		return "converted"
	case protocol.KindMerge:
		return "merged"
	default:
		return string(kind)
	}
}
