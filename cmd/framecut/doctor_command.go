package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"framecut/internal/preflight"
)

func newDoctorCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check the engine binaries and working directories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)

			ffmpeg, ffprobe := engineTools(cfg)
			fmt.Fprintln(out, renderStatusLine("FFmpeg command", statusInfo, ffmpeg, colorize))
			fmt.Fprintln(out, renderStatusLine("FFprobe command", statusInfo, ffprobe, colorize))

			resolved := *cfg
			resolved.Engine.FFmpegBinary = ffmpeg
			resolved.Engine.FFprobeBinary = ffprobe
			results := preflight.RunAll(cmd.Context(), &resolved)
			for _, r := range results {
				kind := statusOK
				if !r.Passed {
					kind = statusError
				}
				fmt.Fprintln(out, renderStatusLine(r.Name, kind, r.Detail, colorize))
			}
			if failed := preflight.Failed(results); len(failed) > 0 {
				return fmt.Errorf("%d of %d checks failed", len(failed), len(results))
			}
			fmt.Fprintln(out, "All checks passed")
			return nil
		},
	}
}
