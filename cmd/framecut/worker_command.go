package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"framecut/internal/engine"
	"framecut/internal/logging"
)

// newWorkerCommand is the engine side of an execution context. It is started
// by the bridge, never by hand: requests arrive on stdin, events leave on
// stdout and logs go to stderr.
func newWorkerCommand() *cobra.Command {
	var scratch, ffmpeg, ffprobe, logLevel string

	cmd := &cobra.Command{
		Use:         "worker",
		Short:       "Run the engine host for one execution context",
		Hidden:      true,
		Args:        cobra.NoArgs,
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			if scratch == "" {
				return errors.New("--scratch is required")
			}
			logger, err := logging.New(logging.Options{
				Level:       logLevel,
				Format:      "console",
				OutputPaths: []string{"stderr"},
			})
			if err != nil {
				return err
			}

			host, err := engine.NewHost(engine.Options{
				Scratch: scratch,
				Runner:  engine.Runner{FFmpeg: ffmpeg, FFprobe: ffprobe},
				Logger:  logger,
			})
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return host.Serve(ctx, os.Stdin, os.Stdout)
		},
	}

	cmd.Flags().StringVar(&scratch, "scratch", "", "Scratch directory shared with the bridge")
	cmd.Flags().StringVar(&ffmpeg, "ffmpeg", "ffmpeg", "ffmpeg binary")
	cmd.Flags().StringVar(&ffprobe, "ffprobe", "ffprobe", "ffprobe binary")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level")
	return cmd
}
