package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"framecut/internal/api"
	"framecut/internal/artifact"
	"framecut/internal/bridge"
	"framecut/internal/logging"
	"framecut/internal/preflight"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	var bind string
	var preload bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.logger()
			if err != nil {
				return err
			}
			if bind == "" {
				bind = cfg.Server.Bind
			}

			runCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			lockPath := filepath.Join(cfg.Paths.WorkDir, "framecut.lock")
			lock := flock.New(lockPath)
			ok, err := lock.TryLock()
			if err != nil {
				return fmt.Errorf("acquire lock: %w", err)
			}
			if !ok {
				return fmt.Errorf("another framecut server is using %s (lock %s)", cfg.Paths.WorkDir, lockPath)
			}
			defer func() {
				if err := lock.Unlock(); err != nil {
					logger.Warn("failed to release server lock", logging.Error(err))
				}
			}()

			for _, result := range preflight.Failed(preflight.RunAll(runCtx, cfg)) {
				logger.Warn("preflight check failed",
					logging.String("check", result.Name),
					logging.String("detail", result.Detail),
				)
			}

			recorder, err := openHistory(runCtx, cfg)
			if err != nil {
				return err
			}
			var historyReader api.HistoryReader
			if recorder != nil {
				defer recorder.Close()
				historyReader = recorder
			}

			store := artifact.NewStore(artifact.StoreOptions{
				BaseURL:      cfg.Artifacts.BaseURL,
				ReleaseGrace: cfg.ReleaseGrace(),
				Logger:       logger,
			})
			defer store.Close()

			client, err := bridge.Open(runCtx, bridgeOptions(cfg, logger, store, recorder))
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
			if preload {
				go func() {
					if err := client.EnsureLoaded(runCtx, nil); err != nil {
						logger.Warn("engine preload failed", logging.Error(err))
					}
				}()
			}

			uploads := filepath.Join(cfg.Paths.WorkDir, "uploads")
			if err := os.RemoveAll(uploads); err != nil {
				return fmt.Errorf("clear upload directory: %w", err)
			}
			router := api.NewRouter(api.Config{
				Runner:  api.FromClient(client),
				Store:   store,
				History: historyReader,
				Checks: func(ctx context.Context) []preflight.Result {
					return preflight.RunAll(ctx, cfg)
				},
				UploadDir:         uploads,
				MaxUploadBytes:    int64(cfg.Server.MaxUploadMiB) << 20,
				RequestsPerMinute: cfg.Server.RequestsPerMinute,
				Burst:             cfg.Server.Burst,
				Logger:            logger,
				StartTime:         time.Now(),
			})

			ln, err := net.Listen("tcp", bind)
			if err != nil {
				return fmt.Errorf("listen on %s: %w", bind, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "framecut listening on http://%s\n", ln.Addr())
			return api.NewServer(router, logger).Serve(runCtx, ln)
		},
	}

	cmd.Flags().StringVar(&bind, "bind", "", "Listen address (overrides server.bind)")
	cmd.Flags().BoolVar(&preload, "preload", false, "Load the engine at startup instead of on the first request")
	return cmd
}
