package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"framecut/internal/artifact"
	"framecut/internal/bridge"
	"framecut/internal/config"
	"framecut/internal/deps"
	"framecut/internal/history"
	"framecut/internal/logging"
	"framecut/internal/workerctx"
)

type commandContext struct {
	configFlag  *string
	envFileFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag, envFileFlag *string) *commandContext {
	return &commandContext{
		configFlag:  configFlag,
		envFileFlag: envFileFlag,
	}
}

// loadEnvFile applies an environment file without overriding variables that
// are already set. A missing default .env is not an error.
func (c *commandContext) loadEnvFile() error {
	path := ""
	if c.envFileFlag != nil {
		path = strings.TrimSpace(*c.envFileFlag)
	}
	if path == "" {
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load .env: %w", err)
		}
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) logger() (*slog.Logger, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return logger, nil
}

// openHistory opens the export ledger, or returns nil when it is disabled.
func openHistory(ctx context.Context, cfg *config.Config) (*history.Store, error) {
	if strings.TrimSpace(cfg.Paths.HistoryDB) == "" {
		return nil, nil
	}
	store, err := history.Open(ctx, cfg.Paths.HistoryDB)
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}
	return store, nil
}

// engineTools resolves the ffmpeg and ffprobe binaries the worker will run.
func engineTools(cfg *config.Config) (ffmpeg, ffprobe string) {
	worker := cfg.Engine.WorkerBinary
	if worker == "" {
		if exe, err := os.Executable(); err == nil {
			worker = exe
		}
	}
	ffmpeg = deps.ResolveTool("ffmpeg", cfg.Engine.FFmpegBinary, worker)
	ffprobe = deps.ResolveTool("ffprobe", cfg.Engine.FFprobeBinary, worker)
	return ffmpeg, ffprobe
}

// bridgeOptions builds client options from cfg. The worker is this binary
// unless the configuration names another one.
func bridgeOptions(cfg *config.Config, logger *slog.Logger, store *artifact.Store, recorder *history.Store) bridge.Options {
	ffmpeg, ffprobe := engineTools(cfg)
	quality := make(map[bridge.Quality]int)
	for tier, crf := range cfg.QualityTable() {
		quality[bridge.Quality(tier)] = crf
	}
	opts := bridge.Options{
		Worker: workerctx.Config{
			Binary: cfg.Engine.WorkerBinary,
			Args: []string{
				"worker",
				"--ffmpeg", ffmpeg,
				"--ffprobe", ffprobe,
				"--log-level", cfg.Logging.Level,
			},
			WorkDir:     cfg.Paths.WorkDir,
			KeepScratch: cfg.Engine.KeepScratch,
		},
		Timeout:     cfg.OperationTimeout(),
		LoadTimeout: cfg.LoadTimeout(),
		Quality:     quality,
		Capability:  deps.Capability(ffmpeg, ffprobe),
		Store:       store,
		Logger:      logger,
	}
	if recorder != nil {
		opts.Recorder = recorder
	}
	return opts
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}
