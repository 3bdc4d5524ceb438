package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeEngine(); err != nil {
		return err
	}
	if err := c.normalizeServer(); err != nil {
		return err
	}
	c.normalizeArtifacts()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	if value, ok := lookupEnv("FRAMECUT_WORK_DIR"); ok {
		c.Paths.WorkDir = value
	}
	if strings.TrimSpace(c.Paths.WorkDir) == "" {
		c.Paths.WorkDir = defaultWorkDir
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	var err error
	if c.Paths.WorkDir, err = expandPath(c.Paths.WorkDir); err != nil {
		return fmt.Errorf("paths.work_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if c.Paths.HistoryDB, err = expandPath(strings.TrimSpace(c.Paths.HistoryDB)); err != nil {
		return fmt.Errorf("paths.history_db: %w", err)
	}
	return nil
}

func (c *Config) normalizeEngine() error {
	if value, ok := lookupEnv("FRAMECUT_FFMPEG"); ok {
		c.Engine.FFmpegBinary = value
	}
	if value, ok := lookupEnv("FRAMECUT_FFPROBE"); ok {
		c.Engine.FFprobeBinary = value
	}
	if value, ok := lookupEnv("FRAMECUT_TIMEOUT_SECONDS"); ok {
		seconds, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("FRAMECUT_TIMEOUT_SECONDS: %w", err)
		}
		c.Engine.OperationTimeoutSeconds = seconds
	}
	c.Engine.FFmpegBinary = strings.TrimSpace(c.Engine.FFmpegBinary)
	if c.Engine.FFmpegBinary == "" {
		c.Engine.FFmpegBinary = defaultFFmpegBinary
	}
	c.Engine.FFprobeBinary = strings.TrimSpace(c.Engine.FFprobeBinary)
	if c.Engine.FFprobeBinary == "" {
		c.Engine.FFprobeBinary = defaultFFprobeBinary
	}
	if c.Engine.WorkerBinary = strings.TrimSpace(c.Engine.WorkerBinary); c.Engine.WorkerBinary != "" {
		expanded, err := expandPath(c.Engine.WorkerBinary)
		if err != nil {
			return fmt.Errorf("engine.worker_binary: %w", err)
		}
		c.Engine.WorkerBinary = expanded
	}
	if c.Engine.LoadTimeoutSeconds == 0 {
		c.Engine.LoadTimeoutSeconds = defaultLoadTimeoutSeconds
	}
	if c.Engine.OperationTimeoutSeconds == 0 {
		c.Engine.OperationTimeoutSeconds = defaultOperationTimeoutSeconds
	}
	return nil
}

func (c *Config) normalizeServer() error {
	if value, ok := lookupEnv("FRAMECUT_BIND"); ok {
		c.Server.Bind = value
	}
	c.Server.Bind = strings.TrimSpace(c.Server.Bind)
	if c.Server.Bind == "" {
		c.Server.Bind = defaultBind
	}
	if c.Server.RequestsPerMinute == 0 {
		c.Server.RequestsPerMinute = defaultRequestsPerMinute
	}
	if c.Server.Burst == 0 {
		c.Server.Burst = defaultBurst
	}
	if c.Server.MaxUploadMiB == 0 {
		c.Server.MaxUploadMiB = defaultMaxUploadMiB
	}
	return nil
}

func (c *Config) normalizeArtifacts() {
	c.Artifacts.BaseURL = strings.TrimRight(strings.TrimSpace(c.Artifacts.BaseURL), "/")
}

func (c *Config) normalizeLogging() {
	if value, ok := lookupEnv("FRAMECUT_LOG_LEVEL"); ok {
		c.Logging.Level = value
	}
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}

func lookupEnv(key string) (string, bool) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	value = strings.TrimSpace(value)
	return value, value != ""
}
