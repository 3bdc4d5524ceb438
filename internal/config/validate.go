package config

import (
	"errors"
	"fmt"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateEngine(); err != nil {
		return err
	}
	if err := c.validateQuality(); err != nil {
		return err
	}
	if err := c.validateArtifacts(); err != nil {
		return err
	}
	if err := c.validateServer(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateEngine() error {
	if c.Engine.LoadTimeoutSeconds < 0 {
		return errors.New("engine.load_timeout_seconds must be positive")
	}
	if c.Engine.OperationTimeoutSeconds < 0 {
		return errors.New("engine.operation_timeout_seconds must be positive")
	}
	if c.Engine.MinFreeMiB < 0 {
		return errors.New("engine.min_free_mib must be zero or positive")
	}
	return nil
}

func (c *Config) validateQuality() error {
	for name, value := range c.QualityTable() {
		if value < 0 || value > 63 {
			return fmt.Errorf("quality.%s must be between 0 and 63, got %d", name, value)
		}
	}
	return nil
}

func (c *Config) validateArtifacts() error {
	if c.Artifacts.ReleaseGraceMillis < 0 {
		return errors.New("artifacts.release_grace_ms must be zero or positive")
	}
	return nil
}

func (c *Config) validateServer() error {
	if c.Server.RequestsPerMinute < 0 {
		return errors.New("server.requests_per_minute must be zero or positive")
	}
	if c.Server.Burst < 0 {
		return errors.New("server.burst must be zero or positive")
	}
	if c.Server.MaxUploadMiB < 0 {
		return errors.New("server.max_upload_mib must be zero or positive")
	}
	return nil
}

func (c *Config) validateLogging() error {
	if c.Logging.RetentionDays < 0 {
		return errors.New("logging.retention_days must be zero or positive")
	}
	if c.Logging.MaxFileMiB < 0 {
		return errors.New("logging.max_file_mib must be zero or positive")
	}
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
		return nil
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
}
