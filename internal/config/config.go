package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and database locations.
type Paths struct {
	WorkDir   string `toml:"work_dir"`
	LogDir    string `toml:"log_dir"`
	HistoryDB string `toml:"history_db"`
}

// Engine contains configuration for the worker process and the media engine
// it hosts.
type Engine struct {
	// WorkerBinary overrides the executable re-run as the worker. Empty means
	// the running framecut binary.
	WorkerBinary            string `toml:"worker_binary"`
	FFmpegBinary            string `toml:"ffmpeg_binary"`
	FFprobeBinary           string `toml:"ffprobe_binary"`
	LoadTimeoutSeconds      int    `toml:"load_timeout_seconds"`
	OperationTimeoutSeconds int    `toml:"operation_timeout_seconds"`
	KeepScratch             bool   `toml:"keep_scratch"`
	MinFreeMiB              int    `toml:"min_free_mib"`
}

// Quality maps convert quality tiers onto the engine's CRF scale, where lower
// values mean higher quality.
type Quality struct {
	Low    int `toml:"low"`
	Medium int `toml:"medium"`
	High   int `toml:"high"`
}

// Artifacts contains configuration for addressable result URLs.
type Artifacts struct {
	ReleaseGraceMillis int    `toml:"release_grace_ms"`
	BaseURL            string `toml:"base_url"`
}

// Server contains configuration for the HTTP surface.
type Server struct {
	Bind              string `toml:"bind"`
	RequestsPerMinute int    `toml:"requests_per_minute"`
	Burst             int    `toml:"burst"`
	MaxUploadMiB      int    `toml:"max_upload_mib"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
	// RetentionDays prunes rotated log files older than this; zero keeps
	// them forever.
	RetentionDays int `toml:"retention_days"`
	// MaxFileMiB rotates framecut.log once it grows past this size; zero
	// disables rotation.
	MaxFileMiB int `toml:"max_file_mib"`
}

// Config encapsulates all configuration values for framecut.
//
// Configuration sections by subsystem:
//   - Paths: scratch, log and history locations
//   - Engine: worker process, engine binaries, timeouts
//   - Quality: convert quality tier table
//   - Artifacts: result URL release behaviour
//   - Server: HTTP bind address and request limits
//   - Logging: log format and level
type Config struct {
	Paths     Paths     `toml:"paths"`
	Engine    Engine    `toml:"engine"`
	Quality   Quality   `toml:"quality"`
	Artifacts Artifacts `toml:"artifacts"`
	Server    Server    `toml:"server"`
	Logging   Logging   `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/framecut/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and environment overrides applied.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("framecut.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the work and log directories and the parent of
// the history database.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Paths.WorkDir, c.Paths.LogDir}
	if c.Paths.HistoryDB != "" {
		dirs = append(dirs, filepath.Dir(c.Paths.HistoryDB))
	}
	for _, dir := range dirs {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// OperationTimeout returns the wall-clock budget for a single command.
func (c *Config) OperationTimeout() time.Duration {
	return time.Duration(c.Engine.OperationTimeoutSeconds) * time.Second
}

// LoadTimeout returns the budget for engine initialization.
func (c *Config) LoadTimeout() time.Duration {
	return time.Duration(c.Engine.LoadTimeoutSeconds) * time.Second
}

// ReleaseGrace returns the delay between a release request and the artifact
// bytes being dropped.
func (c *Config) ReleaseGrace() time.Duration {
	return time.Duration(c.Artifacts.ReleaseGraceMillis) * time.Millisecond
}

// QualityTable returns the quality tier lookup keyed by tier name.
func (c *Config) QualityTable() map[string]int {
	return map[string]int{
		"low":    c.Quality.Low,
		"medium": c.Quality.Medium,
		"high":   c.Quality.High,
	}
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// Encode writes cfg to w as TOML.
func Encode(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return nil
}

// Save writes cfg to path as TOML.
func Save(path string, cfg *Config) error {
	var buf bytes.Buffer
	if err := Encode(&buf, cfg); err != nil {
		return err
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
