package logging

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// LogFileName is the file framecut appends to inside the log directory.
const LogFileName = "framecut.log"

const rotatedPattern = "framecut-*.log"

// LogFilePath returns the log file inside dir.
func LogFilePath(dir string) string {
	return filepath.Join(dir, LogFileName)
}

// Retention bounds the log directory: the live file is rotated once it reaches
// MaxBytes, and rotated files older than Days are removed. Zero disables
// either step.
type Retention struct {
	MaxBytes int64
	Days     int
}

// Apply rotates and prunes the log files in dir. It runs before a logger is
// attached, so failures are returned rather than logged.
func (r Retention) Apply(dir string, now time.Time) error {
	if strings.TrimSpace(dir) == "" {
		return nil
	}
	var errs []error
	if _, err := rotateLog(LogFilePath(dir), r.MaxBytes, now); err != nil {
		errs = append(errs, err)
	}
	if _, err := CleanupOldLogs(dir, r.Days, now); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// rotateLog renames path to framecut-<timestamp>.log once it holds at least
// maxBytes and returns the new name.
func rotateLog(path string, maxBytes int64, now time.Time) (string, error) {
	if maxBytes <= 0 {
		return "", nil
	}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("stat log file: %w", err)
	}
	if info.Size() < maxBytes {
		return "", nil
	}
	rotated := filepath.Join(filepath.Dir(path), "framecut-"+now.UTC().Format("20060102T150405.000")+".log")
	if err := os.Rename(path, rotated); err != nil {
		return "", fmt.Errorf("rotate log file: %w", err)
	}
	return rotated, nil
}

// CleanupOldLogs removes rotated log files in dir last modified before
// retentionDays ago and returns their paths. The live log is never removed.
func CleanupOldLogs(dir string, retentionDays int, now time.Time) ([]string, error) {
	if retentionDays <= 0 {
		return nil, nil
	}
	cutoff := now.AddDate(0, 0, -retentionDays)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read log directory: %w", err)
	}

	var removed []string
	var errs []error
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if matched, _ := filepath.Match(rotatedPattern, entry.Name()); !matched {
			continue
		}
		info, err := entry.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := os.Remove(path); err != nil {
			errs = append(errs, fmt.Errorf("remove %s: %w", path, err))
			continue
		}
		removed = append(removed, path)
	}
	return removed, errors.Join(errs...)
}

// ReportRetention logs a retention failure; the old files simply remain.
func ReportRetention(logger *slog.Logger, err error) {
	if err == nil || logger == nil {
		return
	}
	logger.Warn("log retention incomplete; old log files remain", Error(err))
}
