package preflight

import (
	"context"
	"path/filepath"

	"framecut/internal/config"
	"framecut/internal/deps"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes the filesystem and engine checks for cfg.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Work directory", cfg.Paths.WorkDir),
		CheckFreeSpace("Work directory space", cfg.Paths.WorkDir, uint64(cfg.Engine.MinFreeMiB)<<20),
		CheckDirectoryAccess("Log directory", cfg.Paths.LogDir),
	}
	if cfg.Paths.HistoryDB != "" {
		results = append(results, CheckDirectoryAccess("History directory", filepath.Dir(cfg.Paths.HistoryDB)))
	}

	statuses := deps.CheckBinaries(deps.EngineRequirements(cfg.Engine.FFmpegBinary, cfg.Engine.FFprobeBinary))
	for _, status := range statuses {
		results = append(results, fromStatus(status))
	}
	if ffmpeg := statuses[0]; ffmpeg.Available {
		results = append(results, CheckEngineVersion(ctx, ffmpeg.Command))
	}
	return results
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	var failed []Result
	for _, r := range results {
		if !r.Passed {
			failed = append(failed, r)
		}
	}
	return failed
}

func fromStatus(status deps.Status) Result {
	if status.Available {
		return Result{Name: status.Name, Passed: true, Detail: status.Command}
	}
	return Result{Name: status.Name, Detail: status.Detail}
}
