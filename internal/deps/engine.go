package deps

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"framecut/internal/services"
)

// ResolveTool picks the binary used for an engine tool. A configured command
// other than the bare name wins; otherwise a binary sitting next to the worker
// executable is preferred over a PATH lookup of name.
func ResolveTool(name, configured, worker string) string {
	if c := strings.TrimSpace(configured); c != "" && c != name {
		return c
	}
	if candidate, ok := sidecarCandidate(worker, name); ok {
		if info, err := os.Stat(candidate); err == nil && isExecutable(info) {
			return candidate
		}
	}
	return name
}

// EngineRequirements lists the binaries the media engine needs.
func EngineRequirements(ffmpeg, ffprobe string) []Requirement {
	return []Requirement{
		{
			Name:        "FFmpeg",
			Command:     ffmpeg,
			Description: "Required for trim, frames, convert and merge",
		},
		{
			Name:        "FFprobe",
			Command:     ffprobe,
			Description: "Required for media inspection",
		},
	}
}

// Capability returns a check that fails with ErrCapabilityUnavailable while
// either engine binary is missing.
func Capability(ffmpeg, ffprobe string) func() error {
	return func() error {
		missing := Missing(CheckBinaries(EngineRequirements(ffmpeg, ffprobe)))
		if len(missing) == 0 {
			return nil
		}
		details := make([]string, 0, len(missing))
		for _, m := range missing {
			details = append(details, m.Detail)
		}
		return services.Wrap(services.ErrCapabilityUnavailable, "deps", "engine", strings.Join(details, "; "), nil)
	}
}

func sidecarCandidate(worker, name string) (string, bool) {
	worker = strings.TrimSpace(worker)
	if worker == "" {
		return "", false
	}
	if runtime.GOOS == "windows" {
		name += ".exe"
	}
	return filepath.Join(filepath.Dir(worker), name), true
}

func isExecutable(info os.FileInfo) bool {
	if info == nil || info.IsDir() {
		return false
	}
	if runtime.GOOS == "windows" {
		return true
	}
	return info.Mode().Perm()&0o111 != 0
}
