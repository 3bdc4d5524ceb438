package engine

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os/exec"
	"strconv"
	"strings"
	"sync"
)

// commandContext is swapped in tests to fake ffmpeg and ffprobe.
var commandContext = exec.CommandContext

const maxStderrBytes = 16 * 1024

// EngineError is a failed ffmpeg or ffprobe run. Message is the tool's own
// last diagnostic line, reported to the bridge verbatim.
type EngineError struct {
	Message string
	Err     error
}

func (e *EngineError) Error() string { return e.Message }

func (e *EngineError) Unwrap() error { return e.Err }

// Runner invokes the ffmpeg and ffprobe binaries.
type Runner struct {
	FFmpeg  string
	FFprobe string
}

func (r Runner) ffmpeg() string {
	if s := strings.TrimSpace(r.FFmpeg); s != "" {
		return s
	}
	return "ffmpeg"
}

func (r Runner) ffprobe() string {
	if s := strings.TrimSpace(r.FFprobe); s != "" {
		return s
	}
	return "ffprobe"
}

// Version returns the first line of `ffmpeg -version`.
func (r Runner) Version(ctx context.Context) (string, error) {
	out, err := commandContext(ctx, r.ffmpeg(), "-hide_banner", "-version").Output()
	if err != nil {
		return "", fmt.Errorf("ffmpeg -version: %w", err)
	}
	line, _, _ := strings.Cut(strings.TrimSpace(string(out)), "\n")
	return strings.TrimSpace(line), nil
}

// Run executes ffmpeg with args. total is the expected output duration in
// seconds; when positive, report receives whole percentages as encoding
// advances.
func (r Runner) Run(ctx context.Context, args []string, total float64, report func(float64)) error {
	full := append([]string{"-hide_banner", "-nostdin", "-nostats", "-y", "-progress", "pipe:1"}, args...)
	cmd := commandContext(ctx, r.ffmpeg(), full...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr := &limitedWriter{limit: maxStderrBytes}
	cmd.Stderr = stderr
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start ffmpeg: %w", err)
	}

	consumeProgress(stdout, total, report)

	if err := cmd.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		message := lastLine(stderr.String())
		if message == "" {
			message = "ffmpeg failed: " + err.Error()
		}
		return &EngineError{Message: message, Err: err}
	}
	return nil
}

// consumeProgress parses ffmpeg's -progress key=value stream.
func consumeProgress(r io.Reader, total float64, report func(float64)) {
	last := -1.0
	emit := func(p float64) {
		p = math.Floor(math.Min(100, math.Max(0, p)))
		if p > last && report != nil {
			last = p
			report(p)
		}
	}
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		key, value, ok := strings.Cut(strings.TrimSpace(scanner.Text()), "=")
		if !ok {
			continue
		}
		switch key {
		case "out_time_us", "out_time_ms":
			// Both keys carry microseconds.
			if total <= 0 {
				continue
			}
			micros, err := strconv.ParseFloat(value, 64)
			if err != nil || micros < 0 {
				continue
			}
			emit(micros / 1e6 / total * 100)
		case "progress":
			if value == "end" {
				emit(100)
			}
		}
	}
	_, _ = io.Copy(io.Discard, r)
}

// limitedWriter keeps only the last limit bytes written.
type limitedWriter struct {
	mu    sync.Mutex
	buf   bytes.Buffer
	limit int
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	n := len(p)
	lw.buf.Write(p)
	if lw.buf.Len() > lw.limit {
		b := lw.buf.Bytes()
		tail := append([]byte(nil), b[len(b)-lw.limit:]...)
		lw.buf.Reset()
		lw.buf.Write(tail)
	}
	return n, nil
}

func (lw *limitedWriter) String() string {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	return lw.buf.String()
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return ""
}

func isEngineError(err error) bool {
	var engineErr *EngineError
	return errors.As(err, &engineErr)
}
