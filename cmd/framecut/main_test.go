package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"framecut/internal/artifact"
	"framecut/internal/bridge"
	"framecut/internal/history"
	"framecut/internal/protocol"
	"framecut/internal/testsupport"
)

func runCLI(t *testing.T, args []string, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	var flags []string
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}

func TestConfigInitAndValidate(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	cfg := testsupport.NewConfig(t)
	configPath := testsupport.WriteConfig(t, cfg)

	out, _, err := runCLI(t, []string{"config", "validate"}, configPath)
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	requireContains(t, out, "Configuration valid")
	requireContains(t, out, "engine.operation_timeout")
	requireContains(t, out, "30s")
	requireContains(t, out, "40/32/24")
	requireContains(t, out, cfg.Paths.HistoryDB)

	out, _, err = runCLI(t, []string{"config", "show"}, configPath)
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	requireContains(t, out, "[quality]")
	requireContains(t, out, "low = 40")

	target := filepath.Join(t.TempDir(), "config.toml")
	out, _, err = runCLI(t, []string{"config", "init", "--path", target}, "")
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, out, "Wrote sample configuration")
	requireContains(t, out, "[artifacts]")
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("expected config file at %s: %v", target, err)
	}

	if _, _, err := runCLI(t, []string{"config", "init", "--path", target}, ""); err == nil {
		t.Fatal("expected init to refuse an existing file")
	}
	if _, _, err := runCLI(t, []string{"config", "init", "--path", target, "--overwrite"}, ""); err != nil {
		t.Fatalf("config init --overwrite: %v", err)
	}
}

func TestHistoryCommand(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	cfg := testsupport.NewConfig(t)
	configPath := testsupport.WriteConfig(t, cfg)
	store := testsupport.MustOpenHistory(t, cfg)
	testsupport.RecordExport(t, store, "a1b2c3d4e5", "trim", history.StatusComplete, 3<<20)
	testsupport.RecordExport(t, store, "f6e5d4c3b2", "merge", history.StatusError, 0)

	out, _, err := runCLI(t, []string{"history"}, configPath)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	requireContains(t, out, "a1b2c3d4")
	requireContains(t, out, "ExecutionFailure")
	requireContains(t, out, "3.0 MiB")
	requireContains(t, out, "2 exports: 1 complete, 1 failed")

	out, _, err = runCLI(t, []string{"history", "--kind", "merge", "--json"}, configPath)
	if err != nil {
		t.Fatalf("history --json: %v", err)
	}
	var entries []history.Entry
	if err := json.Unmarshal([]byte(out), &entries); err != nil {
		t.Fatalf("decode history json: %v", err)
	}
	if len(entries) != 1 || entries[0].Kind != "merge" {
		t.Fatalf("unexpected entries %+v", entries)
	}

	out, _, err = runCLI(t, []string{"history", "--clear"}, configPath)
	if err != nil {
		t.Fatalf("history --clear: %v", err)
	}
	requireContains(t, out, "Removed 2 entries")

	out, _, err = runCLI(t, []string{"history"}, configPath)
	if err != nil {
		t.Fatalf("history after clear: %v", err)
	}
	requireContains(t, out, "No exports recorded")
}

func TestHistoryDisabled(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	cfg := testsupport.NewConfig(t, testsupport.WithoutHistory())
	configPath := testsupport.WriteConfig(t, cfg)

	_, _, err := runCLI(t, []string{"history"}, configPath)
	if err == nil || !strings.Contains(err.Error(), "history is disabled") {
		t.Fatalf("expected disabled history error, got %v", err)
	}
}

func TestDoctor(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries())
	configPath := testsupport.WriteConfig(t, cfg)

	out, _, err := runCLI(t, []string{"doctor"}, configPath)
	if err != nil {
		t.Fatalf("doctor: %v\n%s", err, out)
	}
	requireContains(t, out, "ffmpeg version stub")
	requireContains(t, out, "All checks passed")
}

func TestDoctorReportsMissingEngine(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	cfg := testsupport.NewConfig(t, testsupport.WithEmptyPath())
	configPath := testsupport.WriteConfig(t, cfg)

	out, _, err := runCLI(t, []string{"doctor"}, configPath)
	if err == nil {
		t.Fatal("expected doctor to fail without an engine")
	}
	requireContains(t, out, `binary "ffmpeg" not found`)
	requireContains(t, err.Error(), "2 of")
}

func TestParseClipSpec(t *testing.T) {
	cases := []struct {
		spec       string
		path       string
		start, end float64
		wantErr    bool
	}{
		{spec: "a.mp4", path: "a.mp4"},
		{spec: "a.mp4:2.5", path: "a.mp4", start: 2.5},
		{spec: "a.mp4:1:4", path: "a.mp4", start: 1, end: 4},
		{spec: "a.mp4::4", path: "a.mp4", end: 4},
		{spec: "dir:with:colons/a.mp4:3", path: "dir:with:colons/a.mp4", start: 3},
		{spec: "take:two.mp4", path: "take:two.mp4"},
		{spec: ":5", wantErr: true},
		{spec: " ", wantErr: true},
	}
	for _, tc := range cases {
		clip, err := parseClipSpec(tc.spec)
		if tc.wantErr {
			if err == nil {
				t.Errorf("parseClipSpec(%q) expected error", tc.spec)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseClipSpec(%q): %v", tc.spec, err)
			continue
		}
		if clip.Input.Path != tc.path || clip.Start != tc.start || clip.End != tc.end {
			t.Errorf("parseClipSpec(%q) = %+v", tc.spec, clip)
		}
	}
}

func TestWriteResult(t *testing.T) {
	dir := t.TempDir()

	single := &artifact.Result{Kind: protocol.KindConvert, Filename: "converted_1.webm", Data: []byte("webm")}
	written, err := writeResult(dir, "/videos/Café.mov", single)
	if err != nil {
		t.Fatalf("writeResult: %v", err)
	}
	want := filepath.Join(dir, "Cafe_converted.webm")
	if len(written) != 1 || written[0] != want {
		t.Fatalf("written = %v, want %s", written, want)
	}
	if _, err := writeResult(dir, "/videos/Café.mov", single); err == nil {
		t.Fatal("expected existing output to be kept")
	}

	frames := &artifact.Result{Kind: protocol.KindFrames, Frames: []artifact.Frame{
		{Name: "frame_0001.jpg", Data: []byte("1")},
		{Name: "frame_0002.jpg", Data: []byte("2")},
	}}
	written, err = writeResult(dir, "clip.mp4", frames)
	if err != nil {
		t.Fatalf("writeResult frames: %v", err)
	}
	if len(written) != 2 || written[1] != filepath.Join(dir, "clip_frames", "frame_0002.jpg") {
		t.Fatalf("unexpected frame paths %v", written)
	}
	data, err := os.ReadFile(written[0])
	if err != nil || string(data) != "1" {
		t.Fatalf("frame content = %q, %v", data, err)
	}
}

func TestProgressPrinterPlainOutput(t *testing.T) {
	var buf bytes.Buffer
	p := newProgressPrinter(&buf)
	p.update(bridge.Update{Status: bridge.StatusLoading, Logs: []string{"locating core"}})
	p.update(bridge.Update{Status: bridge.StatusLoading, Logs: []string{"locating core", "initializing"}})
	p.update(bridge.Update{Status: bridge.StatusProcessing, Progress: 3, Message: "Processing clip 1/2"})
	p.update(bridge.Update{Status: bridge.StatusProcessing, Progress: 4, Message: "Processing clip 1/2"})
	p.update(bridge.Update{Status: bridge.StatusProcessing, Progress: 60, Message: "Concatenating"})
	p.update(bridge.Update{Status: bridge.StatusError, Message: "operation exceeded 5m0s", ErrorKind: "Timeout"})

	out := buf.String()
	if strings.Count(out, "locating core") != 1 {
		t.Fatalf("engine log repeated:\n%s", out)
	}
	requireContains(t, out, "initializing")
	if strings.Count(out, "Processing clip 1/2") != 1 {
		t.Fatalf("progress not sampled:\n%s", out)
	}
	requireContains(t, out, " 60% Concatenating")
	requireContains(t, out, "[ERROR] Timeout: operation exceeded 5m0s")
}

func TestRenderTablePadsShortRows(t *testing.T) {
	out := renderTable([]string{"A", "B"}, [][]string{{"only"}}, []columnAlignment{alignLeft, alignRight})
	requireContains(t, out, "only")
	if lines := strings.Split(strings.TrimSpace(out), "\n"); len(lines) != 5 {
		t.Fatalf("expected header, separator, row and borders, got:\n%s", out)
	}
}
