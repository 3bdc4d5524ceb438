package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"framecut/internal/logging"
	"framecut/internal/protocol"
)

// TestHelperProcess impersonates ffmpeg and ffprobe. Input files whose content
// contains "corrupt" are rejected, "slow" inputs stall until killed and
// "noaudio" inputs probe without an audio stream.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	args := os.Args
	for i, arg := range args {
		if arg == "--" {
			args = args[i+1:]
			break
		}
	}
	if len(args) == 0 {
		os.Exit(2)
	}
	if path := os.Getenv("FAKE_CALL_LOG"); path != "" {
		if f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644); err == nil {
			_, _ = f.WriteString(strings.Join(args, " ") + "\n")
			_ = f.Close()
		}
	}
	switch args[0] {
	case "ffprobe":
		os.Exit(fakeProbe(args[1:]))
	default:
		os.Exit(fakeFFmpeg(args[1:]))
	}
}

func fakeDuration() float64 {
	if v, err := strconv.ParseFloat(os.Getenv("FAKE_DURATION"), 64); err == nil {
		return v
	}
	return 10
}

func fakeProbe(args []string) int {
	path := args[len(args)-1]
	data, _ := os.ReadFile(path)
	content := string(data)
	if strings.Contains(content, "corrupt") {
		fmt.Fprintf(os.Stderr, "%s: Invalid data found when processing input\n", path)
		return 1
	}
	streams := `{"index":0,"codec_type":"video","codec_name":"h264","width":1280,"height":720}`
	if !strings.Contains(content, "noaudio") {
		streams += `,{"index":1,"codec_type":"audio","codec_name":"aac"}`
	}
	fmt.Printf(`{"streams":[%s],"format":{"duration":"%g","format_name":"mov,mp4"}}`, streams, fakeDuration())
	return 0
}

func fakeFFmpeg(args []string) int {
	if len(args) > 0 && args[len(args)-1] == "-version" {
		fmt.Println("ffmpeg version 7.1-fake Copyright (c) 2000-2024")
		fmt.Println("built with fake")
		return 0
	}

	var concat, streamCopy bool
	fps := 0.0
	for i, arg := range args {
		switch arg {
		case "-i":
			if i+1 < len(args) {
				data, _ := os.ReadFile(args[i+1])
				if strings.Contains(string(data), "corrupt") {
					fmt.Fprintf(os.Stderr, "[mov,mp4] moov atom not found\n%s: Invalid data found when processing input\n", args[i+1])
					return 1
				}
				if strings.Contains(string(data), "slow") {
					time.Sleep(10 * time.Second)
				}
			}
		case "concat":
			concat = true
		case "copy":
			streamCopy = true
		case "-vf":
			if i+1 < len(args) && strings.HasPrefix(args[i+1], "fps=") {
				fps, _ = strconv.ParseFloat(strings.TrimPrefix(args[i+1], "fps="), 64)
			}
		}
	}
	if concat && streamCopy && os.Getenv("FAKE_CONCAT_COPY_FAIL") == "1" {
		fmt.Fprintln(os.Stderr, "Non-monotonous DTS in output stream 0:1")
		return 1
	}

	out := args[len(args)-1]
	if strings.Contains(out, "%04d") {
		n := int(fakeDuration() * fps)
		for i := 1; i <= n; i++ {
			_ = os.WriteFile(fmt.Sprintf(out, i), []byte("jpeg"), 0o644)
		}
	} else if err := os.WriteFile(out, []byte("media"), 0o644); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	half := int64(fakeDuration() * 1e6 / 2)
	fmt.Printf("out_time_us=%d\nprogress=continue\nprogress=end\n", half)
	return 0
}

func fakeTools(t *testing.T) string {
	t.Helper()
	callLog := filepath.Join(t.TempDir(), "calls.log")
	t.Setenv("GO_WANT_HELPER_PROCESS", "1")
	t.Setenv("FAKE_CALL_LOG", callLog)

	origCommand, origLook := commandContext, lookPath
	commandContext = func(ctx context.Context, name string, args ...string) *exec.Cmd {
		full := append([]string{"-test.run=TestHelperProcess", "--", filepath.Base(name)}, args...)
		return exec.CommandContext(ctx, os.Args[0], full...)
	}
	lookPath = func(name string) (string, error) { return "/usr/bin/" + name, nil }
	t.Cleanup(func() {
		commandContext, lookPath = origCommand, origLook
	})
	return callLog
}

type hostHarness struct {
	t       *testing.T
	scratch string
	enc     *protocol.Encoder
	msgs    chan protocol.Message
	stop    func()
}

func newHostHarness(t *testing.T) *hostHarness {
	t.Helper()
	scratch := t.TempDir()
	if err := os.MkdirAll(protocol.InputsDir(scratch), 0o755); err != nil {
		t.Fatalf("mkdir inputs: %v", err)
	}
	host, err := NewHost(Options{Scratch: scratch, Logger: logging.NewNop()})
	if err != nil {
		t.Fatalf("NewHost: %v", err)
	}

	reqR, reqW := io.Pipe()
	evR, evW := io.Pipe()
	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() {
		served <- host.Serve(ctx, reqR, evW)
		_ = evW.Close()
	}()

	msgs := make(chan protocol.Message, 512)
	go func() {
		defer close(msgs)
		dec := protocol.NewDecoder(evR)
		for {
			msg, err := dec.Next()
			if err != nil {
				return
			}
			msgs <- msg
		}
	}()

	h := &hostHarness{t: t, scratch: scratch, enc: protocol.NewEncoder(reqW), msgs: msgs}
	h.stop = func() {
		_ = reqW.Close()
		select {
		case err := <-served:
			if err != nil {
				t.Errorf("Serve: %v", err)
			}
		case <-time.After(15 * time.Second):
			t.Errorf("Serve did not return")
		}
		cancel()
	}
	t.Cleanup(h.stop)
	return h
}

func (h *hostHarness) send(msg protocol.Message) {
	h.t.Helper()
	if err := h.enc.Send(msg); err != nil {
		h.t.Fatalf("send %s: %v", msg.Type, err)
	}
}

// await collects every event for id up to and including its terminal one.
func (h *hostHarness) await(id string, terminal ...protocol.MessageType) []protocol.Message {
	h.t.Helper()
	if len(terminal) == 0 {
		terminal = []protocol.MessageType{protocol.TypeComplete, protocol.TypeError}
	}
	var got []protocol.Message
	deadline := time.After(15 * time.Second)
	for {
		select {
		case msg, ok := <-h.msgs:
			if !ok {
				h.t.Fatalf("event stream closed after %d event(s)", len(got))
			}
			if msg.ID != id {
				continue
			}
			got = append(got, msg)
			for _, typ := range terminal {
				if msg.Type == typ {
					return got
				}
			}
		case <-deadline:
			h.t.Fatalf("timed out waiting for %s; got %d event(s)", id, len(got))
		}
	}
}

func (h *hostHarness) load() {
	h.t.Helper()
	h.send(protocol.Message{Type: protocol.TypeLoad, ID: "load-1"})
	events := h.await("load-1", protocol.TypeLoaded, protocol.TypeError)
	if last := events[len(events)-1]; last.Type != protocol.TypeLoaded {
		h.t.Fatalf("load failed: %s", last.Text)
	}
}

func (h *hostHarness) input(name, content string) string {
	h.t.Helper()
	path := filepath.Join(protocol.InputsDir(h.scratch), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		h.t.Fatalf("write input: %v", err)
	}
	return path
}

func (h *hostHarness) execute(id string, ex protocol.Execute) []protocol.Message {
	h.t.Helper()
	h.send(protocol.Message{Type: protocol.TypeExecute, ID: id, Execute: &ex})
	return h.await(id)
}

func terminalOf(t *testing.T, events []protocol.Message) protocol.Message {
	t.Helper()
	if len(events) == 0 {
		t.Fatalf("no events")
	}
	return events[len(events)-1]
}

func steps(events []protocol.Message) []string {
	var out []string
	for _, ev := range events {
		if ev.Type != protocol.TypeProgress || ev.Step == "" {
			continue
		}
		if len(out) == 0 || out[len(out)-1] != ev.Step {
			out = append(out, ev.Step)
		}
	}
	return out
}

func readCalls(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read call log: %v", err)
	}
	return strings.Split(strings.TrimSpace(string(data)), "\n")
}

func TestHostLoadReportsSteps(t *testing.T) {
	fakeTools(t)
	h := newHostHarness(t)

	h.send(protocol.Message{Type: protocol.TypeLoad, ID: "load-1"})
	events := h.await("load-1", protocol.TypeLoaded, protocol.TypeError)
	var logs []string
	for _, ev := range events {
		if ev.Type == protocol.TypeLog {
			logs = append(logs, ev.Text)
		}
	}
	want := []string{"locating core", "probing binary", "ffmpeg version 7.1-fake Copyright (c) 2000-2024", "initializing"}
	if strings.Join(logs, "|") != strings.Join(want, "|") {
		t.Fatalf("unexpected load logs %q", logs)
	}
	if terminalOf(t, events).Type != protocol.TypeLoaded {
		t.Fatalf("expected loaded, got %+v", terminalOf(t, events))
	}

	h.send(protocol.Message{Type: protocol.TypeLoad, ID: "load-2"})
	again := h.await("load-2", protocol.TypeLoaded, protocol.TypeError)
	if len(again) != 1 || again[0].Type != protocol.TypeLoaded {
		t.Fatalf("expected immediate loaded on reload, got %+v", again)
	}
}

func TestHostLoadFailsWithoutBinary(t *testing.T) {
	fakeTools(t)
	lookPath = func(name string) (string, error) {
		return "", exec.ErrNotFound
	}
	h := newHostHarness(t)

	h.send(protocol.Message{Type: protocol.TypeLoad, ID: "load-1"})
	last := terminalOf(t, h.await("load-1", protocol.TypeLoaded, protocol.TypeError))
	if last.Type != protocol.TypeError || !strings.HasPrefix(last.Text, "ffmpeg not found") {
		t.Fatalf("expected missing ffmpeg error, got %+v", last)
	}
}

func TestHostRejectsExecuteBeforeLoad(t *testing.T) {
	fakeTools(t)
	h := newHostHarness(t)
	in := h.input("req-1.mp4", "video")

	last := terminalOf(t, h.execute("req-1", protocol.Execute{
		Kind:     protocol.KindTrim,
		Input:    in,
		Settings: protocol.Settings{StartTime: 1, EndTime: 3},
	}))
	if last.Type != protocol.TypeError || last.Text != "engine not loaded" {
		t.Fatalf("expected not loaded error, got %+v", last)
	}
}

func TestHostRejectsInputsOutsideScratch(t *testing.T) {
	fakeTools(t)
	h := newHostHarness(t)
	h.load()

	outside := filepath.Join(t.TempDir(), "elsewhere.mp4")
	if err := os.WriteFile(outside, []byte("video"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	last := terminalOf(t, h.execute("req-1", protocol.Execute{
		Kind:     protocol.KindConvert,
		Input:    outside,
		Settings: protocol.Settings{CRF: 30},
	}))
	if last.Type != protocol.TypeError || !strings.Contains(last.Text, "rejected input") {
		t.Fatalf("expected rejected input, got %+v", last)
	}
	if _, err := os.Stat(outside); err != nil {
		t.Fatalf("outside file must be left alone: %v", err)
	}
}

func TestHostTrimModes(t *testing.T) {
	callLog := fakeTools(t)
	h := newHostHarness(t)
	h.load()

	for _, mode := range []protocol.TrimMode{protocol.TrimFast, protocol.TrimAccurate} {
		id := "trim-" + string(mode)
		in := h.input(id+".mp4", "video")
		events := h.execute(id, protocol.Execute{
			Kind:     protocol.KindTrim,
			Input:    in,
			Settings: protocol.Settings{StartTime: 2, EndTime: 7, Mode: mode},
		})
		last := terminalOf(t, events)
		if last.Type != protocol.TypeComplete {
			t.Fatalf("%s: expected complete, got %+v", mode, last)
		}
		want := filepath.Join(protocol.OutputDir(h.scratch, id), "trimmed.mp4")
		if last.Output == nil || last.Output.Path != want {
			t.Fatalf("%s: unexpected output %+v", mode, last.Output)
		}
		if _, err := os.Stat(in); !errors.Is(err, os.ErrNotExist) {
			t.Fatalf("%s: staged input should be removed, stat err=%v", mode, err)
		}
	}

	calls := readCalls(t, callLog)
	var fast, accurate string
	for _, call := range calls {
		switch {
		case strings.Contains(call, "trim-fast.mp4"):
			fast = call
		case strings.Contains(call, "trim-accurate.mp4"):
			accurate = call
		}
	}
	if !strings.Contains(fast, "-ss 2.000 -i") || !strings.Contains(fast, "-t 5.000") || !strings.Contains(fast, "-c copy") {
		t.Fatalf("unexpected fast trim args: %s", fast)
	}
	if !strings.Contains(accurate, "-c:v libx264") || !strings.Contains(accurate, "-crf 18") || strings.Contains(accurate, "-c copy") {
		t.Fatalf("unexpected accurate trim args: %s", accurate)
	}
}

func TestHostTrimReportsProgress(t *testing.T) {
	fakeTools(t)
	h := newHostHarness(t)
	h.load()
	in := h.input("req-1.mp4", "video")

	events := h.execute("req-1", protocol.Execute{
		Kind:     protocol.KindTrim,
		Input:    in,
		Settings: protocol.Settings{StartTime: 0, EndTime: 10},
	})
	var percents []float64
	for _, ev := range events {
		if ev.Type == protocol.TypeProgress {
			percents = append(percents, ev.Percent)
		}
	}
	if len(percents) != 2 || percents[0] != 50 || percents[1] != 100 {
		t.Fatalf("expected progress [50 100], got %v", percents)
	}
}

func TestHostExtractFrames(t *testing.T) {
	fakeTools(t)
	h := newHostHarness(t)
	h.load()
	in := h.input("req-1.mp4", "video")

	last := terminalOf(t, h.execute("req-1", protocol.Execute{
		Kind:     protocol.KindFrames,
		Input:    in,
		Settings: protocol.Settings{FPS: 1},
	}))
	if last.Type != protocol.TypeComplete || last.Output == nil {
		t.Fatalf("expected complete, got %+v", last)
	}
	frames := last.Output.Frames
	if len(frames) != 10 {
		t.Fatalf("expected 10 frames, got %d", len(frames))
	}
	if frames[0].Name != "frame_0001.jpg" || frames[9].Name != "frame_0010.jpg" {
		t.Fatalf("frames out of order: %s..%s", frames[0].Name, frames[9].Name)
	}
}

func TestHostConvertUsesCRF(t *testing.T) {
	callLog := fakeTools(t)
	h := newHostHarness(t)
	h.load()
	in := h.input("req-1.mov", "video")

	last := terminalOf(t, h.execute("req-1", protocol.Execute{
		Kind:     protocol.KindConvert,
		Input:    in,
		Settings: protocol.Settings{CRF: 40},
	}))
	if last.Type != protocol.TypeComplete || filepath.Base(last.Output.Path) != "converted.webm" {
		t.Fatalf("expected converted.webm, got %+v", last)
	}
	calls := readCalls(t, callLog)
	encode := calls[len(calls)-1]
	if !strings.Contains(encode, "-c:v libvpx-vp9 -crf 40") || !strings.Contains(encode, "-c:a libopus") {
		t.Fatalf("unexpected convert args: %s", encode)
	}
}

func TestHostMergeStreamCopy(t *testing.T) {
	callLog := fakeTools(t)
	h := newHostHarness(t)
	h.load()
	a := h.input("req-1-clip00.mp4", "video")
	b := h.input("req-1-clip01.mp4", "video noaudio")

	events := h.execute("req-1", protocol.Execute{
		Kind:     protocol.KindMerge,
		Clips:    []protocol.Clip{{Path: a, Start: 0, End: 4}, {Path: b, Start: 2}},
		Settings: protocol.Settings{Format: protocol.FormatMP4},
	})
	last := terminalOf(t, events)
	if last.Type != protocol.TypeComplete || filepath.Base(last.Output.Path) != "merged.mp4" {
		t.Fatalf("expected merged.mp4, got %+v", last)
	}
	want := []string{"Processing clip 1/2", "Processing clip 2/2", "Concatenating", "Finalizing"}
	if got := steps(events); strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("unexpected steps %q", got)
	}

	outDir := protocol.OutputDir(h.scratch, "req-1")
	entries, err := os.ReadDir(outDir)
	if err != nil {
		t.Fatalf("read output dir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "merged.mp4" {
		t.Fatalf("intermediate files should be removed, found %d entries", len(entries))
	}

	var silent bool
	for _, call := range readCalls(t, callLog) {
		if strings.Contains(call, "req-1-clip01.mp4") && strings.Contains(call, "anullsrc") {
			silent = true
		}
	}
	if !silent {
		t.Fatalf("expected a silent track for the clip without audio")
	}
}

func TestHostMergeFallsBackToReencode(t *testing.T) {
	fakeTools(t)
	t.Setenv("FAKE_CONCAT_COPY_FAIL", "1")
	h := newHostHarness(t)
	h.load()
	a := h.input("req-1-clip00.webm", "video")
	b := h.input("req-1-clip01.webm", "video")

	events := h.execute("req-1", protocol.Execute{
		Kind:     protocol.KindMerge,
		Clips:    []protocol.Clip{{Path: a}, {Path: b}},
		Settings: protocol.Settings{Format: protocol.FormatWebM},
	})
	last := terminalOf(t, events)
	if last.Type != protocol.TypeComplete || filepath.Base(last.Output.Path) != "merged.webm" {
		t.Fatalf("expected merged.webm, got %+v", last)
	}
	got := steps(events)
	if got[len(got)-2] != "Re-encoding" || got[len(got)-1] != "Finalizing" {
		t.Fatalf("expected re-encode fallback, got %q", got)
	}
	var rejected bool
	for _, ev := range events {
		if ev.Type == protocol.TypeLog && strings.Contains(ev.Text, "Non-monotonous DTS") {
			rejected = true
		}
	}
	if !rejected {
		t.Fatalf("expected the concat rejection to be logged")
	}
}

func TestHostReportsEngineMessageVerbatim(t *testing.T) {
	fakeTools(t)
	h := newHostHarness(t)
	h.load()
	in := h.input("req-1.mp4", "corrupt")

	last := terminalOf(t, h.execute("req-1", protocol.Execute{
		Kind:     protocol.KindTrim,
		Input:    in,
		Settings: protocol.Settings{StartTime: 0, EndTime: 1},
	}))
	want := in + ": Invalid data found when processing input"
	if last.Type != protocol.TypeError || last.Text != want {
		t.Fatalf("expected %q, got %+v", want, last)
	}
	if _, err := os.Stat(protocol.OutputDir(h.scratch, "req-1")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("failed request should not leave an output dir")
	}
}

func TestHostCancel(t *testing.T) {
	fakeTools(t)
	h := newHostHarness(t)
	h.load()
	in := h.input("req-1.mp4", "slow")

	ex := protocol.Execute{Kind: protocol.KindTrim, Input: in, Settings: protocol.Settings{StartTime: 0, EndTime: 5}}
	h.send(protocol.Message{Type: protocol.TypeExecute, ID: "req-1", Execute: &ex})
	// The trim log line is sent right before ffmpeg starts.
	h.await("req-1", protocol.TypeLog)
	h.send(protocol.Message{Type: protocol.TypeCancel, ID: "req-1"})

	last := terminalOf(t, h.await("req-1"))
	if last.Type != protocol.TypeError || last.Text != "operation canceled" {
		t.Fatalf("expected cancellation, got %+v", last)
	}
}

func TestNewHostRequiresScratch(t *testing.T) {
	if _, err := NewHost(Options{}); err == nil {
		t.Fatalf("expected error without scratch")
	}
	file := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(file, nil, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := NewHost(Options{Scratch: file}); err == nil {
		t.Fatalf("expected error for non-directory scratch")
	}
}
