package engine

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"framecut/internal/protocol"
)

func TestConsumeProgressReportsMonotonicPercent(t *testing.T) {
	stream := strings.Join([]string{
		"frame=10",
		"out_time_us=2500000",
		"progress=continue",
		"out_time_ms=2000000",
		"out_time_us=5000000",
		"out_time_us=bad",
		"progress=end",
	}, "\n")
	var got []float64
	consumeProgress(strings.NewReader(stream), 10, func(p float64) { got = append(got, p) })

	want := []float64{25, 50, 100}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestConsumeProgressWithoutDurationOnlyReportsEnd(t *testing.T) {
	var got []float64
	consumeProgress(strings.NewReader("out_time_us=900000\nprogress=end\n"), 0, func(p float64) { got = append(got, p) })
	if len(got) != 1 || got[0] != 100 {
		t.Fatalf("expected only 100, got %v", got)
	}
}

func TestProbeHelpers(t *testing.T) {
	probe := Probe{
		Streams: []Stream{
			{CodecType: "video", Width: 1919, Height: 1081, Duration: "12.5"},
			{CodecType: "audio", Duration: "12.6"},
		},
	}
	if !probe.HasVideo() || !probe.HasAudio() {
		t.Fatalf("expected video and audio streams")
	}
	if got := probe.DurationSeconds(); got != 12.6 {
		t.Fatalf("expected stream fallback duration 12.6, got %v", got)
	}
	probe.Format.Duration = "30.25"
	if got := probe.DurationSeconds(); got != 30.25 {
		t.Fatalf("expected container duration, got %v", got)
	}
	if w, h := canvasSize([]Probe{probe}); w != 1918 || h != 1080 {
		t.Fatalf("expected even canvas 1918x1080, got %dx%d", w, h)
	}
}

func TestProbeHelpersHandleInvalidNumbers(t *testing.T) {
	probe := Probe{Format: Format{Duration: "nope"}, Streams: []Stream{{CodecType: "audio", Duration: "-3"}}}
	if probe.DurationSeconds() != 0 {
		t.Fatalf("expected zero duration, got %v", probe.DurationSeconds())
	}
	if probe.HasVideo() {
		t.Fatalf("expected no video stream")
	}
	if w, h := canvasSize([]Probe{probe}); w != fallbackWidth || h != fallbackHeight {
		t.Fatalf("expected fallback canvas, got %dx%d", w, h)
	}
}

func TestClipWindow(t *testing.T) {
	cases := []struct {
		name     string
		clip     protocol.Clip
		duration float64
		want     float64
	}{
		{name: "bounded", clip: protocol.Clip{Start: 2, End: 5}, duration: 10, want: 3},
		{name: "open end", clip: protocol.Clip{Start: 4}, duration: 10, want: 6},
		{name: "end past media", clip: protocol.Clip{Start: 1, End: 99}, duration: 10, want: 9},
		{name: "start past media", clip: protocol.Clip{Start: 12}, duration: 10, want: -2},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := clipWindow(tc.clip, tc.duration); got != tc.want {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}
}

func TestWriteConcatListEscapesQuotes(t *testing.T) {
	dir := t.TempDir()
	list := filepath.Join(dir, "concat.txt")
	if err := writeConcatList(list, []string{filepath.Join(dir, "part_001.mp4"), filepath.Join(dir, "it's.mp4")}); err != nil {
		t.Fatalf("writeConcatList: %v", err)
	}
	data, err := os.ReadFile(list)
	if err != nil {
		t.Fatalf("read list: %v", err)
	}
	want := "ffconcat version 1.0\nfile 'part_001.mp4'\nfile 'it'\\''s.mp4'\n"
	if string(data) != want {
		t.Fatalf("unexpected list:\n%s", data)
	}
}

func TestLimitedWriterKeepsTail(t *testing.T) {
	lw := &limitedWriter{limit: 8}
	_, _ = lw.Write([]byte("first line\n"))
	_, _ = lw.Write([]byte("last\n"))
	if got := lastLine(lw.String()); got != "last" {
		t.Fatalf("expected last line, got %q", got)
	}
	if len(lw.String()) > 8 {
		t.Fatalf("expected at most 8 bytes, got %d", len(lw.String()))
	}
}
