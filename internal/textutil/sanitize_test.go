package textutil

import "testing"

func TestSanitizeFileName(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{in: "  plain.mp4 ", want: "plain.mp4"},
		{in: "a/b\\c:d*e", want: "a-b-c-d-e"},
		{in: `what?"<>|`, want: "what"},
		{in: "tab\there", want: "tabhere"},
		{in: "..hidden..", want: "hidden"},
		{in: "", want: ""},
	}
	for _, tc := range cases {
		if got := SanitizeFileName(tc.in); got != tc.want {
			t.Errorf("SanitizeFileName(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestFoldName(t *testing.T) {
	cases := map[string]string{
		"Café Ñandú": "Cafe Nandu",
		"ﬁlm":        "film",
		"Ångström":   "Angstrom",
		"日本語":        "日本語",
		"already ok": "already ok",
	}
	for in, want := range cases {
		if got := FoldName(in); got != want {
			t.Errorf("FoldName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestOutputName(t *testing.T) {
	cases := []struct {
		input, suffix, ext string
		want               string
	}{
		{input: "/videos/Café: take 2.mov", suffix: "trimmed", ext: "mp4", want: "Cafe- take 2_trimmed.mp4"},
		{input: "clip.mp4", suffix: "converted", ext: ".webm", want: "clip_converted.webm"},
		{input: "", suffix: "merged", ext: "mp4", want: "merged.mp4"},
		{input: "???.mp4", suffix: "trimmed", ext: "mp4", want: "trimmed.mp4"},
	}
	for _, tc := range cases {
		if got := OutputName(tc.input, tc.suffix, tc.ext); got != tc.want {
			t.Errorf("OutputName(%q) = %q, want %q", tc.input, got, tc.want)
		}
	}
}

func TestExtension(t *testing.T) {
	cases := map[string]string{
		"movie.MP4":      ".mp4",
		"archive.tar.gz": ".gz",
		"noext":          ".bin",
		"weird.m$v":      ".bin",
		"long.abcdefghi": ".bin",
	}
	for in, want := range cases {
		if got := Extension(in, ".bin"); got != want {
			t.Errorf("Extension(%q) = %q, want %q", in, got, want)
		}
	}
}
