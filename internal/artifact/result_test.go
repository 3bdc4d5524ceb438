package artifact

import (
	"regexp"
	"testing"
	"time"

	"framecut/internal/protocol"
)

func fixedMaterializer(store *Store) *Materializer {
	m := NewMaterializer(store)
	m.now = func() time.Time { return time.UnixMilli(1700000000123) }
	m.newID = func() string { return "res-1" }
	return m
}

func TestMaterializeSingleFileKinds(t *testing.T) {
	tests := []struct {
		kind      protocol.Kind
		format    string
		pattern   string
		mediaType string
	}{
		{protocol.KindTrim, "", `^trimmed_\d+_res1\.mp4$`, MediaTypeMP4},
		{protocol.KindConvert, "", `^converted_\d+_res1\.webm$`, MediaTypeWebM},
		{protocol.KindMerge, "mp4", `^merged_\d+_res1\.mp4$`, MediaTypeMP4},
		{protocol.KindMerge, "webm", `^merged_\d+_res1\.webm$`, MediaTypeWebM},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind)+tt.format, func(t *testing.T) {
			store := NewStore(StoreOptions{})
			res, err := fixedMaterializer(store).Materialize(tt.kind, Output{Data: []byte("payload"), Format: tt.format})
			if err != nil {
				t.Fatalf("Materialize: %v", err)
			}
			if !regexp.MustCompile(tt.pattern).MatchString(res.Filename) {
				t.Fatalf("filename %q does not match %s", res.Filename, tt.pattern)
			}
			if res.MediaType != tt.mediaType {
				t.Fatalf("media type = %q, want %q", res.MediaType, tt.mediaType)
			}
			if res.Kind != tt.kind || res.Size != 7 || res.ID != "res-1" {
				t.Fatalf("unexpected result %+v", res)
			}
			if res.URL != "/artifacts/res-1/"+res.Filename {
				t.Fatalf("unexpected url %q", res.URL)
			}
			if store.Len() != 1 {
				t.Fatalf("expected one blob, got %d", store.Len())
			}
		})
	}
}

func TestMaterializeNamesAreUniqueWithinAMillisecond(t *testing.T) {
	m := NewMaterializer(nil)
	m.now = func() time.Time { return time.UnixMilli(1700000000123) }
	first, err := m.Materialize(protocol.KindTrim, Output{Data: []byte("a")})
	if err != nil {
		t.Fatalf("Materialize: %v", err)
	}
	second, err := m.Materialize(protocol.KindTrim, Output{Data: []byte("b")})
	if err != nil {
		t.Fatalf("Materialize: %v", err)
	}
	if first.Filename == second.Filename {
		t.Fatalf("both results named %q", first.Filename)
	}
	pattern := regexp.MustCompile(`^trimmed_1700000000123_[0-9a-f]{8}\.mp4$`)
	for _, res := range []*Result{first, second} {
		if !pattern.MatchString(res.Filename) {
			t.Fatalf("filename %q does not match %s", res.Filename, pattern)
		}
	}
}

func TestMaterializeCopiesBuffers(t *testing.T) {
	src := []byte("original")
	res, err := NewMaterializer(nil).Materialize(protocol.KindTrim, Output{Data: src})
	if err != nil {
		t.Fatalf("Materialize: %v", err)
	}
	copy(src, "XXXXXXXX")
	if string(res.Data) != "original" {
		t.Fatalf("result aliases the source buffer: %q", res.Data)
	}
	if res.URL != "" {
		t.Fatalf("expected no url without store, got %q", res.URL)
	}
}

func TestMaterializeFrames(t *testing.T) {
	store := NewStore(StoreOptions{BaseURL: "http://127.0.0.1:7490/"})
	frames := []NamedBytes{
		{Name: "frame_0001.jpg", Data: []byte("aa")},
		{Name: "frame_0002.jpg", Data: []byte("bbb")},
	}
	res, err := fixedMaterializer(store).Materialize(protocol.KindFrames, Output{Frames: frames})
	if err != nil {
		t.Fatalf("Materialize: %v", err)
	}
	if res.URL != "" || res.Data != nil {
		t.Fatal("frame sets must not carry a combined url or data")
	}
	if res.Filename != "frames_1700000000123_res1.zip" || res.Size != 5 {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(res.Frames) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(res.Frames))
	}
	for i, f := range res.Frames {
		if f.MediaType != MediaTypeJPEG {
			t.Fatalf("frame %d media type %q", i, f.MediaType)
		}
		if f.URL != "http://127.0.0.1:7490/artifacts/res-1/"+frames[i].Name {
			t.Fatalf("frame %d url %q", i, f.URL)
		}
	}
	frames[0].Data[0] = 'z'
	if string(res.Frames[0].Data) != "aa" {
		t.Fatal("frame data aliases the source buffer")
	}
}

func TestMaterializeRejects(t *testing.T) {
	m := NewMaterializer(nil)
	if _, err := m.Materialize(protocol.KindMerge, Output{Data: []byte("x"), Format: "avi"}); err == nil {
		t.Fatal("expected unsupported merge format error")
	}
	if _, err := m.Materialize(protocol.KindTrim, Output{}); err == nil {
		t.Fatal("expected empty output error")
	}
	if _, err := m.Materialize(protocol.KindFrames, Output{}); err == nil {
		t.Fatal("expected no frames error")
	}
	if _, err := m.Materialize("blur", Output{Data: []byte("x")}); err == nil {
		t.Fatal("expected unknown kind error")
	}
}
