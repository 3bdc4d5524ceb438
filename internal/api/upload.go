package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"framecut/internal/bridge"
	"framecut/internal/fileutil"
	"framecut/internal/protocol"
	"framecut/internal/services"
	"framecut/internal/textutil"
)

const maxFieldBytes = 64 * 1024

type upload struct {
	name string
	path string
}

// form is a parsed multipart request whose files were streamed to disk.
type form struct {
	values url.Values
	files  map[string][]upload
}

func (f *form) cleanup() {
	for _, ups := range f.files {
		for _, up := range ups {
			_ = os.Remove(up.path)
		}
	}
}

// readForm streams every part of a multipart body: values are kept in memory,
// files are written under dir.
func readForm(w http.ResponseWriter, r *http.Request, dir string, maxBytes int64) (*form, error) {
	if maxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	}
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, invalid("form", "expected a multipart/form-data body")
	}
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("prepare upload directory: %w", err)
	}

	f := &form{values: url.Values{}, files: make(map[string][]upload)}
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return f, nil
		}
		if err != nil {
			f.cleanup()
			return nil, err
		}
		name := part.FormName()
		if part.FileName() == "" {
			data, err := io.ReadAll(io.LimitReader(part, maxFieldBytes))
			_ = part.Close()
			if err != nil {
				f.cleanup()
				return nil, err
			}
			f.values.Add(name, strings.TrimSpace(string(data)))
			continue
		}

		original := textutil.SanitizeFileName(textutil.FoldName(filepath.Base(part.FileName())))
		path := filepath.Join(dir, uuid.NewString()+textutil.Extension(original, ""))
		err = fileutil.WriteNew(path, part)
		_ = part.Close()
		if err != nil {
			f.cleanup()
			return nil, err
		}
		f.files[name] = append(f.files[name], upload{name: original, path: path})
	}
}

// command builds the bridge command for kind from the form.
func (f *form) command(kind protocol.Kind) (bridge.Command, error) {
	if kind == protocol.KindMerge {
		return f.mergeCommand()
	}
	files := f.files["file"]
	if len(files) != 1 {
		return bridge.Command{}, invalid(string(kind), `exactly one "file" part is required`)
	}
	in := bridge.Input{Name: files[0].name, Path: files[0].path}

	switch kind {
	case protocol.KindTrim:
		start, err := f.float("start", 0)
		if err != nil {
			return bridge.Command{}, err
		}
		end, err := f.float("end", 0)
		if err != nil {
			return bridge.Command{}, err
		}
		return bridge.TrimCommand(in, bridge.TrimSettings{
			StartTime: start,
			EndTime:   end,
			Mode:      protocol.TrimMode(f.values.Get("mode")),
		}), nil
	case protocol.KindFrames:
		fps, err := f.float("fps", 1)
		if err != nil {
			return bridge.Command{}, err
		}
		return bridge.FramesCommand(in, bridge.FrameSettings{FPS: fps}), nil
	case protocol.KindConvert:
		return bridge.ConvertCommand(in, bridge.ConvertSettings{Quality: bridge.Quality(f.values.Get("quality"))}), nil
	default:
		return bridge.Command{}, invalid(string(kind), "unsupported command")
	}
}

func (f *form) mergeCommand() (bridge.Command, error) {
	files := f.files["clip"]
	if len(files) == 0 {
		return bridge.Command{}, invalid("merge", `at least one "clip" part is required`)
	}
	starts, ends := f.values["start"], f.values["end"]
	clips := make([]bridge.MergeClip, len(files))
	for i, up := range files {
		clips[i].Input = bridge.Input{Name: up.name, Path: up.path}
		var err error
		if i < len(starts) {
			if clips[i].Start, err = parseField(fmt.Sprintf("start[%d]", i), starts[i], 0); err != nil {
				return bridge.Command{}, err
			}
		}
		if i < len(ends) {
			if clips[i].End, err = parseField(fmt.Sprintf("end[%d]", i), ends[i], 0); err != nil {
				return bridge.Command{}, err
			}
		}
	}
	return bridge.MergeCommand(clips, bridge.MergeSettings{Format: f.values.Get("format")}), nil
}

func (f *form) float(field string, fallback float64) (float64, error) {
	return parseField(field, f.values.Get(field), fallback)
}

func parseField(field, raw string, fallback float64) (float64, error) {
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, invalid("form", fmt.Sprintf("%s: %q is not a number", field, raw))
	}
	return v, nil
}

func invalid(operation, message string) error {
	return services.Wrap(services.ErrValidation, "api", operation, message, nil)
}
