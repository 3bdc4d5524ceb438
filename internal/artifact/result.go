package artifact

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"framecut/internal/protocol"
)

// Media types attached to results.
const (
	MediaTypeMP4  = "video/mp4"
	MediaTypeWebM = "video/webm"
	MediaTypeJPEG = "image/jpeg"
)

// Result is a produced artifact. Single-file kinds carry Data and URL; frame
// extraction carries Frames, each with its own URL, and no combined URL.
type Result struct {
	ID        string        `json:"id"`
	Kind      protocol.Kind `json:"type"`
	Filename  string        `json:"filename"`
	Size      int64         `json:"size"`
	CreatedAt time.Time     `json:"created_at"`
	MediaType string        `json:"media_type,omitempty"`
	URL       string        `json:"url,omitempty"`
	Data      []byte        `json:"-"`
	Frames    []Frame       `json:"frames,omitempty"`
}

// Frame is one extracted image.
type Frame struct {
	Name      string `json:"name"`
	MediaType string `json:"media_type"`
	Size      int64  `json:"size"`
	URL       string `json:"url"`
	Data      []byte `json:"-"`
}

// Output is the raw material handed over by the bridge.
type Output struct {
	Data   []byte
	Frames []NamedBytes
	// Format is the merge container; ignored for other kinds.
	Format string
}

// NamedBytes is a named output buffer.
type NamedBytes struct {
	Name string
	Data []byte
}

// Materializer builds results and registers them with a Store.
type Materializer struct {
	store *Store
	now   func() time.Time
	newID func() string
}

// NewMaterializer returns a materializer registering URLs in store. A nil
// store produces results without URLs.
func NewMaterializer(store *Store) *Materializer {
	return &Materializer{
		store: store,
		now:   time.Now,
		newID: func() string { return uuid.NewString() },
	}
}

// Materialize produces a Result for kind from out. Buffers in out are copied.
func (m *Materializer) Materialize(kind protocol.Kind, out Output) (*Result, error) {
	created := m.now().UTC()
	result := &Result{
		ID:        m.newID(),
		Kind:      kind,
		CreatedAt: created,
	}
	stamp := fileStamp(created, result.ID)

	switch kind {
	case protocol.KindTrim:
		result.Filename = fmt.Sprintf("trimmed_%s.mp4", stamp)
		result.MediaType = MediaTypeMP4
	case protocol.KindConvert:
		result.Filename = fmt.Sprintf("converted_%s.webm", stamp)
		result.MediaType = MediaTypeWebM
	case protocol.KindMerge:
		format := strings.ToLower(strings.TrimSpace(out.Format))
		mediaType, ok := MediaTypeForFormat(format)
		if !ok {
			return nil, fmt.Errorf("materialize merge: unsupported format %q", out.Format)
		}
		result.Filename = fmt.Sprintf("merged_%s.%s", stamp, format)
		result.MediaType = mediaType
	case protocol.KindFrames:
		return m.materializeFrames(result, stamp, out.Frames)
	default:
		return nil, fmt.Errorf("materialize: unknown kind %q", kind)
	}

	if len(out.Data) == 0 {
		return nil, fmt.Errorf("materialize %s: empty output", kind)
	}
	result.Data = bytes.Clone(out.Data)
	result.Size = int64(len(result.Data))
	if m.store != nil {
		result.URL = m.store.Put(result.ID, result.Filename, result.MediaType, result.Data)
	}
	return result, nil
}

func (m *Materializer) materializeFrames(result *Result, stamp string, frames []NamedBytes) (*Result, error) {
	if len(frames) == 0 {
		return nil, errors.New("materialize frames: no frames produced")
	}
	result.Filename = fmt.Sprintf("frames_%s.zip", stamp)
	result.Frames = make([]Frame, 0, len(frames))
	for _, src := range frames {
		frame := Frame{
			Name:      src.Name,
			MediaType: MediaTypeJPEG,
			Data:      bytes.Clone(src.Data),
		}
		frame.Size = int64(len(frame.Data))
		if m.store != nil {
			frame.URL = m.store.Put(result.ID, frame.Name, frame.MediaType, frame.Data)
		}
		result.Size += frame.Size
		result.Frames = append(result.Frames, frame)
	}
	return result, nil
}

// fileStamp joins the creation time in milliseconds with the start of the
// result id, so results finishing in the same millisecond keep distinct names.
func fileStamp(created time.Time, id string) string {
	short := strings.ReplaceAll(id, "-", "")
	short = short[:min(len(short), 8)]
	return fmt.Sprintf("%d_%s", created.UnixMilli(), short)
}

// MediaTypeForFormat maps a merge container onto its media type.
func MediaTypeForFormat(format string) (string, bool) {
	switch format {
	case protocol.FormatMP4:
		return MediaTypeMP4, true
	case protocol.FormatWebM:
		return MediaTypeWebM, true
	default:
		return "", false
	}
}
