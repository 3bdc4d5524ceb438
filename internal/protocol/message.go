package protocol

import (
	"errors"
	"fmt"
	"strings"
)

// MessageType discriminates protocol messages.
type MessageType string

const (
	// Outbound, bridge to worker.
	TypeLoad    MessageType = "load"
	TypeExecute MessageType = "execute"
	TypeCancel  MessageType = "cancel"

	// Inbound, worker to bridge.
	TypeLoaded   MessageType = "loaded"
	TypeProgress MessageType = "progress"
	TypeLog      MessageType = "log"
	TypeComplete MessageType = "complete"
	TypeError    MessageType = "error"
)

// Kind identifies the command an execute message carries.
type Kind string

const (
	KindTrim    Kind = "trim"
	KindFrames  Kind = "frames"
	KindConvert Kind = "convert"
	KindMerge   Kind = "merge"
)

// Valid reports whether k is a known command kind.
func (k Kind) Valid() bool {
	switch k {
	case KindTrim, KindFrames, KindConvert, KindMerge:
		return true
	default:
		return false
	}
}

// TrimMode selects between keyframe-snapped stream copy and exact re-encode.
type TrimMode string

const (
	TrimFast     TrimMode = "fast"
	TrimAccurate TrimMode = "accurate"
)

// Output container formats accepted by merge.
const (
	FormatMP4  = "mp4"
	FormatWebM = "webm"
)

// Message is one line on the wire. Only the fields relevant to Type are set.
type Message struct {
	Type    MessageType `json:"type"`
	ID      string      `json:"id,omitempty"`
	Execute *Execute    `json:"execute,omitempty"`
	Percent float64     `json:"percent,omitempty"`
	Step    string      `json:"step,omitempty"`
	Text    string      `json:"message,omitempty"`
	Output  *Output     `json:"output,omitempty"`
}

// Execute describes a command. Paths refer to files inside the worker's
// scratch directory that the worker owns from the moment the message is sent.
type Execute struct {
	Kind     Kind     `json:"kind"`
	Input    string   `json:"input,omitempty"`
	Clips    []Clip   `json:"clips,omitempty"`
	Settings Settings `json:"settings"`
}

// Clip is one merge input paired with its trim bounds in seconds.
type Clip struct {
	Path  string  `json:"path"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Settings carries the kind-specific parameters. CRF is resolved from the
// quality tier by the bridge so the worker never sees tier names.
type Settings struct {
	StartTime float64  `json:"start_time,omitempty"`
	EndTime   float64  `json:"end_time,omitempty"`
	Mode      TrimMode `json:"mode,omitempty"`
	FPS       float64  `json:"fps,omitempty"`
	CRF       int      `json:"crf,omitempty"`
	Format    string   `json:"format,omitempty"`
}

// Output lists the files a completed command produced. Single-file kinds set
// Path; frame extraction sets Frames in presentation order.
type Output struct {
	Path   string  `json:"path,omitempty"`
	Frames []Frame `json:"frames,omitempty"`
}

// Frame is one named image produced by frame extraction.
type Frame struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

// Terminal reports whether the message ends the call it belongs to.
func (m Message) Terminal() bool {
	return m.Type == TypeComplete || m.Type == TypeError
}

// Validate checks the structural requirements of a message before it is sent
// or after it is decoded.
func (m Message) Validate() error {
	switch m.Type {
	case TypeLoad, TypeLoaded, TypeLog:
		return nil
	case TypeExecute:
		if m.ID == "" {
			return errors.New("execute: missing id")
		}
		if strings.ContainsAny(m.ID, `/\`) || m.ID == "." || m.ID == ".." {
			return fmt.Errorf("execute: id %q is not a plain name", m.ID)
		}
		if m.Execute == nil {
			return errors.New("execute: missing payload")
		}
		return m.Execute.validate()
	case TypeCancel, TypeProgress, TypeComplete:
		if m.ID == "" {
			return fmt.Errorf("%s: missing id", m.Type)
		}
		return nil
	case TypeError:
		if strings.TrimSpace(m.Text) == "" {
			return errors.New("error: missing message")
		}
		return nil
	case "":
		return errors.New("missing message type")
	default:
		return fmt.Errorf("unknown message type %q", m.Type)
	}
}

func (e *Execute) validate() error {
	if !e.Kind.Valid() {
		return fmt.Errorf("execute: unknown kind %q", e.Kind)
	}
	if e.Kind == KindMerge {
		if len(e.Clips) == 0 {
			return errors.New("execute: merge requires clips")
		}
		return nil
	}
	if e.Input == "" {
		return fmt.Errorf("execute: %s requires input", e.Kind)
	}
	return nil
}

// Progress builds a progress event.
func Progress(id string, percent float64, step, text string) Message {
	return Message{Type: TypeProgress, ID: id, Percent: percent, Step: step, Text: text}
}

// Log builds a log event. Load-phase logs carry the load's id.
func Log(id, text string) Message {
	return Message{Type: TypeLog, ID: id, Text: text}
}

// Complete builds a completion event.
func Complete(id string, out Output) Message {
	return Message{Type: TypeComplete, ID: id, Output: &out}
}

// Failure builds an error event. An empty id marks a context-level error not
// tied to any call.
func Failure(id, text string) Message {
	return Message{Type: TypeError, ID: id, Text: text}
}
