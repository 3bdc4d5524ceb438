package protocol

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
)

const (
	initialLineBytes = 64 * 1024
	// MaxLineBytes bounds a single message line.
	MaxLineBytes = 10 * 1024 * 1024
)

// ErrMalformed marks a line that could not be decoded into a valid message.
// The stream itself remains readable after such an error.
var ErrMalformed = errors.New("malformed message")

// Encoder writes messages as JSON lines. Send is safe for concurrent use.
type Encoder struct {
	mu sync.Mutex
	w  io.Writer
}

// NewEncoder returns an encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Send validates and writes a single message.
func (e *Encoder) Send(msg Message) error {
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	data = append(data, '\n')

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.w.Write(data); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

// Decoder reads JSON-lines messages. It is not safe for concurrent use.
type Decoder struct {
	scanner *bufio.Scanner
}

// NewDecoder returns a decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, initialLineBytes), MaxLineBytes)
	return &Decoder{scanner: scanner}
}

// Next returns the next message, skipping blank lines. It returns io.EOF when
// the stream ends cleanly.
func (d *Decoder) Next() (Message, error) {
	for d.scanner.Scan() {
		line := bytes.TrimSpace(d.scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var msg Message
		if err := json.Unmarshal(line, &msg); err != nil {
			return Message{}, fmt.Errorf("%w %q: %w", ErrMalformed, excerpt(line), err)
		}
		if err := msg.Validate(); err != nil {
			return Message{}, fmt.Errorf("%w: %w", ErrMalformed, err)
		}
		return msg, nil
	}
	if err := d.scanner.Err(); err != nil {
		return Message{}, fmt.Errorf("read message: %w", err)
	}
	return Message{}, io.EOF
}

func excerpt(line []byte) string {
	const limit = 120
	if len(line) <= limit {
		return string(line)
	}
	return string(line[:limit]) + "..."
}
