package progress

import (
	"bufio"
	"bytes"
	"io"

	"github.com/pkg/errors"
	"github.com/segmentio/encoding/json"
)

const maxFrameSize = 1 << 20

var ssePrefix = []byte("data:")

// Encode writes ev as a single JSON line.
func Encode(w io.Writer, ev Event) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return errors.WithStack(err)
	}
	b = append(b, '\n')
	_, err = w.Write(b)
	return errors.WithStack(err)
}

// WriteSSE writes ev as a server-sent events frame.
func WriteSSE(w io.Writer, ev Event) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return errors.WithStack(err)
	}
	frame := make([]byte, 0, len(b)+8)
	frame = append(frame, "data: "...)
	frame = append(frame, b...)
	frame = append(frame, "\n\n"...)
	_, err = w.Write(frame)
	return errors.WithStack(err)
}

// Decoder reads events written by Encode or WriteSSE. Blank lines and SSE
// comments are skipped and unknown fields are ignored.
type Decoder struct {
	scanner *bufio.Scanner
}

func NewDecoder(r io.Reader) *Decoder {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), maxFrameSize)
	return &Decoder{scanner}
}

// Next returns the next event, or io.EOF when the stream ends.
func (d *Decoder) Next() (Event, error) {
	for d.scanner.Scan() {
		line := bytes.TrimSpace(d.scanner.Bytes())
		if len(line) == 0 || line[0] == ':' {
			continue
		}
		line = bytes.TrimSpace(bytes.TrimPrefix(line, ssePrefix))

		var ev Event
		if err := json.Unmarshal(line, &ev); err != nil {
			return Event{}, errors.WithStack(err)
		}
		return ev, nil
	}
	if err := d.scanner.Err(); err != nil {
		return Event{}, errors.WithStack(err)
	}
	return Event{}, io.EOF
}

// Decode reads every event from r.
func Decode(r io.Reader) ([]Event, error) {
	d := NewDecoder(r)
	var events []Event
	for {
		ev, err := d.Next()
		if errors.Is(err, io.EOF) {
			return events, nil
		}
		if err != nil {
			return events, err
		}
		events = append(events, ev)
	}
}
