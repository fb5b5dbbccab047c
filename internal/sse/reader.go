// Package sse reads and writes text/event-stream frames.
package sse

import (
	"bufio"
	"bytes"
	"io"
	"strings"
)

// maxFrameSize bounds a single line; done events carry whole result sets.
const maxFrameSize = 16 << 20

// Event is one dispatched block. Name defaults to "message".
type Event struct {
	Name string
	Data []byte
}

// Reader decodes events in stream order.
type Reader struct {
	sc *bufio.Scanner
}

// NewReader wraps r.
func NewReader(r io.Reader) *Reader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64<<10), maxFrameSize)
	return &Reader{sc: sc}
}

// Next blocks until a full event is available. It returns io.EOF once the
// stream ends; a trailing block without a blank line is still dispatched.
func (r *Reader) Next() (Event, error) {
	var (
		name    string
		data    bytes.Buffer
		hasData bool
	)
	for r.sc.Scan() {
		line := strings.TrimSuffix(r.sc.Text(), "\r")
		if line == "" {
			if hasData || name != "" {
				return dispatch(name, data.Bytes()), nil
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			name = value
		case "data":
			if hasData {
				data.WriteByte('\n')
			}
			data.WriteString(value)
			hasData = true
		}
	}
	if err := r.sc.Err(); err != nil {
		return Event{}, err
	}
	if hasData || name != "" {
		return dispatch(name, data.Bytes()), nil
	}
	return Event{}, io.EOF
}

func dispatch(name string, data []byte) Event {
	if name == "" {
		name = "message"
	}
	out := make([]byte, len(data))
	copy(out, data)
	return Event{Name: name, Data: out}
}
