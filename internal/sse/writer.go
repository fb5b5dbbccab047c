package sse

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// ContentType is the media type of an event stream.
const ContentType = "text/event-stream"

// Writer encodes events as JSON data frames and flushes after each one.
type Writer struct {
	w io.Writer
}

// NewWriter wraps w. When w is an http.ResponseWriter the stream headers
// are set; call it before writing anything else.
func NewWriter(w io.Writer) *Writer {
	if rw, ok := w.(http.ResponseWriter); ok {
		rw.Header().Set("Content-Type", ContentType)
		rw.Header().Set("Cache-Control", "no-cache")
		rw.Header().Set("Connection", "keep-alive")
	}
	return &Writer{w: w}
}

// WriteEvent writes one event block with v as its JSON payload.
func (w *Writer) WriteEvent(name string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("sse: encode %s: %w", name, err)
	}
	return w.WriteRaw(name, data)
}

// WriteRaw writes one event block with a preformatted payload.
func (w *Writer) WriteRaw(name string, data []byte) error {
	if _, err := fmt.Fprintf(w.w, "event: %s\ndata: %s\n\n", name, data); err != nil {
		return err
	}
	if f, ok := w.w.(http.Flusher); ok {
		f.Flush()
	}
	return nil
}
