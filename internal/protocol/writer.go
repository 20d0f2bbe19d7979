package protocol

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// Writer serializes events onto a long-lived HTTP response body in SSE
// framing: one "data: {json}" line per event followed by a blank line.
// Each event is flushed immediately so the first token reaches the client
// without waiting for the stream to fill a buffer.
type Writer struct {
	w       io.Writer
	flusher http.Flusher
}

// NewWriter creates a Writer over the given response writer. If w implements
// http.Flusher every event is flushed as it is written.
func NewWriter(w io.Writer) *Writer {
	sw := &Writer{w: w}
	if f, ok := w.(http.Flusher); ok {
		sw.flusher = f
	}
	return sw
}

// Emit writes one event. A failed write means the client went away; callers
// should stop draining the upstream when this returns an error.
func (w *Writer) Emit(ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := fmt.Fprintf(w.w, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	if w.flusher != nil {
		w.flusher.Flush()
	}
	return nil
}
