package protocol

import (
	"bufio"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
)

// maxEventSize bounds a single SSE line. Normalized events are small except
// for cleaned-text, which carries a whole turn: the adapters cap accumulation
// at 1 MiB, but the wire line is that text after JSON escaping plus framing,
// so the scanner allows double that.
const maxEventSize = 2 << 20

// Scanner reads normalized events from an SSE stream. Lines that are not
// valid events are logged and skipped so one malformed event degrades
// gracefully instead of aborting the rest of the stream.
type Scanner struct {
	scanner *bufio.Scanner
}

// NewScanner creates a Scanner over the raw response body.
func NewScanner(r io.Reader) *Scanner {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 64*1024), maxEventSize)
	return &Scanner{scanner: s}
}

// Next returns the next decoded event. It returns io.EOF when the stream
// ends cleanly and the transport error otherwise.
func (s *Scanner) Next() (Event, error) {
	for s.scanner.Scan() {
		line := s.scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			// Blank separators and unknown SSE fields (event:, id:) are
			// ignored.
			continue
		}
		payload := strings.TrimPrefix(line, "data: ")

		var ev Event
		if err := json.Unmarshal([]byte(payload), &ev); err != nil || ev.Type == "" {
			slog.Debug("skipping malformed stream event", "error", err)
			continue
		}
		return ev, nil
	}
	if err := s.scanner.Err(); err != nil {
		return Event{}, err
	}
	return Event{}, io.EOF
}
