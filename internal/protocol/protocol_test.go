package protocol

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"chatrelay/internal/core"
)

func TestWriterFraming(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	if err := w.Emit(TextDelta("hello")); err != nil {
		t.Fatalf("Emit: %v", err)
	}

	got := buf.String()
	if !strings.HasPrefix(got, "data: ") {
		t.Errorf("output = %q, want data: prefix", got)
	}
	if !strings.HasSuffix(got, "\n\n") {
		t.Errorf("output = %q, want blank-line separator", got)
	}
}

func TestWriterScannerRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	events := []Event{
		TextDelta("Hello"),
		SourcesEvent([]core.Source{{URL: "https://a.example", Title: "A"}}),
		UsageEvent(core.TokenUsage{PromptTokens: 1, CompletionTokens: 2, TotalTokens: 3}),
		CleanedText("Hello", "m1"),
	}
	for _, ev := range events {
		if err := w.Emit(ev); err != nil {
			t.Fatalf("Emit: %v", err)
		}
	}

	sc := NewScanner(&buf)
	for i, want := range events {
		got, err := sc.Next()
		if err != nil {
			t.Fatalf("event %d: %v", i, err)
		}
		if got.Type != want.Type {
			t.Errorf("event %d type = %q, want %q", i, got.Type, want.Type)
		}
	}
	if _, err := sc.Next(); err != io.EOF {
		t.Errorf("err = %v, want io.EOF at clean end", err)
	}
}

func TestScannerSkipsMalformedLines(t *testing.T) {
	stream := "data: {not json}\n\n" +
		"data: {\"noType\":true}\n\n" +
		": sse comment\n\n" +
		"data: {\"type\":\"text-delta\",\"text\":\"ok\"}\n\n"

	sc := NewScanner(strings.NewReader(stream))
	ev, err := sc.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if ev.Type != EventTextDelta || ev.Text != "ok" {
		t.Errorf("event = %+v", ev)
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) {
	return 0, errors.New("connection reset")
}

func TestScannerSurfacesTransportError(t *testing.T) {
	sc := NewScanner(failingReader{})
	if _, err := sc.Next(); err == nil || err == io.EOF {
		t.Errorf("err = %v, want transport error", err)
	}
}

func TestScannerAcceptsFullTurnCleanedText(t *testing.T) {
	// A cleaned-text event carrying a turn at the adapters' accumulation cap
	// is larger than 1 MiB on the wire once framed; the scanner must not
	// surface it as a transport error.
	var buf bytes.Buffer
	w := NewWriter(&buf)

	text := strings.Repeat("a", 1<<20)
	if err := w.Emit(CleanedText(text, "m1")); err != nil {
		t.Fatalf("Emit: %v", err)
	}

	s := NewScanner(&buf)
	ev, err := s.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if ev.Type != EventCleanedText || len(ev.Text) != 1<<20 {
		t.Errorf("event = %s len %d, want cleaned-text of %d bytes", ev.Type, len(ev.Text), 1<<20)
	}
	if _, err := s.Next(); err != io.EOF {
		t.Errorf("Next after last event = %v, want io.EOF", err)
	}
}
