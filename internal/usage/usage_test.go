package usage

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"chatrelay/internal/core"
	"chatrelay/internal/protocol"
)

// mockStore implements Store for testing
type mockStore struct {
	mu      sync.Mutex
	entries []*TurnUsage
	closed  bool
}

func (m *mockStore) WriteBatch(_ context.Context, entries []*TurnUsage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entries...)
	return nil
}

func (m *mockStore) Flush(context.Context) error { return nil }

func (m *mockStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *mockStore) getEntries() []*TurnUsage {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]*TurnUsage, len(m.entries))
	copy(result, m.entries)
	return result
}

func TestLoggerFlushesOnClose(t *testing.T) {
	store := &mockStore{}
	logger := NewLogger(store, Config{BufferSize: 100, FlushInterval: time.Hour})

	for i := 0; i < 5; i++ {
		logger.Write(&TurnUsage{
			ID:          fmt.Sprintf("test-%d", i),
			ChatID:      "chat-1",
			Provider:    "openai",
			Model:       "gpt-4.1-mini",
			TotalTokens: 10 + i,
		})
	}

	if err := logger.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	entries := store.getEntries()
	if len(entries) != 5 {
		t.Fatalf("flushed entries = %d, want 5", len(entries))
	}
	if !store.closed {
		t.Error("store not closed")
	}
}

func TestLoggerPeriodicFlush(t *testing.T) {
	store := &mockStore{}
	logger := NewLogger(store, Config{BufferSize: 100, FlushInterval: 20 * time.Millisecond})
	defer func() {
		_ = logger.Close() //nolint:errcheck
	}()

	logger.Write(&TurnUsage{ID: "periodic-1", TotalTokens: 7})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(store.getEntries()) == 1 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("entry not flushed within deadline, got %d", len(store.getEntries()))
}

func TestLoggerWriteAfterClose(t *testing.T) {
	store := &mockStore{}
	logger := NewLogger(store, Config{BufferSize: 10, FlushInterval: time.Hour})

	if err := logger.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	// Must not panic or block.
	logger.Write(&TurnUsage{ID: "late"})
	if err := logger.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
	if len(store.getEntries()) != 0 {
		t.Errorf("entries after close = %d, want 0", len(store.getEntries()))
	}
}

type captureLogger struct {
	entries []*TurnUsage
}

func (c *captureLogger) Write(e *TurnUsage) { c.entries = append(c.entries, e) }
func (c *captureLogger) Close() error       { return nil }

func discard(protocol.Event) error { return nil }

func TestRecorderMergesSplitUpdates(t *testing.T) {
	logger := &captureLogger{}
	rec := NewRecorder(protocol.EmitterFunc(discard), logger, "req-1", "chat-1", "anthropic", "claude-3-5-sonnet-latest")

	// Finish reason first, counts later, the way the Messages API delivers
	// them.
	if err := rec.Emit(protocol.StopReasonEvent("end_turn")); err != nil {
		t.Fatal(err)
	}
	if err := rec.Emit(protocol.UsageEvent(core.TokenUsage{PromptTokens: 20, CompletionTokens: 30})); err != nil {
		t.Fatal(err)
	}
	rec.Finish()

	if len(logger.entries) != 1 {
		t.Fatalf("records = %d, want 1", len(logger.entries))
	}
	e := logger.entries[0]
	if e.InputTokens != 20 || e.OutputTokens != 30 || e.TotalTokens != 50 {
		t.Errorf("tokens = %d/%d/%d, want 20/30/50", e.InputTokens, e.OutputTokens, e.TotalTokens)
	}
	if e.FinishReason != "end_turn" {
		t.Errorf("finish reason = %q, want end_turn", e.FinishReason)
	}
	if e.Provider != "anthropic" || e.ChatID != "chat-1" || e.RequestID != "req-1" {
		t.Errorf("identity fields = %+v", e)
	}
	if e.ID == "" {
		t.Error("record ID empty")
	}
}

func TestRecorderForwardsAllEvents(t *testing.T) {
	var forwarded []protocol.Event
	sink := protocol.EmitterFunc(func(ev protocol.Event) error {
		forwarded = append(forwarded, ev)
		return nil
	})

	rec := NewRecorder(sink, &captureLogger{}, "", "", "openai", "gpt-4.1-mini")
	events := []protocol.Event{
		protocol.TextDelta("a"),
		protocol.UsageEvent(core.TokenUsage{PromptTokens: 1}),
		protocol.CleanedText("a", "m1"),
	}
	for _, ev := range events {
		if err := rec.Emit(ev); err != nil {
			t.Fatal(err)
		}
	}
	if len(forwarded) != len(events) {
		t.Fatalf("forwarded = %d, want %d", len(forwarded), len(events))
	}
}

func TestRecorderNoUsageNoRecord(t *testing.T) {
	logger := &captureLogger{}
	rec := NewRecorder(protocol.EmitterFunc(discard), logger, "", "", "gemini", "gemini-2.0-flash")

	if err := rec.Emit(protocol.TextDelta("only text")); err != nil {
		t.Fatal(err)
	}
	rec.Finish()
	rec.Finish() // idempotent

	if len(logger.entries) != 0 {
		t.Errorf("records = %d, want 0", len(logger.entries))
	}
}
