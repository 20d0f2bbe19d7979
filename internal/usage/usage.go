// Package usage tracks per-turn token accounting. Adapters report usage as
// stream events; the recorder sniffs them off the emitter and the async
// logger batches them into a store.
package usage

import (
	"context"
	"time"
)

// Store defines the interface for usage storage backends.
// Implementations must be safe for concurrent use.
type Store interface {
	// WriteBatch writes multiple usage entries to storage.
	// Called by the Logger when flushing buffered entries.
	WriteBatch(ctx context.Context, entries []*TurnUsage) error

	// Flush forces any pending writes to complete.
	// Called during graceful shutdown.
	Flush(ctx context.Context) error

	// Close releases resources and flushes pending writes.
	Close() error
}

// TurnUsage is the token accounting record for one completed turn.
type TurnUsage struct {
	// ID is a unique identifier for this record (UUID)
	ID string `json:"id"`

	// RequestID links to the HTTP request (from X-Request-ID)
	RequestID string `json:"request_id"`

	// ChatID groups turns of one conversation
	ChatID string `json:"chat_id"`

	// Timestamp is when the turn completed
	Timestamp time.Time `json:"timestamp"`

	Provider string `json:"provider"`
	Model    string `json:"model"`

	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
	TotalTokens  int    `json:"total_tokens"`
	FinishReason string `json:"finish_reason"`
}

// Config holds usage tracking configuration.
type Config struct {
	// Enabled controls whether usage tracking is active
	Enabled bool

	// BufferSize is the number of entries to buffer before dropping
	BufferSize int

	// FlushInterval is how often to flush buffered entries
	FlushInterval time.Duration

	// RetentionDays is how long to keep usage data (0 = forever)
	RetentionDays int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Enabled:       false,
		BufferSize:    1000,
		FlushInterval: 5 * time.Second,
		RetentionDays: 90,
	}
}
