// Package providers defines the stream adapter contract and shared plumbing
// used by all provider integrations: self-registration, model resolution,
// source accumulation, and the end-of-turn directive pass.
package providers

import (
	"context"

	"chatrelay/internal/core"
	"chatrelay/internal/protocol"
)

// Adapter translates one upstream provider's native streaming wire format
// into the normalized event vocabulary. An adapter is invoked once per relay
// request and holds no state beyond that request's lifetime.
type Adapter interface {
	// Name returns the provider identifier used in routes and config
	// ("anthropic", "gemini", "openai").
	Name() string

	// DefaultModel returns the hardcoded fallback model for this provider.
	DefaultModel() string

	// Stream drives exactly one upstream streaming call, pushing normalized
	// events through emit as they become available. Any failure while
	// draining the upstream must still produce a terminal error event;
	// Stream returns the underlying error for logging but never leaves the
	// channel half-open.
	Stream(ctx context.Context, req *core.TurnRequest, emit protocol.Emitter) error

	// ListModels fetches the provider's live model identifiers, filtered to
	// chat-capable models. Used by the catalog; failures there degrade to the
	// static table.
	ListModels(ctx context.Context) ([]string, error)
}

// Config is the resolved per-provider configuration handed to builders.
type Config struct {
	APIKey  string
	BaseURL string
}

// maxAccumulate bounds the text retained for the end-of-turn directive and
// source passes. Fragments past the cap still stream to the client as deltas
// but are not buffered; a pathological upstream cannot grow relay memory
// without bound.
const maxAccumulate = 1 << 20

// TextBuffer accumulates streamed fragments up to maxAccumulate. The zero
// value is ready to use.
type TextBuffer struct {
	b       []byte
	dropped bool
}

// Add appends a fragment unless the cap has been reached.
func (t *TextBuffer) Add(s string) {
	if t.dropped {
		return
	}
	if len(t.b)+len(s) > maxAccumulate {
		t.dropped = true
		return
	}
	t.b = append(t.b, s...)
}

func (t *TextBuffer) String() string { return string(t.b) }

// Truncated reports whether fragments were discarded. When true the directive
// pass is skipped: a directive split across the cap boundary would be
// unrecoverable anyway.
func (t *TextBuffer) Truncated() bool { return t.dropped }
