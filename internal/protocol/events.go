// Package protocol defines the normalized event vocabulary carried over the
// relay's SSE channel, together with the writer and scanner for it. Every
// provider adapter emits this vocabulary and every client consumes it; nothing
// provider-specific crosses this boundary.
package protocol

import (
	"chatrelay/internal/core"
)

// Event type discriminants.
const (
	EventTextDelta         = "text-delta"
	EventSources           = "sources"
	EventSearchSuggestions = "searchSuggestions"
	EventCleanedText       = "cleaned-text"
	EventUsage             = "usage"
	EventStopReason        = "stop_reason"
	EventModelConfig       = "model-config"
	EventSelectedModel     = "selected-model"
	EventReasoningType     = "reasoning-type"
	EventError             = "error"
)

// Event is one typed JSON object in the unified vocabulary. A single struct
// with sparse fields keeps the wire format flat; the Type discriminant decides
// which fields are meaningful.
type Event struct {
	Type string `json:"type"`

	// text-delta, cleaned-text
	Text      string `json:"text,omitempty"`
	MessageID string `json:"messageId,omitempty"`

	// sources: full current accumulated list, replaces rather than appends
	Sources []core.Source `json:"sources,omitempty"`

	// searchSuggestions
	SearchSuggestions []string `json:"searchSuggestions,omitempty"`
	Confidence        *float64 `json:"confidence,omitempty"`
	Reasoning         string   `json:"reasoning,omitempty"`

	// usage / stop_reason
	Usage      *core.TokenUsage `json:"usage,omitempty"`
	StopReason string           `json:"stop_reason,omitempty"`

	// informational echoes
	Config        *core.ModelConfig `json:"config,omitempty"`
	Model         string            `json:"model,omitempty"`
	ReasoningType string            `json:"reasoningType,omitempty"`

	// error: terminal, the channel closes after this event
	Error string `json:"error,omitempty"`
}

// TextDelta builds a text-delta event for one fragment.
func TextDelta(text string) Event {
	return Event{Type: EventTextDelta, Text: text}
}

// SourcesEvent builds a sources event carrying the full accumulated list.
func SourcesEvent(sources []core.Source) Event {
	return Event{Type: EventSources, Sources: sources}
}

// SuggestionsEvent builds a searchSuggestions event from a parsed directive.
func SuggestionsEvent(terms []string, confidence float64, reasoning string) Event {
	return Event{
		Type:              EventSearchSuggestions,
		SearchSuggestions: terms,
		Confidence:        &confidence,
		Reasoning:         reasoning,
	}
}

// CleanedText builds the authoritative final-text event for a turn.
func CleanedText(text, messageID string) Event {
	return Event{Type: EventCleanedText, Text: text, MessageID: messageID}
}

// UsageEvent builds a usage event.
func UsageEvent(u core.TokenUsage) Event {
	return Event{Type: EventUsage, Usage: &u}
}

// StopReasonEvent builds a stop_reason event for finish reasons that arrive
// separately from token counts.
func StopReasonEvent(reason string) Event {
	return Event{Type: EventStopReason, StopReason: reason}
}

// ErrorEvent builds the terminal error event.
func ErrorEvent(err error) Event {
	return Event{Type: EventError, Error: err.Error()}
}

// Emitter is the push side of the normalized channel. Adapters write events
// through it as soon as they are available; implementations must not batch
// beyond a single event.
type Emitter interface {
	Emit(Event) error
}

// EmitterFunc adapts a function to the Emitter interface.
type EmitterFunc func(Event) error

func (f EmitterFunc) Emit(ev Event) error {
	return f(ev)
}
