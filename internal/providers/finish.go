package providers

import (
	"github.com/google/uuid"

	"chatrelay/internal/directive"
	"chatrelay/internal/protocol"
)

// FinishTurn runs the shared end-of-turn passes once the upstream stream has
// completed: the accumulated sources (if any), the directive extraction, and
// the authoritative cleaned text. The cleaned-text event is always emitted so
// the client can retract the directive fragment it streamed character by
// character.
func FinishTurn(emit protocol.Emitter, buf *TextBuffer, sources *SourceAccumulator) error {
	if sources != nil && sources.Len() > 0 {
		if err := emit.Emit(protocol.SourcesEvent(sources.List())); err != nil {
			return err
		}
	}

	full := buf.String()
	if !buf.Truncated() {
		if d := directive.Extract(full); d != nil {
			if err := emit.Emit(protocol.SuggestionsEvent(d.SearchTerms, d.Confidence, d.Reasoning)); err != nil {
				return err
			}
		}
	}

	return emit.Emit(protocol.CleanedText(directive.Strip(full), uuid.NewString()))
}
