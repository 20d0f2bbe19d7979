package usage

import (
	"time"

	"github.com/google/uuid"

	"chatrelay/internal/core"
	"chatrelay/internal/protocol"
)

// Recorder wraps a protocol.Emitter to capture usage data from the event
// stream. It forwards every event unchanged while folding usage and
// stop_reason events into one record; Finish writes the record through the
// logger once the turn is over.
type Recorder struct {
	next   protocol.Emitter
	logger LoggerInterface

	requestID string
	chatID    string
	provider  string
	model     string

	usage    core.TokenUsage
	sawUsage bool
	finished bool
}

// NewRecorder creates a recorder for one turn.
func NewRecorder(next protocol.Emitter, logger LoggerInterface, requestID, chatID, provider, model string) *Recorder {
	return &Recorder{
		next:      next,
		logger:    logger,
		requestID: requestID,
		chatID:    chatID,
		provider:  provider,
		model:     model,
	}
}

// Emit forwards the event and sniffs usage-bearing types. Counts and finish
// reasons arriving in separate events merge into one record.
func (r *Recorder) Emit(ev protocol.Event) error {
	switch ev.Type {
	case protocol.EventUsage:
		if ev.Usage != nil {
			r.usage.Merge(*ev.Usage)
			r.sawUsage = true
		}
	case protocol.EventStopReason:
		if ev.StopReason != "" {
			r.usage.Merge(core.TokenUsage{FinishReason: ev.StopReason})
			r.sawUsage = true
		}
	case protocol.EventSelectedModel:
		if ev.Model != "" {
			r.model = ev.Model
		}
	}
	return r.next.Emit(ev)
}

// Finish writes the accumulated record. Turns that reported no usage write
// nothing. Idempotent.
func (r *Recorder) Finish() {
	if r.finished || !r.sawUsage || r.logger == nil {
		return
	}
	r.finished = true

	r.logger.Write(&TurnUsage{
		ID:           uuid.NewString(),
		RequestID:    r.requestID,
		ChatID:       r.chatID,
		Timestamp:    time.Now().UTC(),
		Provider:     r.provider,
		Model:        r.model,
		InputTokens:  r.usage.PromptTokens,
		OutputTokens: r.usage.CompletionTokens,
		TotalTokens:  r.usage.TotalTokens,
		FinishReason: r.usage.FinishReason,
	})
}
