package core

// Role constants for chat messages.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Message is a single chat message. Identity is the ID; content is mutable
// only for the most recent assistant message, which may be rewritten by a
// cleaned-text event after the stream ends.
type Message struct {
	ID      string `json:"id,omitempty"`
	Role    string `json:"role"`
	Content string `json:"content"`
	Name    string `json:"name,omitempty"`
}

// Valid reports whether the message carries a recognized role. System
// messages are accepted here and filtered later by adapters whose upstream
// API takes the system prompt out of band.
func (m Message) Valid() bool {
	switch m.Role {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	default:
		return false
	}
}

// FilterMessages drops messages that fail validation. Invalid entries are
// silently removed, not rejected.
func FilterMessages(msgs []Message) []Message {
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Valid() {
			out = append(out, m)
		}
	}
	return out
}

// Source is one grounding citation, de-duplicated by URL across a turn.
type Source struct {
	URL       string `json:"url"`
	Title     string `json:"title"`
	CitedText string `json:"cited_text,omitempty"`
}

// SearchSuggestion is one follow-up search term parsed from the embedded
// directive.
type SearchSuggestion struct {
	Term string `json:"term"`
}

// TokenUsage is the per-turn token accounting. Some providers deliver the
// finish reason separately from the counts; the two updates are merged into
// one record, never overwritten.
type TokenUsage struct {
	PromptTokens     int    `json:"promptTokens"`
	CompletionTokens int    `json:"completionTokens"`
	TotalTokens      int    `json:"totalTokens"`
	FinishReason     string `json:"finishReason,omitempty"`
}

// Merge folds a later partial update into the usage record. Zero token counts
// in the update leave existing counts untouched; an empty finish reason does
// not clear one already set.
func (u *TokenUsage) Merge(update TokenUsage) {
	if update.PromptTokens > 0 {
		u.PromptTokens = update.PromptTokens
	}
	if update.CompletionTokens > 0 {
		u.CompletionTokens = update.CompletionTokens
	}
	if update.TotalTokens > 0 {
		u.TotalTokens = update.TotalTokens
	} else if u.TotalTokens == 0 {
		u.TotalTokens = u.PromptTokens + u.CompletionTokens
	}
	if update.FinishReason != "" {
		u.FinishReason = update.FinishReason
	}
}

// ModelConfig holds the sampling parameters carried on every request and
// echoed back by the relay for display.
type ModelConfig struct {
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"topP"`
	MaxTokens   int     `json:"maxTokens"`
}

// DefaultModelConfig is the documented fallback triple used when a request
// carries no modelConfig.
func DefaultModelConfig() ModelConfig {
	return ModelConfig{Temperature: 0.2, TopP: 0.8, MaxTokens: 4000}
}

// TurnRequest is the fully resolved input to a provider stream adapter:
// validated history, a concrete model, the sampling config, and
// provider-specific feature flags.
type TurnRequest struct {
	ChatID        string
	Messages      []Message
	Model         string
	Config        ModelConfig
	ReasoningType string // provider reasoning-mode label, may be empty
	WebSearch     bool   // whether grounding should be attempted
}

// ChatRequest is the wire shape of the POST body consumed by the relay.
// Messages is a pointer so a missing field can be distinguished from an
// empty array during validation.
type ChatRequest struct {
	Messages      *[]Message   `json:"messages"`
	Model         string       `json:"model,omitempty"`
	ModelConfig   *ModelConfig `json:"modelConfig,omitempty"`
	ChatID        string       `json:"chatId,omitempty"`
	ReasoningType string       `json:"reasoningType,omitempty"`
}
