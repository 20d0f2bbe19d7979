// Package client is the consuming side of the normalized stream: a
// per-provider chat session that inserts the user's message optimistically,
// opens one streaming POST per turn, folds the decoded events into its local
// state, and exposes the same status/messages/side-channel contract for every
// provider.
package client

import (
	"context"
	"net/http"
	"sync"

	"github.com/google/uuid"

	"chatrelay/internal/core"
	"chatrelay/internal/httpclient"
)

// Config describes one session. Provider selects the relay route; the other
// fields are optional.
type Config struct {
	BaseURL  string
	Provider string

	// APIKey is sent as a bearer token when the relay runs with a master
	// key. Empty disables the header.
	APIKey string

	// Model overrides the relay's cookie/default resolution when set.
	Model         string
	ReasoningType string

	// HTTPClient defaults to a streaming client with no overall timeout.
	HTTPClient *http.Client

	// OnChange fires after every observable state change, outside the
	// session lock. Used by renderers to re-read the getters.
	OnChange func()

	// OnNotice receives transient user-facing confirmations, such as a
	// config update acknowledgment.
	OnNotice func(string)
}

// Session owns one conversation with one provider. All methods are safe for
// concurrent use; at most one transport is in flight at a time and a new
// SendMessage cancels the previous one (last writer wins, not queued).
type Session struct {
	cfg    Config
	client *http.Client

	mu     sync.Mutex
	chatID string
	status Status

	// authoritative is the confirmed message list; optimistic holds
	// messages shown before the transport confirms them.
	authoritative []core.Message
	optimistic    []core.Message

	sources              []core.Source
	suggestions          []core.SearchSuggestion
	confidence           *float64
	suggestionsReasoning string
	usage                *core.TokenUsage

	modelConfig   core.ModelConfig
	echoedModel   string
	echoedConfig  *core.ModelConfig
	reasoningType string

	lastError string

	// turn increments on every SendMessage, Stop, and ResetChat; events
	// carrying a stale turn number are dropped.
	turn   int
	cancel context.CancelFunc
}

// NewSession creates an idle session with a fresh chat identity and the
// default sampling config.
func NewSession(cfg Config) *Session {
	client := cfg.HTTPClient
	if client == nil {
		client = httpclient.NewStreamingClient()
	}
	return &Session{
		cfg:         cfg,
		client:      client,
		chatID:      uuid.NewString(),
		status:      StatusReady,
		modelConfig: core.DefaultModelConfig(),
	}
}

// Status returns the current turn state.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// ChatID returns the current conversation identity.
func (s *Session) ChatID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chatID
}

// Messages returns the rendered list: optimistic messages first, then the
// authoritative list minus any entry whose id is already held optimistically,
// so a message is never rendered twice during the insert/echo race.
func (s *Session) Messages() []core.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.renderLocked()
}

func (s *Session) renderLocked() []core.Message {
	out := make([]core.Message, 0, len(s.optimistic)+len(s.authoritative))
	held := make(map[string]bool, len(s.optimistic))
	for _, m := range s.optimistic {
		held[m.ID] = true
		out = append(out, m)
	}
	for _, m := range s.authoritative {
		if held[m.ID] {
			continue
		}
		out = append(out, m)
	}
	return out
}

// Sources returns the accumulated source list for the current turn.
func (s *Session) Sources() []core.Source {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.Source, len(s.sources))
	copy(out, s.sources)
	return out
}

// SearchSuggestions returns the parsed directive suggestions, if any.
func (s *Session) SearchSuggestions() []core.SearchSuggestion {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.SearchSuggestion, len(s.suggestions))
	copy(out, s.suggestions)
	return out
}

// SuggestionsConfidence returns the directive confidence, or nil when no
// directive arrived this turn.
func (s *Session) SuggestionsConfidence() *float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.confidence == nil {
		return nil
	}
	v := *s.confidence
	return &v
}

// SuggestionsReasoning returns the directive's reasoning text.
func (s *Session) SuggestionsReasoning() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.suggestionsReasoning
}

// TokenUsage returns the merged token accounting for the last turn, or nil
// before any usage event has arrived.
func (s *Session) TokenUsage() *core.TokenUsage {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.usage == nil {
		return nil
	}
	u := *s.usage
	return &u
}

// SelectedModel returns the model the relay reported it actually used.
func (s *Session) SelectedModel() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.echoedModel
}

// EchoedConfig returns the sampling config the relay reported for the last
// completed turn, or nil if none was echoed.
func (s *Session) EchoedConfig() *core.ModelConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.echoedConfig == nil {
		return nil
	}
	c := *s.echoedConfig
	return &c
}

// ReasoningType returns the reasoning-mode label the relay reported.
func (s *Session) ReasoningType() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reasoningType
}

// LastError returns the message of the most recent terminal failure, empty
// while the session is healthy.
func (s *Session) LastError() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastError
}

// ModelConfig returns the sampling config that will be sent on the next turn.
func (s *Session) ModelConfig() core.ModelConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.modelConfig
}

// ModelConfigPatch is a partial config update; nil fields are left unchanged.
type ModelConfigPatch struct {
	Temperature *float64
	TopP        *float64
	MaxTokens   *int
}

// UpdateModelConfig merges the patch into the session config. It never
// affects a turn already in flight; the new values apply from the next
// SendMessage. With notify set, OnNotice receives a confirmation.
func (s *Session) UpdateModelConfig(patch ModelConfigPatch, notify bool) {
	s.mu.Lock()
	if patch.Temperature != nil {
		s.modelConfig.Temperature = *patch.Temperature
	}
	if patch.TopP != nil {
		s.modelConfig.TopP = *patch.TopP
	}
	if patch.MaxTokens != nil {
		s.modelConfig.MaxTokens = *patch.MaxTokens
	}
	s.mu.Unlock()

	if notify && s.cfg.OnNotice != nil {
		s.cfg.OnNotice("Model settings updated")
	}
	s.notify()
}

// Stop cancels the in-flight transport, if any, and returns the session to
// ready immediately. Deltas still on the wire for the stopped turn are
// dropped. Calling Stop while idle is a no-op.
func (s *Session) Stop() {
	s.mu.Lock()
	if s.status != StatusSubmitted && s.status != StatusStreaming {
		s.mu.Unlock()
		return
	}
	s.abortLocked()
	// The request was already sent, so the held message stays visible as
	// part of the confirmed history.
	s.promoteLocked()
	s.status = StatusReady
	s.mu.Unlock()
	s.notify()
}

// ResetChat stops any in-flight turn and discards all session state,
// allocating a new chat identity. Model config defaults are kept.
func (s *Session) ResetChat() {
	s.mu.Lock()
	s.abortLocked()
	s.chatID = uuid.NewString()
	s.status = StatusReady
	s.authoritative = nil
	s.optimistic = nil
	s.clearTurnLocked()
	s.mu.Unlock()
	s.notify()
}

// abortLocked cancels the current transport and invalidates its turn number
// so late events are discarded at the apply boundary.
func (s *Session) abortLocked() {
	s.releaseCancelLocked()
	s.turn++
}

// releaseCancelLocked cancels the per-turn context so it detaches from its
// parent instead of staying registered until the parent ends.
func (s *Session) releaseCancelLocked() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

// promoteLocked passes ownership of held messages to the authoritative list.
func (s *Session) promoteLocked() {
	if len(s.optimistic) == 0 {
		return
	}
	s.authoritative = append(s.authoritative, s.optimistic...)
	s.optimistic = nil
}

func (s *Session) clearTurnLocked() {
	s.sources = nil
	s.suggestions = nil
	s.confidence = nil
	s.suggestionsReasoning = ""
	s.usage = nil
	s.echoedModel = ""
	s.echoedConfig = nil
	s.reasoningType = ""
	s.lastError = ""
}

func (s *Session) notify() {
	if s.cfg.OnChange != nil {
		s.cfg.OnChange()
	}
}
