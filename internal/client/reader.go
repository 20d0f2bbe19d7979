package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"

	"chatrelay/internal/core"
	"chatrelay/internal/protocol"
)

// SendMessage inserts the text optimistically, opens the streaming transport,
// and blocks until the turn reaches ready or error. A call made while another
// turn is in flight cancels that turn first.
func (s *Session) SendMessage(ctx context.Context, text string) error {
	s.mu.Lock()
	s.abortLocked()
	turn := s.turn
	turnCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.clearTurnLocked()

	userMsg := core.Message{ID: uuid.NewString(), Role: core.RoleUser, Content: text}
	s.optimistic = append(s.optimistic, userMsg)
	s.status = StatusSubmitted

	history := s.renderLocked()
	cfg := s.modelConfig
	body := core.ChatRequest{
		Messages:      &history,
		Model:         s.cfg.Model,
		ModelConfig:   &cfg,
		ChatID:        s.chatID,
		ReasoningType: s.cfg.ReasoningType,
	}
	s.mu.Unlock()
	s.notify()

	return s.runTurn(turnCtx, turn, body)
}

func (s *Session) runTurn(ctx context.Context, turn int, body core.ChatRequest) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return s.failBeforeStream(turn, err)
	}

	url := s.cfg.BaseURL + "/v1/chat/" + s.cfg.Provider
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return s.failBeforeStream(turn, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return s.failBeforeStream(turn, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		slurp, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		err := fmt.Errorf("relay returned %d: %s", resp.StatusCode, bytes.TrimSpace(slurp))
		return s.failBeforeStream(turn, err)
	}

	scanner := protocol.NewScanner(resp.Body)
	for {
		ev, err := scanner.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			// The channel itself failed; partial content stays visible.
			return s.failTurn(turn, err)
		}
		stale, terminal := s.apply(turn, ev)
		if stale {
			// Stop or a newer SendMessage took over; discard the rest.
			return nil
		}
		s.notify()
		if terminal != nil {
			return terminal
		}
	}

	s.finishTurn(turn)
	return nil
}

// apply folds one event into the session. It reports stale when the turn was
// superseded and a non-nil terminal error after an in-band error event.
func (s *Session) apply(turn int, ev protocol.Event) (stale bool, terminal error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if turn != s.turn {
		return true, nil
	}

	switch ev.Type {
	case protocol.EventTextDelta:
		if s.status != StatusStreaming {
			// First token: the transport has begun, so the held message
			// is confirmed and an open assistant message starts.
			s.promoteLocked()
			s.authoritative = append(s.authoritative, core.Message{
				ID:   uuid.NewString(),
				Role: core.RoleAssistant,
			})
			s.status = StatusStreaming
		}
		last := len(s.authoritative) - 1
		s.authoritative[last].Content += ev.Text

	case protocol.EventCleanedText:
		// Authoritative final text: rewrites the open assistant message,
		// winning any race with late deltas.
		s.promoteLocked()
		last := len(s.authoritative) - 1
		if last < 0 || s.authoritative[last].Role != core.RoleAssistant {
			s.authoritative = append(s.authoritative, core.Message{Role: core.RoleAssistant})
			last = len(s.authoritative) - 1
		}
		s.authoritative[last].Content = ev.Text
		if ev.MessageID != "" {
			s.authoritative[last].ID = ev.MessageID
		}

	case protocol.EventSources:
		s.sources = ev.Sources

	case protocol.EventSearchSuggestions:
		s.suggestions = make([]core.SearchSuggestion, 0, len(ev.SearchSuggestions))
		for _, term := range ev.SearchSuggestions {
			s.suggestions = append(s.suggestions, core.SearchSuggestion{Term: term})
		}
		s.confidence = ev.Confidence
		s.suggestionsReasoning = ev.Reasoning

	case protocol.EventUsage:
		if ev.Usage != nil {
			if s.usage == nil {
				s.usage = &core.TokenUsage{}
			}
			s.usage.Merge(*ev.Usage)
		}

	case protocol.EventStopReason:
		if s.usage == nil {
			s.usage = &core.TokenUsage{}
		}
		s.usage.Merge(core.TokenUsage{FinishReason: ev.StopReason})

	case protocol.EventSelectedModel:
		s.echoedModel = ev.Model

	case protocol.EventModelConfig:
		s.echoedConfig = ev.Config

	case protocol.EventReasoningType:
		s.reasoningType = ev.ReasoningType

	case protocol.EventError:
		s.status = StatusError
		s.lastError = ev.Error
		s.releaseCancelLocked()
		return false, fmt.Errorf("stream error: %s", ev.Error)
	}

	return false, nil
}

// failBeforeStream handles failures where the server never started streaming:
// the held message is withdrawn so the UI does not show a message the server
// never received.
func (s *Session) failBeforeStream(turn int, err error) error {
	s.mu.Lock()
	if turn == s.turn {
		s.optimistic = nil
		s.status = StatusError
		s.lastError = err.Error()
		s.releaseCancelLocked()
	}
	s.mu.Unlock()
	s.notify()
	return err
}

// failTurn handles mid-stream transport failures. Content already applied
// stays in place.
func (s *Session) failTurn(turn int, err error) error {
	s.mu.Lock()
	if turn == s.turn {
		s.promoteLocked()
		s.status = StatusError
		s.lastError = err.Error()
		s.releaseCancelLocked()
	}
	s.mu.Unlock()
	s.notify()
	return err
}

func (s *Session) finishTurn(turn int) {
	s.mu.Lock()
	if turn == s.turn && s.status != StatusError {
		s.promoteLocked()
		s.status = StatusReady
		s.releaseCancelLocked()
	}
	s.mu.Unlock()
	s.notify()
}
