// Package anthropic streams chat turns through the Anthropic Messages API.
package anthropic

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"

	"chatrelay/internal/core"
	"chatrelay/internal/httpclient"
	"chatrelay/internal/protocol"
	"chatrelay/internal/providers"
)

const (
	defaultBaseURL = "https://api.anthropic.com/v1"
	apiVersion     = "2023-06-01"

	// DefaultModel is the fallback when neither the request nor a stored
	// preference names a model.
	DefaultModel = "claude-3-5-sonnet-latest"

	webSearchToolType = "web_search_20250305"
)

func init() {
	providers.Register("anthropic", func(cfg providers.Config) (providers.Adapter, error) {
		a := New(cfg.APIKey)
		if cfg.BaseURL != "" {
			a.baseURL = cfg.BaseURL
		}
		return a, nil
	})
}

// Adapter implements providers.Adapter against the Messages API.
type Adapter struct {
	streamClient *http.Client
	listClient   *http.Client
	apiKey       string
	baseURL      string
}

// New creates an Anthropic adapter.
func New(apiKey string) *Adapter {
	return &Adapter{
		apiKey:       apiKey,
		baseURL:      defaultBaseURL,
		streamClient: httpclient.NewStreamingClient(),
		listClient:   httpclient.NewRequestClient(),
	}
}

// NewWithHTTPClient creates an adapter using the given client for both
// streaming and listing. Used by tests.
func NewWithHTTPClient(apiKey, baseURL string, client *http.Client) *Adapter {
	return &Adapter{
		apiKey:       apiKey,
		baseURL:      baseURL,
		streamClient: client,
		listClient:   client,
	}
}

func (a *Adapter) Name() string         { return "anthropic" }
func (a *Adapter) DefaultModel() string { return DefaultModel }

type messagesRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature *float64      `json:"temperature,omitempty"`
	TopP        *float64      `json:"top_p,omitempty"`
	System      string        `json:"system,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
	Tools       []tool        `json:"tools,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type tool struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// streamEvent covers the subset of Messages API stream events the relay
// consumes. Unknown event types unmarshal into zero values and are skipped.
type streamEvent struct {
	Type  string       `json:"type"`
	Delta *eventDelta  `json:"delta,omitempty"`
	Usage *eventUsage  `json:"usage,omitempty"`
	Error *upstreamErr `json:"error,omitempty"`
}

type eventDelta struct {
	Type       string         `json:"type"`
	Text       string         `json:"text,omitempty"`
	StopReason string         `json:"stop_reason,omitempty"`
	Citation   *eventCitation `json:"citation,omitempty"`
}

type eventCitation struct {
	Type      string `json:"type"`
	URL       string `json:"url,omitempty"`
	Title     string `json:"title,omitempty"`
	CitedText string `json:"cited_text,omitempty"`
}

type eventUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type upstreamErr struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func buildRequest(req *core.TurnRequest) *messagesRequest {
	temp := req.Config.Temperature
	topP := req.Config.TopP
	out := &messagesRequest{
		Model:       req.Model,
		Messages:    make([]chatMessage, 0, len(req.Messages)),
		MaxTokens:   req.Config.MaxTokens,
		Temperature: &temp,
		TopP:        &topP,
		System:      providers.SystemPrompt("Claude", req.WebSearch),
		Stream:      true,
	}
	if out.MaxTokens <= 0 {
		out.MaxTokens = core.DefaultModelConfig().MaxTokens
	}
	// The Messages API takes the system prompt out of band and rejects
	// system-role entries in the message list.
	for _, msg := range req.Messages {
		if msg.Role == core.RoleSystem {
			continue
		}
		out.Messages = append(out.Messages, chatMessage{Role: msg.Role, Content: msg.Content})
	}
	if req.WebSearch {
		out.Tools = []tool{{Name: "web_search", Type: webSearchToolType}}
	}
	return out
}

// Stream drives one Messages API streaming call and translates its events
// into the normalized vocabulary. Errors after the upstream connection is
// established are reported in-band as a terminal error event.
func (a *Adapter) Stream(ctx context.Context, req *core.TurnRequest, emit protocol.Emitter) error {
	body, err := json.Marshal(buildRequest(req))
	if err != nil {
		return emitAndReturn(emit, core.NewInvalidRequestError("failed to marshal request", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return emitAndReturn(emit, core.NewInvalidRequestError("failed to create request", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", a.apiKey)
	httpReq.Header.Set("anthropic-version", apiVersion)

	resp, err := a.streamClient.Do(httpReq)
	if err != nil {
		return emitAndReturn(emit, core.NewProviderError("anthropic", http.StatusBadGateway, "failed to send request: "+err.Error(), err))
	}
	defer func() {
		_ = resp.Body.Close() //nolint:errcheck
	}()

	if resp.StatusCode != http.StatusOK {
		respBody, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			respBody = []byte("failed to read error response")
		}
		return emitAndReturn(emit, core.ParseProviderError("anthropic", resp.StatusCode, respBody, nil))
	}

	return a.drain(resp.Body, emit)
}

func (a *Adapter) drain(body io.Reader, emit protocol.Emitter) error {
	var (
		buf     providers.TextBuffer
		sources = providers.NewSourceAccumulator()
	)

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if !bytes.HasPrefix(line, []byte("data:")) {
			continue
		}
		data := bytes.TrimSpace(bytes.TrimPrefix(line, []byte("data:")))

		var ev streamEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			continue
		}

		switch ev.Type {
		case "content_block_delta":
			if ev.Delta == nil {
				continue
			}
			switch ev.Delta.Type {
			case "text_delta":
				if ev.Delta.Text == "" {
					continue
				}
				buf.Add(ev.Delta.Text)
				if err := emit.Emit(protocol.TextDelta(ev.Delta.Text)); err != nil {
					return err
				}
			case "citations_delta":
				if c := ev.Delta.Citation; c != nil && c.Type == "web_search_result_location" {
					sources.Add(c.URL, c.Title, c.CitedText)
				}
			}

		case "message_delta":
			if ev.Delta != nil && ev.Delta.StopReason != "" {
				if err := emit.Emit(protocol.StopReasonEvent(ev.Delta.StopReason)); err != nil {
					return err
				}
			}
			if ev.Usage != nil {
				u := core.TokenUsage{
					PromptTokens:     ev.Usage.InputTokens,
					CompletionTokens: ev.Usage.OutputTokens,
				}
				if err := emit.Emit(protocol.UsageEvent(u)); err != nil {
					return err
				}
			}

		case "error":
			msg := "stream error"
			if ev.Error != nil {
				msg = ev.Error.Message
			}
			return emitAndReturn(emit, core.NewProviderError("anthropic", http.StatusBadGateway, msg, nil))
		}
	}
	if err := scanner.Err(); err != nil {
		return emitAndReturn(emit, core.NewProviderError("anthropic", http.StatusBadGateway, "stream read failed: "+err.Error(), err))
	}

	return providers.FinishTurn(emit, &buf, sources)
}

func emitAndReturn(emit protocol.Emitter, err error) error {
	_ = emit.Emit(protocol.ErrorEvent(err)) //nolint:errcheck
	return err
}

// ListModels returns the models the relay will drive against this adapter.
// The Messages API has no discovery endpoint, so the list is static.
func (a *Adapter) ListModels(_ context.Context) ([]string, error) {
	return []string{
		"claude-3-5-sonnet-latest",
		"claude-3-7-sonnet-latest",
		"claude-3-5-haiku-latest",
		"claude-3-opus-latest",
	}, nil
}
