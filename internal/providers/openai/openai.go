// Package openai streams chat turns through the OpenAI Responses API.
package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"regexp"
	"strings"

	"chatrelay/internal/core"
	"chatrelay/internal/httpclient"
	"chatrelay/internal/protocol"
	"chatrelay/internal/providers"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"

	// DefaultModel is the fallback when neither the request nor a stored
	// preference names a model.
	DefaultModel = "gpt-4.1-mini"

	// ReasoningTypeThinking marks models that take reasoning options and
	// reject sampling parameters.
	ReasoningTypeThinking = "Thinking"
)

func init() {
	providers.Register("openai", func(cfg providers.Config) (providers.Adapter, error) {
		a := New(cfg.APIKey)
		if cfg.BaseURL != "" {
			a.baseURL = cfg.BaseURL
		}
		return a, nil
	})
}

// Adapter implements providers.Adapter against the Responses API.
type Adapter struct {
	streamClient *http.Client
	listClient   *http.Client
	apiKey       string
	baseURL      string
}

// New creates an OpenAI adapter.
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

func (a *Adapter) Name() string         { return "openai" }
func (a *Adapter) DefaultModel() string { return DefaultModel }

type responsesRequest struct {
	Model           string           `json:"model"`
	Input           []inputMessage   `json:"input"`
	Instructions    string           `json:"instructions,omitempty"`
	Temperature     *float64         `json:"temperature,omitempty"`
	TopP            *float64         `json:"top_p,omitempty"`
	MaxOutputTokens int              `json:"max_output_tokens,omitempty"`
	Stream          bool             `json:"stream"`
	Tools           []responsesTool  `json:"tools,omitempty"`
	ToolChoice      *toolChoice      `json:"tool_choice,omitempty"`
	Reasoning       *reasoningConfig `json:"reasoning,omitempty"`
}

type inputMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responsesTool struct {
	Type              string `json:"type"`
	SearchContextSize string `json:"search_context_size,omitempty"`
}

type toolChoice struct {
	Type string `json:"type"`
}

type reasoningConfig struct {
	Effort  string `json:"effort,omitempty"`
	Summary string `json:"summary,omitempty"`
}

// streamEvent covers the subset of Responses API stream events the relay
// consumes.
type streamEvent struct {
	Type     string         `json:"type"`
	Delta    string         `json:"delta,omitempty"`
	Response *responseState `json:"response,omitempty"`
	Message  string         `json:"message,omitempty"`
}

type responseState struct {
	Status            string        `json:"status,omitempty"`
	Output            []outputItem  `json:"output,omitempty"`
	Usage             *respUsage    `json:"usage,omitempty"`
	IncompleteDetails *respIncDtl   `json:"incomplete_details,omitempty"`
	Error             *respErrState `json:"error,omitempty"`
}

type outputItem struct {
	Type    string        `json:"type"`
	Content []contentPart `json:"content,omitempty"`
}

type contentPart struct {
	Type        string       `json:"type"`
	Text        string       `json:"text,omitempty"`
	Annotations []annotation `json:"annotations,omitempty"`
}

type annotation struct {
	Type  string `json:"type"`
	URL   string `json:"url,omitempty"`
	Title string `json:"title,omitempty"`
}

type respUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

type respIncDtl struct {
	Reason string `json:"reason,omitempty"`
}

type respErrState struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

func buildRequest(req *core.TurnRequest) *responsesRequest {
	out := &responsesRequest{
		Model:           req.Model,
		Input:           make([]inputMessage, 0, len(req.Messages)),
		Instructions:    providers.SystemPrompt("OpenAI", req.WebSearch),
		MaxOutputTokens: req.Config.MaxTokens,
		Stream:          true,
	}
	if out.MaxOutputTokens <= 0 {
		out.MaxOutputTokens = core.DefaultModelConfig().MaxTokens
	}
	if req.ReasoningType == ReasoningTypeThinking {
		// Reasoning models reject sampling parameters; they take a
		// reasoning block instead.
		out.Reasoning = &reasoningConfig{Effort: "medium", Summary: "auto"}
	} else {
		temp := req.Config.Temperature
		topP := req.Config.TopP
		out.Temperature = &temp
		out.TopP = &topP
	}
	for _, msg := range req.Messages {
		out.Input = append(out.Input, inputMessage{Role: msg.Role, Content: msg.Content})
	}
	if req.WebSearch {
		out.Tools = []responsesTool{{Type: "web_search_preview", SearchContextSize: "medium"}}
		out.ToolChoice = &toolChoice{Type: "web_search_preview"}
	}
	return out
}

// Stream drives one Responses API streaming call and translates its events
// into the normalized vocabulary. After a completed response it also echoes
// the effective sampling config so clients can display it.
func (a *Adapter) Stream(ctx context.Context, req *core.TurnRequest, emit protocol.Emitter) error {
	body, err := json.Marshal(buildRequest(req))
	if err != nil {
		return emitAndReturn(emit, core.NewInvalidRequestError("failed to marshal request", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/responses", bytes.NewReader(body))
	if err != nil {
		return emitAndReturn(emit, core.NewInvalidRequestError("failed to create request", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)

	resp, err := a.streamClient.Do(httpReq)
	if err != nil {
		return emitAndReturn(emit, core.NewProviderError("openai", http.StatusBadGateway, "failed to send request: "+err.Error(), err))
	}
	defer func() {
		_ = resp.Body.Close() //nolint:errcheck
	}()

	if resp.StatusCode != http.StatusOK {
		respBody, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			respBody = []byte("failed to read error response")
		}
		return emitAndReturn(emit, core.ParseProviderError("openai", resp.StatusCode, respBody, nil))
	}

	return a.drain(resp.Body, req.Config, emit)
}

func (a *Adapter) drain(body io.Reader, cfg core.ModelConfig, emit protocol.Emitter) error {
	var (
		buf     providers.TextBuffer
		sources = providers.NewSourceAccumulator()
		usage   *core.TokenUsage
	)

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if !bytes.HasPrefix(line, []byte("data:")) {
			continue
		}
		data := bytes.TrimSpace(bytes.TrimPrefix(line, []byte("data:")))
		if bytes.Equal(data, []byte("[DONE]")) {
			break
		}

		var ev streamEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			continue
		}

		switch ev.Type {
		case "response.output_text.delta":
			if ev.Delta == "" {
				continue
			}
			buf.Add(ev.Delta)
			if err := emit.Emit(protocol.TextDelta(ev.Delta)); err != nil {
				return err
			}

		case "response.completed", "response.incomplete":
			if ev.Response == nil {
				continue
			}
			collectAnnotations(ev.Response.Output, sources)
			u := core.TokenUsage{FinishReason: finishReason(ev.Response)}
			if ev.Response.Usage != nil {
				u.PromptTokens = ev.Response.Usage.InputTokens
				u.CompletionTokens = ev.Response.Usage.OutputTokens
				u.TotalTokens = ev.Response.Usage.TotalTokens
			}
			usage = &u

		case "response.failed":
			msg := "response failed"
			if ev.Response != nil && ev.Response.Error != nil {
				msg = ev.Response.Error.Message
			}
			return emitAndReturn(emit, core.NewProviderError("openai", http.StatusBadGateway, msg, nil))

		case "error":
			msg := ev.Message
			if msg == "" {
				msg = "stream error"
			}
			return emitAndReturn(emit, core.NewProviderError("openai", http.StatusBadGateway, msg, nil))
		}
	}
	if err := scanner.Err(); err != nil {
		return emitAndReturn(emit, core.NewProviderError("openai", http.StatusBadGateway, "stream read failed: "+err.Error(), err))
	}

	if err := providers.FinishTurn(emit, &buf, sources); err != nil {
		return err
	}
	if usage != nil {
		if err := emit.Emit(protocol.UsageEvent(*usage)); err != nil {
			return err
		}
	}
	return emit.Emit(protocol.Event{Type: protocol.EventModelConfig, Config: &cfg})
}

func finishReason(resp *responseState) string {
	switch {
	case resp.Status == "completed":
		return "stop"
	case resp.IncompleteDetails != nil && resp.IncompleteDetails.Reason != "":
		return resp.IncompleteDetails.Reason
	case resp.Status != "":
		return resp.Status
	default:
		return "unknown"
	}
}

func collectAnnotations(output []outputItem, acc *providers.SourceAccumulator) {
	for _, item := range output {
		if item.Type != "message" {
			continue
		}
		for _, part := range item.Content {
			for _, ann := range part.Annotations {
				if ann.Type == "url_citation" && ann.URL != "" {
					acc.Add(ann.URL, ann.Title, "")
				}
			}
		}
	}
}

func emitAndReturn(emit protocol.Emitter, err error) error {
	_ = emit.Emit(protocol.ErrorEvent(err)) //nolint:errcheck
	return err
}

// chatModelPattern matches the model families the relay can drive: gpt chat
// models and o-series reasoning models.
var chatModelPattern = regexp.MustCompile(`^(gpt-[45]|o[0-9])`)

type modelsResponse struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
}

// ListModels fetches the live model list, filtered to chat-capable families.
func (a *Adapter) ListModels(ctx context.Context) ([]string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/models", nil)
	if err != nil {
		return nil, core.NewInvalidRequestError("failed to create request", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)

	resp, err := a.listClient.Do(httpReq)
	if err != nil {
		return nil, core.NewProviderError("openai", http.StatusBadGateway, "failed to send request: "+err.Error(), err)
	}
	defer func() {
		_ = resp.Body.Close() //nolint:errcheck
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, core.NewProviderError("openai", http.StatusBadGateway, "failed to read response: "+err.Error(), err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, core.ParseProviderError("openai", resp.StatusCode, respBody, nil)
	}

	var parsed modelsResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, core.NewProviderError("openai", http.StatusBadGateway, "failed to unmarshal response: "+err.Error(), err)
	}

	var models []string
	for _, m := range parsed.Data {
		// Skip non-chat variants that share the gpt prefix.
		if strings.Contains(m.ID, "audio") || strings.Contains(m.ID, "realtime") ||
			strings.Contains(m.ID, "transcribe") || strings.Contains(m.ID, "tts") ||
			strings.Contains(m.ID, "image") {
			continue
		}
		if chatModelPattern.MatchString(m.ID) {
			models = append(models, m.ID)
		}
	}
	return models, nil
}
