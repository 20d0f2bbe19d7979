// Package gemini streams chat turns through the Gemini generateContent API.
package gemini

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"chatrelay/internal/core"
	"chatrelay/internal/httpclient"
	"chatrelay/internal/protocol"
	"chatrelay/internal/providers"
)

const (
	defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

	// DefaultModel is the fallback when neither the request nor a stored
	// preference names a model.
	DefaultModel = "gemini-2.5-flash-preview-04-17"
)

func init() {
	providers.Register("gemini", func(cfg providers.Config) (providers.Adapter, error) {
		a := New(cfg.APIKey)
		if cfg.BaseURL != "" {
			a.baseURL = cfg.BaseURL
		}
		return a, nil
	})
}

// Adapter implements providers.Adapter against the Gemini REST API.
type Adapter struct {
	streamClient *http.Client
	listClient   *http.Client
	apiKey       string
	baseURL      string
}

// New creates a Gemini adapter.
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

func (a *Adapter) Name() string         { return "gemini" }
func (a *Adapter) DefaultModel() string { return DefaultModel }

type generateRequest struct {
	Contents          []content         `json:"contents"`
	SystemInstruction *content          `json:"systemInstruction,omitempty"`
	GenerationConfig  *generationConfig `json:"generationConfig,omitempty"`
	Tools             []geminiTool      `json:"tools,omitempty"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text,omitempty"`
}

type generationConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	TopP            *float64 `json:"topP,omitempty"`
	MaxOutputTokens int      `json:"maxOutputTokens,omitempty"`
}

type geminiTool struct {
	GoogleSearch *struct{} `json:"google_search,omitempty"`
}

// generateResponse is one SSE event. Each event is a complete
// generateContentResponse, not a bare delta.
type generateResponse struct {
	Candidates    []candidate    `json:"candidates,omitempty"`
	UsageMetadata *usageMetadata `json:"usageMetadata,omitempty"`
	Error         *apiError      `json:"error,omitempty"`
}

type candidate struct {
	Content           *content           `json:"content,omitempty"`
	FinishReason      string             `json:"finishReason,omitempty"`
	GroundingMetadata *groundingMetadata `json:"groundingMetadata,omitempty"`
}

type groundingMetadata struct {
	GroundingChunks   []groundingChunk   `json:"groundingChunks,omitempty"`
	GroundingSupports []groundingSupport `json:"groundingSupports,omitempty"`
}

type groundingChunk struct {
	Web *struct {
		URI   string `json:"uri"`
		Title string `json:"title"`
	} `json:"web,omitempty"`
}

type groundingSupport struct {
	Segment *struct {
		Text string `json:"text"`
	} `json:"segment,omitempty"`
	GroundingChunkIndices []int `json:"groundingChunkIndices,omitempty"`
}

type usageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

func buildRequest(req *core.TurnRequest) *generateRequest {
	temp := req.Config.Temperature
	topP := req.Config.TopP
	out := &generateRequest{
		Contents: make([]content, 0, len(req.Messages)),
		SystemInstruction: &content{
			Parts: []part{{Text: providers.SystemPrompt("Google", req.WebSearch)}},
		},
		GenerationConfig: &generationConfig{
			Temperature:     &temp,
			TopP:            &topP,
			MaxOutputTokens: req.Config.MaxTokens,
		},
	}
	if out.GenerationConfig.MaxOutputTokens <= 0 {
		out.GenerationConfig.MaxOutputTokens = core.DefaultModelConfig().MaxTokens
	}
	for _, msg := range req.Messages {
		role := msg.Role
		switch role {
		case core.RoleSystem:
			// System text rides on systemInstruction, never in contents.
			continue
		case core.RoleAssistant:
			role = "model"
		}
		out.Contents = append(out.Contents, content{Role: role, Parts: []part{{Text: msg.Content}}})
	}
	if req.WebSearch {
		out.Tools = []geminiTool{{GoogleSearch: &struct{}{}}}
	}
	return out
}

// Stream drives one streamGenerateContent call and translates its events into
// the normalized vocabulary.
func (a *Adapter) Stream(ctx context.Context, req *core.TurnRequest, emit protocol.Emitter) error {
	body, err := json.Marshal(buildRequest(req))
	if err != nil {
		return emitAndReturn(emit, core.NewInvalidRequestError("failed to marshal request", err))
	}

	url := fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse", a.baseURL, req.Model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return emitAndReturn(emit, core.NewInvalidRequestError("failed to create request", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", a.apiKey)

	resp, err := a.streamClient.Do(httpReq)
	if err != nil {
		return emitAndReturn(emit, core.NewProviderError("gemini", http.StatusBadGateway, "failed to send request: "+err.Error(), err))
	}
	defer func() {
		_ = resp.Body.Close() //nolint:errcheck
	}()

	if resp.StatusCode != http.StatusOK {
		respBody, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			respBody = []byte("failed to read error response")
		}
		return emitAndReturn(emit, core.ParseProviderError("gemini", resp.StatusCode, respBody, nil))
	}

	return a.drain(resp.Body, emit)
}

func (a *Adapter) drain(body io.Reader, emit protocol.Emitter) error {
	var (
		buf     providers.TextBuffer
		sources = providers.NewSourceAccumulator()
		usage   core.TokenUsage
		sawText string
	)

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if !bytes.HasPrefix(line, []byte("data:")) {
			continue
		}
		data := bytes.TrimSpace(bytes.TrimPrefix(line, []byte("data:")))

		var ev generateResponse
		if err := json.Unmarshal(data, &ev); err != nil {
			continue
		}

		if ev.Error != nil {
			return emitAndReturn(emit, core.NewProviderError("gemini", http.StatusBadGateway, ev.Error.Message, nil))
		}

		if len(ev.Candidates) > 0 {
			cand := ev.Candidates[0]

			if cand.Content != nil {
				var sb strings.Builder
				for _, p := range cand.Content.Parts {
					sb.WriteString(p.Text)
				}
				// Some model variants resend the full candidate text on each
				// event instead of just the new tail. Emit only what is new;
				// an exact resend (the final event often repeats the full
				// text alongside finishReason) yields an empty delta.
				full := sb.String()
				var delta string
				if strings.HasPrefix(full, sawText) {
					delta = full[len(sawText):]
					sawText = full
				} else {
					delta = full
					sawText += full
				}
				if delta != "" {
					buf.Add(delta)
					if err := emit.Emit(protocol.TextDelta(delta)); err != nil {
						return err
					}
				}
			}

			if gm := cand.GroundingMetadata; gm != nil {
				collectSources(gm, sources)
			}

			if cand.FinishReason != "" {
				usage.Merge(core.TokenUsage{FinishReason: cand.FinishReason})
			}
		}

		if ev.UsageMetadata != nil {
			usage.Merge(core.TokenUsage{
				PromptTokens:     ev.UsageMetadata.PromptTokenCount,
				CompletionTokens: ev.UsageMetadata.CandidatesTokenCount,
				TotalTokens:      ev.UsageMetadata.TotalTokenCount,
			})
		}
	}
	if err := scanner.Err(); err != nil {
		return emitAndReturn(emit, core.NewProviderError("gemini", http.StatusBadGateway, "stream read failed: "+err.Error(), err))
	}

	if usage != (core.TokenUsage{}) {
		if err := emit.Emit(protocol.UsageEvent(usage)); err != nil {
			return err
		}
	}

	return providers.FinishTurn(emit, &buf, sources)
}

// collectSources resolves the chunk-index join: each grounding support names
// the chunk indices that back its text segment, so the segment text becomes
// the cited text of those chunks' sources.
func collectSources(gm *groundingMetadata, acc *providers.SourceAccumulator) {
	cited := make(map[int][]string)
	for _, sup := range gm.GroundingSupports {
		if sup.Segment == nil || sup.Segment.Text == "" {
			continue
		}
		for _, idx := range sup.GroundingChunkIndices {
			cited[idx] = append(cited[idx], sup.Segment.Text)
		}
	}
	for i, chunk := range gm.GroundingChunks {
		if chunk.Web == nil || chunk.Web.URI == "" {
			continue
		}
		if texts := cited[i]; len(texts) > 0 {
			for _, text := range texts {
				acc.Add(chunk.Web.URI, chunk.Web.Title, text)
			}
		} else {
			acc.Add(chunk.Web.URI, chunk.Web.Title, "")
		}
	}
}

func emitAndReturn(emit protocol.Emitter, err error) error {
	_ = emit.Emit(protocol.ErrorEvent(err)) //nolint:errcheck
	return err
}

type modelsResponse struct {
	Models []struct {
		Name                       string   `json:"name"`
		SupportedGenerationMethods []string `json:"supportedGenerationMethods"`
	} `json:"models"`
	NextPageToken string `json:"nextPageToken"`
}

// ListModels fetches the live model list, filtered to gemini chat models.
func (a *Adapter) ListModels(ctx context.Context) ([]string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/models?pageSize=200", nil)
	if err != nil {
		return nil, core.NewInvalidRequestError("failed to create request", err)
	}
	httpReq.Header.Set("x-goog-api-key", a.apiKey)

	resp, err := a.listClient.Do(httpReq)
	if err != nil {
		return nil, core.NewProviderError("gemini", http.StatusBadGateway, "failed to send request: "+err.Error(), err)
	}
	defer func() {
		_ = resp.Body.Close() //nolint:errcheck
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, core.NewProviderError("gemini", http.StatusBadGateway, "failed to read response: "+err.Error(), err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, core.ParseProviderError("gemini", resp.StatusCode, respBody, nil)
	}

	var parsed modelsResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, core.NewProviderError("gemini", http.StatusBadGateway, "failed to unmarshal response: "+err.Error(), err)
	}

	var models []string
	for _, m := range parsed.Models {
		id := strings.TrimPrefix(m.Name, "models/")
		if !strings.HasPrefix(id, "gemini-") {
			continue
		}
		for _, method := range m.SupportedGenerationMethods {
			if method == "generateContent" {
				models = append(models, id)
				break
			}
		}
	}
	return models, nil
}
