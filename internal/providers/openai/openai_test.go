package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"chatrelay/internal/core"
	"chatrelay/internal/protocol"
)

func collectEvents(t *testing.T, a *Adapter, req *core.TurnRequest) ([]protocol.Event, error) {
	t.Helper()
	var events []protocol.Event
	err := a.Stream(context.Background(), req, protocol.EmitterFunc(func(ev protocol.Event) error {
		events = append(events, ev)
		return nil
	}))
	return events, err
}

func eventsByType(events []protocol.Event, typ string) []protocol.Event {
	var out []protocol.Event
	for _, ev := range events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func sseBody(payloads ...string) string {
	var b strings.Builder
	for _, p := range payloads {
		fmt.Fprintf(&b, "data: %s\n\n", p)
	}
	b.WriteString("data: [DONE]\n\n")
	return b.String()
}

func streamServer(t *testing.T, body string, capture *responsesRequest) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/responses" {
			t.Errorf("path = %q, want /responses", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q, want Bearer test-key", got)
		}
		if capture != nil {
			if err := json.NewDecoder(r.Body).Decode(capture); err != nil {
				t.Errorf("decode request: %v", err)
			}
		}
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte(body))
	}))
}

func turnRequest() *core.TurnRequest {
	return &core.TurnRequest{
		Messages:  []core.Message{{Role: "user", Content: "hello"}},
		Model:     DefaultModel,
		Config:    core.DefaultModelConfig(),
		WebSearch: true,
	}
}

func completedEvent(text string, annotations string, usage string) string {
	if annotations == "" {
		annotations = "[]"
	}
	if usage == "" {
		usage = `{"input_tokens":10,"output_tokens":5,"total_tokens":15}`
	}
	return fmt.Sprintf(`{"type":"response.completed","response":{"status":"completed","output":[{"type":"message","content":[{"type":"output_text","text":%q,"annotations":%s}]}],"usage":%s}}`, text, annotations, usage)
}

func TestStreamDeltasUsageAndConfigEcho(t *testing.T) {
	body := sseBody(
		`{"type":"response.created","response":{"status":"in_progress"}}`,
		`{"type":"response.output_text.delta","delta":"Hello"}`,
		`{"type":"response.output_text.delta","delta":" world"}`,
		completedEvent("Hello world", "", ""),
	)
	srv := streamServer(t, body, nil)
	defer srv.Close()

	a := NewWithHTTPClient("test-key", srv.URL, srv.Client())
	events, err := collectEvents(t, a, turnRequest())
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}

	deltas := eventsByType(events, protocol.EventTextDelta)
	if len(deltas) != 2 || deltas[0].Text != "Hello" || deltas[1].Text != " world" {
		t.Fatalf("deltas = %+v", deltas)
	}

	usage := eventsByType(events, protocol.EventUsage)
	if len(usage) != 1 {
		t.Fatalf("usage events = %d, want 1", len(usage))
	}
	u := usage[0].Usage
	if u.PromptTokens != 10 || u.CompletionTokens != 5 || u.TotalTokens != 15 {
		t.Errorf("usage = %+v", u)
	}
	if u.FinishReason != "stop" {
		t.Errorf("finishReason = %q, want stop", u.FinishReason)
	}

	cleaned := eventsByType(events, protocol.EventCleanedText)
	if len(cleaned) != 1 || cleaned[0].Text != "Hello world" {
		t.Errorf("cleaned = %+v", cleaned)
	}

	cfgEvents := eventsByType(events, protocol.EventModelConfig)
	if len(cfgEvents) != 1 {
		t.Fatalf("model-config events = %d, want 1", len(cfgEvents))
	}
	if cfgEvents[0].Config == nil || cfgEvents[0].Config.MaxTokens != core.DefaultModelConfig().MaxTokens {
		t.Errorf("config echo = %+v", cfgEvents[0].Config)
	}
	if events[len(events)-1].Type != protocol.EventModelConfig {
		t.Errorf("last event = %q, want model-config", events[len(events)-1].Type)
	}
}

func TestStreamURLCitations(t *testing.T) {
	annotations := `[{"type":"url_citation","url":"https://example.com/a","title":"Example A"},{"type":"url_citation","url":"https://example.com/a","title":"dup"},{"type":"url_citation","url":"https://example.com/b","title":""},{"type":"file_citation","url":"https://example.com/c","title":"skipped"}]`
	body := sseBody(
		`{"type":"response.output_text.delta","delta":"cited"}`,
		completedEvent("cited", annotations, ""),
	)
	srv := streamServer(t, body, nil)
	defer srv.Close()

	a := NewWithHTTPClient("test-key", srv.URL, srv.Client())
	events, err := collectEvents(t, a, turnRequest())
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}

	sourceEvents := eventsByType(events, protocol.EventSources)
	if len(sourceEvents) != 1 {
		t.Fatalf("sources events = %d, want 1", len(sourceEvents))
	}
	sources := sourceEvents[0].Sources
	if len(sources) != 2 {
		t.Fatalf("len(sources) = %d, want 2", len(sources))
	}
	if sources[0].Title != "Example A" {
		t.Errorf("first title = %q, want first-seen title kept", sources[0].Title)
	}
	if sources[1].Title != "example.com" {
		t.Errorf("second title = %q, want hostname fallback", sources[1].Title)
	}
}

func TestStreamFailedResponse(t *testing.T) {
	body := sseBody(
		`{"type":"response.output_text.delta","delta":"partial"}`,
		`{"type":"response.failed","response":{"status":"failed","error":{"code":"server_error","message":"backend exploded"}}}`,
	)
	srv := streamServer(t, body, nil)
	defer srv.Close()

	a := NewWithHTTPClient("test-key", srv.URL, srv.Client())
	events, err := collectEvents(t, a, turnRequest())
	if err == nil {
		t.Fatal("Stream() error = nil, want failure")
	}
	errEvents := eventsByType(events, protocol.EventError)
	if len(errEvents) != 1 || !strings.Contains(errEvents[0].Error, "backend exploded") {
		t.Errorf("error events = %+v", errEvents)
	}
	if got := eventsByType(events, protocol.EventCleanedText); len(got) != 0 {
		t.Errorf("cleaned-text events = %d, want 0", len(got))
	}
}

func TestBuildRequestSampling(t *testing.T) {
	var captured responsesRequest
	srv := streamServer(t, sseBody(completedEvent("", "", "")), &captured)
	defer srv.Close()

	req := turnRequest()
	req.Config = core.ModelConfig{Temperature: 0.4, TopP: 0.6, MaxTokens: 3000}

	a := NewWithHTTPClient("test-key", srv.URL, srv.Client())
	if _, err := collectEvents(t, a, req); err != nil {
		t.Fatalf("Stream() error = %v", err)
	}

	if captured.Model != DefaultModel || !captured.Stream {
		t.Errorf("model/stream = %q/%v", captured.Model, captured.Stream)
	}
	if captured.Temperature == nil || *captured.Temperature != 0.4 {
		t.Errorf("temperature = %v", captured.Temperature)
	}
	if captured.MaxOutputTokens != 3000 {
		t.Errorf("max_output_tokens = %d", captured.MaxOutputTokens)
	}
	if captured.Reasoning != nil {
		t.Errorf("reasoning = %+v, want nil for non-thinking model", captured.Reasoning)
	}
	if len(captured.Tools) != 1 || captured.Tools[0].Type != "web_search_preview" {
		t.Errorf("tools = %+v", captured.Tools)
	}
	if captured.ToolChoice == nil || captured.ToolChoice.Type != "web_search_preview" {
		t.Errorf("tool_choice = %+v", captured.ToolChoice)
	}
	if !strings.Contains(captured.Instructions, "SEARCH_TERMS_JSON") {
		t.Error("instructions missing suggestions block")
	}
}

func TestBuildRequestThinkingModel(t *testing.T) {
	var captured responsesRequest
	srv := streamServer(t, sseBody(completedEvent("", "", "")), &captured)
	defer srv.Close()

	req := turnRequest()
	req.Model = "o4-mini"
	req.ReasoningType = ReasoningTypeThinking

	a := NewWithHTTPClient("test-key", srv.URL, srv.Client())
	if _, err := collectEvents(t, a, req); err != nil {
		t.Fatalf("Stream() error = %v", err)
	}

	if captured.Temperature != nil || captured.TopP != nil {
		t.Errorf("sampling params sent for thinking model: %v/%v", captured.Temperature, captured.TopP)
	}
	if captured.Reasoning == nil || captured.Reasoning.Summary != "auto" {
		t.Errorf("reasoning = %+v, want auto summary", captured.Reasoning)
	}
}

func TestListModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models" {
			t.Errorf("path = %q, want /models", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"data":[
			{"id":"gpt-4.1-mini"},
			{"id":"o4-mini"},
			{"id":"gpt-4o-audio-preview"},
			{"id":"whisper-1"},
			{"id":"gpt-4o-realtime-preview"},
			{"id":"text-embedding-3-small"}
		]}`))
	}))
	defer srv.Close()

	a := NewWithHTTPClient("test-key", srv.URL, srv.Client())
	models, err := a.ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels() error = %v", err)
	}
	want := []string{"gpt-4.1-mini", "o4-mini"}
	if len(models) != len(want) {
		t.Fatalf("models = %v, want %v", models, want)
	}
	for i := range want {
		if models[i] != want[i] {
			t.Errorf("models[%d] = %q, want %q", i, models[i], want[i])
		}
	}
}
