package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"chatrelay/internal/catalog"
	"chatrelay/internal/core"
	"chatrelay/internal/protocol"
	"chatrelay/internal/providers"
)

// mockAdapter implements providers.Adapter for testing.
type mockAdapter struct {
	name      string
	events    []protocol.Event
	streamErr error

	gotReq *core.TurnRequest
}

func (m *mockAdapter) Name() string         { return m.name }
func (m *mockAdapter) DefaultModel() string { return "default-model" }

func (m *mockAdapter) Stream(_ context.Context, req *core.TurnRequest, emit protocol.Emitter) error {
	m.gotReq = req
	for _, ev := range m.events {
		if err := emit.Emit(ev); err != nil {
			return err
		}
	}
	if m.streamErr != nil {
		_ = emit.Emit(protocol.ErrorEvent(m.streamErr)) //nolint:errcheck
	}
	return m.streamErr
}

func (m *mockAdapter) ListModels(context.Context) ([]string, error) {
	return nil, nil
}

func newTestServer(adapter *mockAdapter, cfg *Config) *Server {
	adapters := map[string]providers.Adapter{adapter.name: adapter}
	handler := NewHandler(adapters, catalog.New(adapters, nil), nil)
	return New(handler, cfg)
}

func parseEvents(t *testing.T, body string) []protocol.Event {
	t.Helper()
	var events []protocol.Event
	sc := protocol.NewScanner(strings.NewReader(body))
	for {
		ev, err := sc.Next()
		if err != nil {
			return events
		}
		events = append(events, ev)
	}
}

func TestChatMissingMessages(t *testing.T) {
	srv := newTestServer(&mockAdapter{name: "anthropic"}, nil)

	for name, body := range map[string]string{
		"no messages field": `{"model":"claude-3-5-sonnet-latest"}`,
		"not json":          `nope`,
		"messages not list": `{"messages":"hi"}`,
	} {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/v1/chat/anthropic", strings.NewReader(body))
			req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
			rr := httptest.NewRecorder()
			srv.ServeHTTP(rr, req)

			if rr.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rr.Code)
			}
			if ct := rr.Header().Get(echo.HeaderContentType); !strings.Contains(ct, "application/json") {
				t.Errorf("content type = %q, want JSON error, not a stream", ct)
			}
		})
	}
}

func TestChatEmptyMessagesArrayRejected(t *testing.T) {
	adapter := &mockAdapter{name: "anthropic", events: []protocol.Event{protocol.CleanedText("", "m1")}}
	srv := newTestServer(adapter, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/anthropic", strings.NewReader(`{"messages":[]}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
	if adapter.gotReq != nil {
		t.Fatal("adapter should not be invoked for an empty messages array")
	}
}

func TestChatUnknownProvider(t *testing.T) {
	srv := newTestServer(&mockAdapter{name: "anthropic"}, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/nope", strings.NewReader(`{"messages":[]}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rr.Code)
	}
}

func TestChatStreamsNormalizedEvents(t *testing.T) {
	adapter := &mockAdapter{
		name: "openai",
		events: []protocol.Event{
			protocol.TextDelta("Hello"),
			protocol.TextDelta(" world"),
			protocol.UsageEvent(core.TokenUsage{PromptTokens: 3, CompletionTokens: 2, TotalTokens: 5}),
			protocol.CleanedText("Hello world", "m1"),
		},
	}
	srv := newTestServer(adapter, nil)

	body := `{"messages":[{"role":"user","content":"hi"},{"role":"bogus","content":"dropped"}],"chatId":"chat-9"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/openai", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if ct := rr.Header().Get(echo.HeaderContentType); !strings.Contains(ct, "text/event-stream") {
		t.Errorf("content type = %q, want text/event-stream", ct)
	}

	// Invalid roles are filtered, not rejected.
	if len(adapter.gotReq.Messages) != 1 {
		t.Errorf("messages = %v, want bogus role filtered", adapter.gotReq.Messages)
	}
	if adapter.gotReq.Model != "default-model" {
		t.Errorf("model = %q, want default", adapter.gotReq.Model)
	}
	if adapter.gotReq.Config != core.DefaultModelConfig() {
		t.Errorf("config = %+v, want defaults", adapter.gotReq.Config)
	}

	events := parseEvents(t, rr.Body.String())
	if len(events) == 0 {
		t.Fatal("no events in response body")
	}
	if events[0].Type != protocol.EventSelectedModel || events[0].Model != "default-model" {
		t.Errorf("first event = %+v, want selected-model", events[0])
	}
	if last := events[len(events)-1]; last.Type != protocol.EventCleanedText || last.Text != "Hello world" {
		t.Errorf("last event = %+v, want cleaned-text", last)
	}
}

func TestChatModelResolutionOrder(t *testing.T) {
	t.Run("explicit beats cookie", func(t *testing.T) {
		adapter := &mockAdapter{name: "gemini"}
		srv := newTestServer(adapter, nil)

		req := httptest.NewRequest(http.MethodPost, "/v1/chat/gemini",
			strings.NewReader(`{"messages":[],"model":"gemini-2.5-pro-preview-05-06"}`))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		req.AddCookie(&http.Cookie{Name: "selected_gemini_model", Value: "gemini-2.0-flash"})
		srv.ServeHTTP(httptest.NewRecorder(), req)

		if adapter.gotReq.Model != "gemini-2.5-pro-preview-05-06" {
			t.Errorf("model = %q, want explicit value", adapter.gotReq.Model)
		}
	})

	t.Run("cookie beats default", func(t *testing.T) {
		adapter := &mockAdapter{name: "gemini"}
		srv := newTestServer(adapter, nil)

		req := httptest.NewRequest(http.MethodPost, "/v1/chat/gemini", strings.NewReader(`{"messages":[]}`))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		req.AddCookie(&http.Cookie{Name: "selected_gemini_model", Value: "gemini-2.0-flash"})
		srv.ServeHTTP(httptest.NewRecorder(), req)

		if adapter.gotReq.Model != "gemini-2.0-flash" {
			t.Errorf("model = %q, want cookie value", adapter.gotReq.Model)
		}
	})
}

func TestChatReasoningTypeFromCatalog(t *testing.T) {
	adapter := &mockAdapter{name: "openai"}
	srv := newTestServer(adapter, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/openai",
		strings.NewReader(`{"messages":[],"model":"o3"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	srv.ServeHTTP(httptest.NewRecorder(), req)

	if adapter.gotReq.ReasoningType != catalog.ReasoningThinking {
		t.Errorf("reasoningType = %q, want Thinking from catalog", adapter.gotReq.ReasoningType)
	}
}

func TestListModelsAndAvailability(t *testing.T) {
	srv := newTestServer(&mockAdapter{name: "anthropic"}, nil)

	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/models", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("models status = %d, want 200", rr.Code)
	}
	var modelsResp struct {
		Providers []catalog.ProviderInfo `json:"providers"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &modelsResp); err != nil {
		t.Fatalf("decode models: %v", err)
	}
	if len(modelsResp.Providers) != 3 {
		t.Errorf("providers = %d, want 3", len(modelsResp.Providers))
	}

	rr = httptest.NewRecorder()
	srv.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/availability", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("availability status = %d, want 200", rr.Code)
	}
	var avail map[string]bool
	if err := json.Unmarshal(rr.Body.Bytes(), &avail); err != nil {
		t.Fatalf("decode availability: %v", err)
	}
	if !avail["anthropic"] || avail["openai"] {
		t.Errorf("availability = %v", avail)
	}
}

func TestAuthMiddleware(t *testing.T) {
	srv := newTestServer(&mockAdapter{name: "anthropic"}, &Config{MasterKey: "secret"})

	t.Run("health skips auth", func(t *testing.T) {
		rr := httptest.NewRecorder()
		srv.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
		if rr.Code != http.StatusOK {
			t.Errorf("status = %d, want 200", rr.Code)
		}
	})

	t.Run("missing key rejected", func(t *testing.T) {
		rr := httptest.NewRecorder()
		srv.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/models", nil))
		if rr.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", rr.Code)
		}
	})

	t.Run("wrong key rejected", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
		req.Header.Set("Authorization", "Bearer wrong")
		rr := httptest.NewRecorder()
		srv.ServeHTTP(rr, req)
		if rr.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", rr.Code)
		}
	})

	t.Run("correct key accepted", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
		req.Header.Set("Authorization", "Bearer secret")
		rr := httptest.NewRecorder()
		srv.ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Errorf("status = %d, want 200", rr.Code)
		}
	})
}
