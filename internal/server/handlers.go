// Package server provides the relay's HTTP surface: the streaming chat
// endpoint, catalog queries, and health.
package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"chatrelay/internal/catalog"
	"chatrelay/internal/core"
	"chatrelay/internal/observability"
	"chatrelay/internal/protocol"
	"chatrelay/internal/providers"
	"chatrelay/internal/usage"
)

// Handler holds the HTTP handlers.
type Handler struct {
	adapters map[string]providers.Adapter
	catalog  *catalog.Catalog
	usage    usage.LoggerInterface
}

// NewHandler creates a handler over the configured adapters. usageLogger may
// be nil, which disables usage recording.
func NewHandler(adapters map[string]providers.Adapter, cat *catalog.Catalog, usageLogger usage.LoggerInterface) *Handler {
	if usageLogger == nil {
		usageLogger = &usage.NoopLogger{}
	}
	return &Handler{
		adapters: adapters,
		catalog:  cat,
		usage:    usageLogger,
	}
}

// meteredEmitter counts emitted events by type before forwarding.
type meteredEmitter struct {
	next protocol.Emitter
}

func (m meteredEmitter) Emit(ev protocol.Event) error {
	observability.EventsEmitted.WithLabelValues(ev.Type).Inc()
	return m.next.Emit(ev)
}

// Chat handles POST /v1/chat/:provider. Validation failures are plain HTTP
// errors; once the stream is open every failure travels in-band as a
// terminal error event.
func (h *Handler) Chat(c echo.Context) error {
	providerName := c.Param("provider")
	adapter, ok := h.adapters[providerName]
	if !ok {
		return handleError(c, core.NewNotFoundError("unknown provider: "+providerName))
	}

	var req core.ChatRequest
	if err := c.Bind(&req); err != nil {
		return handleError(c, core.NewInvalidRequestError("Invalid request body. Expected messages array.", err))
	}
	if req.Messages == nil || len(*req.Messages) == 0 {
		return handleError(c, core.NewInvalidRequestError("Invalid request body. Expected messages array.", nil))
	}

	messages := core.FilterMessages(*req.Messages)

	var stored string
	if cookie, err := c.Cookie("selected_" + providerName + "_model"); err == nil {
		stored = cookie.Value
	}
	model := providers.ResolveModel(req.Model, stored, adapter.DefaultModel())

	cfg := core.DefaultModelConfig()
	if req.ModelConfig != nil {
		cfg = *req.ModelConfig
	}

	reasoning := req.ReasoningType
	if reasoning == "" && h.catalog != nil {
		reasoning = h.catalog.ReasoningTypeFor(providerName, model)
	}

	turn := &core.TurnRequest{
		ChatID:        req.ChatID,
		Messages:      messages,
		Model:         model,
		Config:        cfg,
		ReasoningType: reasoning,
		WebSearch:     true,
	}

	c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
	c.Response().Header().Set("Cache-Control", "no-cache")
	c.Response().Header().Set(echo.HeaderConnection, "keep-alive")
	c.Response().WriteHeader(http.StatusOK)

	requestID := c.Response().Header().Get(echo.HeaderXRequestID)
	rec := usage.NewRecorder(
		meteredEmitter{next: protocol.NewWriter(c.Response())},
		h.usage, requestID, req.ChatID, providerName, model,
	)

	// Informational echoes so the client can display what the turn actually
	// ran with before the first token arrives.
	if err := rec.Emit(protocol.Event{Type: protocol.EventSelectedModel, Model: model}); err != nil {
		return nil
	}
	if reasoning != "" {
		if err := rec.Emit(protocol.Event{Type: protocol.EventReasoningType, ReasoningType: reasoning}); err != nil {
			return nil
		}
	}

	observability.TurnsStarted.WithLabelValues(providerName, model).Inc()
	start := time.Now()

	err := adapter.Stream(c.Request().Context(), turn, rec)
	rec.Finish()
	observability.TurnDuration.WithLabelValues(providerName).Observe(time.Since(start).Seconds())

	if err != nil {
		observability.UpstreamErrors.WithLabelValues(providerName).Inc()
		slog.Error("turn ended with upstream error",
			"provider", providerName,
			"model", model,
			"request_id", requestID,
			"error", err,
		)
	}
	// Headers are already sent; the error event is the client's signal.
	return nil
}

// ListModels handles GET /v1/models.
func (h *Handler) ListModels(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"providers": h.catalog.Providers(),
	})
}

// Availability handles GET /v1/availability.
func (h *Handler) Availability(c echo.Context) error {
	return c.JSON(http.StatusOK, h.catalog.Availability())
}

// Health handles GET /health.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// handleError converts a relay error to an HTTP JSON response.
func handleError(c echo.Context, err error) error {
	if relayErr, ok := err.(*core.RelayError); ok {
		return c.JSON(relayErr.HTTPStatusCode(), relayErr.ToJSON())
	}
	return c.JSON(http.StatusInternalServerError, map[string]interface{}{
		"error": map[string]interface{}{
			"type":    "internal_error",
			"message": err.Error(),
		},
	})
}
