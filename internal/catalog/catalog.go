// Package catalog tracks the models each provider can serve: a static table
// of known models merged with live lists fetched from the providers, cached
// across restarts.
package catalog

import (
	"context"
	"log/slog"
	"regexp"
	"sync"
	"time"

	"chatrelay/internal/cache"
	"chatrelay/internal/providers"
)

// Reasoning type labels carried through to the adapters.
const (
	ReasoningThinking     = "Thinking"
	ReasoningIntelligence = "Intelligence"
)

// ModelInfo describes one selectable model.
type ModelInfo struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	ReasoningType string `json:"reasoningType"`
	Default       bool   `json:"isDefault,omitempty"`
	Live          bool   `json:"live,omitempty"`
}

// ProviderInfo describes one provider and its selectable models.
type ProviderInfo struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Available   bool        `json:"isAvailable"`
	Models      []ModelInfo `json:"models"`
}

// staticTable is the curated model table. Live discovery extends it; entries
// here keep their display names and reasoning labels even when discovery is
// unavailable.
var staticTable = []ProviderInfo{
	{
		ID:          "gemini",
		Name:        "Google Gemini",
		Description: "Google's multimodal models with native search grounding.",
		Models: []ModelInfo{
			{ID: "gemini-2.0-flash", Name: "Gemini 2.0 Flash", ReasoningType: ReasoningThinking},
			{ID: "gemini-2.5-flash-preview-04-17", Name: "Gemini 2.5 Flash Preview", ReasoningType: ReasoningThinking, Default: true},
			{ID: "gemini-2.5-pro-preview-05-06", Name: "Gemini 2.5 Pro Preview", ReasoningType: ReasoningThinking},
		},
	},
	{
		ID:          "openai",
		Name:        "OpenAI",
		Description: "GPT and o-series models with hosted web search.",
		Models: []ModelInfo{
			{ID: "gpt-4.1-mini", Name: "GPT-4.1 Mini", ReasoningType: ReasoningIntelligence, Default: true},
			{ID: "gpt-4.1", Name: "GPT-4.1", ReasoningType: ReasoningIntelligence},
			{ID: "o3", Name: "o3", ReasoningType: ReasoningThinking},
			{ID: "o4-mini", Name: "o4-mini", ReasoningType: ReasoningThinking},
		},
	},
	{
		ID:          "anthropic",
		Name:        "Anthropic",
		Description: "Claude models with the web_search tool.",
		Models: []ModelInfo{
			{ID: "claude-3-5-sonnet-latest", Name: "Claude 3.5 Sonnet", ReasoningType: ReasoningIntelligence, Default: true},
			{ID: "claude-3-7-sonnet-latest", Name: "Claude 3.7 Sonnet", ReasoningType: ReasoningThinking},
		},
	},
}

// thinkingPattern classifies live-discovered models that take reasoning
// options rather than sampling parameters.
var thinkingPattern = regexp.MustCompile(`^(o[0-9]|gemini-)`)

// Catalog merges the static table with live model lists. Safe for concurrent
// use.
type Catalog struct {
	mu       sync.RWMutex
	adapters map[string]providers.Adapter
	store    cache.Cache
	live     map[string][]string

	stopOnce sync.Once
	stop     chan struct{}
}

// New creates a catalog over the given adapters. store may be nil, which
// disables persistence.
func New(adapters map[string]providers.Adapter, store cache.Cache) *Catalog {
	return &Catalog{
		adapters: adapters,
		store:    store,
		live:     make(map[string][]string),
		stop:     make(chan struct{}),
	}
}

// Load restores the last persisted snapshot so the catalog is populated
// before the first live refresh completes.
func (c *Catalog) Load(ctx context.Context) error {
	if c.store == nil {
		return nil
	}
	snap, err := c.store.Get(ctx)
	if err != nil || snap == nil {
		return err
	}

	c.mu.Lock()
	c.live = snap.Providers
	if c.live == nil {
		c.live = make(map[string][]string)
	}
	c.mu.Unlock()

	slog.Info("model catalog restored from cache",
		"providers", len(snap.Providers),
		"updated_at", snap.UpdatedAt,
	)
	return nil
}

// Refresh fetches live model lists from every adapter and persists the
// result. Providers that fail keep their previous lists.
func (c *Catalog) Refresh(ctx context.Context) error {
	c.mu.RLock()
	adapters := make(map[string]providers.Adapter, len(c.adapters))
	for k, v := range c.adapters {
		adapters[k] = v
	}
	c.mu.RUnlock()

	updated := make(map[string][]string)
	var lastErr error
	for name, adapter := range adapters {
		models, err := adapter.ListModels(ctx)
		if err != nil {
			slog.Warn("failed to fetch models from provider", "provider", name, "error", err)
			lastErr = err
			continue
		}
		updated[name] = models
	}

	c.mu.Lock()
	for name, models := range updated {
		c.live[name] = models
	}
	snap := &cache.Snapshot{
		Version:   1,
		UpdatedAt: time.Now().UTC(),
		Providers: make(map[string][]string, len(c.live)),
	}
	for k, v := range c.live {
		snap.Providers[k] = v
	}
	c.mu.Unlock()

	if c.store != nil {
		if err := c.store.Set(ctx, snap); err != nil {
			slog.Warn("failed to persist model catalog", "error", err)
		}
	}

	slog.Info("model catalog refreshed", "providers", len(updated))
	return lastErr
}

// Start launches the background refresh loop. Stop terminates it.
func (c *Catalog) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := c.Refresh(ctx); err != nil {
					slog.Warn("background catalog refresh failed", "error", err)
				}
			case <-c.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop terminates the background refresh loop.
func (c *Catalog) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
}

// Providers returns the merged provider table. A provider is available when
// an adapter is configured for it.
func (c *Catalog) Providers() []ProviderInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]ProviderInfo, 0, len(staticTable))
	for _, p := range staticTable {
		info := ProviderInfo{
			ID:          p.ID,
			Name:        p.Name,
			Description: p.Description,
			Available:   c.adapters[p.ID] != nil,
			Models:      make([]ModelInfo, len(p.Models)),
		}
		copy(info.Models, p.Models)

		seen := make(map[string]bool, len(p.Models))
		for _, m := range p.Models {
			seen[m.ID] = true
		}
		for _, id := range c.live[p.ID] {
			if seen[id] {
				continue
			}
			seen[id] = true
			reasoning := ReasoningIntelligence
			if thinkingPattern.MatchString(id) {
				reasoning = ReasoningThinking
			}
			info.Models = append(info.Models, ModelInfo{
				ID:            id,
				Name:          id,
				ReasoningType: reasoning,
				Live:          true,
			})
		}
		out = append(out, info)
	}
	return out
}

// Models returns the merged model list for one provider.
func (c *Catalog) Models(provider string) []ModelInfo {
	for _, p := range c.Providers() {
		if p.ID == provider {
			return p.Models
		}
	}
	return nil
}

// ReasoningTypeFor returns the reasoning label for a model, or the empty
// string when the model is unknown.
func (c *Catalog) ReasoningTypeFor(provider, model string) string {
	for _, m := range c.Models(provider) {
		if m.ID == model {
			return m.ReasoningType
		}
	}
	return ""
}

// Availability reports which providers have an adapter configured.
func (c *Catalog) Availability() map[string]bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]bool, len(staticTable))
	for _, p := range staticTable {
		out[p.ID] = c.adapters[p.ID] != nil
	}
	return out
}
