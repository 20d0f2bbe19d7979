package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"chatrelay/internal/catalog"
)

// Catalog fetches the relay's current provider and model catalog. Callers
// select a model from it and pass the id as Config.Model on the next
// session; refreshing is an explicit operation, never ambient state.
func (s *Session) Catalog(ctx context.Context) ([]catalog.ProviderInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.BaseURL+"/v1/models", nil)
	if err != nil {
		return nil, err
	}
	if s.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("relay returned %d for model catalog", resp.StatusCode)
	}

	var payload struct {
		Providers []catalog.ProviderInfo `json:"providers"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decoding model catalog: %w", err)
	}
	return payload.Providers, nil
}
