package providers

// ResolveModel picks the model for a turn: an explicit request value wins,
// then the caller's stored selection (the relay reads it from a per-provider
// cookie), then the provider's hardcoded default. Model selection is a
// default-resolution strategy injected at the handler boundary; it is not
// part of the streaming protocol.
func ResolveModel(explicit, stored, fallback string) string {
	if explicit != "" {
		return explicit
	}
	if stored != "" {
		return stored
	}
	return fallback
}
