package providers

import (
	"fmt"
	"sort"
)

// Builder creates an adapter instance from resolved configuration.
type Builder func(cfg Config) (Adapter, error)

// registry holds all registered adapter builders.
var registry = make(map[string]Builder)

// Register installs a builder for a provider type. Adapter packages call this
// from their init() functions; importing a provider package for side effects
// is how deployments choose which providers compile in.
func Register(providerType string, builder Builder) {
	registry[providerType] = builder
}

// Create instantiates an adapter for the given provider type.
func Create(providerType string, cfg Config) (Adapter, error) {
	builder, ok := registry[providerType]
	if !ok {
		return nil, fmt.Errorf("unknown provider type: %s", providerType)
	}
	return builder(cfg)
}

// ListRegistered returns the registered provider types in sorted order.
func ListRegistered() []string {
	types := make([]string, 0, len(registry))
	for t := range registry {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
