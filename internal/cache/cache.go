// Package cache persists the model catalog snapshot across restarts.
// Supports both local file and Redis backends for multi-instance deployments.
package cache

import (
	"context"
	"time"
)

// Snapshot is the cached catalog state: the live model IDs fetched per
// provider, stamped with when they were fetched.
type Snapshot struct {
	Version   int                 `json:"version"`
	UpdatedAt time.Time           `json:"updated_at"`
	Providers map[string][]string `json:"providers"`
}

// Cache defines the interface for snapshot storage.
// Implementations must be safe for concurrent use.
type Cache interface {
	// Get retrieves the stored snapshot.
	// Returns nil, nil if no snapshot exists yet.
	Get(ctx context.Context) (*Snapshot, error)

	// Set stores the snapshot.
	Set(ctx context.Context, snap *Snapshot) error

	// Close releases any resources held by the cache.
	Close() error
}
