package cache

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLocalCache(t *testing.T) {
	t.Run("GetSetRoundTrip", func(t *testing.T) {
		cacheFile := filepath.Join(t.TempDir(), "models.json")
		cache := NewLocalCache(cacheFile)
		ctx := context.Background()

		result, err := cache.Get(ctx)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result != nil {
			t.Fatalf("expected nil result for empty cache, got %v", result)
		}

		snap := &Snapshot{
			Version:   1,
			UpdatedAt: time.Now().UTC(),
			Providers: map[string][]string{
				"openai": {"gpt-4.1-mini", "o4-mini"},
				"gemini": {"gemini-2.0-flash"},
			},
		}
		if err := cache.Set(ctx, snap); err != nil {
			t.Fatalf("unexpected error on set: %v", err)
		}

		result, err = cache.Get(ctx)
		if err != nil {
			t.Fatalf("unexpected error on get: %v", err)
		}
		if result == nil {
			t.Fatal("expected result, got nil")
		}
		if result.Version != 1 {
			t.Errorf("expected version 1, got %d", result.Version)
		}
		if len(result.Providers["openai"]) != 2 {
			t.Errorf("expected 2 openai models, got %v", result.Providers["openai"])
		}
	})

	t.Run("EmptyPathDisablesPersistence", func(t *testing.T) {
		cache := NewLocalCache("")
		ctx := context.Background()

		if err := cache.Set(ctx, &Snapshot{Version: 1}); err != nil {
			t.Fatalf("unexpected error on set: %v", err)
		}
		result, err := cache.Get(ctx)
		if err != nil {
			t.Fatalf("unexpected error on get: %v", err)
		}
		if result != nil {
			t.Fatalf("expected nil result, got %v", result)
		}
	})

	t.Run("CorruptedFile", func(t *testing.T) {
		cacheFile := filepath.Join(t.TempDir(), "models.json")
		if err := os.WriteFile(cacheFile, []byte("not json"), 0o644); err != nil {
			t.Fatal(err)
		}

		cache := NewLocalCache(cacheFile)
		if _, err := cache.Get(context.Background()); err == nil {
			t.Fatal("expected error for corrupted cache file")
		}
	})

	t.Run("CreatesParentDirectory", func(t *testing.T) {
		cacheFile := filepath.Join(t.TempDir(), "nested", "dir", "models.json")
		cache := NewLocalCache(cacheFile)
		ctx := context.Background()

		if err := cache.Set(ctx, &Snapshot{Version: 2}); err != nil {
			t.Fatalf("unexpected error on set: %v", err)
		}
		result, err := cache.Get(ctx)
		if err != nil || result == nil || result.Version != 2 {
			t.Fatalf("round trip failed: result=%v err=%v", result, err)
		}
	})
}
