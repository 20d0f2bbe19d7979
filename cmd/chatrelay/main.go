// Package main is the entry point for the chat relay server.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "modernc.org/sqlite"

	"chatrelay/config"
	"chatrelay/internal/cache"
	"chatrelay/internal/catalog"
	"chatrelay/internal/logging"
	"chatrelay/internal/providers"
	"chatrelay/internal/server"
	"chatrelay/internal/usage"
	"chatrelay/internal/version"

	// Imported for their init() registration.
	_ "chatrelay/internal/providers/anthropic"
	_ "chatrelay/internal/providers/gemini"
	_ "chatrelay/internal/providers/openai"
)

func main() {
	versionFlag := flag.Bool("version", false, "Print version information")
	configPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	if *versionFlag {
		fmt.Println(version.Info())
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logging.Setup(cfg.Logging.Format, cfg.Logging.Level)

	slog.Info("starting chatrelay",
		"version", version.Version,
		"commit", version.Commit,
		"build_date", version.Date,
	)

	providerConfigs := cfg.Providers()
	if len(providerConfigs) == 0 {
		slog.Error("at least one provider must be configured")
		os.Exit(1)
	}

	adapters := make(map[string]providers.Adapter, len(providerConfigs))
	for name, pc := range providerConfigs {
		adapter, err := providers.Create(name, providers.Config{APIKey: pc.APIKey, BaseURL: pc.BaseURL})
		if err != nil {
			slog.Error("failed to create provider", "provider", name, "error", err)
			os.Exit(1)
		}
		adapters[name] = adapter
		slog.Info("provider configured", "provider", name)
	}

	store, err := newCatalogCache(cfg)
	if err != nil {
		slog.Error("failed to initialize model cache", "error", err)
		os.Exit(1)
	}
	defer store.Close() //nolint:errcheck

	cat := catalog.New(adapters, store)
	if err := cat.Load(context.Background()); err != nil {
		slog.Warn("no cached model snapshot", "error", err)
	}
	if cfg.Catalog.RefreshInterval > 0 {
		cat.Start(context.Background(), cfg.Catalog.RefreshInterval)
		defer cat.Stop()
	}

	usageLogger, usageClose, err := newUsageLogger(cfg)
	if err != nil {
		slog.Error("failed to initialize usage tracking", "error", err)
		os.Exit(1)
	}
	defer usageClose()

	if cfg.Server.MasterKey == "" {
		slog.Warn("SECURITY WARNING: CHATRELAY_MASTER_KEY not set - server running in UNSAFE MODE",
			"security_risk", "unauthenticated access allowed",
			"recommendation", "set CHATRELAY_MASTER_KEY environment variable to secure this relay")
	} else {
		slog.Info("authentication enabled", "mode", "master_key")
	}

	handler := server.NewHandler(adapters, cat, usageLogger)
	srv := server.New(handler, &server.Config{
		MasterKey:       cfg.Server.MasterKey,
		MetricsEnabled:  cfg.Server.MetricsEnabled,
		MetricsEndpoint: cfg.Server.MetricsEndpoint,
		BodySizeLimit:   cfg.Server.BodySizeLimit,
	})

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit

		slog.Info("shutting down server...")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	addr := ":" + cfg.Server.Port
	slog.Info("starting server", "address", addr)

	if err := srv.Start(addr); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			slog.Info("server stopped gracefully")
		} else {
			slog.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}
}

func newCatalogCache(cfg *config.Config) (cache.Cache, error) {
	switch cfg.Cache.Type {
	case "redis":
		return cache.NewRedisCache(cache.RedisConfig{URL: cfg.Cache.RedisURL})
	default:
		return cache.NewLocalCache(cfg.Cache.Path), nil
	}
}

// newUsageLogger builds the async usage pipeline, or a no-op logger when
// tracking is disabled. The returned close function flushes pending writes.
func newUsageLogger(cfg *config.Config) (usage.LoggerInterface, func(), error) {
	if !cfg.Usage.Enabled {
		return &usage.NoopLogger{}, func() {}, nil
	}

	usageCfg := usage.DefaultConfig()
	usageCfg.Enabled = true
	usageCfg.RetentionDays = cfg.Usage.RetentionDays

	var store usage.Store
	switch cfg.Usage.Backend {
	case "postgres":
		pool, err := pgxpool.New(context.Background(), cfg.Usage.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("connecting to postgres: %w", err)
		}
		store, err = usage.NewPostgresStore(pool, usageCfg.RetentionDays)
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
	default:
		db, err := sql.Open("sqlite", cfg.Usage.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("opening sqlite database: %w", err)
		}
		store, err = usage.NewSQLiteStore(db, usageCfg.RetentionDays)
		if err != nil {
			db.Close() //nolint:errcheck
			return nil, nil, err
		}
	}

	logger := usage.NewLogger(store, usageCfg)
	slog.Info("usage tracking enabled", "backend", cfg.Usage.Backend)

	closeFn := func() {
		if err := logger.Close(); err != nil {
			slog.Error("usage logger close error", "error", err)
		}
	}
	return logger, closeFn, nil
}
