// Package config loads the relay configuration from a layered set of
// sources: built-in defaults, an optional YAML file, and environment
// variables (including a .env file for local development).
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the full application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
	Anthropic ProviderConfig  `yaml:"anthropic"`
	OpenAI    ProviderConfig  `yaml:"openai"`
	Gemini    ProviderConfig  `yaml:"gemini"`
	Cache     CacheConfig     `yaml:"cache"`
	Usage     UsageConfig     `yaml:"usage"`
	Catalog   CatalogConfig   `yaml:"catalog"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Port            string `yaml:"port"`
	MasterKey       string `yaml:"master_key"`
	BodySizeLimit   int64  `yaml:"body_size_limit"`
	MetricsEnabled  bool   `yaml:"metrics_enabled"`
	MetricsEndpoint string `yaml:"metrics_endpoint"`
}

// LoggingConfig selects log format and verbosity.
type LoggingConfig struct {
	Format string `yaml:"format"` // json or pretty
	Level  string `yaml:"level"`
}

// ProviderConfig holds one upstream provider's credentials. BaseURL is
// overridable for proxies and tests.
type ProviderConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// Enabled reports whether the provider has credentials configured.
func (p ProviderConfig) Enabled() bool {
	return p.APIKey != ""
}

// CacheConfig selects the model catalog snapshot store.
type CacheConfig struct {
	Type     string `yaml:"type"` // local or redis
	Path     string `yaml:"path"` // local: snapshot file, empty disables persistence
	RedisURL string `yaml:"redis_url"`
}

// UsageConfig controls persistent token accounting.
type UsageConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Backend       string `yaml:"backend"` // sqlite or postgres
	SQLitePath    string `yaml:"sqlite_path"`
	PostgresDSN   string `yaml:"postgres_dsn"`
	RetentionDays int    `yaml:"retention_days"`
}

// CatalogConfig controls live model list refresh.
type CatalogConfig struct {
	RefreshInterval time.Duration `yaml:"refresh_interval"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:            "8080",
			MetricsEndpoint: "/metrics",
		},
		Logging: LoggingConfig{
			Format: "json",
			Level:  "info",
		},
		Cache: CacheConfig{
			Type: "local",
			Path: "model_cache.json",
		},
		Usage: UsageConfig{
			Backend:       "sqlite",
			SQLitePath:    "usage.db",
			RetentionDays: 90,
		},
		Catalog: CatalogConfig{
			RefreshInterval: time.Hour,
		},
	}
}

// Load builds the configuration. The loading order is:
//  1. Built-in defaults
//  2. YAML config file (explicit path, CHATRELAY_CONFIG env, ./config.yaml)
//  3. Environment variable overrides (.env honored via godotenv)
//  4. Validation
func Load(configPath string) (*Config, error) {
	// Missing .env is fine; it only exists in local development.
	_ = godotenv.Load() //nolint:errcheck

	cfg := Defaults()

	if filePath := discoverConfigFile(configPath); filePath != "" {
		if err := loadYAMLFile(filePath, &cfg); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", filePath, err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return &cfg, nil
}

func discoverConfigFile(configPath string) string {
	if configPath != "" {
		return configPath
	}
	if envPath := os.Getenv("CHATRELAY_CONFIG"); envPath != "" {
		return envPath
	}
	if _, err := os.Stat("config.yaml"); err == nil {
		return "config.yaml"
	}
	return ""
}

// loadYAMLFile parses a YAML file over cfg. Fields absent from the file keep
// their current values.
func loadYAMLFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		cfg.Server.Port = v
	}
	if v := os.Getenv("CHATRELAY_MASTER_KEY"); v != "" {
		cfg.Server.MasterKey = v
	}
	if v := os.Getenv("METRICS_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Server.MetricsEnabled = b
		}
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		cfg.Anthropic.APIKey = v
	}
	if v := os.Getenv("ANTHROPIC_BASE_URL"); v != "" {
		cfg.Anthropic.BaseURL = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.OpenAI.APIKey = v
	}
	if v := os.Getenv("OPENAI_BASE_URL"); v != "" {
		cfg.OpenAI.BaseURL = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		cfg.Gemini.APIKey = v
	}
	if v := os.Getenv("GEMINI_BASE_URL"); v != "" {
		cfg.Gemini.BaseURL = v
	}

	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Cache.Type = "redis"
		cfg.Cache.RedisURL = v
	}
	if v := os.Getenv("USAGE_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Usage.Enabled = b
		}
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Usage.Backend = "postgres"
		cfg.Usage.PostgresDSN = v
	}
}

// Validate rejects configurations that cannot be acted on.
func (c *Config) Validate() error {
	switch c.Cache.Type {
	case "local", "redis":
	default:
		return fmt.Errorf("cache.type must be local or redis, got %q", c.Cache.Type)
	}
	if c.Cache.Type == "redis" && c.Cache.RedisURL == "" {
		return fmt.Errorf("cache.redis_url is required when cache.type is redis")
	}

	switch c.Usage.Backend {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("usage.backend must be sqlite or postgres, got %q", c.Usage.Backend)
	}
	if c.Usage.Enabled && c.Usage.Backend == "postgres" && c.Usage.PostgresDSN == "" {
		return fmt.Errorf("usage.postgres_dsn is required when usage.backend is postgres")
	}

	if c.Catalog.RefreshInterval < 0 {
		return fmt.Errorf("catalog.refresh_interval must not be negative")
	}
	return nil
}

// Providers returns the configured providers keyed by name, omitting any
// without credentials.
func (c *Config) Providers() map[string]ProviderConfig {
	out := make(map[string]ProviderConfig, 3)
	if c.Anthropic.Enabled() {
		out["anthropic"] = c.Anthropic
	}
	if c.OpenAI.Enabled() {
		out["openai"] = c.OpenAI
	}
	if c.Gemini.Enabled() {
		out["gemini"] = c.Gemini
	}
	return out
}
