// Package config loads the loom configuration file.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/loomhq/loom/internal/contextwin"
	"github.com/loomhq/loom/internal/observability"
	"github.com/loomhq/loom/internal/provider"
	"github.com/loomhq/loom/internal/provider/anthropic"
	"github.com/loomhq/loom/internal/provider/openai"
	"github.com/loomhq/loom/internal/tools"
	"github.com/loomhq/loom/internal/tools/builtin"
)

// Config is the full loom configuration.
type Config struct {
	// DefaultProvider selects which configured provider serves requests.
	DefaultProvider string `yaml:"default_provider"`

	Runtime    tools.Config             `yaml:"runtime"`
	Truncation contextwin.Config        `yaml:"truncation"`
	Resilience provider.ResilientConfig `yaml:"resilience"`
	Workspace  builtin.Config           `yaml:"workspace"`

	Providers ProvidersConfig `yaml:"providers"`

	Logging observability.LogConfig   `yaml:"logging"`
	Tracing observability.TraceConfig `yaml:"tracing"`
}

// ProvidersConfig holds per-provider credentials and model settings.
type ProvidersConfig struct {
	Anthropic anthropic.Config `yaml:"anthropic"`
	OpenAI    openai.Config    `yaml:"openai"`
}

// Load reads a config file, expands $VAR references from the environment,
// parses it, and applies defaults. A missing path yields pure defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration used when no file is supplied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.DefaultProvider == "" {
		cfg.DefaultProvider = "anthropic"
	}

	runtimeDef := tools.DefaultConfig()
	if cfg.Runtime.CacheTTL == 0 {
		cfg.Runtime.CacheTTL = runtimeDef.CacheTTL
	}
	if cfg.Runtime.CacheMaxSize == 0 {
		cfg.Runtime.CacheMaxSize = runtimeDef.CacheMaxSize
	}
	if cfg.Runtime.HistorySize == 0 {
		cfg.Runtime.HistorySize = runtimeDef.HistorySize
	}

	resDef := provider.DefaultResilientConfig()
	if cfg.Resilience.RateLimit.MaxRequests == 0 {
		cfg.Resilience.RateLimit = resDef.RateLimit
	}
	if cfg.Resilience.Retry.MaxRetries == 0 {
		cfg.Resilience.Retry = resDef.Retry
	}
	if cfg.Resilience.Breaker.FailureThreshold == 0 {
		cfg.Resilience.Breaker = resDef.Breaker
	}

	if cfg.Providers.Anthropic.APIKey == "" {
		cfg.Providers.Anthropic.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if cfg.Providers.OpenAI.APIKey == "" {
		cfg.Providers.OpenAI.APIKey = os.Getenv("OPENAI_API_KEY")
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
}

// Validate rejects configurations that cannot produce a working runtime.
func (c *Config) Validate() error {
	switch c.DefaultProvider {
	case "anthropic", "openai":
	default:
		return fmt.Errorf("unknown default provider %q", c.DefaultProvider)
	}
	if c.Runtime.CacheTTL < 0 {
		return fmt.Errorf("runtime.cache_ttl must not be negative")
	}
	if c.Resilience.Retry.MaxRetries < 0 {
		return fmt.Errorf("resilience.retry.max_retries must not be negative")
	}
	if c.Resilience.Breaker.FailureThreshold < 0 {
		return fmt.Errorf("resilience.breaker.failure_threshold must not be negative")
	}
	return nil
}
