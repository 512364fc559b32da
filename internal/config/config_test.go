package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.DefaultProvider != "anthropic" {
		t.Errorf("DefaultProvider = %q", cfg.DefaultProvider)
	}
	if cfg.Runtime.CacheTTL == 0 {
		t.Error("runtime defaults not applied")
	}
	if cfg.Resilience.Retry.MaxRetries == 0 {
		t.Error("retry defaults not applied")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "loom.yaml")
	content := `
default_provider: openai
runtime:
  cache_ttl: 10m
  history_size: 25
resilience:
  retry:
    max_retries: 5
    base_delay: 250ms
providers:
  openai:
    api_key: sk-test
    model: gpt-4o-mini
logging:
  level: debug
  format: json
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DefaultProvider != "openai" {
		t.Errorf("DefaultProvider = %q", cfg.DefaultProvider)
	}
	if cfg.Runtime.CacheTTL != 10*time.Minute {
		t.Errorf("CacheTTL = %v", cfg.Runtime.CacheTTL)
	}
	if cfg.Runtime.HistorySize != 25 {
		t.Errorf("HistorySize = %d", cfg.Runtime.HistorySize)
	}
	if cfg.Resilience.Retry.MaxRetries != 5 {
		t.Errorf("MaxRetries = %d", cfg.Resilience.Retry.MaxRetries)
	}
	if cfg.Providers.OpenAI.Model != "gpt-4o-mini" {
		t.Errorf("Model = %q", cfg.Providers.OpenAI.Model)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Level = %q", cfg.Logging.Level)
	}
	// Unspecified sections still get defaults.
	if cfg.Resilience.Breaker.FailureThreshold == 0 {
		t.Error("breaker defaults not applied")
	}
}

func TestLoadExpandsEnv(t *testing.T) {
	t.Setenv("LOOM_TEST_KEY", "sk-from-env")

	dir := t.TempDir()
	path := filepath.Join(dir, "loom.yaml")
	content := "providers:\n  anthropic:\n    api_key: $LOOM_TEST_KEY\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Providers.Anthropic.APIKey != "sk-from-env" {
		t.Errorf("APIKey = %q", cfg.Providers.Anthropic.APIKey)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/does/not/exist.yaml"); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestValidateRejectsUnknownProvider(t *testing.T) {
	cfg := Default()
	cfg.DefaultProvider = "netscape"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}
