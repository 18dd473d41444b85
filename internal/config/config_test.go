package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoad_YAML(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
server:
  addr: ":9090"
  requests_per_minute: 30
provider:
  model: gpt-5-nano
cache:
  driver: sqlite
  ttl_hours: 12
  max_bytes: 1048576
tools:
  call_limits:
    web_search: 3
agent:
  max_iterations: 5
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.ListenAddr() != ":9090" {
		t.Errorf("addr = %q", cfg.Server.ListenAddr())
	}
	if cfg.Cache.TTL() != 12*time.Hour {
		t.Errorf("ttl = %v", cfg.Cache.TTL())
	}
	if cfg.Cache.Ceiling() != 1048576 {
		t.Errorf("ceiling = %d", cfg.Cache.Ceiling())
	}
	if cfg.Tools.CallLimits["web_search"] != 3 {
		t.Errorf("call limits = %v", cfg.Tools.CallLimits)
	}
	if cfg.Agent.MaxIterations != 5 {
		t.Errorf("max iterations = %d", cfg.Agent.MaxIterations)
	}
}

func TestLoad_JSON(t *testing.T) {
	path := writeConfig(t, "config.json", `{
  "provider": {"name": "openai", "api_key": "sk-from-file"},
  "cache": {"driver": "memory"}
}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Cache.CacheDriver() != "memory" {
		t.Errorf("driver = %q", cfg.Cache.CacheDriver())
	}
	if cfg.Provider.APIKey != "sk-from-file" {
		t.Errorf("api key = %q", cfg.Provider.APIKey)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-from-env")
	path := writeConfig(t, "config.yaml", `
provider:
  api_key: sk-from-file
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Provider.APIKey != "sk-from-env" {
		t.Errorf("api key = %q, env must win", cfg.Provider.APIKey)
	}
}

func TestLoad_InvalidDriver(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
cache:
  driver: redis
`)
	if _, err := Load(path); err == nil {
		t.Error("expected error for unknown cache driver")
	}
}

func TestLoad_PostgresRequiresDSN(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
cache:
  driver: postgres
`)
	if _, err := Load(path); err == nil {
		t.Error("expected error for postgres without dsn")
	}
}

func TestLoad_TracingRequiresEndpoint(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
tracing:
  enabled: true
`)
	if _, err := Load(path); err == nil {
		t.Error("expected error for tracing without endpoint")
	}
}

func TestDefaults(t *testing.T) {
	var cfg Config

	if cfg.Server.ListenAddr() != ":8080" {
		t.Errorf("addr = %q", cfg.Server.ListenAddr())
	}
	if cfg.Provider.ModelName() != "gpt-5-nano" {
		t.Errorf("model = %q", cfg.Provider.ModelName())
	}
	if cfg.Provider.ProviderName() != "openai" {
		t.Errorf("provider = %q", cfg.Provider.ProviderName())
	}
	if cfg.Cache.CacheDriver() != "sqlite" {
		t.Errorf("driver = %q", cfg.Cache.CacheDriver())
	}
	if cfg.Cache.TTL() != 24*time.Hour {
		t.Errorf("ttl = %v", cfg.Cache.TTL())
	}
	if cfg.Cache.Ceiling() != 100<<20 {
		t.Errorf("ceiling = %d", cfg.Cache.Ceiling())
	}
	if cfg.Cache.Schedule() != "@every 1h" {
		t.Errorf("schedule = %q", cfg.Cache.Schedule())
	}
	if cfg.Tools.BraveCredentialRef() != "env://BRAVE_API_KEY" {
		t.Errorf("credential = %q", cfg.Tools.BraveCredentialRef())
	}
}

func TestSweepScheduleOff(t *testing.T) {
	cfg := CacheConfig{SweepSchedule: "off"}
	if got := cfg.Schedule(); got != "" {
		t.Errorf("schedule = %q, want disabled", got)
	}
}

func TestCachePath(t *testing.T) {
	cfg := Config{DataDir: "/var/lib/quantagent"}
	if got := cfg.CachePath(); got != filepath.Join("/var/lib/quantagent", "cache.db") {
		t.Errorf("path = %q", got)
	}

	cfg.Cache = &CacheConfig{Path: "/tmp/custom.db"}
	if got := cfg.CachePath(); got != "/tmp/custom.db" {
		t.Errorf("explicit path = %q", got)
	}
}
